package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	reasonBlob  = "blob"
	reasonParse = "parse"
	reasonStore = "store"
)

var (
	observationsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "steps_service",
		Subsystem: "ingest",
		Name:      "observations_total",
		Help:      "Number of step observations ingested.",
	})

	failureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steps_service",
		Subsystem: "ingest",
		Name:      "failures_total",
		Help:      "Ingestion failures grouped by stage.",
	}, []string{"reason"})

	emptyCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "steps_service",
		Subsystem: "ingest",
		Name:      "empty_files_total",
		Help:      "Export files that contained no step records.",
	})

	ingestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "steps_service",
		Subsystem: "ingest",
		Name:      "duration_seconds",
		Help:      "Time spent parsing and persisting one export file.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(observationsCounter, failureCounter, emptyCounter, ingestDuration)
}

func recordIngested(n int, elapsed time.Duration) {
	observationsCounter.Add(float64(n))
	ingestDuration.Observe(elapsed.Seconds())
}

func recordFailure(reason string) {
	failureCounter.WithLabelValues(reason).Inc()
}

func recordEmpty() {
	emptyCounter.Inc()
}
