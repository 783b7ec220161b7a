// Package observability holds service-wide Prometheus collectors.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	stepsPersistedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "steps_service",
		Subsystem: "persistence",
		Name:      "records_persisted_total",
		Help:      "Number of step records written to the analytical store.",
	})
	stepsPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "steps_service",
		Subsystem: "persistence",
		Name:      "last_records_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful step batch write.",
	})
	uploadCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steps_service",
		Subsystem: "upload",
		Name:      "requests_total",
		Help:      "Upload requests grouped by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(stepsPersistedCounter, stepsPersistGauge, uploadCounter)
}

// RecordStepsPersisted counts written records and moves the persistence watermark.
func RecordStepsPersisted(n int, ts time.Time) {
	stepsPersistedCounter.Add(float64(n))
	if ts.IsZero() {
		return
	}
	stepsPersistGauge.Set(float64(ts.Unix()))
}

// RecordUpload counts an upload request by outcome (accepted, rejected, failed).
func RecordUpload(outcome string) {
	uploadCounter.WithLabelValues(outcome).Inc()
}
