package domain

import (
	"context"
	"sort"
	"time"
)

// BucketTotal is the summed step count for one day or month bucket.
type BucketTotal struct {
	Bucket    time.Time
	StepCount int64
}

// TotalsQuery selects stored records with From <= date < To grouped by Granularity.
type TotalsQuery struct {
	From        time.Time
	To          time.Time
	Granularity Granularity
}

// TotalsReader captures the read side of the step store.
type TotalsReader interface {
	SumByBucket(ctx context.Context, q TotalsQuery) ([]BucketTotal, error)
}

// Point is one labelled value of an aggregate series.
type Point struct {
	Label string
	Value int64
}

// Aggregate is the windowed series plus its derived statistics.
// Best is nil when the series is empty.
type Aggregate struct {
	Window  Window
	Series  []Point
	Average float64
	Best    *Point
}

// Aggregator queries the store for a window and summarises the result.
type Aggregator struct {
	reader TotalsReader
}

// NewAggregator constructs an Aggregator.
func NewAggregator(reader TotalsReader) *Aggregator {
	return &Aggregator{reader: reader}
}

// Aggregate runs the windowed sum for w.
func (a *Aggregator) Aggregate(ctx context.Context, w Window) (Aggregate, error) {
	totals, err := a.reader.SumByBucket(ctx, TotalsQuery{From: w.From, To: w.To, Granularity: w.Granularity})
	if err != nil {
		return Aggregate{}, err
	}
	return Summarize(w, totals), nil
}

// Summarize orders totals chronologically, labels them for w and derives average and best.
// Buckets outside the window are ignored; repeated buckets are summed.
func Summarize(w Window, totals []BucketTotal) Aggregate {
	merged := make(map[time.Time]int64, len(totals))
	for _, t := range totals {
		bucket := truncate(t.Bucket, w.Granularity)
		if bucket.Before(truncate(w.From, w.Granularity)) || !bucket.Before(w.To) {
			continue
		}
		merged[bucket] += t.StepCount
	}

	buckets := make([]time.Time, 0, len(merged))
	for b := range merged {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Before(buckets[j]) })

	series := make([]Point, 0, len(buckets))
	for _, b := range buckets {
		series = append(series, Point{Label: w.Label(b), Value: merged[b]})
	}

	return Aggregate{
		Window:  w,
		Series:  series,
		Average: Average(series),
		Best:    Best(series),
	}
}

// Average is the mean value of series, 0 when empty.
func Average(series []Point) float64 {
	if len(series) == 0 {
		return 0
	}
	var sum int64
	for _, p := range series {
		sum += p.Value
	}
	return float64(sum) / float64(len(series))
}

// Best returns the first point with the highest value, or nil for an empty series.
func Best(series []Point) *Point {
	if len(series) == 0 {
		return nil
	}
	best := series[0]
	for _, p := range series[1:] {
		if p.Value > best.Value {
			best = p
		}
	}
	return &best
}

func truncate(t time.Time, g Granularity) time.Time {
	day := DateOf(t)
	if g == GranularityMonth {
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return day
}
