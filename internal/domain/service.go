// Package domain defines the step ingestion and trend aggregation rules.
package domain

import (
	"context"
	"fmt"
	"time"
)

// Trends bundles the three aggregates shown on the metrics view.
type Trends struct {
	Today   time.Time
	Weekly  Aggregate
	Monthly Aggregate
	Yearly  Aggregate
}

// TrendService computes windowed aggregates relative to an injected clock.
type TrendService struct {
	aggregator *Aggregator
	now        func() time.Time
	location   *time.Location
}

// TrendOption configures a TrendService.
type TrendOption func(*TrendService)

// WithClock overrides the wall clock used to determine today.
func WithClock(now func() time.Time) TrendOption {
	return func(s *TrendService) {
		s.now = now
	}
}

// WithLocation sets the zone in which today's calendar date is evaluated.
func WithLocation(loc *time.Location) TrendOption {
	return func(s *TrendService) {
		if loc != nil {
			s.location = loc
		}
	}
}

// NewTrendService constructs a TrendService.
func NewTrendService(reader TotalsReader, opts ...TrendOption) *TrendService {
	s := &TrendService{
		aggregator: NewAggregator(reader),
		now:        time.Now,
		location:   time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today returns the current calendar date in the configured zone.
func (s *TrendService) Today() time.Time {
	return DateOf(s.now().In(s.location))
}

// Trends computes weekly, monthly and yearly aggregates as seen on today.
func (s *TrendService) Trends(ctx context.Context, today time.Time) (Trends, error) {
	today = DateOf(today)
	out := Trends{Today: today}

	targets := []struct {
		kind PeriodKind
		dst  *Aggregate
	}{
		{PeriodWeek, &out.Weekly},
		{PeriodMonth, &out.Monthly},
		{PeriodYear, &out.Yearly},
	}
	for _, target := range targets {
		agg, err := s.aggregator.Aggregate(ctx, SelectWindow(target.kind, today))
		if err != nil {
			return Trends{}, fmt.Errorf("aggregate %s: %w", target.kind, err)
		}
		*target.dst = agg
	}
	return out, nil
}
