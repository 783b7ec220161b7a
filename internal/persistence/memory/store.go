// Package memory provides an in-process step store. Data is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/steps/internal/domain"
)

// Store keeps stored records in a slice guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	records []domain.StoredRecord
}

// New creates an empty Store.
func New() *Store {
	return &Store{records: make([]domain.StoredRecord, 0, 1024)}
}

// DeleteRange removes every record dated inside rng.
func (s *Store) DeleteRange(ctx context.Context, rng domain.DateRange) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(rng), nil
}

// InsertRecords appends records.
func (s *Store) InsertRecords(ctx context.Context, records []domain.StoredRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

// ReplaceRange deletes and inserts under a single lock, so readers never see the empty range.
func (s *Store) ReplaceRange(ctx context.Context, rng domain.DateRange, records []domain.StoredRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(rng)
	s.records = append(s.records, records...)
	return nil
}

// SumByBucket groups records with q.From <= date < q.To by day or month.
func (s *Store) SumByBucket(ctx context.Context, q domain.TotalsQuery) ([]domain.BucketTotal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[time.Time]int64)
	for _, rec := range s.records {
		if rec.Date.Before(q.From) || !rec.Date.Before(q.To) {
			continue
		}
		bucket := rec.Date
		if q.Granularity == domain.GranularityMonth {
			bucket = time.Date(bucket.Year(), bucket.Month(), 1, 0, 0, 0, 0, time.UTC)
		}
		sums[bucket] += rec.StepCount
	}

	out := make([]domain.BucketTotal, 0, len(sums))
	for bucket, steps := range sums {
		out = append(out, domain.BucketTotal{Bucket: bucket, StepCount: steps})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out, nil
}

// Records returns a copy of the stored records ordered by date then timestamp.
func (s *Store) Records() []domain.StoredRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StoredRecord, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out
}

func (s *Store) deleteLocked(rng domain.DateRange) int64 {
	kept := s.records[:0]
	var removed int64
	for _, rec := range s.records {
		if rng.Contains(rec.Date) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return removed
}
