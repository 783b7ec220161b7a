package domain

import (
	"context"
	"fmt"
)

// RecordWriter captures the write side of the step store.
type RecordWriter interface {
	DeleteRange(ctx context.Context, rng DateRange) (int64, error)
	InsertRecords(ctx context.Context, records []StoredRecord) error
}

// RangeReplacer is implemented by stores that can delete and insert in one transaction.
type RangeReplacer interface {
	ReplaceRange(ctx context.Context, rng DateRange, records []StoredRecord) error
}

// Replacer applies replace-range semantics: every stored record dated inside the range is removed
// before the new batch is written. Re-running the same batch converges to the same rows.
//
// Two replacers racing over overlapping ranges are last-writer-wins; callers that need a stable
// result must serialise ingestion per data source.
type Replacer struct {
	store RecordWriter
}

// NewReplacer constructs a Replacer.
func NewReplacer(store RecordWriter) *Replacer {
	return &Replacer{store: store}
}

// Replace swaps the contents of rng for records.
func (r *Replacer) Replace(ctx context.Context, rng DateRange, records []StoredRecord) error {
	if rng.IsZero() || len(records) == 0 {
		return ErrEmptyBatch
	}
	if rng.Start.After(rng.End) {
		return fmt.Errorf("invalid range %s: start after end", rng)
	}
	for _, rec := range records {
		if !rng.Contains(rec.Date) {
			return fmt.Errorf("record dated %s outside range %s", rec.Date.Format(DateLayout), rng)
		}
	}

	if tx, ok := r.store.(RangeReplacer); ok {
		if err := tx.ReplaceRange(ctx, rng, records); err != nil {
			return &StoreOperationError{Phase: PhaseReplace, Range: rng, Err: err}
		}
		return nil
	}

	if _, err := r.store.DeleteRange(ctx, rng); err != nil {
		return &StoreOperationError{Phase: PhaseDelete, Range: rng, Err: err}
	}
	if err := r.store.InsertRecords(ctx, records); err != nil {
		return &StoreOperationError{Phase: PhaseInsert, Range: rng, RangeCleared: true, Err: err}
	}
	return nil
}
