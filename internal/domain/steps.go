package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedInput marks export content that cannot be turned into observations.
	ErrMalformedInput = errors.New("malformed input")
	// ErrEmptyBatch is returned when a range or replace is requested for a batch without observations.
	ErrEmptyBatch = errors.New("empty observation batch")
	// ErrNotFound is returned when a blob key does not exist.
	ErrNotFound = errors.New("not found")
)

// Observation is a single step-count reading taken from an export file.
type Observation struct {
	Timestamp time.Time
	StepCount int64
}

// StoredRecord is the persisted unit of truth: steps attributed to a calendar day.
type StoredRecord struct {
	Date       time.Time
	RecordedAt time.Time
	StepCount  int64
}

// DateRange is an inclusive span of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether the range was never resolved.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Contains reports whether day falls inside the inclusive range.
func (r DateRange) Contains(day time.Time) bool {
	day = DateOf(day)
	return !day.Before(r.Start) && !day.After(r.End)
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(DateLayout), r.End.Format(DateLayout))
}

// DateLayout formats calendar days and daily series labels.
const DateLayout = "2006-01-02"

// DateOf drops the clock portion of t, keeping the calendar day as seen in t's own offset.
// The result is midnight UTC so dates compare and encode consistently.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ToStoredRecords maps observations to day-level records, preserving duplicates.
func ToStoredRecords(batch []Observation) []StoredRecord {
	out := make([]StoredRecord, 0, len(batch))
	for _, obs := range batch {
		out = append(out, StoredRecord{
			Date:       DateOf(obs.Timestamp),
			RecordedAt: obs.Timestamp,
			StepCount:  obs.StepCount,
		})
	}
	return out
}

// StorePhase names the step of a replace that failed.
type StorePhase string

const (
	PhaseDelete  StorePhase = "delete"
	PhaseInsert  StorePhase = "insert"
	PhaseReplace StorePhase = "replace"
)

// StoreOperationError reports a failed write against the step store.
// RangeCleared is set when prior rows in Range were deleted but the new batch was not written.
type StoreOperationError struct {
	Phase        StorePhase
	Range        DateRange
	RangeCleared bool
	Err          error
}

func (e *StoreOperationError) Error() string {
	if e.RangeCleared {
		return fmt.Sprintf("store %s failed for %s (range is now empty): %v", e.Phase, e.Range, e.Err)
	}
	return fmt.Sprintf("store %s failed for %s: %v", e.Phase, e.Range, e.Err)
}

func (e *StoreOperationError) Unwrap() error {
	return e.Err
}
