// Package postgres implements the step store on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/steps/internal/domain"
	"example.com/steps/internal/observability"
)

const table = "steps_data"

var copyColumns = []string{"day", "recorded_at", "steps"}

// Repository provides Postgres-backed persistence for stored step records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DeleteRange removes every row whose day falls inside rng.
func (r *Repository) DeleteRange(ctx context.Context, rng domain.DateRange) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM steps_data WHERE day BETWEEN $1 AND $2`, rng.Start, rng.End)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InsertRecords bulk-loads records with COPY.
func (r *Repository) InsertRecords(ctx context.Context, records []domain.StoredRecord) error {
	if _, err := r.pool.CopyFrom(ctx, pgx.Identifier{table}, copyColumns, copySource(records)); err != nil {
		return err
	}
	observability.RecordStepsPersisted(len(records), time.Now())
	return nil
}

// ReplaceRange deletes rng and inserts records inside a single transaction, so a failed insert
// leaves the previous rows in place.
func (r *Repository) ReplaceRange(ctx context.Context, rng domain.DateRange, records []domain.StoredRecord) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM steps_data WHERE day BETWEEN $1 AND $2`, rng.Start, rng.End); err != nil {
		return fmt.Errorf("delete range: %w", err)
	}
	if _, err = tx.CopyFrom(ctx, pgx.Identifier{table}, copyColumns, copySource(records)); err != nil {
		return fmt.Errorf("copy records: %w", err)
	}

	err = tx.Commit(ctx)
	if err != nil {
		return err
	}
	observability.RecordStepsPersisted(len(records), time.Now())
	return nil
}

// SumByBucket returns per-day or per-month step totals for q.From <= day < q.To.
func (r *Repository) SumByBucket(ctx context.Context, q domain.TotalsQuery) ([]domain.BucketTotal, error) {
	query := `SELECT day AS bucket, SUM(steps)::BIGINT AS total
        FROM steps_data WHERE day >= $1 AND day < $2
        GROUP BY bucket ORDER BY bucket`
	if q.Granularity == domain.GranularityMonth {
		query = `SELECT make_date(EXTRACT(YEAR FROM day)::INT, EXTRACT(MONTH FROM day)::INT, 1) AS bucket, SUM(steps)::BIGINT AS total
        FROM steps_data WHERE day >= $1 AND day < $2
        GROUP BY bucket ORDER BY bucket`
	}

	rows, err := r.pool.Query(ctx, query, q.From, q.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.BucketTotal, 0, 31)
	for rows.Next() {
		var total domain.BucketTotal
		if err := rows.Scan(&total.Bucket, &total.StepCount); err != nil {
			return nil, err
		}
		total.Bucket = domain.DateOf(total.Bucket)
		results = append(results, total)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func copySource(records []domain.StoredRecord) pgx.CopyFromSource {
	return pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
		rec := records[i]
		return []any{rec.Date, rec.RecordedAt, rec.StepCount}, nil
	})
}
