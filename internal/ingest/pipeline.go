// Package ingest runs export files through parse, range resolution and replace-range persistence.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"example.com/steps/internal/domain"
	"example.com/steps/internal/healthexport"
)

// BlobGetter retrieves stored export files.
type BlobGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Result summarises one ingestion run.
type Result struct {
	Source       string
	Observations int
	Range        domain.DateRange
	Empty        bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// Pipeline wires the parser to the store replacer.
type Pipeline struct {
	blobs    BlobGetter
	replacer *domain.Replacer
	logger   *slog.Logger
}

// NewPipeline constructs a Pipeline writing through store. blobs may be nil when only IngestBytes is used.
func NewPipeline(blobs BlobGetter, store domain.RecordWriter, opts ...Option) *Pipeline {
	p := &Pipeline{
		blobs:    blobs,
		replacer: domain.NewReplacer(store),
		logger:   slog.Default().With("component", "ingest"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IngestKey loads the blob stored under key and ingests it.
func (p *Pipeline) IngestKey(ctx context.Context, key string) (Result, error) {
	if p.blobs == nil {
		return Result{Source: key}, errors.New("pipeline has no blob store")
	}
	raw, err := p.blobs.Get(ctx, key)
	if err != nil {
		recordFailure(reasonBlob)
		return Result{Source: key}, fmt.Errorf("load %s: %w", key, err)
	}
	return p.IngestBytes(ctx, key, raw)
}

// IngestBytes parses raw and replaces the covered date range in the store.
// A document without step records is a no-op reported through Result.Empty.
func (p *Pipeline) IngestBytes(ctx context.Context, source string, raw []byte) (Result, error) {
	start := time.Now()
	res := Result{Source: source}

	batch, err := healthexport.ParseBytes(raw)
	if err != nil {
		recordFailure(reasonParse)
		return res, fmt.Errorf("parse %s: %w", source, err)
	}
	if len(batch) == 0 {
		res.Empty = true
		recordEmpty()
		p.logger.Info("no step records found", slog.String("source", source))
		return res, nil
	}

	rng, err := domain.ResolveRange(batch)
	if err != nil {
		recordFailure(reasonParse)
		return res, err
	}
	res.Observations = len(batch)
	res.Range = rng

	if err := p.replacer.Replace(ctx, rng, domain.ToStoredRecords(batch)); err != nil {
		recordFailure(reasonStore)
		p.logger.Error("replace range failed",
			slog.String("source", source),
			slog.String("range", rng.String()),
			slog.Any("error", err),
		)
		return res, err
	}

	recordIngested(len(batch), time.Since(start))
	p.logger.Info("ingested step records",
		slog.String("source", source),
		slog.Int("records", len(batch)),
		slog.String("start", rng.Start.Format(domain.DateLayout)),
		slog.String("end", rng.End.Format(domain.DateLayout)),
	)
	return res, nil
}
