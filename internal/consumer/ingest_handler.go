package consumer

import (
	"context"
	"errors"

	"example.com/steps/internal/domain"
	"example.com/steps/internal/ingest"
)

// Ingester runs a stored export file through the ingestion pipeline.
type Ingester interface {
	IngestKey(ctx context.Context, key string) (ingest.Result, error)
}

// IngestHandler triggers ingestion for each upload notification.
type IngestHandler struct {
	ingester Ingester
}

// NewIngestHandler constructs a handler backed by the provided pipeline.
func NewIngestHandler(ingester Ingester) *IngestHandler {
	return &IngestHandler{ingester: ingester}
}

// Handle ingests the notified file. Missing blobs and malformed documents are dropped, since a
// corrected re-upload produces a new notification; store failures are returned for redelivery.
func (h *IngestHandler) Handle(ctx context.Context, msg Message) error {
	_, err := h.ingester.IngestKey(ctx, msg.File)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrMalformedInput),
		errors.Is(err, domain.ErrEmptyBatch):
		return Drop(err)
	default:
		return err
	}
}
