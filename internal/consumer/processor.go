// Package consumer drains upload notifications from Kafka and hands them to a Handler.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"example.com/steps/internal/queue"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded notifications.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is the decoded representation of an upload notification record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	File      string
}

// dropError marks a failure that redelivery cannot fix.
type dropError struct {
	err error
}

func (e *dropError) Error() string { return e.err.Error() }
func (e *dropError) Unwrap() error { return e.err }

// Drop wraps err so the processor commits the message instead of leaving it for redelivery.
func Drop(err error) error {
	if err == nil {
		return nil
	}
	return &dropError{err: err}
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithRetryBackOff overrides the policy used to retry retryable handler errors.
// newBackOff is called once per message.
func WithRetryBackOff(newBackOff func() backoff.BackOff) Option {
	return func(p *Processor) {
		p.newBackOff = newBackOff
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
// Messages are committed after success or a dropped failure. Any other handler error is retried on the
// same message, so the partition never advances past a notification that has not been ingested.
type Processor struct {
	reader     Reader
	handler    Handler
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:     reader,
		handler:    handler,
		logger:     slog.Default().With("component", "consumer"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes Kafka messages until the context is cancelled.
// It also returns when the retry policy gives up on a message; the offset stays uncommitted and the
// caller is expected to recreate the reader, which resumes from the last committed offset.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Warn("fetch error", slog.Any("error", err))
			continue
		}

		event, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Error("decode error",
				slog.String("topic", msg.Topic),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Any("error", decodeErr),
			)
			recordDecodeError(msg.Topic)
			// Commit malformed messages to avoid poison-pill loops.
			p.commit(ctx, msg)
			continue
		}

		if handleErr := p.handle(ctx, event); handleErr != nil {
			var drop *dropError
			if errors.As(handleErr, &drop) {
				p.logger.Error("dropping notification", slog.String("file", event.File), slog.Any("error", drop.err))
				recordDropped(event)
				p.commit(ctx, msg)
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("handle %s at offset %d: %w", event.File, msg.Offset, handleErr)
		}

		if p.commit(ctx, msg) {
			recordProcessed(event)
		}
	}
}

// handle calls the handler until it succeeds, returns a dropped error, or the retry policy stops.
func (p *Processor) handle(ctx context.Context, event Message) error {
	op := func() error {
		err := p.handler.Handle(ctx, event)
		var drop *dropError
		if errors.As(err, &drop) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Error("handler error, retrying",
			slog.String("file", event.File),
			slog.Int64("offset", event.Offset),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
		recordHandlerError(event)
	}
	return backoff.RetryNotify(op, backoff.WithContext(p.newBackOff(), ctx), notify)
}

func (p *Processor) commit(ctx context.Context, msg kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, msg); err != nil {
		p.logger.Error("commit error", slog.Int64("offset", msg.Offset), slog.Any("error", err))
		return false
	}
	return true
}

func decodeMessage(msg kafka.Message) (Message, error) {
	notification, err := queue.Decode(msg.Value)
	if err != nil {
		return Message{}, fmt.Errorf("decode upload notification: %w", err)
	}
	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		File:      notification.File,
	}, nil
}
