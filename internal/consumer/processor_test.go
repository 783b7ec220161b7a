package consumer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func uploadMessage(offset int64, value string) kafka.Message {
	return kafka.Message{
		Topic:     "step-uploads",
		Partition: 0,
		Offset:    offset,
		Time:      time.Now().UTC(),
		Key:       []byte("uploads/a.xml"),
		Value:     []byte(value),
	}
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{uploadMessage(10, `{"file":"uploads/a.xml"}`)}}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(testLogger(t))).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, "uploads/a.xml", handler.last.File)
	require.Equal(t, "step-uploads", handler.last.Topic)
	require.EqualValues(t, 10, handler.last.Offset)
}

func TestProcessorCommitsDroppedMessages(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{uploadMessage(30, `{"file":"uploads/c.xml"}`)}}
	handler := &stubHandler{err: Drop(errors.New("not an export"))}
	before := testutil.ToFloat64(droppedCounter.WithLabelValues("step-uploads"))

	err := NewProcessor(reader, handler, WithLogger(testLogger(t))).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, before+1, testutil.ToFloat64(droppedCounter.WithLabelValues("step-uploads")))
}

func TestProcessorCommitsUndecodableMessages(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{
		uploadMessage(40, `garbage`),
		uploadMessage(41, `{"file":""}`),
	}}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(testLogger(t))).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 0, handler.calls)
	require.Equal(t, 2, reader.commitCalls)
}

func TestProcessorStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reader := &stubReader{messages: []kafka.Message{uploadMessage(50, `{"file":"uploads/d.xml"}`)}}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(testLogger(t))).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, handler.calls)
}

func TestProcessorRetriesMessageBeforeMovingOn(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{
		uploadMessage(60, `{"file":"uploads/a.xml"}`),
		uploadMessage(61, `{"file":"uploads/b.xml"}`),
	}}
	handler := &stubHandler{errs: []error{errors.New("store unavailable")}}
	before := testutil.ToFloat64(handlerErrorCounter.WithLabelValues("step-uploads"))

	err := NewProcessor(reader, handler, WithLogger(testLogger(t)), WithRetryBackOff(zeroBackOff)).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, []string{"uploads/a.xml", "uploads/a.xml", "uploads/b.xml"}, handler.files)
	require.Equal(t, []int64{60, 61}, reader.committed)
	require.Equal(t, before+1, testutil.ToFloat64(handlerErrorCounter.WithLabelValues("step-uploads")))
}

func TestProcessorReturnsWithoutCommitWhenRetriesStop(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{
		uploadMessage(70, `{"file":"uploads/a.xml"}`),
		uploadMessage(71, `{"file":"uploads/b.xml"}`),
	}}
	storeErr := errors.New("store unavailable")
	handler := &stubHandler{err: storeErr}
	stopAfterTwo := func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}

	err := NewProcessor(reader, handler, WithLogger(testLogger(t)), WithRetryBackOff(stopAfterTwo)).Run(context.Background())
	require.ErrorIs(t, err, storeErr)

	require.Equal(t, 3, handler.calls)
	require.Empty(t, reader.committed)
	require.Equal(t, 1, reader.index, "the next message must not be fetched")
}

func TestProcessorStopsRetryingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &stubReader{messages: []kafka.Message{uploadMessage(80, `{"file":"uploads/a.xml"}`)}}
	handler := &stubHandler{err: errors.New("store unavailable"), onCall: cancel}

	err := NewProcessor(reader, handler, WithLogger(testLogger(t)), WithRetryBackOff(zeroBackOff)).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, reader.committed)
}

func TestProcessorContinuesAfterFetchError(t *testing.T) {
	fetchErrs := []error{errors.New("group rebalancing")}
	reader := &stubReader{
		messages: []kafka.Message{uploadMessage(90, `{"file":"uploads/a.xml"}`)},
		after: func() error {
			if len(fetchErrs) == 0 {
				return context.Canceled
			}
			err := fetchErrs[0]
			fetchErrs = fetchErrs[1:]
			return err
		},
	}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(testLogger(t))).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, fetchErrs)
	require.Equal(t, []int64{90}, reader.committed)
}

func TestDropNil(t *testing.T) {
	require.NoError(t, Drop(nil))
	base := errors.New("x")
	require.ErrorIs(t, Drop(base), base)
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
	committed   []int64
	after       func() error
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		if r.after != nil {
			return kafka.Message{}, r.after()
		}
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.commitCalls++
	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}
	return nil
}

func (r *stubReader) Close() error { return nil }

// stubHandler returns errs in order, then err for every later call.
type stubHandler struct {
	calls  int
	err    error
	errs   []error
	files  []string
	last   Message
	onCall func()
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	h.files = append(h.files, msg.File)
	if h.onCall != nil {
		h.onCall()
	}
	if len(h.errs) > 0 {
		err := h.errs[0]
		h.errs = h.errs[1:]
		return err
	}
	return h.err
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}

func zeroBackOff() backoff.BackOff {
	return &backoff.ZeroBackOff{}
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, nil))
}
