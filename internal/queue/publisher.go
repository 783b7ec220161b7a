// Package queue publishes upload notifications to Kafka.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// UploadNotification is the payload announcing a stored export file.
type UploadNotification struct {
	File string `json:"file"`
}

// Decode parses a notification payload and requires a non-empty file key.
func Decode(value []byte) (UploadNotification, error) {
	var n UploadNotification
	if err := json.Unmarshal(value, &n); err != nil {
		return UploadNotification{}, err
	}
	if n.File == "" {
		return UploadNotification{}, errors.New("missing file key")
	}
	return n, nil
}

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Publisher writes upload notifications to a single topic.
type Publisher struct {
	topic  string
	mu     sync.Mutex
	writer messageWriter
	newFn  func() messageWriter
}

// NewPublisher creates a Publisher; the underlying writer is created on first use.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		topic: topic,
		newFn: func() messageWriter {
			return &kafka.Writer{
				Addr:         kafka.TCP(brokers...),
				Topic:        topic,
				Balancer:     &kafka.Hash{},
				RequiredAcks: kafka.RequireAll,
				Compression:  kafka.Snappy,
				BatchTimeout: 10 * time.Millisecond,
				Async:        false,
			}
		},
	}
}

// PublishUpload announces that key holds a new export file. Delivery is at-least-once.
func (p *Publisher) PublishUpload(ctx context.Context, key string) error {
	body, err := json.Marshal(UploadNotification{File: key})
	if err != nil {
		return err
	}
	return p.lazyWriter().WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  time.Now().UTC(),
	})
}

func (p *Publisher) lazyWriter() messageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		p.writer = p.newFn()
	}
	return p.writer
}

// Close releases the writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	return err
}
