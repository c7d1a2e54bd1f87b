// Package kafka publishes context events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/ctxstore/pkg/eventstream"
)

// Config holds the Kafka connection settings.
type Config struct {
	Brokers []string
	Topic   string

	// WriteTimeout bounds a single publish. Defaults to 10 seconds.
	WriteTimeout time.Duration
}

// messageWriter is the subset of *kafkago.Writer used by the publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes ContextFlushedEvents as JSON messages keyed by context id,
// so every event of a context lands on the same partition in order.
type Publisher struct {
	writer  messageWriter
	timeout time.Duration
}

// NewPublisher creates a Kafka publisher. No connection is made until the
// first publish.
func NewPublisher(c Config) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if c.Topic == "" {
		return nil, errors.New("kafka publisher requires a topic")
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
	}
	return newPublisher(w, c.WriteTimeout), nil
}

func newPublisher(w messageWriter, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Publisher{writer: w, timeout: timeout}
}

// PublishFlush encodes and writes the event.
func (p *Publisher) PublishFlush(ctx context.Context, event *eventstream.ContextFlushedEvent) error {
	if event == nil {
		return eventstream.ErrNilFlushEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode flush event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(event.ContextID),
		Value: payload,
		Time:  event.EmittedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to publish flush event %s: %w", event.EventID, err)
	}
	return nil
}

// Close flushes buffered messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
