package kafka

import (
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// MessageWriter exposes the writer seam to external tests.
type MessageWriter interface {
	messageWriter
}

var _ MessageWriter = (*kafkago.Writer)(nil)

// NewPublisherWithWriter builds a publisher around a fake writer.
func NewPublisherWithWriter(w MessageWriter, timeout time.Duration) *Publisher {
	return newPublisher(w, timeout)
}
