package eventstream

import "context"

// Publisher publishes context events to an event stream backend.
type Publisher interface {
	PublishFlush(ctx context.Context, event *ContextFlushedEvent) error
	Close() error
}
