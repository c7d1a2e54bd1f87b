package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeContextFlushed is emitted after a context is flushed to storage.
	EventTypeContextFlushed = "ctxstore.context.flushed"
)

// ContextFlushedEvent is a transport-neutral event payload for a flushed
// context.
type ContextFlushedEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	ContextID     string    `json:"context_id"`
	TurnID        int       `json:"turn_id"`

	// FlushedFields names the history fields that had pending writes or
	// deletes in this flush.
	FlushedFields []string `json:"flushed_fields"`
}

// NewContextFlushedEvent builds a v1 event with a fresh id and timestamp.
func NewContextFlushedEvent(contextID string, turnID int, fields []string) *ContextFlushedEvent {
	if fields == nil {
		fields = []string{}
	}
	return &ContextFlushedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeContextFlushed,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		ContextID:     contextID,
		TurnID:        turnID,
		FlushedFields: fields,
	}
}
