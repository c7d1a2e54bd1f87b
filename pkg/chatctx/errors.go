package chatctx

import (
	"errors"
	"fmt"
)

// ErrContext matches any ContextError via errors.Is.
var ErrContext = errors.New("context misuse")

// ContextError is returned when a Context is used in a way that would break
// its turn invariant, or when a value it was asked for does not exist.
type ContextError struct {
	ContextID string
	Op        string
	Reason    string
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("context %s: %s: %s", e.ContextID, e.Op, e.Reason)
}

func (e *ContextError) Is(target error) bool { return target == ErrContext }

func (c *Context) misuse(op, format string, args ...any) error {
	return &ContextError{ContextID: c.id, Op: op, Reason: fmt.Sprintf(format, args...)}
}
