package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
)

var (
	// ErrNotFound matches any NotFoundError via errors.Is.
	ErrNotFound = errors.New("not found")

	// ErrConfiguration matches any ConfigurationError via errors.Is.
	ErrConfiguration = errors.New("invalid storage configuration")

	// ErrBackendUnavailable matches any BackendUnavailableError via errors.Is.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrSerialization matches any SerializationError via errors.Is.
	ErrSerialization = errors.New("serialization failed")

	// ErrPartialFailure matches any PartialFailureError via errors.Is.
	ErrPartialFailure = errors.New("partial failure")
)

// NotFoundError is returned when a context, or a key of one of its fields,
// doesn't exist in the store.
type NotFoundError struct {
	ContextID string
	Field     Field
	Key       *int
}

func (e NotFoundError) Error() string {
	var b strings.Builder
	b.WriteString("context ")
	if e.ContextID != "" {
		b.WriteString(e.ContextID + " ")
	}
	if e.Field != "" {
		b.WriteString(string(e.Field))
		if e.Key != nil {
			b.WriteString("[" + strconv.Itoa(*e.Key) + "]")
		}
		b.WriteString(" ")
	}
	b.WriteString("not found")
	return b.String()
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// KeyNotFound builds the NotFoundError for a single field key.
func KeyNotFound(id string, field Field, key int) NotFoundError {
	return NotFoundError{ContextID: id, Field: field, Key: &key}
}

// ConfigurationError is returned for a malformed or unsupported connection
// descriptor. It is fatal at startup.
type ConfigurationError struct {
	Descriptor string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid storage descriptor %q: %s", e.Descriptor, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// BackendUnavailableError wraps connectivity failures and timeouts. Callers
// may retry with backoff; drivers never retry internally.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s backend unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

func (e *BackendUnavailableError) Is(target error) bool { return target == ErrBackendUnavailable }

// SerializationError is returned when a value cannot be encoded or decoded.
// It concerns a single entry; sibling entries are unaffected.
type SerializationError struct {
	Field Field
	Key   *int
	Err   error
}

func (e *SerializationError) Error() string {
	where := "value"
	if e.Field != "" {
		where = string(e.Field)
		if e.Key != nil {
			where += "[" + strconv.Itoa(*e.Key) + "]"
		}
	}
	return fmt.Sprintf("serializing %s: %v", where, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

// PartialFailureError reports a write or delete that persisted some keys but
// not others. Keys lists the ones that did not persist.
type PartialFailureError struct {
	Field Field
	Keys  []int
	Err   error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s: %d keys not persisted %v: %v", e.Field, len(e.Keys), e.Keys, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

func (e *PartialFailureError) Is(target error) bool { return target == ErrPartialFailure }

// Unavailable wraps err as a BackendUnavailableError unless it already is a
// typed storage error.
func Unavailable(backend string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPartialFailure) || errors.Is(err, ErrConfiguration) {
		return err
	}
	return &BackendUnavailableError{Backend: backend, Err: err}
}

// Classify wraps err as a BackendUnavailableError when it looks like a
// connectivity failure or timeout, and returns it unchanged otherwise.
func Classify(backend string, err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	switch {
	case errors.Is(err, ErrBackendUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.As(err, &netErr):
		return &BackendUnavailableError{Backend: backend, Err: err}
	}
	return err
}
