// Package storage defines the contract every context storage backend
// implements, along with the records and errors shared by all of them.
package storage

import (
	"context"
)

// Driver defines the interface for persisting and retrieving conversation
// contexts in a storage backend.
//
// A context is persisted as one scalar record (ContextInfo) and three
// independent collections of serialized turn entries (labels, requests and
// responses) keyed by turn id. Drivers only ever see serialized bytes;
// encoding is the caller's concern.
//
// Implementations must be safe for concurrent use by different context ids.
type Driver interface {
	// LoadMainInfo returns the scalar record of a context, or a NotFoundError
	// when the context was never stored.
	LoadMainInfo(ctx context.Context, id string) (*ContextInfo, error)

	// UpdateMainInfo creates or replaces the scalar record of a context.
	UpdateMainInfo(ctx context.Context, id string, info *ContextInfo) error

	// LoadFieldKeys returns every turn id stored for the field, in any order.
	LoadFieldKeys(ctx context.Context, id string, field Field) ([]int, error)

	// LoadFieldLatest returns the items selected by the subscript. It is used
	// to prefetch the most recent turns when a context is loaded.
	LoadFieldLatest(ctx context.Context, id string, field Field, sub Subscript) ([]Item, error)

	// LoadFieldItems returns the stored items among keys. Keys that are absent
	// from the backend are omitted from the result rather than failing the call.
	LoadFieldItems(ctx context.Context, id string, field Field, keys []int) ([]Item, error)

	// UpdateFieldItems creates or replaces the given items.
	UpdateFieldItems(ctx context.Context, id string, field Field, items []Item) error

	// DeleteFieldKeys removes the given keys from the field. Missing keys are
	// not an error.
	DeleteFieldKeys(ctx context.Context, id string, field Field, keys []int) error

	// DeleteContext removes the scalar record and every field entry of a
	// context. Deleting an unknown context is not an error.
	DeleteContext(ctx context.Context, id string) error

	// ClearAll removes every context from the backend.
	ClearAll(ctx context.Context) error

	// Close closes the store and releases any resources.
	Close() error
}
