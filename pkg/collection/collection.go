// Package collection implements the lazily loaded, turn-indexed collection
// that backs each history field of a conversation context.
//
// A Collection knows which keys exist in the backend (its index) without
// holding their values. Values are fetched on first access and cached.
// Writes and deletes only touch memory until Flush, which sends every pending
// write in one driver call and every pending delete in another.
//
// A Collection is not safe for concurrent mutation. Callers serialize access
// per context id.
package collection

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/papercomputeco/ctxstore/pkg/serializer"
	"github.com/papercomputeco/ctxstore/pkg/storage"
)

// Config binds a collection to one field of one context in a backend.
type Config struct {
	ContextID  string
	Field      storage.Field
	Driver     storage.Driver
	Serializer serializer.Serializer

	// RewriteExisting makes Flush rewrite every cached entry, not only the
	// ones written since the last flush.
	RewriteExisting bool
}

// Collection is a turn-id keyed mapping of V backed by a storage.Driver.
type Collection[V any] struct {
	config Config

	// known holds keys that exist in the backend as of the last index load,
	// fetch or flush.
	known map[int]struct{}

	// cache holds materialized values.
	cache map[int]V

	// dirty holds keys written since the last flush. Every dirty key is cached.
	dirty map[int]struct{}

	// removed holds keys deleted since the last flush. A removed key is
	// neither cached nor known.
	removed map[int]struct{}
}

// New creates an empty collection. It performs no I/O.
func New[V any](c Config) (*Collection[V], error) {
	if c.Driver == nil {
		return nil, errors.New("collection requires a storage driver")
	}
	if err := c.Field.Validate(); err != nil {
		return nil, err
	}
	if c.Serializer == nil {
		c.Serializer = serializer.JSON{}
	}

	return &Collection[V]{
		config:  c,
		known:   make(map[int]struct{}),
		cache:   make(map[int]V),
		dirty:   make(map[int]struct{}),
		removed: make(map[int]struct{}),
	}, nil
}

// Field returns the context field this collection is bound to.
func (c *Collection[V]) Field() storage.Field {
	return c.config.Field
}

// LoadIndex fetches the set of keys stored in the backend without loading
// any values.
func (c *Collection[V]) LoadIndex(ctx context.Context) error {
	keys, err := c.config.Driver.LoadFieldKeys(ctx, c.config.ContextID, c.config.Field)
	if err != nil {
		return fmt.Errorf("loading %s index: %w", c.config.Field, err)
	}

	known := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		if _, gone := c.removed[k]; !gone {
			known[k] = struct{}{}
		}
	}
	c.known = known
	return nil
}

// Prefetch loads the entries selected by sub and caches them. Entries that
// are already cached or pending deletion are left alone.
func (c *Collection[V]) Prefetch(ctx context.Context, sub storage.Subscript) error {
	if sub.IsZero() {
		return nil
	}

	items, err := c.config.Driver.LoadFieldLatest(ctx, c.config.ContextID, c.config.Field, sub)
	if err != nil {
		return fmt.Errorf("prefetching %s: %w", c.config.Field, err)
	}

	_, err = c.absorb(items)
	return err
}

// Get returns the value stored under key, fetching it from the backend on a
// cache miss. It returns a storage.NotFoundError when the key was deleted in
// this collection or is absent from the backend.
func (c *Collection[V]) Get(ctx context.Context, key int) (V, error) {
	var zero V

	if v, ok := c.cache[key]; ok {
		return v, nil
	}
	if _, gone := c.removed[key]; gone {
		return zero, storage.KeyNotFound(c.config.ContextID, c.config.Field, key)
	}

	items, err := c.config.Driver.LoadFieldItems(ctx, c.config.ContextID, c.config.Field, []int{key})
	if err != nil {
		return zero, fmt.Errorf("fetching %s[%d]: %w", c.config.Field, key, err)
	}

	found, err := c.absorb(items)
	if err != nil {
		return zero, err
	}
	v, ok := found[key]
	if !ok {
		return zero, storage.KeyNotFound(c.config.ContextID, c.config.Field, key)
	}
	return v, nil
}

// GetMany returns the values stored under keys, fetching every cache miss in
// a single driver call. Absent or deleted keys are missing from the result.
// An entry that fails to decode is reported in the error while the entries
// that decoded are still returned and cached.
func (c *Collection[V]) GetMany(ctx context.Context, keys []int) (map[int]V, error) {
	out := make(map[int]V, len(keys))
	var misses []int

	for _, k := range keys {
		if v, ok := c.cache[k]; ok {
			out[k] = v
			continue
		}
		if _, gone := c.removed[k]; gone {
			continue
		}
		if !slices.Contains(misses, k) {
			misses = append(misses, k)
		}
	}

	if len(misses) == 0 {
		return out, nil
	}

	items, err := c.config.Driver.LoadFieldItems(ctx, c.config.ContextID, c.config.Field, misses)
	if err != nil {
		return nil, fmt.Errorf("fetching %d %s entries: %w", len(misses), c.config.Field, err)
	}

	found, err := c.absorb(items)
	maps.Copy(out, found)
	return out, err
}

// Set writes value under key in memory and marks it for the next flush.
func (c *Collection[V]) Set(key int, value V) {
	c.cache[key] = value
	c.dirty[key] = struct{}{}
	delete(c.removed, key)
}

// Delete removes key in memory and marks it for deletion on the next flush.
// A key written and deleted between two flushes is never sent to the backend
// as a write.
func (c *Collection[V]) Delete(key int) {
	delete(c.cache, key)
	delete(c.dirty, key)
	delete(c.known, key)
	c.removed[key] = struct{}{}
}

// Contains reports whether key exists, as far as the index and the in-memory
// state know. It never fetches values.
func (c *Collection[V]) Contains(key int) bool {
	if _, gone := c.removed[key]; gone {
		return false
	}
	if _, ok := c.cache[key]; ok {
		return true
	}
	_, ok := c.known[key]
	return ok
}

// Len returns the number of keys in the collection.
func (c *Collection[V]) Len() int {
	return len(c.keys())
}

// Keys returns the keys of the collection in ascending order. The sequence
// is restartable: each iteration reflects the state at the time it starts.
func (c *Collection[V]) Keys() iter.Seq[int] {
	return func(yield func(int) bool) {
		for _, k := range c.keys() {
			if !yield(k) {
				return
			}
		}
	}
}

// LastKey returns the greatest key of the collection.
func (c *Collection[V]) LastKey() (int, bool) {
	keys := c.keys()
	if len(keys) == 0 {
		return 0, false
	}
	return keys[len(keys)-1], true
}

// Latest returns the value under the greatest key. ok is false when the
// collection is empty.
func (c *Collection[V]) Latest(ctx context.Context) (v V, ok bool, err error) {
	key, ok := c.LastKey()
	if !ok {
		return v, false, nil
	}
	v, err = c.Get(ctx, key)
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Items returns the values whose keys fall in [from, to), ascending, fetching
// every cache miss in one driver call.
func (c *Collection[V]) Items(ctx context.Context, from, to int) ([]V, error) {
	var keys []int
	for _, k := range c.keys() {
		if k >= from && k < to {
			keys = append(keys, k)
		}
	}

	found, err := c.GetMany(ctx, keys)
	if found == nil {
		return nil, err
	}

	out := make([]V, 0, len(keys))
	for _, k := range keys {
		if v, ok := found[k]; ok {
			out = append(out, v)
		}
	}
	return out, err
}

// Cached reports whether the value for key is materialized in memory.
func (c *Collection[V]) Cached(key int) bool {
	_, ok := c.cache[key]
	return ok
}

// Dirty returns the keys pending a write, ascending.
func (c *Collection[V]) Dirty() []int {
	return sortedSet(c.dirty)
}

// Removed returns the keys pending a delete, ascending.
func (c *Collection[V]) Removed() []int {
	return sortedSet(c.removed)
}

// Pending reports whether Flush has any work to do.
func (c *Collection[V]) Pending() bool {
	return len(c.dirty) > 0 || len(c.removed) > 0 || (c.config.RewriteExisting && len(c.cache) > 0)
}

// Flush persists pending writes and deletes. On success the pending sets are
// cleared. On a backend failure nothing is cleared, so calling Flush again
// retries the same work; writes are idempotent upserts so a retry after a
// partially applied flush converges.
//
// An entry that cannot be encoded stays pending and is reported as a
// storage.SerializationError; it does not prevent its siblings from being
// flushed.
func (c *Collection[V]) Flush(ctx context.Context) error {
	writeKeys := c.Dirty()
	if c.config.RewriteExisting {
		writeKeys = sortedSet(c.cache)
	}
	deleteKeys := c.Removed()

	if len(writeKeys) == 0 && len(deleteKeys) == 0 {
		return nil
	}

	items := make([]storage.Item, 0, len(writeKeys))
	var encodeErrs []error
	for _, k := range writeKeys {
		data, err := c.config.Serializer.Encode(c.cache[k])
		if err != nil {
			encodeErrs = append(encodeErrs, c.serializationError(k, err))
			continue
		}
		items = append(items, storage.Item{Key: k, Value: data})
	}

	if len(items) > 0 {
		if err := c.config.Driver.UpdateFieldItems(ctx, c.config.ContextID, c.config.Field, items); err != nil {
			return fmt.Errorf("flushing %d %s writes: %w", len(items), c.config.Field, err)
		}
	}

	if len(deleteKeys) > 0 {
		if err := c.config.Driver.DeleteFieldKeys(ctx, c.config.ContextID, c.config.Field, deleteKeys); err != nil {
			return fmt.Errorf("flushing %d %s deletes: %w", len(deleteKeys), c.config.Field, err)
		}
	}

	for _, item := range items {
		delete(c.dirty, item.Key)
		c.known[item.Key] = struct{}{}
	}
	clear(c.removed)

	return errors.Join(encodeErrs...)
}

// absorb decodes items into the cache and index. Entries that fail to decode
// are skipped and reported; the rest are kept.
func (c *Collection[V]) absorb(items []storage.Item) (map[int]V, error) {
	found := make(map[int]V, len(items))
	var errs []error

	for _, item := range items {
		if _, gone := c.removed[item.Key]; gone {
			continue
		}
		if v, ok := c.cache[item.Key]; ok {
			found[item.Key] = v
			continue
		}

		var v V
		if err := c.config.Serializer.Decode(item.Value, &v); err != nil {
			errs = append(errs, c.serializationError(item.Key, err))
			continue
		}
		c.cache[item.Key] = v
		c.known[item.Key] = struct{}{}
		found[item.Key] = v
	}

	return found, errors.Join(errs...)
}

func (c *Collection[V]) serializationError(key int, err error) error {
	var serr *storage.SerializationError
	if errors.As(err, &serr) {
		err = serr.Err
	}
	return &storage.SerializationError{Field: c.config.Field, Key: &key, Err: err}
}

func (c *Collection[V]) keys() []int {
	set := make(map[int]struct{}, len(c.known)+len(c.cache))
	maps.Copy(set, c.known)
	for k := range c.cache {
		set[k] = struct{}{}
	}
	for k := range c.removed {
		delete(set, k)
	}
	return sortedSet(set)
}

func sortedSet[T any](set map[int]T) []int {
	keys := slices.Collect(maps.Keys(set))
	slices.Sort(keys)
	return keys
}
