// Package inmemory provides a map-backed storage driver, used as the default
// backend and in tests.
package inmemory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/papercomputeco/ctxstore/pkg/storage"
)

// record is everything stored for a single context.
type record struct {
	main  *storage.ContextInfo
	turns map[storage.Field]map[int][]byte
}

func newRecord() *record {
	r := &record{turns: make(map[storage.Field]map[int][]byte, len(storage.Fields))}
	for _, f := range storage.Fields {
		r.turns[f] = make(map[int][]byte)
	}
	return r
}

// Driver implements storage.Driver using an in-memory map.
type Driver struct {
	// mu is a read write sync mutex for locking the mapping of contexts
	mu sync.RWMutex

	// contexts is the in memory map of context records keyed by context id
	contexts map[string]*record
}

// NewDriver creates a new in-memory driver. Every call returns an
// independent store.
func NewDriver() *Driver {
	return &Driver{
		contexts: make(map[string]*record),
	}
}

// LoadMainInfo returns a copy of the scalar record of a context.
func (d *Driver) LoadMainInfo(_ context.Context, id string) (*storage.ContextInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.contexts[id]
	if !ok || r.main == nil {
		return nil, storage.NotFoundError{ContextID: id}
	}

	info := *r.main
	info.Misc = slices.Clone(r.main.Misc)
	info.FrameworkData = slices.Clone(r.main.FrameworkData)
	return &info, nil
}

// UpdateMainInfo stores a copy of info.
func (d *Driver) UpdateMainInfo(_ context.Context, id string, info *storage.ContextInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored := *info
	stored.Misc = slices.Clone(info.Misc)
	stored.FrameworkData = slices.Clone(info.FrameworkData)
	d.recordFor(id).main = &stored
	return nil
}

// LoadFieldKeys returns the stored keys of a field.
func (d *Driver) LoadFieldKeys(_ context.Context, id string, field storage.Field) ([]int, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.contexts[id]
	if !ok {
		return []int{}, nil
	}
	keys := slices.Collect(maps.Keys(r.turns[field]))
	slices.Sort(keys)
	return keys, nil
}

// LoadFieldLatest returns the items selected by sub, most recent first.
func (d *Driver) LoadFieldLatest(ctx context.Context, id string, field storage.Field, sub storage.Subscript) ([]storage.Item, error) {
	keys, err := d.LoadFieldKeys(ctx, id, field)
	if err != nil {
		return nil, err
	}
	return d.LoadFieldItems(ctx, id, field, sub.Select(keys))
}

// LoadFieldItems returns copies of the stored items among keys.
func (d *Driver) LoadFieldItems(_ context.Context, id string, field storage.Field, keys []int) ([]storage.Item, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.contexts[id]
	if !ok {
		return []storage.Item{}, nil
	}

	items := make([]storage.Item, 0, len(keys))
	for _, k := range keys {
		if v, ok := r.turns[field][k]; ok {
			items = append(items, storage.Item{Key: k, Value: slices.Clone(v)})
		}
	}
	return items, nil
}

// UpdateFieldItems stores copies of items.
func (d *Driver) UpdateFieldItems(_ context.Context, id string, field storage.Field, items []storage.Item) error {
	if err := field.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.recordFor(id).turns[field]
	for _, item := range items {
		entries[item.Key] = slices.Clone(item.Value)
	}
	return nil
}

// DeleteFieldKeys removes keys from a field.
func (d *Driver) DeleteFieldKeys(_ context.Context, id string, field storage.Field, keys []int) error {
	if err := field.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.contexts[id]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(r.turns[field], k)
	}
	return nil
}

// DeleteContext removes a context entirely.
func (d *Driver) DeleteContext(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.contexts, id)
	return nil
}

// ClearAll removes every context.
func (d *Driver) ClearAll(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	clear(d.contexts)
	return nil
}

// Count returns the number of contexts in the in-memory store.
func (d *Driver) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.contexts)
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}

// recordFor returns the record for id, creating it. Callers hold the write lock.
func (d *Driver) recordFor(id string) *record {
	r, ok := d.contexts[id]
	if !ok {
		r = newRecord()
		d.contexts[id] = r
	}
	return r
}
