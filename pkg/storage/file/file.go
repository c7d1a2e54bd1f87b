// Package file provides storage drivers that keep every context in a single
// document on disk, encoded as JSON or as a gob ("pickle") stream.
//
// The whole document is held in memory and rewritten on every mutation
// through a temporary file and a rename, so readers of the file never see a
// partial write. With WithWatch the driver also reloads the document when
// another process replaces it.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/papercomputeco/ctxstore/pkg/logger"
	"github.com/papercomputeco/ctxstore/pkg/serializer"
	"github.com/papercomputeco/ctxstore/pkg/storage"
)

// Format selects the on-disk encoding of the document.
type Format string

const (
	JSONFormat   Format = "json"
	PickleFormat Format = "pickle"
)

// entry is everything stored for a single context.
type entry struct {
	Main  *storage.ContextInfo             `json:"main,omitempty"`
	Turns map[storage.Field]map[int][]byte `json:"turns"`
}

// document is the persisted form of the store.
type document struct {
	Contexts map[string]entry `json:"contexts"`
}

// Driver implements storage.Driver on top of a single file.
type Driver struct {
	path   string
	format Format
	codec  serializer.Serializer
	logger *slog.Logger

	mu  sync.RWMutex
	doc document

	watch   bool
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Option configures a Driver.
type Option func(*Driver)

// WithWatch reloads the document whenever the file changes on disk.
func WithWatch() Option {
	return func(d *Driver) { d.watch = true }
}

// WithLogger sets the logger used for reload diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger.OrNop(l) }
}

// NewDriver opens the document at path, creating it and its parent directory
// when missing.
func NewDriver(path string, format Format, opts ...Option) (*Driver, error) {
	codec, err := serializer.New(string(format))
	if err != nil {
		return nil, &storage.ConfigurationError{Descriptor: string(format) + "://" + path, Reason: err.Error()}
	}

	d := &Driver{
		path:   path,
		format: format,
		codec:  codec,
		logger: logger.Nop(),
		doc:    document{Contexts: make(map[string]entry)},
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	if err := d.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		if err := d.persist(); err != nil {
			return nil, err
		}
	}

	if d.watch {
		if err := d.startWatch(); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Path returns the file backing the driver.
func (d *Driver) Path() string {
	return d.path
}

func (d *Driver) LoadMainInfo(_ context.Context, id string) (*storage.ContextInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.doc.Contexts[id]
	if !ok || e.Main == nil {
		return nil, storage.NotFoundError{ContextID: id}
	}
	info := *e.Main
	info.Misc = slices.Clone(e.Main.Misc)
	info.FrameworkData = slices.Clone(e.Main.FrameworkData)
	return &info, nil
}

func (d *Driver) UpdateMainInfo(_ context.Context, id string, info *storage.ContextInfo) error {
	stored := *info
	stored.Misc = slices.Clone(info.Misc)
	stored.FrameworkData = slices.Clone(info.FrameworkData)

	return d.mutate(func(doc *document) {
		e := entryFor(doc, id)
		e.Main = &stored
		doc.Contexts[id] = e
	})
}

func (d *Driver) LoadFieldKeys(_ context.Context, id string, field storage.Field) ([]int, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := slices.Collect(maps.Keys(d.doc.Contexts[id].Turns[field]))
	slices.Sort(keys)
	if keys == nil {
		keys = []int{}
	}
	return keys, nil
}

func (d *Driver) LoadFieldLatest(ctx context.Context, id string, field storage.Field, sub storage.Subscript) ([]storage.Item, error) {
	keys, err := d.LoadFieldKeys(ctx, id, field)
	if err != nil {
		return nil, err
	}
	return d.LoadFieldItems(ctx, id, field, sub.Select(keys))
}

func (d *Driver) LoadFieldItems(_ context.Context, id string, field storage.Field, keys []int) ([]storage.Item, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	stored := d.doc.Contexts[id].Turns[field]
	items := make([]storage.Item, 0, len(keys))
	for _, k := range keys {
		if v, ok := stored[k]; ok {
			items = append(items, storage.Item{Key: k, Value: slices.Clone(v)})
		}
	}
	return items, nil
}

func (d *Driver) UpdateFieldItems(_ context.Context, id string, field storage.Field, items []storage.Item) error {
	if err := field.Validate(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	return d.mutate(func(doc *document) {
		e := entryFor(doc, id)
		for _, item := range items {
			e.Turns[field][item.Key] = slices.Clone(item.Value)
		}
		doc.Contexts[id] = e
	})
}

func (d *Driver) DeleteFieldKeys(_ context.Context, id string, field storage.Field, keys []int) error {
	if err := field.Validate(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	return d.mutate(func(doc *document) {
		e, ok := doc.Contexts[id]
		if !ok {
			return
		}
		for _, k := range keys {
			delete(e.Turns[field], k)
		}
	})
}

func (d *Driver) DeleteContext(_ context.Context, id string) error {
	return d.mutate(func(doc *document) {
		delete(doc.Contexts, id)
	})
}

func (d *Driver) ClearAll(_ context.Context) error {
	return d.mutate(func(doc *document) {
		clear(doc.Contexts)
	})
}

// Close stops the file watcher, if any.
func (d *Driver) Close() error {
	if d.watcher == nil {
		return nil
	}
	close(d.done)
	return d.watcher.Close()
}

// mutate applies fn and rewrites the file. When the write fails the
// in-memory document is restored from disk so it never runs ahead of it.
func (d *Driver) mutate(fn func(doc *document)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	fn(&d.doc)
	if err := d.persistLocked(); err != nil {
		if rerr := d.loadLocked(); rerr != nil {
			d.logger.Warn("failed to restore document after write error", "path", d.path, "error", rerr)
		}
		return err
	}
	return nil
}

func (d *Driver) load() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadLocked()
}

func (d *Driver) loadLocked() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		d.doc = document{Contexts: make(map[string]entry)}
		return nil
	}

	var doc document
	if err := d.codec.Decode(data, &doc); err != nil {
		return fmt.Errorf("failed to decode %s: %w", d.path, err)
	}
	if doc.Contexts == nil {
		doc.Contexts = make(map[string]entry)
	}
	for id, e := range doc.Contexts {
		doc.Contexts[id] = normalize(e)
	}
	d.doc = doc
	return nil
}

func (d *Driver) persist() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.persistLocked()
}

// persistLocked writes the document to a temporary file in the same
// directory and renames it over the target.
func (d *Driver) persistLocked() error {
	data, err := d.codec.Encode(d.doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", d.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), "."+filepath.Base(d.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", d.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", d.path, err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", d.path, err)
	}
	return nil
}

// startWatch watches the parent directory, since renames replace the file
// inode and a watch on the file itself would be lost.
func (d *Driver) startWatch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(d.path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", d.path, err)
	}
	d.watcher = w

	go func() {
		for {
			select {
			case <-d.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(d.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := d.load(); err != nil {
					d.logger.Warn("failed to reload document", "path", d.path, "error", err)
					continue
				}
				d.logger.Debug("reloaded document", "path", d.path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				d.logger.Warn("file watcher error", "path", d.path, "error", err)
			}
		}
	}()
	return nil
}

func entryFor(doc *document, id string) entry {
	return normalize(doc.Contexts[id])
}

// normalize makes sure every field map exists.
func normalize(e entry) entry {
	if e.Turns == nil {
		e.Turns = make(map[storage.Field]map[int][]byte, len(storage.Fields))
	}
	for _, f := range storage.Fields {
		if e.Turns[f] == nil {
			e.Turns[f] = make(map[int][]byte)
		}
	}
	return e
}
