package chatctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/EagleChen/mapmutex"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/papercomputeco/ctxstore/pkg/eventstream"
	"github.com/papercomputeco/ctxstore/pkg/eventstream/nop"
	"github.com/papercomputeco/ctxstore/pkg/logger"
	"github.com/papercomputeco/ctxstore/pkg/storage"
)

// DefaultCacheSize bounds the number of live contexts a Manager keeps.
const DefaultCacheSize = 1024

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Driver  storage.Driver
	Options Options

	// CacheSize bounds the LRU of live contexts. Evicted contexts are
	// dropped without a flush. Defaults to DefaultCacheSize.
	CacheSize int

	// Publisher receives a ContextFlushedEvent after every flush made by
	// the manager. Defaults to a no-op publisher.
	Publisher eventstream.Publisher

	Logger *slog.Logger
}

// Manager is the boundary between the dialog pipeline and storage. It loads
// contexts on demand, keeps recently used ones in memory and serializes work
// on the same context id.
type Manager struct {
	driver    storage.Driver
	opts      Options
	cache     *lru.Cache[string, *Context]
	locks     *mapmutex.Mutex
	publisher eventstream.Publisher
	logger    *slog.Logger
}

// NewManager creates a manager. The driver is owned by the caller.
func NewManager(c ManagerConfig) (*Manager, error) {
	if c.Driver == nil {
		return nil, errors.New("manager requires a storage driver")
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.Publisher == nil {
		c.Publisher = nop.NewPublisher()
	}

	log := logger.OrNop(c.Logger)
	if c.Options.Logger == nil {
		c.Options.Logger = log
	}

	cache, err := lru.New[string, *Context](c.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create context cache: %w", err)
	}

	return &Manager{
		driver:    c.Driver,
		opts:      c.Options.withDefaults(),
		cache:     cache,
		locks:     newLocks(),
		publisher: c.Publisher,
		logger:    log.With("component", "manager"),
	}, nil
}

// Driver returns the storage driver of the manager.
func (m *Manager) Driver() storage.Driver {
	return m.driver
}

// GetContext returns the live context for id, loading it from storage when
// it is not cached. A context that does not exist, or fails to load for a
// reason other than configuration or availability, yields a fresh context
// at turn 0.
func (m *Manager) GetContext(ctx context.Context, id string) (*Context, error) {
	if id != "" {
		if c, ok := m.cache.Get(id); ok {
			return c, nil
		}
	}

	c, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	m.cache.Add(c.ID(), c)
	return c, nil
}

func (m *Manager) load(ctx context.Context, id string) (*Context, error) {
	if id == "" {
		return New("", m.driver, m.opts)
	}

	c, err := Load(ctx, id, m.driver, m.opts)
	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, storage.ErrConfiguration), errors.Is(err, storage.ErrBackendUnavailable):
		return nil, err
	case errors.Is(err, storage.ErrNotFound):
		m.logger.Debug("context not found, starting fresh", "context_id", id)
	default:
		m.logger.Warn("failed to load context, starting fresh", "context_id", id, "error", err)
	}
	return New(id, m.driver, m.opts)
}

// Peek returns the cached context for id without loading it.
func (m *Manager) Peek(id string) (*Context, bool) {
	return m.cache.Peek(id)
}

// Flush persists c and publishes a ContextFlushedEvent. Publish failures
// are logged and do not fail the flush.
func (m *Manager) Flush(ctx context.Context, c *Context) error {
	pending := c.Pending()
	if err := c.Flush(ctx); err != nil {
		return err
	}

	fields := make([]string, len(pending))
	for i, f := range pending {
		fields[i] = string(f)
	}
	event := eventstream.NewContextFlushedEvent(c.ID(), c.TurnID(), fields)
	if err := m.publisher.PublishFlush(ctx, event); err != nil {
		m.logger.Warn("failed to publish flush event", "context_id", c.ID(), "error", err)
	}
	return nil
}

// Do runs fn on the context for id while holding the per-id lock, then
// flushes it. Calls for the same id are serialized; different ids run in
// parallel. When fn fails the context is not flushed and is evicted from the
// cache, so writes fn made before failing are discarded and the next call
// reloads the stored state. A failed flush keeps the context cached with its
// pending writes, and the next successful call retries them.
func (m *Manager) Do(ctx context.Context, id string, fn func(ctx context.Context, c *Context) error) error {
	if id == "" {
		return errors.New("context id is required")
	}
	if err := m.lock(ctx, id); err != nil {
		return err
	}
	defer m.locks.Unlock(id)

	c, err := m.GetContext(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(ctx, c); err != nil {
		m.cache.Remove(id)
		return err
	}
	return m.Flush(ctx, c)
}

// View runs fn on the context for id while holding the per-id lock, without
// flushing. Unlike GetContext it never creates a context: an id absent from
// both the cache and storage yields a storage.NotFoundError.
func (m *Manager) View(ctx context.Context, id string, fn func(ctx context.Context, c *Context) error) error {
	if err := m.lock(ctx, id); err != nil {
		return err
	}
	defer m.locks.Unlock(id)

	c, ok := m.cache.Get(id)
	if !ok {
		var err error
		if c, err = Load(ctx, id, m.driver, m.opts); err != nil {
			return err
		}
		m.cache.Add(id, c)
	}
	return fn(ctx, c)
}

// DeleteContext removes id from storage and from the cache.
func (m *Manager) DeleteContext(ctx context.Context, id string) error {
	if err := m.lock(ctx, id); err != nil {
		return err
	}
	defer m.locks.Unlock(id)

	m.cache.Remove(id)
	if err := m.driver.DeleteContext(ctx, id); err != nil {
		return fmt.Errorf("deleting context %s: %w", id, err)
	}
	m.logger.Debug("deleted context", "context_id", id)
	return nil
}

// ClearAll removes every context from storage and empties the cache.
func (m *Manager) ClearAll(ctx context.Context) error {
	m.cache.Purge()
	return m.driver.ClearAll(ctx)
}

// Len returns the number of cached contexts.
func (m *Manager) Len() int {
	return m.cache.Len()
}

// newLocks builds the per-id mutex. A single TryLock gives up after roughly
// 10ms of backoff so that lock re-checks ctx between attempts.
func newLocks() *mapmutex.Mutex {
	return mapmutex.NewCustomizedMapMutex(
		20,  // max retries
		1e7, // max delay, 10ms
		1e3, // base delay, 1µs
		1.5, // factor
		0.2, // jitter
	)
}

// lock acquires the per-id lock, giving up when ctx is done.
func (m *Manager) lock(ctx context.Context, id string) error {
	for !m.locks.TryLock(id) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("waiting for context %s: %w", id, err)
		}
	}
	return nil
}
