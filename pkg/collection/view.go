package collection

import (
	"context"
	"iter"

	"github.com/papercomputeco/ctxstore/pkg/storage"
)

// View is a read-only handle on a Collection. Reads may still fetch and
// cache values, but no key can be written or deleted through it.
type View[V any] struct {
	c *Collection[V]
}

// View returns a read-only handle on c.
func (c *Collection[V]) View() View[V] {
	return View[V]{c: c}
}

func (v View[V]) Field() storage.Field { return v.c.Field() }

func (v View[V]) Get(ctx context.Context, key int) (V, error) { return v.c.Get(ctx, key) }

func (v View[V]) GetMany(ctx context.Context, keys []int) (map[int]V, error) {
	return v.c.GetMany(ctx, keys)
}

func (v View[V]) Contains(key int) bool { return v.c.Contains(key) }

func (v View[V]) Len() int { return v.c.Len() }

func (v View[V]) Keys() iter.Seq[int] { return v.c.Keys() }

func (v View[V]) LastKey() (int, bool) { return v.c.LastKey() }

func (v View[V]) Latest(ctx context.Context) (V, bool, error) { return v.c.Latest(ctx) }

func (v View[V]) Items(ctx context.Context, from, to int) ([]V, error) {
	return v.c.Items(ctx, from, to)
}

func (v View[V]) Cached(key int) bool { return v.c.Cached(key) }

func (v View[V]) Dirty() []int { return v.c.Dirty() }

func (v View[V]) Removed() []int { return v.c.Removed() }

func (v View[V]) Pending() bool { return v.c.Pending() }
