package chatctx

import (
	"log/slog"

	"github.com/papercomputeco/ctxstore/pkg/serializer"
	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/turn"
)

// DefaultReadLatest is the number of most recent entries of every field
// prefetched when a context is loaded.
const DefaultReadLatest = 3

// Options configures how contexts are created, loaded and flushed.
type Options struct {
	// Serializer encodes turn values and bags. Defaults to JSON.
	Serializer serializer.Serializer

	// StartLabel is written to labels[0] of every new context.
	StartLabel *turn.Label

	// ReadConfig selects the entries prefetched per field on load. Fields
	// without an entry use LatestN(DefaultReadLatest).
	ReadConfig map[storage.Field]storage.Subscript

	// RewriteExisting makes every flush rewrite all materialized entries.
	RewriteExisting bool

	Logger *slog.Logger
}

func (o Options) subscript(f storage.Field) storage.Subscript {
	if sub, ok := o.ReadConfig[f]; ok {
		return sub
	}
	return storage.LatestN(DefaultReadLatest)
}

func (o Options) withDefaults() Options {
	if o.Serializer == nil {
		o.Serializer = serializer.JSON{}
	}
	return o
}
