// Package chatctx implements the conversation context: the turn-indexed
// history of one user's dialog, lazily backed by a storage driver, and the
// Manager that loads, caches and flushes contexts.
package chatctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/ctxstore/pkg/collection"
	"github.com/papercomputeco/ctxstore/pkg/logger"
	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/turn"
	"github.com/papercomputeco/ctxstore/pkg/value"
)

// OriginInterfaceKey is the framework data key holding the name of the
// interface that produced the first request of a context.
const OriginInterfaceKey = "origin_interface"

// NodeResolver maps a label to the dialog node it addresses. The dialog
// engine provides it; the context only caches the result for the turn.
type NodeResolver interface {
	ResolveNode(ctx context.Context, label turn.Label) (any, error)
}

// NodeResolverFunc adapts a function to NodeResolver.
type NodeResolverFunc func(ctx context.Context, label turn.Label) (any, error)

func (f NodeResolverFunc) ResolveNode(ctx context.Context, label turn.Label) (any, error) {
	return f(ctx, label)
}

// Context is the state of one conversation.
//
// For every turn t with 1 <= t <= TurnID, labels[t] and requests[t] exist,
// and responses[t] exists for every t < TurnID.
//
// A Context is not safe for concurrent use; Manager.Do serializes access per
// id.
type Context struct {
	id        string
	turnID    int
	createdAt int64
	updatedAt int64

	misc          value.Bag
	frameworkData value.Bag

	labels    *collection.Collection[turn.Label]
	requests  *collection.Collection[turn.Message]
	responses *collection.Collection[turn.Message]

	// currentNode is the node resolved for the running turn. It is never
	// persisted and is cleared when the turn advances.
	currentNode any
	nodeSet     bool

	driver storage.Driver
	opts   Options
	logger *slog.Logger
}

// New creates an empty context at turn 0 without touching the driver. An
// empty id is replaced by a random UUID. The start label, if configured, is
// written to labels[0].
func New(id string, driver storage.Driver, opts Options) (*Context, error) {
	if id == "" {
		id = uuid.NewString()
	}

	c, err := newContext(id, driver, opts)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixNano()
	c.createdAt, c.updatedAt = now, now
	if c.opts.StartLabel != nil {
		c.labels.Set(0, *c.opts.StartLabel)
	}

	c.logger.Debug("created context", "context_id", id)
	return c, nil
}

// Load reads the scalar record and the key index of every field of id, and
// prefetches the entries selected by the read configuration. It returns a
// storage.NotFoundError when the context was never stored.
func Load(ctx context.Context, id string, driver storage.Driver, opts Options) (*Context, error) {
	c, err := newContext(id, driver, opts)
	if err != nil {
		return nil, err
	}

	var info *storage.ContextInfo
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, err = driver.LoadMainInfo(gctx, id)
		return err
	})
	g.Go(func() error { return loadCollection(gctx, c.labels, c.opts) })
	g.Go(func() error { return loadCollection(gctx, c.requests, c.opts) })
	g.Go(func() error { return loadCollection(gctx, c.responses, c.opts) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.turnID = info.TurnID
	c.createdAt = info.CreatedAt
	c.updatedAt = info.UpdatedAt
	if c.misc, err = c.decodeBag("misc", info.Misc); err != nil {
		return nil, err
	}
	if c.frameworkData, err = c.decodeBag("framework_data", info.FrameworkData); err != nil {
		return nil, err
	}

	c.logger.Debug("loaded context",
		"context_id", id,
		"turn_id", c.turnID,
		"labels", c.labels.Len(),
		"requests", c.requests.Len(),
		"responses", c.responses.Len(),
	)
	return c, nil
}

func newContext(id string, driver storage.Driver, opts Options) (*Context, error) {
	if driver == nil {
		return nil, errors.New("context requires a storage driver")
	}
	opts = opts.withDefaults()

	c := &Context{
		id:            id,
		misc:          value.Bag{},
		frameworkData: value.Bag{},
		driver:        driver,
		opts:          opts,
		logger:        logger.OrNop(opts.Logger).With("component", "chatctx"),
	}

	config := func(f storage.Field) collection.Config {
		return collection.Config{
			ContextID:       id,
			Field:           f,
			Driver:          driver,
			Serializer:      opts.Serializer,
			RewriteExisting: opts.RewriteExisting,
		}
	}

	var err error
	if c.labels, err = collection.New[turn.Label](config(storage.LabelsField)); err != nil {
		return nil, err
	}
	if c.requests, err = collection.New[turn.Message](config(storage.RequestsField)); err != nil {
		return nil, err
	}
	if c.responses, err = collection.New[turn.Message](config(storage.ResponsesField)); err != nil {
		return nil, err
	}
	return c, nil
}

type loader interface {
	Field() storage.Field
	LoadIndex(ctx context.Context) error
	Prefetch(ctx context.Context, sub storage.Subscript) error
}

func loadCollection(ctx context.Context, l loader, opts Options) error {
	if err := l.LoadIndex(ctx); err != nil {
		return err
	}
	return l.Prefetch(ctx, opts.subscript(l.Field()))
}

// ID returns the context identifier.
func (c *Context) ID() string { return c.id }

// TurnID returns the id of the current turn. It is 0 before the first request.
func (c *Context) TurnID() int { return c.turnID }

// CreatedAt returns the creation time.
func (c *Context) CreatedAt() time.Time { return time.Unix(0, c.createdAt) }

// UpdatedAt returns the time of the last successful flush.
func (c *Context) UpdatedAt() time.Time { return time.Unix(0, c.updatedAt) }

// Misc returns the caller-owned bag. Mutations are persisted on flush.
func (c *Context) Misc() value.Bag { return c.misc }

// FrameworkData returns the bag reserved for pipeline bookkeeping.
func (c *Context) FrameworkData() value.Bag { return c.frameworkData }

// Labels returns a read-only view of the labels. Labels are written through
// AddTurn, AddRequest and AddLabel only.
func (c *Context) Labels() collection.View[turn.Label] { return c.labels.View() }

// Requests returns a read-only view of the requests.
func (c *Context) Requests() collection.View[turn.Message] { return c.requests.View() }

// Responses returns a read-only view of the responses.
func (c *Context) Responses() collection.View[turn.Message] { return c.responses.View() }

// OriginInterface returns the name of the interface that produced the first
// request, or "" when unknown.
func (c *Context) OriginInterface() string {
	return c.frameworkData[OriginInterfaceKey].AsString()
}

// SetOriginInterface records the interface name unless one is already set.
func (c *Context) SetOriginInterface(name string) {
	if c.OriginInterface() == "" {
		c.frameworkData[OriginInterfaceKey] = value.String(name)
	}
}

// LastLabel returns the label of the current turn.
func (c *Context) LastLabel(ctx context.Context) (turn.Label, error) {
	if !c.labels.Contains(c.turnID) {
		return turn.Label{}, c.misuse("LastLabel", "turn %d has no label", c.turnID)
	}
	return c.labels.Get(ctx, c.turnID)
}

// LastRequest returns the request of the current turn.
func (c *Context) LastRequest(ctx context.Context) (turn.Message, error) {
	if !c.requests.Contains(c.turnID) {
		return turn.Message{}, c.misuse("LastRequest", "turn %d has no request", c.turnID)
	}
	return c.requests.Get(ctx, c.turnID)
}

// LastResponse returns the response of the current turn, or of the previous
// one while the current turn is unanswered. It returns nil when neither
// exists.
func (c *Context) LastResponse(ctx context.Context) (*turn.Message, error) {
	for _, id := range []int{c.turnID, c.turnID - 1} {
		if id < 1 || !c.responses.Contains(id) {
			continue
		}
		m, err := c.responses.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &m, nil
	}
	return nil, nil
}

// AddTurn starts turn n+1 with its label and request. Either both entries
// are written and the turn id advances, or nothing changes.
func (c *Context) AddTurn(label turn.Label, request turn.Message) error {
	if err := label.Validate(); err != nil {
		return c.misuse("AddTurn", "%v", err)
	}

	next := c.turnID + 1
	if c.labels.Contains(next) || c.requests.Contains(next) {
		return c.misuse("AddTurn", "turn %d already has entries", next)
	}

	c.labels.Set(next, label)
	c.requests.Set(next, request)
	c.turnID = next
	c.clearNode()
	return nil
}

// AddRequest starts turn n+1 with request, carrying the last label over so
// that the turn invariant holds until AddLabel replaces it.
func (c *Context) AddRequest(ctx context.Context, request turn.Message) error {
	label, err := c.LastLabel(ctx)
	if err != nil {
		return err
	}
	return c.AddTurn(label, request)
}

// AddLabel replaces the label of the current turn. At turn 0 it replaces the
// start label.
func (c *Context) AddLabel(label turn.Label) error {
	if err := label.Validate(); err != nil {
		return c.misuse("AddLabel", "%v", err)
	}
	c.labels.Set(c.turnID, label)
	c.clearNode()
	return nil
}

// AddResponse records the response of the current turn.
func (c *Context) AddResponse(response turn.Message) error {
	if c.turnID == 0 {
		return c.misuse("AddResponse", "no request has been received yet")
	}
	c.responses.Set(c.turnID, response)
	return nil
}

// CurrentNode returns the node resolved for the running turn.
func (c *Context) CurrentNode() (any, error) {
	if !c.nodeSet {
		return nil, c.misuse("CurrentNode", "current node is not set")
	}
	return c.currentNode, nil
}

// SetCurrentNode caches node as the node of the running turn.
func (c *Context) SetCurrentNode(node any) {
	c.currentNode = node
	c.nodeSet = true
}

// ResolveCurrentNode resolves the node of the last label through r and
// caches it for the rest of the turn.
func (c *Context) ResolveCurrentNode(ctx context.Context, r NodeResolver) (any, error) {
	if c.nodeSet {
		return c.currentNode, nil
	}

	label, err := c.LastLabel(ctx)
	if err != nil {
		return nil, err
	}
	node, err := r.ResolveNode(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("resolving node %s: %w", label, err)
	}
	c.SetCurrentNode(node)
	return node, nil
}

func (c *Context) clearNode() {
	c.currentNode = nil
	c.nodeSet = false
}

// Turns returns the turns with ids in [from, to), clipped to the existing
// range, with their label, request and response. Entries that do not exist
// are nil.
func (c *Context) Turns(ctx context.Context, from, to int) ([]turn.Turn, error) {
	from = max(from, 0)
	to = min(to, c.turnID+1)
	if from >= to {
		return []turn.Turn{}, nil
	}

	ids := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, i)
	}

	var (
		labels              map[int]turn.Label
		requests, responses map[int]turn.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { labels, err = c.labels.GetMany(gctx, ids); return })
	g.Go(func() (err error) { requests, err = c.requests.GetMany(gctx, ids); return })
	g.Go(func() (err error) { responses, err = c.responses.GetMany(gctx, ids); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	turns := make([]turn.Turn, 0, len(ids))
	for _, id := range ids {
		t := turn.Turn{ID: id}
		if l, ok := labels[id]; ok {
			t.Label = &l
		}
		if r, ok := requests[id]; ok {
			t.Request = &r
		}
		if r, ok := responses[id]; ok {
			t.Response = &r
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Pending returns the fields that have unflushed writes or deletes.
func (c *Context) Pending() []storage.Field {
	var fields []storage.Field
	if c.labels.Pending() {
		fields = append(fields, storage.LabelsField)
	}
	if c.requests.Pending() {
		fields = append(fields, storage.RequestsField)
	}
	if c.responses.Pending() {
		fields = append(fields, storage.ResponsesField)
	}
	return fields
}

// Flush persists the three collections concurrently and then the scalar
// record, so a reader never sees a turn id ahead of its entries. On failure
// the pending state of every collection that did not flush is kept and
// Flush can be retried.
func (c *Context) Flush(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.labels.Flush(gctx) })
	g.Go(func() error { return c.requests.Flush(gctx) })
	g.Go(func() error { return c.responses.Flush(gctx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("flushing context %s: %w", c.id, err)
	}

	misc, err := c.encodeBag("misc", c.misc)
	if err != nil {
		return err
	}
	fw, err := c.encodeBag("framework_data", c.frameworkData)
	if err != nil {
		return err
	}

	updatedAt := time.Now().UnixNano()
	info := &storage.ContextInfo{
		TurnID:        c.turnID,
		CreatedAt:     c.createdAt,
		UpdatedAt:     updatedAt,
		Misc:          misc,
		FrameworkData: fw,
	}
	if err := c.driver.UpdateMainInfo(ctx, c.id, info); err != nil {
		return fmt.Errorf("flushing context %s: %w", c.id, err)
	}
	c.updatedAt = updatedAt

	c.logger.Debug("flushed context", "context_id", c.id, "turn_id", c.turnID)
	return nil
}

// Delete removes the context from storage. The in-memory state is left as
// is; flushing it again recreates the context.
func (c *Context) Delete(ctx context.Context) error {
	if err := c.driver.DeleteContext(ctx, c.id); err != nil {
		return fmt.Errorf("deleting context %s: %w", c.id, err)
	}
	c.logger.Debug("deleted context", "context_id", c.id)
	return nil
}

func (c *Context) encodeBag(name string, b value.Bag) ([]byte, error) {
	if b == nil {
		b = value.Bag{}
	}
	data, err := c.opts.Serializer.Encode(b)
	if err != nil {
		return nil, fmt.Errorf("encoding %s of %s: %w", name, c.id, err)
	}
	return data, nil
}

func (c *Context) decodeBag(name string, data []byte) (value.Bag, error) {
	b := value.Bag{}
	if len(data) == 0 {
		return b, nil
	}
	if err := c.opts.Serializer.Decode(data, &b); err != nil {
		return nil, fmt.Errorf("decoding %s of %s: %w", name, c.id, err)
	}
	if b == nil {
		b = value.Bag{}
	}
	return b, nil
}
