package chatctx_test

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ctxstore/pkg/chatctx"
	"github.com/papercomputeco/ctxstore/pkg/eventstream"
	"github.com/papercomputeco/ctxstore/pkg/storage"
	testutils "github.com/papercomputeco/ctxstore/pkg/utils/test"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.ContextFlushedEvent
	err    error
}

func (p *recordingPublisher) PublishFlush(_ context.Context, e *eventstream.ContextFlushedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Events() []*eventstream.ContextFlushedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*eventstream.ContextFlushedEvent(nil), p.events...)
}

var _ = Describe("Manager", func() {
	var (
		ctx       context.Context
		driver    *testutils.MockDriver
		publisher *recordingPublisher
		manager   *chatctx.Manager
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = testutils.NewMockDriver()
		publisher = &recordingPublisher{}
		start := testutils.NewTestLabel("start")

		var err error
		manager, err = chatctx.NewManager(chatctx.ManagerConfig{
			Driver:    driver,
			Options:   chatctx.Options{StartLabel: &start},
			CacheSize: 2,
			Publisher: publisher,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("requires a driver", func() {
		_, err := chatctx.NewManager(chatctx.ManagerConfig{})
		Expect(err).To(HaveOccurred())
	})

	Describe("GetContext", func() {
		It("creates a fresh context for an unknown id", func() {
			c, err := manager.GetContext(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.TurnID()).To(Equal(0))
			l, err := c.LastLabel(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Node).To(Equal("start"))
		})

		It("returns the cached instance", func() {
			a, err := manager.GetContext(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			b, err := manager.GetContext(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(b).To(BeIdenticalTo(a))
		})

		It("evicts the least recently used context", func() {
			for _, id := range []string{"a", "b", "c"} {
				_, err := manager.GetContext(ctx, id)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(manager.Len()).To(Equal(2))
			_, ok := manager.Peek("a")
			Expect(ok).To(BeFalse())
		})

		It("aborts when the backend is unavailable", func() {
			driver.FailLoad = true
			_, err := manager.GetContext(ctx, "u1")
			Expect(err).To(MatchError(storage.ErrBackendUnavailable))
		})

		It("starts fresh when stored data is corrupt", func() {
			Expect(driver.UpdateMainInfo(ctx, "u1", &storage.ContextInfo{TurnID: 2, Misc: []byte("garbage")})).To(Succeed())

			c, err := manager.GetContext(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.TurnID()).To(Equal(0))
		})

		It("generates an id when none is given", func() {
			c, err := manager.GetContext(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ID()).NotTo(BeEmpty())
		})
	})

	Describe("Do", func() {
		It("runs the callback, flushes and publishes an event", func() {
			err := manager.Do(ctx, "u1", func(_ context.Context, c *chatctx.Context) error {
				return c.AddTurn(testutils.NewTestLabel("a"), testutils.NewTestMessage("hi"))
			})
			Expect(err).NotTo(HaveOccurred())

			info, err := driver.LoadMainInfo(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(info.TurnID).To(Equal(1))

			events := publisher.Events()
			Expect(events).To(HaveLen(1))
			Expect(events[0].ContextID).To(Equal("u1"))
			Expect(events[0].TurnID).To(Equal(1))
			Expect(events[0].FlushedFields).To(ConsistOf("labels", "requests"))
		})

		It("does not flush when the callback fails", func() {
			boom := errors.New("boom")
			err := manager.Do(ctx, "u1", func(_ context.Context, c *chatctx.Context) error {
				Expect(c.AddTurn(testutils.NewTestLabel("a"), testutils.NewTestMessage("hi"))).To(Succeed())
				return boom
			})
			Expect(err).To(MatchError(boom))
			Expect(driver.Calls()).To(BeEmpty())
			Expect(publisher.Events()).To(BeEmpty())
		})

		It("discards writes made by a failed callback", func() {
			Expect(manager.Do(ctx, "u1", func(_ context.Context, c *chatctx.Context) error {
				return c.AddTurn(testutils.NewTestLabel("a"), testutils.NewTestMessage("kept"))
			})).To(Succeed())

			err := manager.Do(ctx, "u1", func(_ context.Context, c *chatctx.Context) error {
				Expect(c.AddTurn(testutils.NewTestLabel("b"), testutils.NewTestMessage("dropped"))).To(Succeed())
				return errors.New("boom")
			})
			Expect(err).To(HaveOccurred())
			_, cached := manager.Peek("u1")
			Expect(cached).To(BeFalse())

			Expect(manager.Do(ctx, "u1", func(ctx context.Context, c *chatctx.Context) error {
				Expect(c.TurnID()).To(Equal(1))
				req, err := c.LastRequest(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(req.Text).To(Equal("kept"))
				return nil
			})).To(Succeed())

			info, err := driver.LoadMainInfo(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(info.TurnID).To(Equal(1))
			keys, err := driver.LoadFieldKeys(ctx, "u1", storage.RequestsField)
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(Equal([]int{1}))
		})

		It("ignores publish failures", func() {
			publisher.err = errors.New("broker down")
			err := manager.Do(ctx, "u1", func(context.Context, *chatctx.Context) error { return nil })
			Expect(err).NotTo(HaveOccurred())
		})

		It("serializes concurrent calls on the same id", func() {
			const workers = 8
			var wg sync.WaitGroup
			for range workers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					err := manager.Do(ctx, "u1", func(ctx context.Context, c *chatctx.Context) error {
						if err := c.AddRequest(ctx, testutils.NewTestMessage("m")); err != nil {
							return err
						}
						return c.AddResponse(testutils.NewTestMessage("r"))
					})
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			c, err := manager.GetContext(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.TurnID()).To(Equal(workers))
			info, err := driver.LoadMainInfo(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(info.TurnID).To(Equal(workers))
		})

		It("gives up when the context is cancelled while waiting", func() {
			started := make(chan struct{})
			release := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				_ = manager.Do(ctx, "u1", func(context.Context, *chatctx.Context) error {
					close(started)
					<-release
					return nil
				})
			}()
			<-started

			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			err := manager.Do(cancelled, "u1", func(context.Context, *chatctx.Context) error { return nil })
			Expect(err).To(MatchError(context.Canceled))
			close(release)
		})
	})

	Describe("View", func() {
		It("returns NotFound for an unknown id without creating it", func() {
			called := false
			err := manager.View(ctx, "ghost", func(context.Context, *chatctx.Context) error {
				called = true
				return nil
			})
			Expect(err).To(MatchError(storage.ErrNotFound))
			Expect(called).To(BeFalse())
			Expect(manager.Len()).To(Equal(0))
			Expect(driver.Count()).To(Equal(0))
		})

		It("loads a stored context and never flushes", func() {
			Expect(manager.Do(ctx, "u2", func(_ context.Context, c *chatctx.Context) error {
				return c.AddTurn(testutils.NewTestLabel("a"), testutils.NewTestMessage("hi"))
			})).To(Succeed())
			driver.Reset()

			other, err := chatctx.NewManager(chatctx.ManagerConfig{Driver: driver, Publisher: publisher})
			Expect(err).NotTo(HaveOccurred())
			events := len(publisher.Events())

			err = other.View(ctx, "u2", func(_ context.Context, c *chatctx.Context) error {
				Expect(c.TurnID()).To(Equal(1))
				return c.AddResponse(testutils.NewTestMessage("unsaved"))
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(other.Len()).To(Equal(1))
			Expect(driver.CallsTo("UpdateFieldItems")).To(BeEmpty())
			Expect(driver.CallsTo("UpdateMainInfo")).To(BeEmpty())
			Expect(publisher.Events()).To(HaveLen(events))
		})
	})

	Describe("DeleteContext", func() {
		It("removes the context from storage and the cache", func() {
			Expect(manager.Do(ctx, "u1", func(context.Context, *chatctx.Context) error { return nil })).To(Succeed())
			Expect(manager.DeleteContext(ctx, "u1")).To(Succeed())

			_, ok := manager.Peek("u1")
			Expect(ok).To(BeFalse())
			_, err := driver.LoadMainInfo(ctx, "u1")
			Expect(err).To(MatchError(storage.ErrNotFound))
		})
	})

	Describe("ClearAll", func() {
		It("empties storage and the cache", func() {
			Expect(manager.Do(ctx, "u1", func(context.Context, *chatctx.Context) error { return nil })).To(Succeed())
			Expect(manager.ClearAll(ctx)).To(Succeed())
			Expect(manager.Len()).To(Equal(0))
			Expect(driver.Count()).To(Equal(0))
		})
	})
})
