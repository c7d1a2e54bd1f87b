package collection_test

import (
	"context"
	"errors"
	"slices"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ctxstore/pkg/collection"
	"github.com/papercomputeco/ctxstore/pkg/serializer"
	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/turn"
	testutils "github.com/papercomputeco/ctxstore/pkg/utils/test"
)

var _ = Describe("Collection", func() {
	var (
		ctx    context.Context
		driver *testutils.MockDriver
		labels *collection.Collection[turn.Label]
	)

	newLabels := func(rewrite bool) *collection.Collection[turn.Label] {
		c, err := collection.New[turn.Label](collection.Config{
			ContextID:       "u1",
			Field:           storage.LabelsField,
			Driver:          driver,
			Serializer:      serializer.JSON{},
			RewriteExisting: rewrite,
		})
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	seed := func(keys ...int) {
		fresh := newLabels(false)
		for _, k := range keys {
			fresh.Set(k, testutils.NewTestLabel("n"+string(rune('0'+k))))
		}
		Expect(fresh.Flush(ctx)).To(Succeed())
		driver.Reset()
	}

	BeforeEach(func() {
		ctx = context.Background()
		driver = testutils.NewMockDriver()
		labels = newLabels(false)
	})

	Describe("New", func() {
		It("requires a driver", func() {
			_, err := collection.New[turn.Label](collection.Config{Field: storage.LabelsField})
			Expect(err).To(HaveOccurred())
		})

		It("rejects unknown fields", func() {
			_, err := collection.New[turn.Label](collection.Config{Field: "bogus", Driver: driver})
			Expect(err).To(HaveOccurred())
		})

		It("performs no I/O", func() {
			newLabels(false)
			Expect(driver.Calls()).To(BeEmpty())
		})
	})

	Describe("Get", func() {
		It("fetches on a miss and caches the value", func() {
			seed(1)
			Expect(labels.LoadIndex(ctx)).To(Succeed())
			Expect(labels.Cached(1)).To(BeFalse())

			l, err := labels.Get(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Node).To(Equal("n1"))
			Expect(labels.Cached(1)).To(BeTrue())
			Expect(driver.CallsTo("LoadFieldItems")).To(HaveLen(1))

			_, err = labels.Get(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(driver.CallsTo("LoadFieldItems")).To(HaveLen(1))
		})

		It("returns NotFound for keys the backend lacks", func() {
			_, err := labels.Get(ctx, 9)
			Expect(err).To(MatchError(storage.ErrNotFound))
		})

		It("reports decode failures without touching siblings", func() {
			Expect(driver.UpdateFieldItems(ctx, "u1", storage.LabelsField, []storage.Item{
				{Key: 1, Value: []byte(`{"flow_name":"f","node_name":"a"}`)},
				{Key: 2, Value: []byte(`not json`)},
			})).To(Succeed())

			got, err := labels.GetMany(ctx, []int{1, 2})
			Expect(err).To(MatchError(storage.ErrSerialization))
			Expect(got).To(HaveKey(1))
			Expect(got).NotTo(HaveKey(2))
			Expect(labels.Cached(1)).To(BeTrue())
		})
	})

	Describe("read-your-writes", func() {
		It("reflects every set and delete before flush", func() {
			seed(1, 2)
			Expect(labels.LoadIndex(ctx)).To(Succeed())

			labels.Set(3, testutils.NewTestLabel("three"))
			labels.Delete(1)
			labels.Set(2, testutils.NewTestLabel("two-b"))

			l, err := labels.Get(ctx, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Node).To(Equal("three"))

			l, err = labels.Get(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Node).To(Equal("two-b"))

			_, err = labels.Get(ctx, 1)
			Expect(err).To(MatchError(storage.ErrNotFound))

			Expect(slices.Collect(labels.Keys())).To(Equal([]int{2, 3}))
			Expect(labels.Len()).To(Equal(2))
			Expect(labels.Contains(1)).To(BeFalse())
			Expect(labels.Contains(3)).To(BeTrue())
		})

		It("hides a deleted key even though the backend still has it", func() {
			seed(2)
			Expect(labels.LoadIndex(ctx)).To(Succeed())

			labels.Delete(2)
			_, err := labels.Get(ctx, 2)
			Expect(err).To(MatchError(storage.ErrNotFound))
			Expect(driver.CallsTo("LoadFieldItems")).To(BeEmpty())

			Expect(labels.Flush(ctx)).To(Succeed())
			_, err = labels.Get(ctx, 2)
			Expect(err).To(MatchError(storage.ErrNotFound))

			fresh := newLabels(false)
			_, err = fresh.Get(ctx, 2)
			Expect(err).To(MatchError(storage.ErrNotFound))
		})
	})

	Describe("Keys", func() {
		It("is restartable", func() {
			labels.Set(2, testutils.NewTestLabel("b"))
			labels.Set(1, testutils.NewTestLabel("a"))
			seq := labels.Keys()
			Expect(slices.Collect(seq)).To(Equal([]int{1, 2}))
			Expect(slices.Collect(seq)).To(Equal([]int{1, 2}))
		})

		It("stops early when the consumer does", func() {
			labels.Set(1, testutils.NewTestLabel("a"))
			labels.Set(2, testutils.NewTestLabel("b"))
			var seen []int
			for k := range labels.Keys() {
				seen = append(seen, k)
				break
			}
			Expect(seen).To(Equal([]int{1}))
		})
	})

	Describe("Flush", func() {
		It("sends one write call and one delete call", func() {
			seed(1)
			Expect(labels.LoadIndex(ctx)).To(Succeed())

			labels.Set(2, testutils.NewTestLabel("b"))
			labels.Set(3, testutils.NewTestLabel("c"))
			labels.Delete(1)
			Expect(labels.Flush(ctx)).To(Succeed())

			writes := driver.CallsTo("UpdateFieldItems")
			Expect(writes).To(HaveLen(1))
			Expect(writes[0].Keys).To(Equal([]int{2, 3}))

			deletes := driver.CallsTo("DeleteFieldKeys")
			Expect(deletes).To(HaveLen(1))
			Expect(deletes[0].Keys).To(Equal([]int{1}))

			Expect(labels.Dirty()).To(BeEmpty())
			Expect(labels.Removed()).To(BeEmpty())
		})

		It("performs no backend writes on a second flush", func() {
			labels.Set(1, testutils.NewTestLabel("a"))
			Expect(labels.Flush(ctx)).To(Succeed())
			driver.Reset()

			Expect(labels.Pending()).To(BeFalse())
			Expect(labels.Flush(ctx)).To(Succeed())
			Expect(driver.Calls()).To(BeEmpty())
		})

		It("never writes a key set then deleted before the first flush", func() {
			labels.Set(5, testutils.NewTestLabel("tmp"))
			labels.Delete(5)
			Expect(labels.Flush(ctx)).To(Succeed())

			Expect(driver.CallsTo("UpdateFieldItems")).To(BeEmpty())
			Expect(driver.CallsTo("DeleteFieldKeys")).To(HaveLen(1))
		})

		It("reports requests[2] as NotFound after set and delete, before and after flush", func() {
			newRequests := func() *collection.Collection[turn.Message] {
				c, err := collection.New[turn.Message](collection.Config{
					ContextID: "u1",
					Field:     storage.RequestsField,
					Driver:    driver,
				})
				Expect(err).NotTo(HaveOccurred())
				return c
			}

			requests := newRequests()
			requests.Set(2, testutils.NewTestMessage("X"))
			requests.Delete(2)
			_, err := requests.Get(ctx, 2)
			Expect(err).To(MatchError(storage.ErrNotFound))

			Expect(requests.Flush(ctx)).To(Succeed())
			Expect(driver.CallsTo("UpdateFieldItems")).To(BeEmpty())

			reloaded := newRequests()
			Expect(reloaded.LoadIndex(ctx)).To(Succeed())
			Expect(reloaded.Contains(2)).To(BeFalse())
			_, err = reloaded.Get(ctx, 2)
			Expect(err).To(MatchError(storage.ErrNotFound))
		})

		It("keeps pending state when the write fails", func() {
			labels.Set(1, testutils.NewTestLabel("a"))
			labels.Delete(7)
			driver.FailUpdate[storage.LabelsField] = true

			Expect(labels.Flush(ctx)).To(MatchError(testutils.ErrInjected))
			Expect(labels.Dirty()).To(Equal([]int{1}))
			Expect(labels.Removed()).To(Equal([]int{7}))

			driver.FailUpdate[storage.LabelsField] = false
			Expect(labels.Flush(ctx)).To(Succeed())
			Expect(labels.Dirty()).To(BeEmpty())
			Expect(labels.Removed()).To(BeEmpty())
		})

		It("keeps pending state when the delete fails", func() {
			labels.Set(1, testutils.NewTestLabel("a"))
			labels.Delete(2)
			driver.FailDelete = true

			Expect(labels.Flush(ctx)).To(HaveOccurred())
			Expect(labels.Dirty()).To(Equal([]int{1}))
			Expect(labels.Removed()).To(Equal([]int{2}))
		})

		It("keeps pending state on a partial failure", func() {
			labels.Set(1, testutils.NewTestLabel("a"))
			labels.Set(2, testutils.NewTestLabel("b"))
			driver.PartialKeys = []int{2}

			err := labels.Flush(ctx)
			Expect(err).To(MatchError(storage.ErrPartialFailure))

			var perr *storage.PartialFailureError
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(perr.Keys).To(Equal([]int{2}))
			Expect(labels.Dirty()).To(Equal([]int{1, 2}))

			driver.PartialKeys = nil
			Expect(labels.Flush(ctx)).To(Succeed())
			Expect(labels.Dirty()).To(BeEmpty())
		})

		It("leaves state untouched when the context is cancelled", func() {
			labels.Set(1, testutils.NewTestLabel("a"))
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			failing := testutils.NewMockDriver()
			failing.FailUpdate[storage.LabelsField] = true
			c, err := collection.New[turn.Label](collection.Config{ContextID: "u1", Field: storage.LabelsField, Driver: failing})
			Expect(err).NotTo(HaveOccurred())
			c.Set(1, testutils.NewTestLabel("a"))

			Expect(c.Flush(cancelled)).To(HaveOccurred())
			Expect(c.Dirty()).To(Equal([]int{1}))
			Expect(c.Cached(1)).To(BeTrue())
		})

		It("rewrites cached entries when RewriteExisting is set", func() {
			seed(1, 2)
			rewriting := newLabels(true)
			Expect(rewriting.Prefetch(ctx, storage.Subscript{All: true})).To(Succeed())
			Expect(rewriting.Dirty()).To(BeEmpty())

			Expect(rewriting.Flush(ctx)).To(Succeed())
			writes := driver.CallsTo("UpdateFieldItems")
			Expect(writes).To(HaveLen(1))
			Expect(writes[0].Keys).To(Equal([]int{1, 2}))
		})
	})

	Describe("Prefetch", func() {
		It("caches the latest entries without marking them dirty", func() {
			seed(1, 2, 3, 4)
			Expect(labels.LoadIndex(ctx)).To(Succeed())
			Expect(labels.Prefetch(ctx, storage.LatestN(2))).To(Succeed())

			Expect(labels.Cached(4)).To(BeTrue())
			Expect(labels.Cached(3)).To(BeTrue())
			Expect(labels.Cached(2)).To(BeFalse())
			Expect(labels.Dirty()).To(BeEmpty())
			Expect(labels.Len()).To(Equal(4))
		})

		It("does not resurrect tombstoned keys", func() {
			seed(1, 2)
			Expect(labels.LoadIndex(ctx)).To(Succeed())
			labels.Delete(2)
			Expect(labels.Prefetch(ctx, storage.Subscript{All: true})).To(Succeed())
			Expect(labels.Contains(2)).To(BeFalse())
		})
	})

	Describe("View", func() {
		It("reads through to the collection", func() {
			seed(1, 3)
			Expect(labels.LoadIndex(ctx)).To(Succeed())
			labels.Set(4, testutils.NewTestLabel("four"))

			v := labels.View()
			Expect(v.Field()).To(Equal(storage.LabelsField))
			Expect(v.Len()).To(Equal(3))
			Expect(v.Contains(3)).To(BeTrue())
			Expect(v.Dirty()).To(Equal([]int{4}))
			Expect(v.Pending()).To(BeTrue())

			l, err := v.Get(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Node).To(Equal("n1"))
			Expect(labels.Cached(1)).To(BeTrue())
		})
	})

	Describe("Latest and Items", func() {
		It("returns the value at the greatest key", func() {
			_, ok, err := labels.Latest(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			seed(1, 3)
			Expect(labels.LoadIndex(ctx)).To(Succeed())
			l, ok, err := labels.Latest(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(l.Node).To(Equal("n3"))
		})

		It("returns a key range in one fetch", func() {
			seed(1, 2, 3, 4)
			Expect(labels.LoadIndex(ctx)).To(Succeed())

			got, err := labels.Items(ctx, 2, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(2))
			Expect(got[0].Node).To(Equal("n2"))
			Expect(got[1].Node).To(Equal("n3"))
			Expect(driver.CallsTo("LoadFieldItems")).To(HaveLen(1))
		})
	})
})
