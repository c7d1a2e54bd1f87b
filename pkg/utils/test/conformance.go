package testutils

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ctxstore/pkg/storage"
)

// DriverConformance registers the specs every storage.Driver must pass.
// Call it inside a Describe; newDriver is invoked before each spec and the
// returned driver is closed after it.
func DriverConformance(newDriver func(ctx context.Context) storage.Driver) {
	var (
		driver storage.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = newDriver(ctx)
		Expect(driver).NotTo(BeNil())
		Expect(driver.ClearAll(ctx)).To(Succeed())
	})

	AfterEach(func() {
		if driver != nil {
			Expect(driver.Close()).To(Succeed())
		}
	})

	items := func(kv ...any) []storage.Item {
		out := make([]storage.Item, 0, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			out = append(out, storage.Item{Key: kv[i].(int), Value: []byte(kv[i+1].(string))})
		}
		return out
	}

	Describe("main info", func() {
		It("returns NotFound for an unknown context", func() {
			_, err := driver.LoadMainInfo(ctx, "missing")
			Expect(err).To(MatchError(storage.ErrNotFound))
		})

		It("round-trips the scalar record", func() {
			info := &storage.ContextInfo{
				TurnID:        3,
				CreatedAt:     100,
				UpdatedAt:     200,
				Misc:          []byte(`{"a":1}`),
				FrameworkData: []byte(`{}`),
			}
			Expect(driver.UpdateMainInfo(ctx, "c1", info)).To(Succeed())

			got, err := driver.LoadMainInfo(ctx, "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.TurnID).To(Equal(3))
			Expect(got.CreatedAt).To(Equal(int64(100)))
			Expect(got.UpdatedAt).To(Equal(int64(200)))
			Expect(string(got.Misc)).To(Equal(`{"a":1}`))
			Expect(string(got.FrameworkData)).To(Equal(`{}`))
		})

		It("overwrites on update", func() {
			Expect(driver.UpdateMainInfo(ctx, "c1", &storage.ContextInfo{TurnID: 1})).To(Succeed())
			Expect(driver.UpdateMainInfo(ctx, "c1", &storage.ContextInfo{TurnID: 2, Misc: []byte("x")})).To(Succeed())

			got, err := driver.LoadMainInfo(ctx, "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.TurnID).To(Equal(2))
			Expect(string(got.Misc)).To(Equal("x"))
		})
	})

	Describe("field items", func() {
		It("returns an empty index for an unknown context", func() {
			keys, err := driver.LoadFieldKeys(ctx, "missing", storage.LabelsField)
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(BeEmpty())
		})

		It("stores items and lists their keys ascending", func() {
			Expect(driver.UpdateFieldItems(ctx, "c1", storage.RequestsField, items(2, "b", 1, "a", 3, "c"))).To(Succeed())

			keys, err := driver.LoadFieldKeys(ctx, "c1", storage.RequestsField)
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(Equal([]int{1, 2, 3}))

			other, err := driver.LoadFieldKeys(ctx, "c1", storage.ResponsesField)
			Expect(err).NotTo(HaveOccurred())
			Expect(other).To(BeEmpty())
		})

		It("omits absent keys when loading items", func() {
			Expect(driver.UpdateFieldItems(ctx, "c1", storage.LabelsField, items(0, "start", 1, "one"))).To(Succeed())

			got, err := driver.LoadFieldItems(ctx, "c1", storage.LabelsField, []int{1, 7})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].Key).To(Equal(1))
			Expect(string(got[0].Value)).To(Equal("one"))
		})

		It("upserts existing keys", func() {
			Expect(driver.UpdateFieldItems(ctx, "c1", storage.LabelsField, items(1, "old"))).To(Succeed())
			Expect(driver.UpdateFieldItems(ctx, "c1", storage.LabelsField, items(1, "new"))).To(Succeed())

			got, err := driver.LoadFieldItems(ctx, "c1", storage.LabelsField, []int{1})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(string(got[0].Value)).To(Equal("new"))
		})

		It("loads the latest entries", func() {
			Expect(driver.UpdateFieldItems(ctx, "c1", storage.RequestsField, items(1, "a", 2, "b", 3, "c", 4, "d"))).To(Succeed())

			got, err := driver.LoadFieldLatest(ctx, "c1", storage.RequestsField, storage.LatestN(2))
			Expect(err).NotTo(HaveOccurred())
			storage.SortItems(got)
			Expect(got).To(HaveLen(2))
			Expect(got[0].Key).To(Equal(3))
			Expect(got[1].Key).To(Equal(4))

			all, err := driver.LoadFieldLatest(ctx, "c1", storage.RequestsField, storage.Subscript{All: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(4))
		})

		It("deletes keys independently per field", func() {
			Expect(driver.UpdateFieldItems(ctx, "c1", storage.RequestsField, items(1, "a", 2, "b"))).To(Succeed())
			Expect(driver.UpdateFieldItems(ctx, "c1", storage.ResponsesField, items(1, "x"))).To(Succeed())

			Expect(driver.DeleteFieldKeys(ctx, "c1", storage.RequestsField, []int{1})).To(Succeed())

			keys, err := driver.LoadFieldKeys(ctx, "c1", storage.RequestsField)
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(Equal([]int{2}))

			keys, err = driver.LoadFieldKeys(ctx, "c1", storage.ResponsesField)
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(Equal([]int{1}))
		})

		It("rejects unknown fields", func() {
			err := driver.UpdateFieldItems(ctx, "c1", storage.Field("bogus"), items(1, "a"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("DeleteContext", func() {
		It("removes the record and every field", func() {
			Expect(driver.UpdateMainInfo(ctx, "c1", &storage.ContextInfo{TurnID: 1})).To(Succeed())
			Expect(driver.UpdateFieldItems(ctx, "c1", storage.LabelsField, items(1, "a"))).To(Succeed())
			Expect(driver.UpdateMainInfo(ctx, "c2", &storage.ContextInfo{TurnID: 1})).To(Succeed())

			Expect(driver.DeleteContext(ctx, "c1")).To(Succeed())

			_, err := driver.LoadMainInfo(ctx, "c1")
			Expect(err).To(MatchError(storage.ErrNotFound))
			keys, err := driver.LoadFieldKeys(ctx, "c1", storage.LabelsField)
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(BeEmpty())

			_, err = driver.LoadMainInfo(ctx, "c2")
			Expect(err).NotTo(HaveOccurred())
		})

		It("is a no-op for unknown contexts", func() {
			Expect(driver.DeleteContext(ctx, "missing")).To(Succeed())
		})
	})

	Describe("ClearAll", func() {
		It("removes every context", func() {
			Expect(driver.UpdateMainInfo(ctx, "c1", &storage.ContextInfo{})).To(Succeed())
			Expect(driver.UpdateMainInfo(ctx, "c2", &storage.ContextInfo{})).To(Succeed())

			Expect(driver.ClearAll(ctx)).To(Succeed())

			_, err := driver.LoadMainInfo(ctx, "c1")
			Expect(err).To(MatchError(storage.ErrNotFound))
			_, err = driver.LoadMainInfo(ctx, "c2")
			Expect(err).To(MatchError(storage.ErrNotFound))
		})
	})
}
