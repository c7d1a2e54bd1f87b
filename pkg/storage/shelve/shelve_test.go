package shelve_test

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/storage/shelve"
	testutils "github.com/papercomputeco/ctxstore/pkg/utils/test"
)

var _ = Describe("Driver", func() {
	Describe("conformance", func() {
		testutils.DriverConformance(func(context.Context) storage.Driver {
			d, err := shelve.NewDriver(filepath.Join(GinkgoT().TempDir(), "shelf"))
			Expect(err).NotTo(HaveOccurred())
			return d
		})
	})

	It("keeps contexts whose ids share a prefix apart", func() {
		ctx := context.Background()
		d, err := shelve.NewDriver(filepath.Join(GinkgoT().TempDir(), "shelf"))
		Expect(err).NotTo(HaveOccurred())
		defer d.Close()

		Expect(d.UpdateFieldItems(ctx, "u1", storage.LabelsField, []storage.Item{{Key: 1, Value: []byte("a")}})).To(Succeed())
		Expect(d.UpdateFieldItems(ctx, "u10", storage.LabelsField, []storage.Item{{Key: 1, Value: []byte("b")}})).To(Succeed())

		Expect(d.DeleteContext(ctx, "u1")).To(Succeed())

		keys, err := d.LoadFieldKeys(ctx, "u10", storage.LabelsField)
		Expect(err).NotTo(HaveOccurred())
		Expect(keys).To(Equal([]int{1}))
	})

	It("keeps an id containing a slash apart from its parent", func() {
		ctx := context.Background()
		d, err := shelve.NewDriver(filepath.Join(GinkgoT().TempDir(), "shelf"))
		Expect(err).NotTo(HaveOccurred())
		defer d.Close()

		Expect(d.UpdateFieldItems(ctx, "a/labels", storage.LabelsField, []storage.Item{{Key: 1, Value: []byte("x")}})).To(Succeed())
		Expect(d.UpdateFieldItems(ctx, "a", storage.LabelsField, []storage.Item{{Key: 1, Value: []byte("y")}})).To(Succeed())

		Expect(d.DeleteContext(ctx, "a")).To(Succeed())

		items, err := d.LoadFieldItems(ctx, "a/labels", storage.LabelsField, []int{1})
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(Equal([]storage.Item{{Key: 1, Value: []byte("x")}}))
	})

	It("lists keys in numeric order", func() {
		ctx := context.Background()
		d, err := shelve.NewDriver(filepath.Join(GinkgoT().TempDir(), "shelf"))
		Expect(err).NotTo(HaveOccurred())
		defer d.Close()

		Expect(d.UpdateFieldItems(ctx, "u1", storage.RequestsField, []storage.Item{
			{Key: 256, Value: []byte("x")},
			{Key: 2, Value: []byte("y")},
			{Key: 10, Value: []byte("z")},
		})).To(Succeed())

		keys, err := d.LoadFieldKeys(ctx, "u1", storage.RequestsField)
		Expect(err).NotTo(HaveOccurred())
		Expect(keys).To(Equal([]int{2, 10, 256}))
	})
})
