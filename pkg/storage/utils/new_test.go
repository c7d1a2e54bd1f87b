package storageutils_test

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/storage/file"
	"github.com/papercomputeco/ctxstore/pkg/storage/inmemory"
	"github.com/papercomputeco/ctxstore/pkg/storage/shelve"
	storageutils "github.com/papercomputeco/ctxstore/pkg/storage/utils"
)

var _ = Describe("NewDriver", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("rejects an unknown scheme without building a driver", func() {
		d, err := storageutils.NewDriver(ctx, "bogus://foo", nil)
		Expect(d).To(BeNil())

		var cerr *storage.ConfigurationError
		Expect(err).To(BeAssignableToTypeOf(cerr))
		Expect(err).To(MatchError(storage.ErrConfiguration))
	})

	DescribeTable("rejects malformed descriptors",
		func(descriptor string) {
			d, err := storageutils.NewDriver(ctx, descriptor, nil)
			Expect(d).To(BeNil())
			Expect(err).To(MatchError(storage.ErrConfiguration))
		},
		Entry("no scheme", "just-a-path"),
		Entry("empty scheme", "://foo"),
		Entry("file scheme without path", "json://"),
		Entry("postgres without host", "postgres:///db"),
		Entry("mongodb without host", "mongodb:///db"),
		Entry("redis with bad db", "redis://localhost:6379/notanumber"),
	)

	It("builds the in-memory driver", func() {
		d, err := storageutils.NewDriver(ctx, "memory://", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(BeAssignableToTypeOf(&inmemory.Driver{}))
	})

	It("builds file drivers", func() {
		dir := GinkgoT().TempDir()

		d, err := storageutils.NewDriver(ctx, "json://"+filepath.Join(dir, "db.json"), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(BeAssignableToTypeOf(&file.Driver{}))
		Expect(d.Close()).To(Succeed())

		d, err = storageutils.NewDriver(ctx, "pickle://"+filepath.Join(dir, "db.pkl"), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(BeAssignableToTypeOf(&file.Driver{}))
		Expect(d.Close()).To(Succeed())
	})

	It("builds the shelve driver", func() {
		d, err := storageutils.NewDriver(ctx, "shelve://"+filepath.Join(GinkgoT().TempDir(), "shelf"), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(BeAssignableToTypeOf(&shelve.Driver{}))
		Expect(d.Close()).To(Succeed())
	})

	It("fails fast when a network backend is unreachable", func() {
		d, err := storageutils.NewDriver(ctx, "redis://127.0.0.1:1/0", nil)
		Expect(d).To(BeNil())
		Expect(err).To(MatchError(storage.ErrBackendUnavailable))
	})
})

var _ = Describe("Redact", func() {
	It("masks the password of a network descriptor", func() {
		Expect(storageutils.Redact("postgres://app:secret@db:5432/ctx")).To(Equal("postgres://app:xxxxx@db:5432/ctx"))
	})

	It("leaves descriptors without credentials alone", func() {
		Expect(storageutils.Redact("redis://localhost:6379/0")).To(Equal("redis://localhost:6379/0"))
		Expect(storageutils.Redact("sqlite:///var/ctx.db")).To(Equal("sqlite:///var/ctx.db"))
	})
})
