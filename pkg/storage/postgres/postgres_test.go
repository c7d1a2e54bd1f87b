package postgres_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/storage/postgres"
	testutils "github.com/papercomputeco/ctxstore/pkg/utils/test"
)

// connStr returns the PostgreSQL connection string from environment or skips the test.
func connStr() string {
	dsn := os.Getenv("CTXSTORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		Skip("CTXSTORE_TEST_POSTGRES_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

var _ = Describe("Driver", func() {
	Describe("conformance", func() {
		testutils.DriverConformance(func(ctx context.Context) storage.Driver {
			d, err := postgres.NewDriver(ctx, connStr(), "ctxstore_test")
			Expect(err).NotTo(HaveOccurred())
			return d
		})
	})

	Describe("NewDriver", func() {
		It("reports an unreachable server as unavailable", func() {
			ctx := context.Background()
			_, err := postgres.NewDriver(ctx, "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1", "")
			Expect(err).To(MatchError(storage.ErrBackendUnavailable))
		})
	})
})
