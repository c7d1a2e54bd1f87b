package mysql_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/storage/mysql"
	testutils "github.com/papercomputeco/ctxstore/pkg/utils/test"
)

// mysqlConfig returns the MySQL connection settings from environment or skips the test.
func mysqlConfig() mysql.Config {
	addr := os.Getenv("CTXSTORE_TEST_MYSQL_ADDR")
	if addr == "" {
		Skip("CTXSTORE_TEST_MYSQL_ADDR not set, skipping MySQL tests")
	}
	return mysql.Config{
		User:     os.Getenv("CTXSTORE_TEST_MYSQL_USER"),
		Password: os.Getenv("CTXSTORE_TEST_MYSQL_PASSWORD"),
		Addr:     addr,
		DBName:   os.Getenv("CTXSTORE_TEST_MYSQL_DB"),
	}
}

var _ = Describe("Driver", func() {
	Describe("conformance", func() {
		testutils.DriverConformance(func(ctx context.Context) storage.Driver {
			d, err := mysql.NewDriver(ctx, mysqlConfig(), "ctxstore_test")
			Expect(err).NotTo(HaveOccurred())
			return d
		})
	})

	Describe("Config", func() {
		It("renders a DSN", func() {
			c := mysql.Config{User: "bot", Password: "secret", Addr: "db:3306", DBName: "ctx"}
			Expect(c.DSN()).To(Equal("bot:secret@tcp(db:3306)/ctx"))
		})
	})
})
