//go:build !libsql

package storageutils

import (
	"context"

	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/storage/sqlite"
)

// go-sqlite3 and go-libsql each embed a SQLite build and cannot be linked
// into one binary. The default build serves sqlite:// with go-sqlite3 and
// leaves libsql:// to binaries built with -tags libsql.

func openSQLite(ctx context.Context, path, tablePrefix string) (storage.Driver, error) {
	return build(sqlite.NewDriver(ctx, path, tablePrefix))
}

func openLibSQL(_ context.Context, descriptor, _ string) (storage.Driver, error) {
	return nil, &storage.ConfigurationError{
		Descriptor: descriptor,
		Reason:     "libsql support is not compiled in, rebuild with -tags libsql",
	}
}
