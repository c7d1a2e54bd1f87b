//go:build libsql

package storageutils

import (
	"context"

	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/storage/libsql"
)

// With -tags libsql both sqlite:// and libsql:// are served by go-libsql,
// local paths through its "file:" URLs.

func openSQLite(ctx context.Context, path, tablePrefix string) (storage.Driver, error) {
	if path != ":memory:" {
		path = "file:" + path
	}
	return build(libsql.NewDriver(ctx, path, tablePrefix))
}

func openLibSQL(ctx context.Context, descriptor, tablePrefix string) (storage.Driver, error) {
	return build(libsql.NewDriver(ctx, descriptor, tablePrefix))
}
