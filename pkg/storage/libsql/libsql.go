// Package libsql provides a libSQL (Turso) backed storage driver using ent's
// SQL layer with the SQLite dialect.
package libsql

import (
	"context"
	"database/sql"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "github.com/tursodatabase/go-libsql" // register the libSQL driver as "libsql"

	"github.com/papercomputeco/ctxstore/pkg/storage"
	entdriver "github.com/papercomputeco/ctxstore/pkg/storage/ent/driver"
)

// Driver implements storage.Driver using libSQL via the ent driver.
type Driver struct {
	*entdriver.EntDriver
}

// NewDriver creates a new libSQL-backed driver. The url is a local "file:"
// URL, ":memory:", or a remote "libsql://host?authToken=..." URL. The
// database is pinged before the schema is created.
func NewDriver(ctx context.Context, url, tablePrefix string) (*Driver, error) {
	db, err := sql.Open("libsql", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storage.Unavailable("libsql", fmt.Errorf("failed to ping database: %w", err))
	}

	// The ent migrator refuses SQLite connections without foreign keys, and
	// the pragma only holds for the connection it ran on.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	drv := entsql.OpenDB(dialect.SQLite, db)
	ed := entdriver.New(drv, "libsql", tablePrefix)

	if err := ed.CreateSchema(ctx); err != nil {
		drv.Close()
		return nil, err
	}

	return &Driver{EntDriver: ed}, nil
}
