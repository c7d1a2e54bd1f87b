// Package mysql provides a MySQL-backed storage driver using ent's SQL layer.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	gomysql "github.com/go-sql-driver/mysql"

	"github.com/papercomputeco/ctxstore/pkg/storage"
	entdriver "github.com/papercomputeco/ctxstore/pkg/storage/ent/driver"
)

// Driver implements storage.Driver using MySQL via the ent driver.
type Driver struct {
	*entdriver.EntDriver
}

// Config holds the MySQL connection parameters.
type Config struct {
	User     string
	Password string
	Addr     string
	DBName   string
	Params   map[string]string
}

// DSN renders the config as a go-sql-driver DSN.
func (c Config) DSN() string {
	cfg := gomysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = c.Addr
	cfg.DBName = c.DBName
	cfg.Params = c.Params
	return cfg.FormatDSN()
}

// NewDriver creates a new MySQL-backed driver and verifies connectivity.
func NewDriver(ctx context.Context, c Config, tablePrefix string) (*Driver, error) {
	db, err := sql.Open("mysql", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storage.Unavailable("mysql", fmt.Errorf("failed to ping database: %w", err))
	}

	drv := entsql.OpenDB(dialect.MySQL, db)
	ed := entdriver.New(drv, "mysql", tablePrefix)

	if err := ed.CreateSchema(ctx); err != nil {
		drv.Close()
		return nil, err
	}

	return &Driver{EntDriver: ed}, nil
}
