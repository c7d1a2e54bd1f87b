// Package entdriver implements storage.Driver on top of ent's SQL dialect
// layer. It is database-agnostic and is embedded by the sqlite, postgres,
// mysql and libsql drivers.
//
// Two tables are used: "<prefix>_main" holds one scalar row per context and
// "<prefix>_turns" holds one row per (context, turn) with a nullable column
// per history field.
package entdriver

import (
	"context"
	"errors"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"

	"github.com/papercomputeco/ctxstore/pkg/storage"
)

// DefaultTablePrefix is used when no table prefix is configured.
const DefaultTablePrefix = "ctxstore"

const (
	columnContextID     = "context_id"
	columnTurnKey       = "turn_key"
	columnTurnID        = "turn_id"
	columnCreatedAt     = "created_at"
	columnUpdatedAt     = "updated_at"
	columnMisc          = "misc"
	columnFrameworkData = "framework_data"
)

// EntDriver provides storage operations using an ent SQL driver.
type EntDriver struct {
	// Driver is the ent SQL driver wrapping the database connection pool.
	Driver *entsql.Driver

	// Backend names the database in errors ("sqlite", "postgres", ...).
	Backend string

	mainTable  string
	turnsTable string
}

// New wraps drv. Call CreateSchema before first use.
func New(drv *entsql.Driver, backend, tablePrefix string) *EntDriver {
	if tablePrefix == "" {
		tablePrefix = DefaultTablePrefix
	}
	return &EntDriver{
		Driver:     drv,
		Backend:    backend,
		mainTable:  tablePrefix + "_main",
		turnsTable: tablePrefix + "_turns",
	}
}

// CreateSchema creates the context tables when they do not exist yet.
func (ed *EntDriver) CreateSchema(ctx context.Context) error {
	migrate, err := schema.NewMigrate(ed.Driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", ed.classify(err))
	}
	if err := migrate.Create(ctx, ed.tables()...); err != nil {
		return fmt.Errorf("failed to create schema: %w", ed.classify(err))
	}
	return nil
}

// tables describes the main and turns tables under the configured prefix.
func (ed *EntDriver) tables() []*schema.Table {
	contextID := func() *schema.Column {
		return &schema.Column{Name: columnContextID, Type: field.TypeString, Size: 255}
	}
	blob := func(name string) *schema.Column {
		return &schema.Column{
			Name:     name,
			Type:     field.TypeBytes,
			Nullable: true,
			SchemaType: map[string]string{
				dialect.SQLite:   "blob",
				dialect.Postgres: "bytea",
				dialect.MySQL:    "longblob",
			},
		}
	}

	mainTable := schema.NewTable(ed.mainTable).
		AddPrimary(contextID()).
		AddColumn(&schema.Column{Name: columnTurnID, Type: field.TypeInt64}).
		AddColumn(&schema.Column{Name: columnCreatedAt, Type: field.TypeInt64}).
		AddColumn(&schema.Column{Name: columnUpdatedAt, Type: field.TypeInt64}).
		AddColumn(blob(columnMisc)).
		AddColumn(blob(columnFrameworkData))

	turnsTable := schema.NewTable(ed.turnsTable).
		AddPrimary(contextID()).
		AddPrimary(&schema.Column{Name: columnTurnKey, Type: field.TypeInt64}).
		AddColumn(blob(string(storage.LabelsField))).
		AddColumn(blob(string(storage.RequestsField))).
		AddColumn(blob(string(storage.ResponsesField)))

	return []*schema.Table{mainTable, turnsTable}
}

// LoadMainInfo retrieves the scalar record of a context.
func (ed *EntDriver) LoadMainInfo(ctx context.Context, id string) (*storage.ContextInfo, error) {
	b := ed.builder()
	query, args := b.Select(columnTurnID, columnCreatedAt, columnUpdatedAt, columnMisc, columnFrameworkData).
		From(entsql.Table(ed.mainTable)).
		Where(entsql.EQ(columnContextID, id)).
		Query()

	rows := &entsql.Rows{}
	if err := ed.Driver.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("failed to query context: %w", ed.classify(err))
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read context: %w", ed.classify(err))
		}
		return nil, storage.NotFoundError{ContextID: id}
	}

	var (
		turnID, createdAt, updatedAt int64
		info                         storage.ContextInfo
	)
	if err := rows.Scan(&turnID, &createdAt, &updatedAt, &info.Misc, &info.FrameworkData); err != nil {
		return nil, fmt.Errorf("failed to scan context: %w", err)
	}
	info.TurnID = int(turnID)
	info.CreatedAt = createdAt
	info.UpdatedAt = updatedAt
	return &info, rows.Err()
}

// UpdateMainInfo upserts the scalar record of a context.
func (ed *EntDriver) UpdateMainInfo(ctx context.Context, id string, info *storage.ContextInfo) error {
	query, args := ed.builder().Insert(ed.mainTable).
		Columns(columnContextID, columnTurnID, columnCreatedAt, columnUpdatedAt, columnMisc, columnFrameworkData).
		Values(id, int64(info.TurnID), info.CreatedAt, info.UpdatedAt, nonNil(info.Misc), nonNil(info.FrameworkData)).
		OnConflict(
			entsql.ConflictColumns(columnContextID),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded(columnTurnID)
				u.SetExcluded(columnUpdatedAt)
				u.SetExcluded(columnMisc)
				u.SetExcluded(columnFrameworkData)
			}),
		).
		Query()

	if err := ed.Driver.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("failed to upsert context: %w", ed.classify(err))
	}
	return nil
}

// LoadFieldKeys returns the turn keys holding a value for field.
func (ed *EntDriver) LoadFieldKeys(ctx context.Context, id string, field storage.Field) ([]int, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}

	b := ed.builder()
	query, args := b.Select(columnTurnKey).
		From(entsql.Table(ed.turnsTable)).
		Where(entsql.And(
			entsql.EQ(columnContextID, id),
			entsql.NotNull(string(field)),
		)).
		OrderBy(columnTurnKey).
		Query()

	rows := &entsql.Rows{}
	if err := ed.Driver.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("failed to query %s keys: %w", field, ed.classify(err))
	}
	defer rows.Close()

	keys := []int{}
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan %s key: %w", field, err)
		}
		keys = append(keys, int(k))
	}
	return keys, ed.classify(rows.Err())
}

// LoadFieldLatest returns the items selected by sub, most recent first.
func (ed *EntDriver) LoadFieldLatest(ctx context.Context, id string, field storage.Field, sub storage.Subscript) ([]storage.Item, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}
	if sub.IsZero() {
		return []storage.Item{}, nil
	}

	preds := []*entsql.Predicate{
		entsql.EQ(columnContextID, id),
		entsql.NotNull(string(field)),
	}
	if !sub.All && len(sub.Keys) > 0 {
		preds = append(preds, entsql.InInts(columnTurnKey, sub.Keys...))
	}

	b := ed.builder()
	selector := b.Select(columnTurnKey, string(field)).
		From(entsql.Table(ed.turnsTable)).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Desc(columnTurnKey))
	if !sub.All && len(sub.Keys) == 0 {
		selector.Limit(sub.Latest)
	}

	query, args := selector.Query()
	return ed.queryItems(ctx, field, query, args)
}

// LoadFieldItems returns the stored items among keys.
func (ed *EntDriver) LoadFieldItems(ctx context.Context, id string, field storage.Field, keys []int) ([]storage.Item, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []storage.Item{}, nil
	}

	b := ed.builder()
	query, args := b.Select(columnTurnKey, string(field)).
		From(entsql.Table(ed.turnsTable)).
		Where(entsql.And(
			entsql.EQ(columnContextID, id),
			entsql.InInts(columnTurnKey, keys...),
			entsql.NotNull(string(field)),
		)).
		Query()

	return ed.queryItems(ctx, field, query, args)
}

// UpdateFieldItems upserts items into the field column in one transaction.
func (ed *EntDriver) UpdateFieldItems(ctx context.Context, id string, field storage.Field, items []storage.Item) error {
	if err := field.Validate(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	insert := ed.builder().Insert(ed.turnsTable).
		Columns(columnContextID, columnTurnKey, string(field))
	for _, item := range items {
		insert.Values(id, int64(item.Key), nonNil(item.Value))
	}
	query, args := insert.
		OnConflict(
			entsql.ConflictColumns(columnContextID, columnTurnKey),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded(string(field))
			}),
		).
		Query()

	return ed.inTx(ctx, func(tx dialect.Tx) error {
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return fmt.Errorf("failed to upsert %s items: %w", field, err)
		}
		return nil
	})
}

// DeleteFieldKeys clears the field column for keys and drops rows that no
// longer hold any field.
func (ed *EntDriver) DeleteFieldKeys(ctx context.Context, id string, field storage.Field, keys []int) error {
	if err := field.Validate(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	b := ed.builder()
	clearQuery, clearArgs := b.Update(ed.turnsTable).
		SetNull(string(field)).
		Where(entsql.And(
			entsql.EQ(columnContextID, id),
			entsql.InInts(columnTurnKey, keys...),
		)).
		Query()

	pruneQuery, pruneArgs := b.Delete(ed.turnsTable).
		Where(entsql.And(
			entsql.EQ(columnContextID, id),
			entsql.InInts(columnTurnKey, keys...),
			entsql.IsNull(string(storage.LabelsField)),
			entsql.IsNull(string(storage.RequestsField)),
			entsql.IsNull(string(storage.ResponsesField)),
		)).
		Query()

	return ed.inTx(ctx, func(tx dialect.Tx) error {
		if err := tx.Exec(ctx, clearQuery, clearArgs, nil); err != nil {
			return fmt.Errorf("failed to clear %s keys: %w", field, err)
		}
		if err := tx.Exec(ctx, pruneQuery, pruneArgs, nil); err != nil {
			return fmt.Errorf("failed to prune empty turns: %w", err)
		}
		return nil
	})
}

// DeleteContext removes the scalar row and every turn row of a context.
func (ed *EntDriver) DeleteContext(ctx context.Context, id string) error {
	b := ed.builder()
	turnsQuery, turnsArgs := b.Delete(ed.turnsTable).Where(entsql.EQ(columnContextID, id)).Query()
	mainQuery, mainArgs := b.Delete(ed.mainTable).Where(entsql.EQ(columnContextID, id)).Query()

	return ed.inTx(ctx, func(tx dialect.Tx) error {
		if err := tx.Exec(ctx, turnsQuery, turnsArgs, nil); err != nil {
			return fmt.Errorf("failed to delete turns: %w", err)
		}
		if err := tx.Exec(ctx, mainQuery, mainArgs, nil); err != nil {
			return fmt.Errorf("failed to delete context: %w", err)
		}
		return nil
	})
}

// ClearAll empties both tables.
func (ed *EntDriver) ClearAll(ctx context.Context) error {
	b := ed.builder()
	turnsQuery, turnsArgs := b.Delete(ed.turnsTable).Query()
	mainQuery, mainArgs := b.Delete(ed.mainTable).Query()

	return ed.inTx(ctx, func(tx dialect.Tx) error {
		if err := tx.Exec(ctx, turnsQuery, turnsArgs, nil); err != nil {
			return fmt.Errorf("failed to clear turns: %w", err)
		}
		if err := tx.Exec(ctx, mainQuery, mainArgs, nil); err != nil {
			return fmt.Errorf("failed to clear contexts: %w", err)
		}
		return nil
	})
}

// Close closes the database connection.
func (ed *EntDriver) Close() error {
	return ed.Driver.Close()
}

func (ed *EntDriver) builder() *entsql.DialectBuilder {
	return entsql.Dialect(ed.Driver.Dialect())
}

func (ed *EntDriver) queryItems(ctx context.Context, field storage.Field, query string, args []any) ([]storage.Item, error) {
	rows := &entsql.Rows{}
	if err := ed.Driver.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("failed to query %s items: %w", field, ed.classify(err))
	}
	defer rows.Close()

	items := []storage.Item{}
	for rows.Next() {
		var (
			k    int64
			data []byte
		)
		if err := rows.Scan(&k, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s item: %w", field, err)
		}
		items = append(items, storage.Item{Key: int(k), Value: data})
	}
	return items, ed.classify(rows.Err())
}

// inTx runs fn in a transaction, rolling back on error.
func (ed *EntDriver) inTx(ctx context.Context, fn func(tx dialect.Tx) error) error {
	tx, err := ed.Driver.Tx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", ed.classify(err))
	}

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("rolling back: %w", rerr))
		}
		return ed.classify(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", ed.classify(err))
	}
	return nil
}

func (ed *EntDriver) classify(err error) error {
	return storage.Classify(ed.Backend, err)
}

// nonNil keeps empty payloads distinguishable from SQL NULL, which marks an
// absent field value.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
