// Package shelve provides a storage driver on an embedded LevelDB database,
// the on-disk key-value layout behind the "shelve" descriptor scheme.
//
// Keys:
//
//	m/<id>                      scalar record (JSON)
//	t/<id>/<field>/<be64 key>   one turn entry
//
// Turn keys are big-endian so that an iterator over a field prefix yields
// entries in ascending turn order.
package shelve

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/papercomputeco/ctxstore/pkg/storage"
)

// Driver implements storage.Driver using LevelDB.
type Driver struct {
	db *leveldb.DB
}

// NewDriver opens or creates the database directory at path.
func NewDriver(path string) (*Driver, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open shelve database %s: %w", path, err)
	}
	return &Driver{db: db}, nil
}

// Ids are path-escaped so that an id containing "/" cannot reach into the
// keys of another context.
func mainKey(id string) []byte {
	return []byte("m/" + url.PathEscape(id))
}

func contextPrefix(id string) []byte {
	return []byte("t/" + url.PathEscape(id) + "/")
}

func fieldPrefix(id string, field storage.Field) []byte {
	return []byte("t/" + url.PathEscape(id) + "/" + string(field) + "/")
}

func turnKey(id string, field storage.Field, key int) []byte {
	prefix := fieldPrefix(id, field)
	out := make([]byte, len(prefix)+8)
	copy(out, prefix)
	binary.BigEndian.PutUint64(out[len(prefix):], uint64(key))
	return out
}

func (d *Driver) LoadMainInfo(_ context.Context, id string) (*storage.ContextInfo, error) {
	data, err := d.db.Get(mainKey(id), nil)
	if err == leveldb.ErrNotFound {
		return nil, storage.NotFoundError{ContextID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read context %s: %w", id, err)
	}

	var info storage.ContextInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &storage.SerializationError{Err: err}
	}
	return &info, nil
}

func (d *Driver) UpdateMainInfo(_ context.Context, id string, info *storage.ContextInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return &storage.SerializationError{Err: err}
	}
	if err := d.db.Put(mainKey(id), data, nil); err != nil {
		return fmt.Errorf("failed to write context %s: %w", id, err)
	}
	return nil
}

func (d *Driver) LoadFieldKeys(_ context.Context, id string, field storage.Field) ([]int, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}

	prefix := fieldPrefix(id, field)
	it := d.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	keys := []int{}
	for it.Next() {
		keys = append(keys, int(binary.BigEndian.Uint64(it.Key()[len(prefix):])))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to list %s keys: %w", field, err)
	}
	return keys, nil
}

func (d *Driver) LoadFieldLatest(ctx context.Context, id string, field storage.Field, sub storage.Subscript) ([]storage.Item, error) {
	keys, err := d.LoadFieldKeys(ctx, id, field)
	if err != nil {
		return nil, err
	}
	return d.LoadFieldItems(ctx, id, field, sub.Select(keys))
}

func (d *Driver) LoadFieldItems(_ context.Context, id string, field storage.Field, keys []int) ([]storage.Item, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}

	snap, err := d.db.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot database: %w", err)
	}
	defer snap.Release()

	items := make([]storage.Item, 0, len(keys))
	for _, k := range keys {
		data, err := snap.Get(turnKey(id, field, k), nil)
		if err == leveldb.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s[%d]: %w", field, k, err)
		}
		items = append(items, storage.Item{Key: k, Value: data})
	}
	return items, nil
}

func (d *Driver) UpdateFieldItems(_ context.Context, id string, field storage.Field, items []storage.Item) error {
	if err := field.Validate(); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	for _, item := range items {
		batch.Put(turnKey(id, field, item.Key), item.Value)
	}
	if err := d.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write %s items: %w", field, err)
	}
	return nil
}

func (d *Driver) DeleteFieldKeys(_ context.Context, id string, field storage.Field, keys []int) error {
	if err := field.Validate(); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	for _, k := range keys {
		batch.Delete(turnKey(id, field, k))
	}
	if err := d.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to delete %s keys: %w", field, err)
	}
	return nil
}

func (d *Driver) DeleteContext(_ context.Context, id string) error {
	batch := new(leveldb.Batch)
	batch.Delete(mainKey(id))
	if err := d.deleteRange(batch, util.BytesPrefix(contextPrefix(id))); err != nil {
		return err
	}
	if err := d.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to delete context %s: %w", id, err)
	}
	return nil
}

func (d *Driver) ClearAll(_ context.Context) error {
	batch := new(leveldb.Batch)
	if err := d.deleteRange(batch, nil); err != nil {
		return err
	}
	if err := d.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to clear database: %w", err)
	}
	return nil
}

func (d *Driver) Close() error {
	return d.db.Close()
}

// deleteRange queues a delete for every key in r; a nil range covers the
// whole database.
func (d *Driver) deleteRange(batch *leveldb.Batch, r *util.Range) error {
	it := d.db.NewIterator(r, nil)
	defer it.Release()

	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}
	return nil
}
