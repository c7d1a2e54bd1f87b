// Package redis provides a Redis-backed storage driver.
//
// Every context is stored as one hash for the scalar record and one hash per
// history field, keyed by turn id. A set indexes the context ids of the
// prefix so that ClearAll does not need to SCAN the keyspace.
package redis

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/papercomputeco/ctxstore/pkg/storage"
)

// DefaultKeyPrefix is used when no key prefix is configured.
const DefaultKeyPrefix = "ctxstore"

// Driver implements storage.Driver using Redis hashes.
type Driver struct {
	client *redis.Client
	prefix string
}

// NewDriver connects to Redis and verifies the connection.
func NewDriver(ctx context.Context, opts *redis.Options, keyPrefix string) (*Driver, error) {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, storage.Unavailable("redis", fmt.Errorf("failed to ping redis: %w", err))
	}

	return &Driver{client: client, prefix: keyPrefix}, nil
}

func (d *Driver) mainKey(id string) string {
	return d.prefix + ":main:" + id
}

func (d *Driver) fieldKey(id string, field storage.Field) string {
	return d.prefix + ":" + string(field) + ":" + id
}

func (d *Driver) indexKey() string {
	return d.prefix + ":contexts"
}

func (d *Driver) contextKeys(id string) []string {
	keys := []string{d.mainKey(id)}
	for _, f := range storage.Fields {
		keys = append(keys, d.fieldKey(id, f))
	}
	return keys
}

func (d *Driver) LoadMainInfo(ctx context.Context, id string) (*storage.ContextInfo, error) {
	vals, err := d.client.HGetAll(ctx, d.mainKey(id)).Result()
	if err != nil {
		return nil, storage.Classify("redis", fmt.Errorf("failed to read context %s: %w", id, err))
	}
	if len(vals) == 0 {
		return nil, storage.NotFoundError{ContextID: id}
	}

	info := &storage.ContextInfo{
		Misc:          []byte(vals["misc"]),
		FrameworkData: []byte(vals["framework_data"]),
	}
	turnID, err := strconv.Atoi(vals["turn_id"])
	if err != nil {
		return nil, &storage.SerializationError{Err: fmt.Errorf("turn_id: %w", err)}
	}
	info.TurnID = turnID
	info.CreatedAt, _ = strconv.ParseInt(vals["created_at"], 10, 64)
	info.UpdatedAt, _ = strconv.ParseInt(vals["updated_at"], 10, 64)
	return info, nil
}

func (d *Driver) UpdateMainInfo(ctx context.Context, id string, info *storage.ContextInfo) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, d.mainKey(id),
			"turn_id", info.TurnID,
			"created_at", info.CreatedAt,
			"updated_at", info.UpdatedAt,
			"misc", info.Misc,
			"framework_data", info.FrameworkData,
		)
		pipe.SAdd(ctx, d.indexKey(), id)
		return nil
	})
	if err != nil {
		return storage.Classify("redis", fmt.Errorf("failed to write context %s: %w", id, err))
	}
	return nil
}

func (d *Driver) LoadFieldKeys(ctx context.Context, id string, field storage.Field) ([]int, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}

	raw, err := d.client.HKeys(ctx, d.fieldKey(id, field)).Result()
	if err != nil {
		return nil, storage.Classify("redis", fmt.Errorf("failed to list %s keys: %w", field, err))
	}

	keys, err := parseKeys(raw)
	if err != nil {
		return nil, &storage.SerializationError{Field: field, Err: err}
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

func (d *Driver) LoadFieldItems(ctx context.Context, id string, field storage.Field, keys []int) ([]storage.Item, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []storage.Item{}, nil
	}

	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = strconv.Itoa(k)
	}

	vals, err := d.client.HMGet(ctx, d.fieldKey(id, field), names...).Result()
	if err != nil {
		return nil, storage.Classify("redis", fmt.Errorf("failed to read %s items: %w", field, err))
	}

	items := make([]storage.Item, 0, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		items = append(items, storage.Item{Key: keys[i], Value: []byte(s)})
	}
	return items, nil
}

func (d *Driver) UpdateFieldItems(ctx context.Context, id string, field storage.Field, items []storage.Item) error {
	if err := field.Validate(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	values := make([]any, 0, len(items)*2)
	for _, item := range items {
		values = append(values, strconv.Itoa(item.Key), item.Value)
	}

	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, d.fieldKey(id, field), values...)
		pipe.SAdd(ctx, d.indexKey(), id)
		return nil
	})
	if err != nil {
		return storage.Classify("redis", fmt.Errorf("failed to write %s items: %w", field, err))
	}
	return nil
}

func (d *Driver) DeleteFieldKeys(ctx context.Context, id string, field storage.Field, keys []int) error {
	if err := field.Validate(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = strconv.Itoa(k)
	}
	if err := d.client.HDel(ctx, d.fieldKey(id, field), names...).Err(); err != nil {
		return storage.Classify("redis", fmt.Errorf("failed to delete %s keys: %w", field, err))
	}
	return nil
}

func (d *Driver) DeleteContext(ctx context.Context, id string) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, d.contextKeys(id)...)
		pipe.SRem(ctx, d.indexKey(), id)
		return nil
	})
	if err != nil {
		return storage.Classify("redis", fmt.Errorf("failed to delete context %s: %w", id, err))
	}
	return nil
}

func (d *Driver) ClearAll(ctx context.Context) error {
	ids, err := d.client.SMembers(ctx, d.indexKey()).Result()
	if err != nil {
		return storage.Classify("redis", fmt.Errorf("failed to list contexts: %w", err))
	}

	keys := []string{d.indexKey()}
	for _, id := range ids {
		keys = append(keys, d.contextKeys(id)...)
	}
	if err := d.client.Del(ctx, keys...).Err(); err != nil {
		return storage.Classify("redis", fmt.Errorf("failed to clear contexts: %w", err))
	}
	return nil
}

func (d *Driver) Close() error {
	return d.client.Close()
}

func parseKeys(raw []string) ([]int, error) {
	keys := make([]int, 0, len(raw))
	for _, s := range raw {
		k, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid turn key %q: %w", s, err)
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}
