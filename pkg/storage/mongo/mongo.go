// Package mongo provides a MongoDB-backed storage driver.
//
// Scalar records live in "<prefix>_main" keyed by context id. Turn entries
// live in "<prefix>_turns", one document per (context, field, turn) with a
// compound _id.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/papercomputeco/ctxstore/pkg/storage"
)

// DefaultCollectionPrefix is used when no collection prefix is configured.
const DefaultCollectionPrefix = "ctxstore"

const (
	idContextID = "_id.context_id"
	idField     = "_id.field"
	idKey       = "_id.key"
)

// turnID is the compound _id of a turn document.
type turnID struct {
	ContextID string `bson:"context_id"`
	Field     string `bson:"field"`
	Key       int64  `bson:"key"`
}

type turnDoc struct {
	ID    turnID `bson:"_id"`
	Value []byte `bson:"value"`
}

type mainDoc struct {
	ID                  string `bson:"_id"`
	storage.ContextInfo `bson:",inline"`
}

// Driver implements storage.Driver using MongoDB.
type Driver struct {
	client *mongo.Client
	main   *mongo.Collection
	turns  *mongo.Collection
}

// NewDriver connects to uri, verifies the connection and ensures the turn
// index exists. The database is taken from the URI path, or "ctxstore".
func NewDriver(ctx context.Context, uri, database, collectionPrefix string) (*Driver, error) {
	if collectionPrefix == "" {
		collectionPrefix = DefaultCollectionPrefix
	}
	if database == "" {
		database = "ctxstore"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &storage.ConfigurationError{Descriptor: uri, Reason: err.Error()}
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, storage.Unavailable("mongodb", fmt.Errorf("failed to ping mongodb: %w", err))
	}

	db := client.Database(database)
	d := &Driver{
		client: client,
		main:   db.Collection(collectionPrefix + "_main"),
		turns:  db.Collection(collectionPrefix + "_turns"),
	}

	_, err = d.turns.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: idContextID, Value: 1}, {Key: idField, Value: 1}, {Key: idKey, Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, storage.Classify("mongodb", fmt.Errorf("failed to create turn index: %w", err))
	}

	return d, nil
}

func (d *Driver) LoadMainInfo(ctx context.Context, id string) (*storage.ContextInfo, error) {
	var doc mainDoc
	err := d.main.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.NotFoundError{ContextID: id}
	}
	if err != nil {
		return nil, storage.Classify("mongodb", fmt.Errorf("failed to read context %s: %w", id, err))
	}
	return &doc.ContextInfo, nil
}

func (d *Driver) UpdateMainInfo(ctx context.Context, id string, info *storage.ContextInfo) error {
	doc := mainDoc{ID: id, ContextInfo: *info}
	_, err := d.main.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return storage.Classify("mongodb", fmt.Errorf("failed to write context %s: %w", id, err))
	}
	return nil
}

func (d *Driver) LoadFieldKeys(ctx context.Context, id string, field storage.Field) ([]int, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}

	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: idKey, Value: 1}})
	cur, err := d.turns.Find(ctx, fieldFilter(id, field), opts)
	if err != nil {
		return nil, storage.Classify("mongodb", fmt.Errorf("failed to list %s keys: %w", field, err))
	}
	defer cur.Close(ctx)

	keys := []int{}
	for cur.Next(ctx) {
		var doc turnDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, &storage.SerializationError{Field: field, Err: err}
		}
		keys = append(keys, int(doc.ID.Key))
	}
	return keys, storage.Classify("mongodb", cur.Err())
}

func (d *Driver) LoadFieldLatest(ctx context.Context, id string, field storage.Field, sub storage.Subscript) ([]storage.Item, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}
	if sub.IsZero() {
		return []storage.Item{}, nil
	}

	filter := fieldFilter(id, field)
	opts := options.Find().SetSort(bson.D{{Key: idKey, Value: -1}})
	switch {
	case sub.All:
	case len(sub.Keys) > 0:
		filter = append(filter, bson.E{Key: idKey, Value: bson.M{"$in": int64s(sub.Keys)}})
	default:
		opts.SetLimit(int64(sub.Latest))
	}

	return d.findItems(ctx, field, filter, opts)
}

func (d *Driver) LoadFieldItems(ctx context.Context, id string, field storage.Field, keys []int) ([]storage.Item, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []storage.Item{}, nil
	}

	filter := append(fieldFilter(id, field), bson.E{Key: idKey, Value: bson.M{"$in": int64s(keys)}})
	return d.findItems(ctx, field, filter, options.Find())
}

// UpdateFieldItems upserts items with an unordered bulk write. Items that
// fail individually are reported in a PartialFailureError; the others are
// persisted.
func (d *Driver) UpdateFieldItems(ctx context.Context, id string, field storage.Field, items []storage.Item) error {
	if err := field.Validate(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(items))
	for _, item := range items {
		doc := turnDoc{
			ID:    turnID{ContextID: id, Field: string(field), Key: int64(item.Key)},
			Value: item.Value,
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	_, err := d.turns.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err == nil {
		return nil
	}

	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) && len(bulkErr.WriteErrors) > 0 && bulkErr.WriteConcernError == nil {
		failed := make([]int, 0, len(bulkErr.WriteErrors))
		for _, we := range bulkErr.WriteErrors {
			if we.Index >= 0 && we.Index < len(items) {
				failed = append(failed, items[we.Index].Key)
			}
		}
		return &storage.PartialFailureError{Field: field, Keys: failed, Err: err}
	}
	return storage.Classify("mongodb", fmt.Errorf("failed to write %s items: %w", field, err))
}

func (d *Driver) DeleteFieldKeys(ctx context.Context, id string, field storage.Field, keys []int) error {
	if err := field.Validate(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	filter := append(fieldFilter(id, field), bson.E{Key: idKey, Value: bson.M{"$in": int64s(keys)}})
	if _, err := d.turns.DeleteMany(ctx, filter); err != nil {
		return storage.Classify("mongodb", fmt.Errorf("failed to delete %s keys: %w", field, err))
	}
	return nil
}

func (d *Driver) DeleteContext(ctx context.Context, id string) error {
	if _, err := d.turns.DeleteMany(ctx, bson.D{{Key: idContextID, Value: id}}); err != nil {
		return storage.Classify("mongodb", fmt.Errorf("failed to delete turns of %s: %w", id, err))
	}
	if _, err := d.main.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return storage.Classify("mongodb", fmt.Errorf("failed to delete context %s: %w", id, err))
	}
	return nil
}

func (d *Driver) ClearAll(ctx context.Context) error {
	if _, err := d.turns.DeleteMany(ctx, bson.D{}); err != nil {
		return storage.Classify("mongodb", fmt.Errorf("failed to clear turns: %w", err))
	}
	if _, err := d.main.DeleteMany(ctx, bson.D{}); err != nil {
		return storage.Classify("mongodb", fmt.Errorf("failed to clear contexts: %w", err))
	}
	return nil
}

func (d *Driver) Close() error {
	return d.client.Disconnect(context.Background())
}

func (d *Driver) findItems(ctx context.Context, field storage.Field, filter bson.D, opts *options.FindOptions) ([]storage.Item, error) {
	cur, err := d.turns.Find(ctx, filter, opts)
	if err != nil {
		return nil, storage.Classify("mongodb", fmt.Errorf("failed to read %s items: %w", field, err))
	}
	defer cur.Close(ctx)

	items := []storage.Item{}
	for cur.Next(ctx) {
		var doc turnDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, &storage.SerializationError{Field: field, Err: err}
		}
		items = append(items, storage.Item{Key: int(doc.ID.Key), Value: doc.Value})
	}
	return items, storage.Classify("mongodb", cur.Err())
}

func fieldFilter(id string, field storage.Field) bson.D {
	return bson.D{{Key: idContextID, Value: id}, {Key: idField, Value: string(field)}}
}

func int64s(keys []int) []int64 {
	out := make([]int64, len(keys))
	for i, k := range keys {
		out[i] = int64(k)
	}
	return out
}
