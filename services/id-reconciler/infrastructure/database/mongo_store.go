package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/repository"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/common"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/database/mongodb"
)

const scanBatchSize = 500

// MongoDocumentStore implements repository.DocumentStore on MongoDB
type MongoDocumentStore struct {
	client *mongodb.Client
	logger *zap.Logger
}

// NewMongoDocumentStore creates a new MongoDB document store
func NewMongoDocumentStore(client *mongodb.Client, logger *zap.Logger) *MongoDocumentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoDocumentStore{client: client, logger: logger}
}

// Scan streams matching documents in natural order
func (s *MongoDocumentStore) Scan(ctx context.Context, collection string, filter repository.Filter, fn func(repository.Document) error) error {
	coll, err := s.client.Collection(collection)
	if err != nil {
		return err
	}

	cursor, err := coll.Find(ctx, toBSONFilter(filter), &mongodb.QueryOptions{BatchSize: scanBatchSize})
	if err != nil {
		return common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to scan "+collection)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return fmt.Errorf("failed to decode document: %w", err)
		}
		if err := fn(toDocument(raw)); err != nil {
			return err
		}
	}

	if err := cursor.Err(); err != nil {
		return common.WrapError(err, common.ErrCodeDatabaseQuery, "cursor failed on "+collection)
	}

	return nil
}

// FindOne returns the first matching document
func (s *MongoDocumentStore) FindOne(ctx context.Context, collection string, filter repository.Filter) (repository.Document, bool, error) {
	coll, err := s.client.Collection(collection)
	if err != nil {
		return nil, false, err
	}

	var raw bson.M
	found, err := coll.FindOne(ctx, toBSONFilter(filter), &raw)
	if err != nil {
		return nil, false, common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to query "+collection)
	}
	if !found {
		return nil, false, nil
	}

	return toDocument(raw), true, nil
}

// Count counts matching documents
func (s *MongoDocumentStore) Count(ctx context.Context, collection string, filter repository.Filter) (int64, error) {
	coll, err := s.client.Collection(collection)
	if err != nil {
		return 0, err
	}

	n, err := coll.CountDocuments(ctx, toBSONFilter(filter), 0)
	if err != nil {
		return 0, common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to count "+collection)
	}
	return n, nil
}

// ListCollections lists collection names
func (s *MongoDocumentStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollectionNames(ctx)
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeDatabaseQuery, "failed to list collections")
	}
	return names, nil
}

// ApplyBatch submits conditional updates as one unordered bulk write
func (s *MongoDocumentStore) ApplyBatch(ctx context.Context, collection string, updates []repository.ConditionalUpdate) (repository.BatchResult, error) {
	var result repository.BatchResult

	coll, err := s.client.Collection(collection)
	if err != nil {
		return result, err
	}

	models := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		filter := bson.M{repository.InternalIDField: u.ID}
		for path, expected := range u.Match {
			filter[path] = toBSONValue(expected)
		}

		set := bson.M{}
		for path, value := range u.Set {
			set[path] = value
		}

		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$set": set}))
	}

	bulk, err := coll.BulkWrite(ctx, models)
	if bulk != nil {
		result.Matched = bulk.MatchedCount
		result.Modified = bulk.ModifiedCount
	}

	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
		result.Failed = int64(len(bwe.WriteErrors))
		for _, we := range bwe.WriteErrors {
			result.Errors = append(result.Errors, fmt.Sprintf("update %d: %s", we.Index, we.Message))
		}
		s.logger.Warn("Bulk write partially rejected",
			zap.String("collection", collection),
			zap.Int("rejected", len(bwe.WriteErrors)),
			zap.Int("submitted", len(updates)))
		return result, nil
	}

	if err != nil {
		return result, common.WrapError(err, common.ErrCodeDatabaseWrite, "bulk write failed on "+collection)
	}

	return result, nil
}

// DeleteOne deletes a document by internal id
func (s *MongoDocumentStore) DeleteOne(ctx context.Context, collection string, id interface{}) (bool, error) {
	coll, err := s.client.Collection(collection)
	if err != nil {
		return false, err
	}

	res, err := coll.DeleteOne(ctx, bson.M{repository.InternalIDField: id})
	if err != nil {
		return false, common.WrapError(err, common.ErrCodeDatabaseWrite, "delete failed on "+collection)
	}
	return res.DeletedCount > 0, nil
}

// EnsureUniqueIndex creates a unique index over fields when absent
func (s *MongoDocumentStore) EnsureUniqueIndex(ctx context.Context, collection string, fields []string) (bool, error) {
	coll, err := s.client.Collection(collection)
	if err != nil {
		return false, err
	}

	created, err := coll.EnsureUniqueIndex(ctx, fields)
	if err != nil {
		return false, common.WrapError(err, common.ErrCodeDatabaseWrite, "index creation failed on "+collection)
	}
	return created, nil
}

// toBSONFilter translates a Filter, mapping Missing to a null match
// (which MongoDB also satisfies for absent fields)
func toBSONFilter(filter repository.Filter) bson.M {
	out := bson.M{}
	for path, value := range filter {
		out[path] = toBSONValue(value)
	}
	return out
}

func toBSONValue(v interface{}) interface{} {
	if v == repository.Missing {
		return nil
	}
	if t, ok := v.(time.Time); ok {
		return primitive.NewDateTimeFromTime(t)
	}
	return v
}

// toDocument converts decoded BSON into plain Go values
func toDocument(raw bson.M) repository.Document {
	doc := make(repository.Document, len(raw))
	for k, v := range raw {
		doc[k] = normalize(v)
	}
	return doc
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = normalize(e)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = normalize(e)
		}
		return m
	case bson.D:
		m := make(map[string]interface{}, len(t))
		for _, e := range t {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case bson.A:
		a := make([]interface{}, len(t))
		for i, e := range t {
			a[i] = normalize(e)
		}
		return a
	case []interface{}:
		a := make([]interface{}, len(t))
		for i, e := range t {
			a[i] = normalize(e)
		}
		return a
	case primitive.DateTime:
		return t.Time().UTC()
	default:
		return v
	}
}
