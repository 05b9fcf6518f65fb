package mongodb

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// UniqueIndexName returns the conventional name for a unique compound index
func UniqueIndexName(fields []string) string {
	return "uniq_" + strings.Join(fields, "_")
}

// EnsureUniqueIndex creates an ascending unique index over fields unless an
// index with the same key pattern already exists. It reports whether an
// index was created.
func (c *Collection) EnsureUniqueIndex(ctx context.Context, fields []string) (bool, error) {
	if len(fields) == 0 {
		return false, fmt.Errorf("unique index requires at least one field")
	}

	keys := bson.D{}
	for _, f := range fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}

	existing, err := c.Indexes(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list indexes: %w", err)
	}
	for _, index := range existing {
		if sameKeyPattern(index, fields) {
			return false, nil
		}
	}

	name := UniqueIndexName(fields)
	_, err = c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetName(name).SetUnique(true),
		})
	})
	if err != nil {
		return false, fmt.Errorf("failed to create index %s: %w", name, err)
	}

	c.logger.Info("Index created successfully",
		zap.String("index_name", name),
		zap.Strings("keys", fields))

	return true, nil
}

// sameKeyPattern compares an index key document with a field list, ignoring direction
func sameKeyPattern(index bson.D, fields []string) bool {
	if len(index) != len(fields) {
		return false
	}
	for i, e := range index {
		if e.Key != fields[i] {
			return false
		}
	}
	return true
}
