package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

// Find performs a find operation with circuit breaker protection
func (c *Collection) Find(ctx context.Context, filter interface{}, opts *QueryOptions) (*mongo.Cursor, error) {
	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		findOpts := options.Find()

		if opts != nil {
			if opts.Sort != nil {
				findOpts.SetSort(opts.Sort)
			}

			if opts.Projection != nil {
				findOpts.SetProjection(opts.Projection)
			}

			if opts.Limit > 0 {
				findOpts.SetLimit(opts.Limit)
			}

			if opts.BatchSize > 0 {
				findOpts.SetBatchSize(opts.BatchSize)
			}
		}

		cursor, err := c.collection.Find(ctx, filter, findOpts)
		if err != nil {
			c.logger.Error("Failed to execute find query",
				zap.Error(err),
				zap.Any("filter", filter))
			return nil, err
		}

		return cursor, nil
	})

	if err != nil {
		return nil, err
	}

	return result.(*mongo.Cursor), nil
}

// FindOne decodes the first matching document into out. It reports false
// when nothing matched.
func (c *Collection) FindOne(ctx context.Context, filter interface{}, out interface{}) (bool, error) {
	found := false
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		err := c.collection.FindOne(ctx, filter).Decode(out)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		found = true
		return nil, nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// UpdateOne updates a single document with circuit breaker protection
func (c *Collection) UpdateOne(ctx context.Context, filter interface{}, update interface{}) (*mongo.UpdateResult, error) {
	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		result, err := c.collection.UpdateOne(ctx, filter, update)
		if err != nil {
			c.logger.Error("Failed to update document",
				zap.Error(err),
				zap.Any("filter", filter))
			return nil, err
		}

		c.logger.Debug("Document updated",
			zap.Int64("matched_count", result.MatchedCount),
			zap.Int64("modified_count", result.ModifiedCount))

		return result, nil
	})

	if err != nil {
		return nil, err
	}

	return result.(*mongo.UpdateResult), nil
}

// DeleteOne deletes a single document with circuit breaker protection
func (c *Collection) DeleteOne(ctx context.Context, filter interface{}) (*mongo.DeleteResult, error) {
	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		result, err := c.collection.DeleteOne(ctx, filter)
		if err != nil {
			c.logger.Error("Failed to delete document",
				zap.Error(err),
				zap.Any("filter", filter))
			return nil, err
		}

		return result, nil
	})

	if err != nil {
		return nil, err
	}

	return result.(*mongo.DeleteResult), nil
}

// CountDocuments counts matching documents, stopping at limit when positive
func (c *Collection) CountDocuments(ctx context.Context, filter interface{}, limit int64) (int64, error) {
	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		countOpts := options.Count()
		if limit > 0 {
			countOpts.SetLimit(limit)
		}
		return c.collection.CountDocuments(ctx, filter, countOpts)
	})

	if err != nil {
		return 0, err
	}

	return result.(int64), nil
}

// BulkWrite executes an unordered bulk write. When individual operations
// fail the partial result is returned together with the
// mongo.BulkWriteException.
func (c *Collection) BulkWrite(ctx context.Context, models []mongo.WriteModel) (*mongo.BulkWriteResult, error) {
	if len(models) == 0 {
		return &mongo.BulkWriteResult{}, nil
	}

	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		bulkOpts := options.BulkWrite().SetOrdered(false)

		result, err := c.collection.BulkWrite(ctx, models, bulkOpts)
		if err != nil {
			c.logger.Error("Failed to execute bulk write",
				zap.Error(err),
				zap.Int("operations_count", len(models)))
			return result, err
		}

		c.logger.Debug("Bulk write completed",
			zap.Int("operations_count", len(models)),
			zap.Int64("matched_count", result.MatchedCount),
			zap.Int64("modified_count", result.ModifiedCount),
			zap.Int64("deleted_count", result.DeletedCount))

		return result, nil
	})

	bulkResult, _ := result.(*mongo.BulkWriteResult)
	return bulkResult, err
}

// Indexes returns the key documents of all indexes on the collection
func (c *Collection) Indexes(ctx context.Context) ([]bson.D, error) {
	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		cursor, err := c.collection.Indexes().List(ctx)
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		var keys []bson.D
		for cursor.Next(ctx) {
			var index struct {
				Key bson.D `bson:"key"`
			}
			if err := cursor.Decode(&index); err != nil {
				return nil, err
			}
			keys = append(keys, index.Key)
		}
		return keys, cursor.Err()
	})

	if err != nil {
		return nil, err
	}

	return result.([]bson.D), nil
}
