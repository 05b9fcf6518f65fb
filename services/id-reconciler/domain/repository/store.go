package repository

import (
	"context"
)

// Document is a schemaless stored document. Nested documents are
// map[string]interface{}, arrays are []interface{}, dates are time.Time and
// internal ids are whatever the store's IDCodec recognises.
type Document map[string]interface{}

// InternalIDField is the field holding the store-assigned id
const InternalIDField = "_id"

// ID returns the store-assigned id of the document
func (d Document) ID() interface{} {
	return d[InternalIDField]
}

type missing struct{}

// Missing matches a field that is absent or null when used as a Filter or
// ConditionalUpdate.Match value
var Missing = missing{}

// Filter selects documents by exact field equality on dotted paths
type Filter map[string]interface{}

// ConditionalUpdate sets fields on one document only while every Match
// path still holds its expected value
type ConditionalUpdate struct {
	ID    interface{}
	Match map[string]interface{}
	Set   map[string]interface{}
}

// BatchResult reports the outcome of a batch of conditional updates
type BatchResult struct {
	// Updates whose match condition held
	Matched int64
	// Updates that changed the document
	Modified int64
	// Updates rejected by the store
	Failed int64
	Errors []string
}

// DocumentReader is the read side of the document store
type DocumentReader interface {
	// Scan streams matching documents in natural cursor order until fn
	// returns an error or the cursor is exhausted
	Scan(ctx context.Context, collection string, filter Filter, fn func(Document) error) error
	// FindOne returns the first matching document and whether one was found
	FindOne(ctx context.Context, collection string, filter Filter) (Document, bool, error)
	Count(ctx context.Context, collection string, filter Filter) (int64, error)
	ListCollections(ctx context.Context) ([]string, error)
}

// DocumentWriter is the write side of the document store
type DocumentWriter interface {
	// ApplyBatch applies updates as one unordered batch. An error means the
	// batch as a whole could not be submitted; per-update rejections are
	// reported in BatchResult.
	ApplyBatch(ctx context.Context, collection string, updates []ConditionalUpdate) (BatchResult, error)
	// DeleteOne deletes the document with the given internal id and
	// reports whether it existed
	DeleteOne(ctx context.Context, collection string, id interface{}) (bool, error)
	// EnsureUniqueIndex backs fields with a unique index and reports
	// whether one had to be created
	EnsureUniqueIndex(ctx context.Context, collection string, fields []string) (bool, error)
}

// DocumentStore is a readable and writable document store
type DocumentStore interface {
	DocumentReader
	DocumentWriter
}

// IDCodec isolates the store's internal id type
type IDCodec interface {
	// IsInternalID reports whether v is typed as an internal id
	IsInternalID(v interface{}) bool
	// Hex returns the canonical hex form of an internal id
	Hex(v interface{}) (string, bool)
	// ParseHex converts a hex string back to an internal id
	ParseHex(s string) (interface{}, bool)
}
