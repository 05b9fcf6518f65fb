// Package memory provides an in-memory document store with MongoDB-like
// semantics for dotted paths, conditional updates and unique indexes. It
// backs the service tests and dry runs against fixture data.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/repository"
)

// Store is a concurrency-safe in-memory repository.DocumentStore
type Store struct {
	mu          sync.RWMutex
	collections map[string][]repository.Document
	indexes     map[string][][]string

	// FailBatch, when set, is consulted before every ApplyBatch; a non-nil
	// error fails the whole batch
	FailBatch func(collection string, batch int) error
	// FailUpdate, when set, rejects individual updates
	FailUpdate func(collection string, u repository.ConditionalUpdate) error
	// FailDelete, when set, rejects individual deletes
	FailDelete func(collection string, id interface{}) error
	// FailScan, when set, fails scans of the named collection
	FailScan func(collection string) error

	batches map[string]int
	writes  int
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		collections: make(map[string][]repository.Document),
		indexes:     make(map[string][][]string),
		batches:     make(map[string]int),
	}
}

// Insert adds documents, assigning an ObjectID when _id is absent
func (s *Store) Insert(collection string, docs ...repository.Document) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		doc := clone(d).(map[string]interface{})
		if _, ok := doc[repository.InternalIDField]; !ok {
			doc[repository.InternalIDField] = primitive.NewObjectID()
		}
		ids = append(ids, doc[repository.InternalIDField])
		s.collections[collection] = append(s.collections[collection], repository.Document(doc))
	}
	return ids
}

// Snapshot returns a deep copy of every collection
func (s *Store) Snapshot() map[string][]repository.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]repository.Document, len(s.collections))
	for name, docs := range s.collections {
		copied := make([]repository.Document, len(docs))
		for i, d := range docs {
			copied[i] = repository.Document(clone(map[string]interface{}(d)).(map[string]interface{}))
		}
		out[name] = copied
	}
	return out
}

// Get returns a copy of the document with the given internal id
func (s *Store) Get(collection string, id interface{}) (repository.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(collection, id)
	if i < 0 {
		return nil, false
	}
	return repository.Document(clone(map[string]interface{}(s.collections[collection][i])).(map[string]interface{})), true
}

// Writes returns the number of documents modified or deleted so far
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Indexes returns the unique indexes declared on a collection
func (s *Store) Indexes(collection string) [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([][]string(nil), s.indexes[collection]...)
}

// Scan streams matching documents in insertion order
func (s *Store) Scan(ctx context.Context, collection string, filter repository.Filter, fn func(repository.Document) error) error {
	if s.FailScan != nil {
		if err := s.FailScan(collection); err != nil {
			return err
		}
	}

	s.mu.RLock()
	var matched []repository.Document
	for _, d := range s.collections[collection] {
		if matches(d, filter) {
			matched = append(matched, repository.Document(clone(map[string]interface{}(d)).(map[string]interface{})))
		}
	}
	s.mu.RUnlock()

	for _, d := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

// FindOne returns the first matching document
func (s *Store) FindOne(ctx context.Context, collection string, filter repository.Filter) (repository.Document, bool, error) {
	var found repository.Document
	errStop := fmt.Errorf("stop")
	err := s.Scan(ctx, collection, filter, func(d repository.Document) error {
		found = d
		return errStop
	})
	if err != nil && err != errStop {
		return nil, false, err
	}
	return found, found != nil, nil
}

// Count counts matching documents
func (s *Store) Count(ctx context.Context, collection string, filter repository.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, d := range s.collections[collection] {
		if matches(d, filter) {
			n++
		}
	}
	return n, nil
}

// ListCollections lists collection names in sorted order
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ApplyBatch applies conditional updates
func (s *Store) ApplyBatch(ctx context.Context, collection string, updates []repository.ConditionalUpdate) (repository.BatchResult, error) {
	var result repository.BatchResult

	s.mu.Lock()
	batch := s.batches[collection]
	s.batches[collection]++
	s.mu.Unlock()

	if s.FailBatch != nil {
		if err := s.FailBatch(collection, batch); err != nil {
			return result, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, u := range updates {
		if s.FailUpdate != nil {
			if err := s.FailUpdate(collection, u); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("update %d: %v", i, err))
				continue
			}
		}

		idx := s.indexOf(collection, u.ID)
		if idx < 0 || !matches(s.collections[collection][idx], u.Match) {
			continue
		}
		result.Matched++

		doc := s.collections[collection][idx]
		changed := false
		for path, value := range u.Set {
			old, had := getPath(doc, path)
			if had && reflect.DeepEqual(old, value) {
				continue
			}
			if err := setPath(doc, path, clone(value)); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("update %d: %v", i, err))
				changed = false
				break
			}
			changed = true
		}
		if changed {
			result.Modified++
			s.writes++
		}
	}

	return result, nil
}

// DeleteOne removes a document by internal id
func (s *Store) DeleteOne(ctx context.Context, collection string, id interface{}) (bool, error) {
	if s.FailDelete != nil {
		if err := s.FailDelete(collection, id); err != nil {
			return false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(collection, id)
	if idx < 0 {
		return false, nil
	}
	docs := s.collections[collection]
	s.collections[collection] = append(docs[:idx:idx], docs[idx+1:]...)
	s.writes++
	return true, nil
}

// EnsureUniqueIndex declares a unique index, failing when existing
// documents already violate it
func (s *Store) EnsureUniqueIndex(ctx context.Context, collection string, fields []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.indexes[collection] {
		if reflect.DeepEqual(existing, fields) {
			return false, nil
		}
	}

	seen := make(map[string]bool)
	for _, d := range s.collections[collection] {
		parts := make([]string, len(fields))
		for i, f := range fields {
			v, _ := getPath(d, f)
			parts[i] = fmt.Sprintf("%T:%v", v, v)
		}
		key := strings.Join(parts, "\x00")
		if seen[key] {
			return false, fmt.Errorf("duplicate key %v violates unique index on %s", parts, collection)
		}
		seen[key] = true
	}

	s.indexes[collection] = append(s.indexes[collection], append([]string(nil), fields...))
	return true, nil
}

func (s *Store) indexOf(collection string, id interface{}) int {
	for i, d := range s.collections[collection] {
		if reflect.DeepEqual(d[repository.InternalIDField], id) {
			return i
		}
	}
	return -1
}

// matches applies equality semantics on dotted paths
func matches(doc repository.Document, filter map[string]interface{}) bool {
	for path, expected := range filter {
		actual, ok := getPath(doc, path)
		if expected == repository.Missing {
			if ok && actual != nil {
				return false
			}
			continue
		}
		if !ok || !equal(actual, expected) {
			return false
		}
	}
	return true
}

func equal(a, b interface{}) bool {
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
	}
	return reflect.DeepEqual(a, b)
}

// getPath resolves a dotted path; numeric segments index into arrays
func getPath(doc map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case repository.Document:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// setPath assigns value at a dotted path, creating intermediate documents
func setPath(doc map[string]interface{}, path string, value interface{}) error {
	segs := strings.Split(path, ".")
	var cur interface{} = doc
	for i, seg := range segs {
		last := i == len(segs)-1
		switch node := cur.(type) {
		case map[string]interface{}:
			if last {
				node[seg] = value
				return nil
			}
			next, ok := node[seg]
			if !ok || next == nil {
				next = map[string]interface{}{}
				node[seg] = next
			}
			cur = next
		case repository.Document:
			if last {
				node[seg] = value
				return nil
			}
			next, ok := node[seg]
			if !ok || next == nil {
				next = map[string]interface{}{}
				node[seg] = next
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return fmt.Errorf("cannot set %s: bad array index %q", path, seg)
			}
			if last {
				node[idx] = value
				return nil
			}
			cur = node[idx]
		default:
			return fmt.Errorf("cannot set %s: %q is not a document", path, seg)
		}
	}
	return nil
}

// clone deep-copies maps and slices
func clone(v interface{}) interface{} {
	switch t := v.(type) {
	case repository.Document:
		return clone(map[string]interface{}(t))
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = clone(e)
		}
		return m
	case []interface{}:
		a := make([]interface{}, len(t))
		for i, e := range t {
			a[i] = clone(e)
		}
		return a
	default:
		return v
	}
}
