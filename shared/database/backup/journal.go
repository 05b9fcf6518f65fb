package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Operation names the kind of write a journal entry precedes
type Operation string

const (
	OpRewrite  Operation = "rewrite"
	OpBackfill Operation = "backfill"
	OpMerge    Operation = "merge"
	OpDelete   Operation = "delete"
)

// Entry is the before-image of one document, captured prior to a write
type Entry struct {
	RunID      string    `msgpack:"run_id"`
	At         time.Time `msgpack:"at"`
	Collection string    `msgpack:"collection"`
	DocumentID string    `msgpack:"document_id"`
	Operation  Operation `msgpack:"operation"`
	// Before is the canonical extended JSON of the document
	Before string `msgpack:"before"`
}

// Journal appends before-images to an lz4-compressed msgpack stream.
// A nil *Journal discards everything.
type Journal struct {
	mu      sync.Mutex
	runID   string
	file    *os.File
	zw      *lz4.Writer
	enc     *msgpack.Encoder
	logger  *zap.Logger
	entries int
}

// Open creates (or truncates) the journal file at path
func Open(path, runID string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	return newJournal(file, runID, logger), nil
}

func newJournal(file *os.File, runID string, logger *zap.Logger) *Journal {
	zw := lz4.NewWriter(file)
	return &Journal{
		runID:  runID,
		file:   file,
		zw:     zw,
		enc:    msgpack.NewEncoder(zw),
		logger: logger,
	}
}

// Record journals the current state of doc before it is modified
func (j *Journal) Record(collection, documentID string, op Operation, doc interface{}) error {
	if j == nil {
		return nil
	}

	before, err := bson.MarshalExtJSON(doc, true, false)
	if err != nil {
		return fmt.Errorf("failed to encode before-image: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := Entry{
		RunID:      j.runID,
		At:         time.Now().UTC(),
		Collection: collection,
		DocumentID: documentID,
		Operation:  op,
		Before:     string(before),
	}

	if err := j.enc.Encode(&entry); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}

	// Entries must reach disk before the write they precede
	if err := j.zw.Flush(); err != nil {
		return fmt.Errorf("failed to flush journal: %w", err)
	}

	j.entries++
	return nil
}

// Entries returns the number of entries written so far
func (j *Journal) Entries() int {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.entries
}

// Close finishes the lz4 frame and closes the file
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.zw.Close(); err != nil {
		j.file.Close()
		return fmt.Errorf("failed to close journal stream: %w", err)
	}

	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal file: %w", err)
	}

	j.logger.Info("Journal closed",
		zap.String("path", j.file.Name()),
		zap.Int("entries", j.entries))

	return nil
}

// ReadAll decodes every entry from a journal stream
func ReadAll(r io.Reader) ([]Entry, error) {
	dec := msgpack.NewDecoder(lz4.NewReader(r))

	var entries []Entry
	for {
		var entry Entry
		err := dec.Decode(&entry)
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, fmt.Errorf("failed to decode journal entry: %w", err)
		}
		entries = append(entries, entry)
	}
}

// ReadFile decodes every entry from the journal at path
func ReadFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	return ReadAll(file)
}
