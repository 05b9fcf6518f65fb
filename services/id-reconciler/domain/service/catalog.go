package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/entity"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/repository"
)

// Decrypter reverses field-level encryption, returning its input unchanged
// when the value is not a ciphertext
type Decrypter interface {
	Decrypt(token string) string
}

// Projection is the minimal view of an entity kept in the catalog
type Projection struct {
	InternalID  interface{} `json:"-"`
	InternalHex string      `json:"internal_id"`
	StringID    string      `json:"id"`
	DisplayName string      `json:"name,omitempty"`
}

// EntityCatalog indexes one entity type by string id and by internal id
type EntityCatalog struct {
	Type entity.EntityType

	byStringID map[string]Projection
	byInternal map[string]string

	// Entities without a usable string id
	Skipped int64
	// Entities sharing a string id with an earlier one
	Duplicates int64
	// Largest all-digit string id seen, used for backfill
	MaxNumericID int64
}

func newEntityCatalog(t entity.EntityType) *EntityCatalog {
	return &EntityCatalog{
		Type:       t,
		byStringID: make(map[string]Projection),
		byInternal: make(map[string]string),
	}
}

// Add indexes a projection. It reports false when the string id is taken.
func (c *EntityCatalog) Add(p Projection) bool {
	if p.InternalHex != "" {
		if _, ok := c.byInternal[p.InternalHex]; !ok {
			c.byInternal[p.InternalHex] = p.StringID
		}
	}

	if _, exists := c.byStringID[p.StringID]; exists {
		c.Duplicates++
		return false
	}
	c.byStringID[p.StringID] = p

	if n, ok := numericID(p.StringID); ok && n > c.MaxNumericID {
		c.MaxNumericID = n
	}
	return true
}

// Contains reports whether sid is a known string id
func (c *EntityCatalog) Contains(sid string) bool {
	_, ok := c.byStringID[sid]
	return ok
}

// Lookup returns the projection for a string id
func (c *EntityCatalog) Lookup(sid string) (Projection, bool) {
	p, ok := c.byStringID[sid]
	return p, ok
}

// ResolveInternal maps an internal id (hex form) to its string id
func (c *EntityCatalog) ResolveInternal(hex string) (string, bool) {
	sid, ok := c.byInternal[strings.ToLower(hex)]
	return sid, ok
}

// Len returns the number of indexed string ids
func (c *EntityCatalog) Len() int {
	return len(c.byStringID)
}

// NextID reserves the next free numeric string id, starting at base for
// an empty type
func (c *EntityCatalog) NextID(base int64) string {
	next := c.MaxNumericID + 1
	if next < base {
		next = base
	}
	c.MaxNumericID = next
	return strconv.FormatInt(next, 10)
}

func numericID(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

// Catalog holds the entity catalogs of one run
type Catalog struct {
	entities map[entity.EntityType]*EntityCatalog
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{entities: make(map[entity.EntityType]*EntityCatalog)}
}

// Entity returns the catalog of one type, creating an empty one if needed
func (c *Catalog) Entity(t entity.EntityType) *EntityCatalog {
	ec, ok := c.entities[t]
	if !ok {
		ec = newEntityCatalog(t)
		c.entities[t] = ec
	}
	return ec
}

// Contains reports whether sid is a valid string id of type t
func (c *Catalog) Contains(t entity.EntityType, sid string) bool {
	return c.Entity(t).Contains(sid)
}

// Resolve maps an internal id of type t to its string id
func (c *Catalog) Resolve(t entity.EntityType, hex string) (string, bool) {
	return c.Entity(t).ResolveInternal(hex)
}

// CatalogLoader builds catalogs from the entity collections
type CatalogLoader struct {
	reader    repository.DocumentReader
	codec     repository.IDCodec
	schema    *entity.Schema
	decrypter Decrypter
	logger    *zap.Logger
}

// NewCatalogLoader creates a new catalog loader. decrypter may be nil.
func NewCatalogLoader(reader repository.DocumentReader, codec repository.IDCodec, schema *entity.Schema, decrypter Decrypter, logger *zap.Logger) *CatalogLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogLoader{
		reader:    reader,
		codec:     codec,
		schema:    schema,
		decrypter: decrypter,
		logger:    logger,
	}
}

// Load reads the requested entity types, or all declared types when none
// are given. Store errors are returned unchanged in meaning and are fatal
// to the caller.
func (l *CatalogLoader) Load(ctx context.Context, types ...entity.EntityType) (*Catalog, error) {
	if len(types) == 0 {
		types = l.schema.EntityTypes()
	}

	catalog := NewCatalog()
	for _, t := range types {
		def, ok := l.schema.Entity(t)
		if !ok {
			return nil, fmt.Errorf("unknown entity type %q", t)
		}

		ec := catalog.Entity(t)
		err := l.reader.Scan(ctx, def.Collection, nil, func(doc repository.Document) error {
			l.index(ec, def, doc)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load %s catalog: %w", t, err)
		}

		if ec.Skipped > 0 || ec.Duplicates > 0 {
			l.logger.Warn("Entities without a usable string id",
				zap.String("entity", string(t)),
				zap.Int64("skipped", ec.Skipped),
				zap.Int64("duplicate_ids", ec.Duplicates))
		}

		l.logger.Debug("Catalog loaded",
			zap.String("entity", string(t)),
			zap.String("collection", def.Collection),
			zap.Int("entities", ec.Len()))
	}

	return catalog, nil
}

func (l *CatalogLoader) index(ec *EntityCatalog, def entity.EntityDef, doc repository.Document) {
	sid, ok := doc[def.IDField].(string)
	if !ok || sid == "" {
		ec.Skipped++
		return
	}

	p := Projection{
		InternalID:  doc.ID(),
		StringID:    sid,
		DisplayName: l.displayName(def, doc),
	}
	if hex, ok := l.codec.Hex(doc.ID()); ok {
		p.InternalHex = hex
	}

	ec.Add(p)
}

func (l *CatalogLoader) displayName(def entity.EntityDef, doc repository.Document) string {
	parts := make([]string, 0, len(def.NameFields))
	for _, f := range def.NameFields {
		v, ok := doc[f].(string)
		if !ok || v == "" {
			continue
		}
		if def.IsEncrypted(f) && l.decrypter != nil {
			v = l.decrypter.Decrypt(v)
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, " ")
}
