package entity

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agrawalpuran/uds-refresh-sub000/shared/common"
)

//go:embed schema.yaml
var defaultSchemaYAML []byte

// EntityType names a kind of business entity carrying a string id
type EntityType string

const (
	EntityCompany  EntityType = "Company"
	EntityEmployee EntityType = "Employee"
	EntityVendor   EntityType = "Vendor"
	EntityProduct  EntityType = "Product"
	EntityOrder    EntityType = "Order"
	EntityLocation EntityType = "Location"
	EntityBranch   EntityType = "Branch"
)

// CollectionKind distinguishes entity collections from join collections
type CollectionKind string

const (
	KindEntity       CollectionKind = "entity"
	KindRelationship CollectionKind = "relationship"
)

// EntityDef describes where an entity type lives and how it is identified
type EntityDef struct {
	Type            EntityType `yaml:"type" json:"type"`
	Collection      string     `yaml:"collection" json:"collection"`
	IDField         string     `yaml:"id_field" json:"id_field"`
	NameFields      []string   `yaml:"name_fields" json:"name_fields,omitempty"`
	EncryptedFields []string   `yaml:"encrypted_fields" json:"encrypted_fields,omitempty"`
	IDBase          int64      `yaml:"id_base" json:"id_base"`
}

// IsEncrypted reports whether field is stored encrypted
func (d EntityDef) IsEncrypted(field string) bool {
	for _, f := range d.EncryptedFields {
		if f == field {
			return true
		}
	}
	return false
}

// ReferenceField is one foreign-key-like field holding a target's string id
type ReferenceField struct {
	Path     string     `yaml:"path" json:"path"`
	Target   EntityType `yaml:"target" json:"target"`
	Optional bool       `yaml:"optional" json:"optional"`
}

// CollectionDef lists the reference fields of one collection
type CollectionDef struct {
	Name           string           `yaml:"name" json:"name"`
	Kind           CollectionKind   `yaml:"kind" json:"kind"`
	Entity         EntityType       `yaml:"entity" json:"entity,omitempty"`
	References     []ReferenceField `yaml:"references" json:"references,omitempty"`
	UniqueKey      []string         `yaml:"unique_key" json:"unique_key,omitempty"`
	MergeFields    []string         `yaml:"merge_fields" json:"merge_fields,omitempty"`
	UpdatedAtField string           `yaml:"updated_at_field" json:"updated_at_field,omitempty"`
}

// IsRelationship reports whether the collection holds join rows
func (c CollectionDef) IsRelationship() bool {
	return c.Kind == KindRelationship
}

// IsTwoSided reports whether rows link two different entity types
func (c CollectionDef) IsTwoSided() bool {
	if !c.IsRelationship() {
		return false
	}
	targets := make(map[EntityType]struct{})
	for _, ref := range c.References {
		targets[ref.Target] = struct{}{}
	}
	return len(targets) >= 2
}

// Reference returns the reference field declared at path
func (c CollectionDef) Reference(path string) (ReferenceField, bool) {
	for _, ref := range c.References {
		if ref.Path == path {
			return ref, true
		}
	}
	return ReferenceField{}, false
}

// Schema is the declarative relationship table
type Schema struct {
	Entities    []EntityDef     `yaml:"entities" json:"entities"`
	Collections []CollectionDef `yaml:"collections" json:"collections"`
}

// DefaultSchema returns the built-in relationship table
func DefaultSchema() (*Schema, error) {
	return ParseSchema(defaultSchemaYAML)
}

// LoadSchema reads a relationship table from a YAML file; an empty path
// yields the built-in table
func LoadSchema(path string) (*Schema, error) {
	if path == "" {
		return DefaultSchema()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	return ParseSchema(data)
}

// ParseSchema decodes and validates a relationship table
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Validate checks internal consistency of the table
func (s *Schema) Validate() error {
	var problems []string

	entities := make(map[EntityType]bool)
	for _, e := range s.Entities {
		if e.Type == "" || e.Collection == "" || e.IDField == "" {
			problems = append(problems, fmt.Sprintf("entity %q: type, collection and id_field are required", e.Type))
			continue
		}
		if entities[e.Type] {
			problems = append(problems, fmt.Sprintf("entity %q declared twice", e.Type))
		}
		entities[e.Type] = true
	}

	names := make(map[string]bool)
	for _, c := range s.Collections {
		if c.Name == "" {
			problems = append(problems, "collection without name")
			continue
		}
		if names[c.Name] {
			problems = append(problems, fmt.Sprintf("collection %q declared twice", c.Name))
		}
		names[c.Name] = true

		switch c.Kind {
		case KindEntity:
			if c.Entity != "" && !entities[c.Entity] {
				problems = append(problems, fmt.Sprintf("collection %q: unknown entity %q", c.Name, c.Entity))
			}
		case KindRelationship:
		default:
			problems = append(problems, fmt.Sprintf("collection %q: unknown kind %q", c.Name, c.Kind))
		}

		for _, ref := range c.References {
			if ref.Path == "" {
				problems = append(problems, fmt.Sprintf("collection %q: reference without path", c.Name))
			}
			if !entities[ref.Target] {
				problems = append(problems, fmt.Sprintf("collection %q: field %q targets unknown entity %q", c.Name, ref.Path, ref.Target))
			}
		}

		for _, k := range c.UniqueKey {
			if _, ok := c.Reference(k); !ok {
				problems = append(problems, fmt.Sprintf("collection %q: unique key field %q is not a reference", c.Name, k))
			}
		}

		if len(c.MergeFields) > 0 && len(c.UniqueKey) == 0 {
			problems = append(problems, fmt.Sprintf("collection %q: merge_fields require unique_key", c.Name))
		}
	}

	if len(problems) > 0 {
		return common.ErrValidationFailed(strings.Join(problems, "; "))
	}

	return nil
}

// Entity returns the definition of an entity type
func (s *Schema) Entity(t EntityType) (EntityDef, bool) {
	for _, e := range s.Entities {
		if e.Type == t {
			return e, true
		}
	}
	return EntityDef{}, false
}

// EntityForCollection returns the entity stored in a collection, if any
func (s *Schema) EntityForCollection(name string) (EntityDef, bool) {
	for _, e := range s.Entities {
		if e.Collection == name {
			return e, true
		}
	}
	return EntityDef{}, false
}

// Collection returns the definition of a collection
func (s *Schema) Collection(name string) (CollectionDef, bool) {
	for _, c := range s.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return CollectionDef{}, false
}

// EntityTypes returns all declared entity types in table order
func (s *Schema) EntityTypes() []EntityType {
	types := make([]EntityType, 0, len(s.Entities))
	for _, e := range s.Entities {
		types = append(types, e.Type)
	}
	return types
}

// Select returns the named collections, or all when names is empty. Entity
// collections come first so backfilled ids exist before references to them
// are resolved.
func (s *Schema) Select(names ...string) ([]CollectionDef, error) {
	var selected []CollectionDef
	if len(names) == 0 {
		selected = append(selected, s.Collections...)
	} else {
		for _, n := range names {
			c, ok := s.Collection(n)
			if !ok {
				return nil, common.NewAppErrorWithDetails(common.ErrCodeInvalidInput, "unknown collection", n)
			}
			selected = append(selected, c)
		}
	}

	ordered := make([]CollectionDef, 0, len(selected))
	for _, c := range selected {
		if c.Kind == KindEntity {
			ordered = append(ordered, c)
		}
	}
	for _, c := range selected {
		if c.Kind != KindEntity {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}
