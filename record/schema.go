package record

import (
	"sort"
	"strings"
)

// =============================================================================
// FIELD TYPES
// =============================================================================

// FieldType is the declared type of a field, checked on every write.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeText     FieldType = "text"
	TypeNumber   FieldType = "number"
	TypeBoolean  FieldType = "boolean"
	TypeJSON     FieldType = "json"
	TypeDate     FieldType = "date"
	TypeDateTime FieldType = "datetime"
)

// Schema maps field names to their declared types.
type Schema map[string]FieldType

// =============================================================================
// COLLECTION
// =============================================================================

// Collection is a named group of same-shaped records.
// Records are stored one per key as "<name>:<id>".
type Collection struct {
	Name     string
	Singular string
	Fields   Schema
}

// PrimaryKey returns the id field name, "<singular>_id".
func (c Collection) PrimaryKey() string { return c.Singular + "_id" }

// Prefix returns the key prefix shared by every record of the collection.
func (c Collection) Prefix() string { return c.Name + ":" }

// Key returns the storage key for id.
func (c Collection) Key(id string) string { return c.Prefix() + id }

// IDFromKey strips the collection prefix. ok is false for foreign keys.
func (c Collection) IDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, c.Prefix()) {
		return "", false
	}
	return key[len(c.Prefix()):], true
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is the static set of collections known to a Store.
// It is built once and never mutated, so it needs no locking.
type Registry struct {
	collections map[string]Collection
}

// NewRegistry builds a registry. A later collection with the same name replaces
// an earlier one.
func NewRegistry(cols ...Collection) *Registry {
	r := &Registry{collections: make(map[string]Collection, len(cols))}
	for _, c := range cols {
		if c.Fields == nil {
			c.Fields = Schema{}
		}
		r.collections[c.Name] = c
	}
	return r
}

// Lookup returns the named collection or an *UnknownCollectionError.
func (r *Registry) Lookup(name string) (Collection, error) {
	c, ok := r.collections[name]
	if !ok {
		return Collection{}, &UnknownCollectionError{Collection: name}
	}
	return c, nil
}

// Names returns every registered collection name in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.collections))
	for n := range r.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
