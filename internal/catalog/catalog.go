// Package catalog exposes the entity/field metadata the gateway validates
// plans against. The gateway only ever consumes the Catalog interface; the
// static implementation is loaded from the entity definition repository at
// boot and shared read-only across requests.
package catalog

import (
	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/domain"
)

// Catalog answers existence, permission and field metadata questions about
// entities. Implementations must be safe for concurrent use.
type Catalog interface {
	EntityExists(name string) bool
	CanRead(id auth.Identity, entity string) bool
	Definition(name string) (domain.EntityDefinition, bool)
	ResolveField(entity, name string) (domain.FieldMetadata, bool)
	Entities() []string
}

// Static is an immutable in-memory catalog built from a list of entity
// definitions.
type Static struct {
	defs  map[string]domain.EntityDefinition
	order []string
}

// NewStatic builds a catalog from entity definitions. Later duplicates win.
func NewStatic(defs []domain.EntityDefinition) *Static {
	c := &Static{defs: make(map[string]domain.EntityDefinition, len(defs))}
	for _, def := range defs {
		if _, seen := c.defs[def.Name]; !seen {
			c.order = append(c.order, def.Name)
		}
		c.defs[def.Name] = def
	}
	return c
}

// EntityExists reports whether the entity is known to the catalog.
func (c *Static) EntityExists(name string) bool {
	_, ok := c.defs[name]
	return ok
}

// CanRead reports whether the identity may read the entity.
func (c *Static) CanRead(id auth.Identity, entity string) bool {
	def, ok := c.defs[entity]
	if !ok {
		return false
	}
	return def.ReadableBy(id.Roles)
}

// Definition returns the full entity definition.
func (c *Static) Definition(name string) (domain.EntityDefinition, bool) {
	def, ok := c.defs[name]
	return def, ok
}

// ResolveField returns metadata for a directly owned field. The synthetic
// "id" field exists on every entity and is always stored.
func (c *Static) ResolveField(entity, name string) (domain.FieldMetadata, bool) {
	def, ok := c.defs[entity]
	if !ok {
		return domain.FieldMetadata{}, false
	}
	if name == "id" {
		return domain.FieldMetadata{Name: "id", Type: domain.FieldTypeString, Stored: true}, true
	}
	return def.Field(name)
}

// Entities returns entity names in registration order.
func (c *Static) Entities() []string {
	return append([]string(nil), c.order...)
}
