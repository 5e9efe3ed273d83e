// Package queryplan compiles loosely typed caller plans into canonical,
// validated query plans: field path resolution, normalization, the safety
// validator, cost estimation, cursor tokens and cache fingerprints.
package queryplan

import (
	"fmt"
	"strings"

	"github.com/rpattn/querygate/internal/catalog"
	"github.com/rpattn/querygate/internal/domain"
)

// Resolver walks dotted field paths through to-one relations. It is the
// single source of truth for "does this path make sense" and is consumed by
// both the normalizer and the validator so the two can never disagree.
type Resolver struct {
	catalog catalog.Catalog
}

// NewResolver builds a resolver over the given catalog.
func NewResolver(cat catalog.Catalog) *Resolver {
	return &Resolver{catalog: cat}
}

// Resolve walks each segment of path starting at entity. Every non-terminal
// segment must be a stored to-one relation; the terminal segment may be any
// field. Traversal depth is capped at domain.MaxTraversalDepth segments.
func (r *Resolver) Resolve(entity, path string) (domain.FieldMetadata, error) {
	parts := strings.Split(path, ".")
	if path == "" || len(parts) == 0 {
		return domain.FieldMetadata{}, fmt.Errorf("%w: empty field path", domain.ErrUnknownEntityOrField)
	}
	if len(parts) > domain.MaxTraversalDepth {
		return domain.FieldMetadata{}, fmt.Errorf("%w: field path depth exceeded for %s", domain.ErrDisallowedOperation, path)
	}
	current := entity
	var field domain.FieldMetadata
	for idx, part := range parts {
		meta, ok := r.catalog.ResolveField(current, part)
		if !ok {
			return domain.FieldMetadata{}, fmt.Errorf("%w: field %s not found on %s", domain.ErrUnknownEntityOrField, path, current)
		}
		field = meta
		if idx < len(parts)-1 {
			if meta.Type != domain.FieldTypeRelation || meta.RelationTarget == "" {
				return domain.FieldMetadata{}, fmt.Errorf("%w: only to-one relation traversal is allowed for %s", domain.ErrDisallowedOperation, path)
			}
			current = meta.RelationTarget
		}
	}
	return field, nil
}

// Depth returns the traversal depth of a path in segments.
func Depth(path string) int {
	if path == "" {
		return 0
	}
	return len(strings.Split(path, "."))
}
