package queryplan

import (
	"errors"
	"testing"

	"github.com/rpattn/querygate/internal/domain"
)

func TestResolve_DirectField(t *testing.T) {
	r := NewResolver(testCatalog())

	meta, err := r.Resolve("orders", "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Type != domain.FieldTypeString {
		t.Fatalf("expected string field, got %s", meta.Type)
	}
}

func TestResolve_RelationTraversal(t *testing.T) {
	r := NewResolver(testCatalog())

	meta, err := r.Resolve("orders", "customer.name")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Name != "name" {
		t.Fatalf("expected terminal field name, got %q", meta.Name)
	}
}

func TestResolve_UnknownField(t *testing.T) {
	r := NewResolver(testCatalog())

	if _, err := r.Resolve("orders", "nonexistent"); !errors.Is(err, domain.ErrUnknownEntityOrField) {
		t.Fatalf("expected ErrUnknownEntityOrField, got %v", err)
	}
	if _, err := r.Resolve("orders", "customer.nope"); !errors.Is(err, domain.ErrUnknownEntityOrField) {
		t.Fatalf("expected ErrUnknownEntityOrField for bad terminal, got %v", err)
	}
}

func TestResolve_NonRelationMidPath(t *testing.T) {
	r := NewResolver(testCatalog())

	if _, err := r.Resolve("orders", "status.name"); !errors.Is(err, domain.ErrDisallowedOperation) {
		t.Fatalf("expected ErrDisallowedOperation, got %v", err)
	}
}

func TestResolve_DepthLimit(t *testing.T) {
	r := NewResolver(testCatalog())

	// parent chains are legal up to the cap, one past it is rejected.
	if _, err := r.Resolve("customers", "parent.parent.parent.parent.name"); err != nil {
		t.Fatalf("expected depth 5 path to resolve, got %v", err)
	}
	if _, err := r.Resolve("customers", "parent.parent.parent.parent.parent.name"); !errors.Is(err, domain.ErrDisallowedOperation) {
		t.Fatalf("expected ErrDisallowedOperation for depth 6, got %v", err)
	}
}

func TestResolve_SyntheticID(t *testing.T) {
	r := NewResolver(testCatalog())

	meta, err := r.Resolve("orders", "customer.id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !meta.Stored {
		t.Fatalf("expected synthetic id field to be stored")
	}
}
