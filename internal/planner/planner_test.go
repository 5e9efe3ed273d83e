package planner

import (
	"errors"
	"testing"

	"github.com/rpattn/querygate/internal/catalog"
	"github.com/rpattn/querygate/internal/domain"
)

func testCatalog() *catalog.Static {
	return catalog.NewStatic([]domain.EntityDefinition{
		{
			Name:         "orders",
			Label:        "Orders",
			DisplayField: "reference",
			Synonyms:     []string{"sales", "purchases"},
			Fields: []domain.FieldMetadata{
				{Name: "reference", Type: domain.FieldTypeString, Stored: true},
				{Name: "status", Type: domain.FieldTypeString, Stored: true},
				{Name: "created_at", Type: domain.FieldTypeDatetime, Stored: true},
			},
		},
		{
			Name:         "customers",
			Label:        "Customers",
			DisplayField: "name",
			Fields: []domain.FieldMetadata{
				{Name: "name", Type: domain.FieldTypeString, Stored: true},
			},
		},
	})
}

func TestDraft_CountIntent(t *testing.T) {
	p := New(testCatalog())

	raw, err := p.Draft(TierCheap, "how many orders are there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw["target_entity"] != "orders" {
		t.Fatalf("expected orders entity, got %v", raw["target_entity"])
	}
	options, ok := raw["options"].(map[string]any)
	if !ok || options["count_only"] != true {
		t.Fatalf("expected count_only plan, got %v", raw)
	}
}

func TestDraft_SynonymMatch(t *testing.T) {
	p := New(testCatalog())

	raw, err := p.Draft(TierCheap, "list recent sales")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw["target_entity"] != "orders" {
		t.Fatalf("expected synonym to map to orders, got %v", raw["target_entity"])
	}
}

func TestDraft_NoMatch(t *testing.T) {
	p := New(testCatalog())

	_, err := p.Draft(TierCheap, "what is the weather like today")
	if !errors.Is(err, domain.ErrUnknownEntityOrField) {
		t.Fatalf("expected ErrUnknownEntityOrField, got %v", err)
	}
}

func TestDraft_StandardAddsTimeFilter(t *testing.T) {
	p := New(testCatalog())

	raw, err := p.Draft(TierStandard, "orders from the last 7 days")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	filter, ok := raw["filter"].([]any)
	if !ok || len(filter) == 0 {
		t.Fatalf("expected a time filter, got %v", raw)
	}
	term, ok := filter[0].([]any)
	if !ok || term[0] != "created_at" || term[1] != ">=" {
		t.Fatalf("expected created_at range predicate, got %v", filter[0])
	}
}

func TestDraft_PremiumGroupsBy(t *testing.T) {
	p := New(testCatalog())

	raw, err := p.Draft(TierPremium, "count orders by status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	groups, ok := raw["group_by"].([]any)
	if !ok || len(groups) != 1 {
		t.Fatalf("expected one group_by, got %v", raw)
	}
	group := groups[0].(map[string]any)
	if group["field"] != "status" {
		t.Fatalf("expected group by status, got %v", group)
	}
	if _, ok := raw["aggregations"]; !ok {
		t.Fatalf("expected a count aggregation alongside group_by")
	}
}
