package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/catalog"
	"github.com/rpattn/querygate/internal/domain"
)

func testCatalog() *catalog.Static {
	return catalog.NewStatic([]domain.EntityDefinition{
		{
			Name:         "orders",
			DisplayField: "reference",
			Fields: []domain.FieldMetadata{
				{Name: "reference", Type: domain.FieldTypeString, Stored: true},
				{Name: "status", Type: domain.FieldTypeString, Stored: true},
				{Name: "amount", Type: domain.FieldTypeFloat, Stored: true},
				{Name: "created_at", Type: domain.FieldTypeDatetime, Stored: true},
				{Name: "customer", Type: domain.FieldTypeRelation, Stored: true, RelationTarget: "customers"},
			},
		},
		{
			Name:         "customers",
			DisplayField: "name",
			Fields: []domain.FieldMetadata{
				{Name: "name", Type: domain.FieldTypeString, Stored: true},
			},
		},
		{
			Name:         "regions",
			DisplayField: "name",
			Fields: []domain.FieldMetadata{
				{Name: "name", Type: domain.FieldTypeString, Stored: true},
			},
		},
	})
}

type fixture struct {
	store *Memory
	id    auth.Identity
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := NewMemory(testCatalog())
	id := auth.Identity{UserID: uuid.New(), OrganizationID: uuid.New()}

	customer := domain.Record{ID: uuid.New(), Values: map[string]any{"name": "Acme"}}
	st.Add("customers", id.OrganizationID, customer)

	rows := []map[string]any{
		{"reference": "ORD-1", "status": "confirmed", "amount": 10.0, "created_at": "2026-01-05", "customer": customer.ID.String()},
		{"reference": "ORD-2", "status": "confirmed", "amount": 20.0, "created_at": "2026-01-15", "customer": customer.ID.String()},
		{"reference": "ORD-3", "status": "confirmed", "amount": 30.0, "created_at": "2026-02-01", "customer": customer.ID.String()},
		{"reference": "ORD-4", "status": "done", "amount": 40.0, "created_at": "2026-02-10", "customer": customer.ID.String()},
		{"reference": "ORD-5", "status": "done", "amount": 50.0, "created_at": "2026-02-20", "customer": customer.ID.String()},
	}
	for _, values := range rows {
		st.Add("orders", id.OrganizationID, domain.Record{ID: uuid.New(), Values: values})
	}

	// Another org's record must never be visible.
	st.Add("orders", uuid.New(), domain.Record{ID: uuid.New(), Values: map[string]any{"reference": "OTHER", "status": "confirmed"}})
	return fixture{store: st, id: id}
}

func listPlan(filter ...domain.FilterTerm) domain.QueryPlan {
	return domain.QueryPlan{
		TargetEntity: "orders",
		Filter:       filter,
		Pagination:   domain.PaginationState{Mode: domain.PaginationModeOffset, Limit: 100},
	}
}

func TestMemory_OrganizationScoping(t *testing.T) {
	f := newFixture(t)

	count, err := f.store.Count(context.Background(), f.id, listPlan())
	require.NoError(t, err)
	require.EqualValues(t, 5, count)
}

func TestMemory_FilterOperators(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		filter []domain.FilterTerm
		want   int64
	}{
		{"eq", []domain.FilterTerm{domain.PredicateTerm("status", domain.OpEq, "done")}, 2},
		{"neq", []domain.FilterTerm{domain.PredicateTerm("status", domain.OpNeq, "done")}, 3},
		{"gt", []domain.FilterTerm{domain.PredicateTerm("amount", domain.OpGt, 30)}, 2},
		{"lte", []domain.FilterTerm{domain.PredicateTerm("amount", domain.OpLte, 30)}, 3},
		{"ilike", []domain.FilterTerm{domain.PredicateTerm("reference", domain.OpILike, "ord")}, 5},
		{"eqlike", []domain.FilterTerm{domain.PredicateTerm("reference", domain.OpEqLike, "ORD-_")}, 5},
		{"in", []domain.FilterTerm{domain.PredicateTerm("status", domain.OpIn, []any{"done", "draft"})}, 2},
		{"not in", []domain.FilterTerm{domain.PredicateTerm("status", domain.OpNotIn, []any{"done"})}, 3},
		{"or", []domain.FilterTerm{
			domain.ConnectiveTerm(domain.ConnectiveOr),
			domain.PredicateTerm("reference", domain.OpEq, "ORD-1"),
			domain.PredicateTerm("reference", domain.OpEq, "ORD-5"),
		}, 2},
		{"not", []domain.FilterTerm{
			domain.ConnectiveTerm(domain.ConnectiveNot),
			domain.PredicateTerm("status", domain.OpEq, "done"),
		}, 3},
		{"implicit and", []domain.FilterTerm{
			domain.PredicateTerm("status", domain.OpEq, "confirmed"),
			domain.PredicateTerm("amount", domain.OpGte, 20),
		}, 2},
		{"relation path", []domain.FilterTerm{domain.PredicateTerm("customer.name", domain.OpEq, "Acme")}, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			count, err := f.store.Count(ctx, f.id, listPlan(tc.filter...))
			require.NoError(t, err)
			require.EqualValues(t, tc.want, count)
		})
	}
}

func TestMemory_ChildOf(t *testing.T) {
	st := NewMemory(testCatalog())
	id := auth.Identity{UserID: uuid.New(), OrganizationID: uuid.New()}

	root := domain.Record{ID: uuid.New(), Path: "emea", Values: map[string]any{"name": "EMEA"}}
	child := domain.Record{ID: uuid.New(), Path: "emea.uk", Values: map[string]any{"name": "UK"}}
	other := domain.Record{ID: uuid.New(), Path: "apac", Values: map[string]any{"name": "APAC"}}
	st.Add("regions", id.OrganizationID, root)
	st.Add("regions", id.OrganizationID, child)
	st.Add("regions", id.OrganizationID, other)

	plan := domain.QueryPlan{
		TargetEntity: "regions",
		Filter:       []domain.FilterTerm{domain.PredicateTerm("id", domain.OpChildOf, root.ID.String())},
		Pagination:   domain.PaginationState{Limit: 100},
	}
	count, err := st.Count(context.Background(), id, plan)
	require.NoError(t, err)
	require.EqualValues(t, 2, count, "child_of includes the anchor and its subtree")

	plan.Filter = []domain.FilterTerm{domain.PredicateTerm("id", domain.OpParentOf, child.ID.String())}
	count, err = st.Count(context.Background(), id, plan)
	require.NoError(t, err)
	require.EqualValues(t, 2, count, "parent_of includes the anchor and its ancestors")
}

func TestMemory_ListOrderAndPaging(t *testing.T) {
	f := newFixture(t)

	plan := listPlan()
	plan.OrderBy = []domain.OrderTerm{{Field: "amount", Direction: "desc"}}
	plan.Pagination = domain.PaginationState{Limit: 2, Offset: 1}

	records, err := f.store.List(context.Background(), f.id, plan)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "ORD-4", records[0].Values["reference"])
	require.Equal(t, "ORD-3", records[1].Values["reference"])
}

func TestMemory_AggregateGrouped(t *testing.T) {
	f := newFixture(t)

	plan := domain.QueryPlan{
		TargetEntity: "orders",
		GroupBy:      []domain.GroupByDescriptor{{Field: "status", Alias: "status"}},
		Aggregations: []domain.AggregationDescriptor{
			{Field: "id", Operator: domain.AggregateCount, Alias: "count"},
			{Field: "amount", Operator: domain.AggregateSum, Alias: "amount_sum"},
		},
	}
	rows, err := f.store.Aggregate(context.Background(), f.id, plan)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byStatus := map[string]map[string]any{}
	for _, row := range rows {
		byStatus[row["status"].(string)] = row
	}
	require.EqualValues(t, 3, byStatus["confirmed"][CountKey])
	require.EqualValues(t, 60.0, byStatus["confirmed"][AggregateKey("amount", domain.AggregateSum)])
	require.EqualValues(t, 2, byStatus["done"][CountKey])
	require.EqualValues(t, 90.0, byStatus["done"][AggregateKey("amount", domain.AggregateSum)])
}

func TestMemory_AggregateMonthGranularity(t *testing.T) {
	f := newFixture(t)

	plan := domain.QueryPlan{
		TargetEntity: "orders",
		GroupBy:      []domain.GroupByDescriptor{{Field: "created_at", Granularity: domain.GranularityMonth, Alias: "month"}},
		Aggregations: []domain.AggregationDescriptor{{Field: "id", Operator: domain.AggregateCount, Alias: "count"}},
	}
	rows, err := f.store.Aggregate(context.Background(), f.id, plan)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "2026-01-01", rows[0]["created_at"])
	require.EqualValues(t, 2, rows[0][CountKey])
	require.Equal(t, "2026-02-01", rows[1]["created_at"])
	require.EqualValues(t, 3, rows[1][CountKey])
}

func TestParseFilterTree_Malformed(t *testing.T) {
	_, err := parseFilterTree([]domain.FilterTerm{domain.ConnectiveTerm(domain.ConnectiveAnd)})
	require.ErrorIs(t, err, domain.ErrMalformedPlan)
}
