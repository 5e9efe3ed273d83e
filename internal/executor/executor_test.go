package executor

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/catalog"
	"github.com/rpattn/querygate/internal/domain"
	"github.com/rpattn/querygate/internal/store"
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
				{Name: "customer", Type: domain.FieldTypeRelation, Stored: true, RelationTarget: "customers"},
			},
		},
		{
			Name:         "customers",
			DisplayField: "name",
			Fields: []domain.FieldMetadata{
				{Name: "name", Type: domain.FieldTypeString, Stored: true},
				{Name: "region", Type: domain.FieldTypeRelation, Stored: true, RelationTarget: "regions"},
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

func seed(t *testing.T) (*Executor, auth.Identity) {
	t.Helper()
	cat := testCatalog()
	st := store.NewMemory(cat)
	id := auth.Identity{UserID: uuid.New(), OrganizationID: uuid.New()}

	region := domain.Record{ID: uuid.New(), Values: map[string]any{"name": "EMEA"}}
	st.Add("regions", id.OrganizationID, region)

	acme := domain.Record{ID: uuid.New(), Values: map[string]any{"name": "Acme", "region": region.ID.String()}}
	globex := domain.Record{ID: uuid.New(), Values: map[string]any{"name": "Globex", "region": region.ID.String()}}
	st.Add("customers", id.OrganizationID, acme)
	st.Add("customers", id.OrganizationID, globex)

	orders := []map[string]any{
		{"reference": "ORD-1", "status": "confirmed", "amount": 10.0, "customer": acme.ID.String()},
		{"reference": "ORD-2", "status": "confirmed", "amount": 20.0, "customer": acme.ID.String()},
		{"reference": "ORD-3", "status": "confirmed", "amount": 30.0, "customer": globex.ID.String()},
		{"reference": "ORD-4", "status": "done", "amount": 40.0, "customer": globex.ID.String()},
		{"reference": "ORD-5", "status": "done", "amount": 50.0, "customer": globex.ID.String()},
	}
	for _, values := range orders {
		st.Add("orders", id.OrganizationID, domain.Record{ID: uuid.New(), Values: values})
	}
	return New(st, cat), id
}

func TestExecute_GroupedCounts(t *testing.T) {
	exec, id := seed(t)

	plan := domain.QueryPlan{
		TargetEntity: "orders",
		GroupBy:      []domain.GroupByDescriptor{{Field: "status", Alias: "status"}},
		Aggregations: []domain.AggregationDescriptor{{Field: "id", Operator: domain.AggregateCount, Alias: "count"}},
	}
	rows, err := exec.Execute(context.Background(), id, plan)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, map[string]any{"status": "confirmed", "count": int64(3)}, rows[0])
	require.Equal(t, map[string]any{"status": "done", "count": int64(2)}, rows[1])
}

func TestExecute_GroupKeyResolvesDisplayLabel(t *testing.T) {
	exec, id := seed(t)

	plan := domain.QueryPlan{
		TargetEntity: "orders",
		GroupBy:      []domain.GroupByDescriptor{{Field: "customer", Alias: "customer"}},
		Aggregations: []domain.AggregationDescriptor{{Field: "amount", Operator: domain.AggregateSum, Alias: "amount_sum"}},
	}
	rows, err := exec.Execute(context.Background(), id, plan)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	totals := map[string]any{}
	for _, row := range rows {
		totals[row["customer"].(string)] = row["amount_sum"]
	}
	require.EqualValues(t, 30.0, totals["Acme"])
	require.EqualValues(t, 120.0, totals["Globex"])
}

func TestExecute_RelationHop(t *testing.T) {
	exec, id := seed(t)

	plan := domain.QueryPlan{
		TargetEntity: "orders",
		Fields: []domain.FieldDescriptor{
			{Name: "reference", Alias: "reference"},
			{Name: "customer.name", Alias: "customer_name"},
			{Name: "customer.region.name", Alias: "region"},
		},
		OrderBy:    []domain.OrderTerm{{Field: "reference", Direction: "asc"}},
		Pagination: domain.PaginationState{Limit: 10},
	}
	rows, err := exec.Execute(context.Background(), id, plan)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	require.Equal(t, "ORD-1", rows[0]["reference"])
	require.Equal(t, "Acme", rows[0]["customer_name"])
	require.Equal(t, "EMEA", rows[0]["region"])
	require.Equal(t, "Globex", rows[4]["customer_name"])
}

func TestExecute_TerminalRelationExtract(t *testing.T) {
	exec, id := seed(t)

	plan := domain.QueryPlan{
		TargetEntity: "orders",
		Fields: []domain.FieldDescriptor{
			{Name: "customer", Alias: "customer_raw"},
			{Name: "customer", Alias: "customer_label", Extract: true},
		},
		OrderBy:    []domain.OrderTerm{{Field: "reference", Direction: "asc"}},
		Pagination: domain.PaginationState{Limit: 1},
	}
	rows, err := exec.Execute(context.Background(), id, plan)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Acme", rows[0]["customer_label"])
	require.NotEqual(t, rows[0]["customer_label"], rows[0]["customer_raw"], "raw value stays the record id")
}

func TestExecute_CountOnly(t *testing.T) {
	exec, id := seed(t)

	plan := domain.QueryPlan{TargetEntity: "orders"}
	plan.Options.CountOnly = true

	rows, err := exec.Execute(context.Background(), id, plan)
	require.NoError(t, err)
	require.Equal(t, []map[string]any{{"count": int64(5)}}, rows)
}
