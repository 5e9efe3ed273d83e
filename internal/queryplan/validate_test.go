package queryplan

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/domain"
)

type stubProber struct {
	count int64
	err   error
}

func (s stubProber) Count(ctx context.Context, id auth.Identity, plan domain.QueryPlan) (int64, error) {
	return s.count, s.err
}

func newTestValidator(prober RowCountProber) *Validator {
	cat := testCatalog()
	return NewValidator(cat, NewResolver(cat), prober)
}

func hasErrorContaining(result domain.ValidationResult, fragment string) bool {
	for _, e := range result.Errors {
		if strings.Contains(e, fragment) {
			return true
		}
	}
	return false
}

func hasWarningContaining(result domain.ValidationResult, fragment string) bool {
	for _, w := range result.Warnings {
		if strings.Contains(w, fragment) {
			return true
		}
	}
	return false
}

func TestValidate_CleanPlanPasses(t *testing.T) {
	v := newTestValidator(stubProber{count: 100})

	plan := domain.QueryPlan{
		Version:      domain.SupportedPlanVersion,
		TargetEntity: "orders",
		Filter: []domain.FilterTerm{
			domain.PredicateTerm("organization_id", domain.OpEq, "org-1"),
			domain.PredicateTerm("status", domain.OpEq, "confirmed"),
		},
		Fields: []domain.FieldDescriptor{{Name: "reference", Alias: "reference"}},
	}
	result := v.Validate(context.Background(), testIdentity(), plan)
	if !result.Valid {
		t.Fatalf("expected valid plan, got errors: %v", result.Errors)
	}
}

func TestValidate_UnknownOperator(t *testing.T) {
	v := newTestValidator(stubProber{count: 1})

	plan := domain.QueryPlan{
		TargetEntity: "orders",
		Filter:       []domain.FilterTerm{domain.PredicateTerm("status", "=~", "conf")},
	}
	result := v.Validate(context.Background(), testIdentity(), plan)
	if result.Valid || !hasErrorContaining(result, `operator "=~"`) {
		t.Fatalf("expected operator rejection, got %+v", result)
	}
}

func TestValidate_NonStoredFieldNamesSection(t *testing.T) {
	v := newTestValidator(stubProber{count: 1})

	plan := domain.QueryPlan{
		TargetEntity: "orders",
		Filter:       []domain.FilterTerm{domain.PredicateTerm("margin", domain.OpGt, 0)},
		Fields:       []domain.FieldDescriptor{{Name: "margin", Alias: "margin"}},
		Aggregations: []domain.AggregationDescriptor{{Field: "margin", Operator: domain.AggregateSum, Alias: "margin_sum"}},
		GroupBy:      []domain.GroupByDescriptor{{Field: "margin", Alias: "margin"}},
	}
	result := v.Validate(context.Background(), testIdentity(), plan)
	if result.Valid {
		t.Fatalf("expected invalid plan")
	}
	for _, fragment := range []string{"filter field margin", "field margin is not stored", "aggregation field margin", "group_by field margin"} {
		if !hasErrorContaining(result, fragment) {
			t.Fatalf("expected error naming %q, got %v", fragment, result.Errors)
		}
	}
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	v := newTestValidator(stubProber{count: 1})

	plan := domain.QueryPlan{
		TargetEntity: "orders",
		Filter: []domain.FilterTerm{
			domain.PredicateTerm("status", "regex", "x"),
			domain.PredicateTerm("nonexistent", domain.OpEq, 1),
		},
	}
	result := v.Validate(context.Background(), testIdentity(), plan)
	if len(result.Errors) < 2 {
		t.Fatalf("expected every violation reported, got %v", result.Errors)
	}
}

func TestValidate_IncompleteFilterExpression(t *testing.T) {
	v := newTestValidator(stubProber{count: 1})

	// A lone connective has no operands; the expression must be rejected here,
	// not by the store at execution time.
	plan := domain.QueryPlan{
		TargetEntity: "orders",
		Filter:       []domain.FilterTerm{domain.ConnectiveTerm(domain.ConnectiveAnd)},
	}
	result := v.Validate(context.Background(), testIdentity(), plan)
	if result.Valid || !hasErrorContaining(result, "mid-expression") {
		t.Fatalf("expected incomplete expression rejection, got %+v", result)
	}

	plan.Filter = []domain.FilterTerm{
		domain.ConnectiveTerm(domain.ConnectiveNot),
		domain.ConnectiveTerm(domain.ConnectiveOr),
		domain.PredicateTerm("status", domain.OpEq, "confirmed"),
	}
	result = v.Validate(context.Background(), testIdentity(), plan)
	if result.Valid {
		t.Fatalf("expected OR missing an operand to be rejected, got %+v", result)
	}
}

func TestValidate_RelationPathInGroupByAndAggregation(t *testing.T) {
	v := newTestValidator(stubProber{count: 1})

	plan := domain.QueryPlan{
		TargetEntity: "orders",
		GroupBy:      []domain.GroupByDescriptor{{Field: "customer.email", Alias: "email"}},
		Aggregations: []domain.AggregationDescriptor{
			{Field: "customer.email", Operator: domain.AggregateCount, Alias: "emails"},
		},
	}
	result := v.Validate(context.Background(), testIdentity(), plan)
	if result.Valid {
		t.Fatalf("expected relation paths in group_by/aggregations to be rejected")
	}
	if !hasErrorContaining(result, "relation paths cannot be grouped on") {
		t.Fatalf("expected group_by rejection, got %v", result.Errors)
	}
	if !hasErrorContaining(result, "relation paths cannot be aggregated") {
		t.Fatalf("expected aggregation rejection, got %v", result.Errors)
	}

	// Grouping on the relation field itself stays allowed; the executor
	// resolves its display label.
	plan = domain.QueryPlan{
		TargetEntity: "orders",
		GroupBy:      []domain.GroupByDescriptor{{Field: "customer", Alias: "customer"}},
		Aggregations: []domain.AggregationDescriptor{{Field: "id", Operator: domain.AggregateCount, Alias: "count"}},
	}
	if result := v.Validate(context.Background(), testIdentity(), plan); !result.Valid {
		t.Fatalf("expected plain relation group key to pass, got %v", result.Errors)
	}
}

func TestValidate_SumOnNonNumeric(t *testing.T) {
	v := newTestValidator(stubProber{count: 1})

	plan := domain.QueryPlan{
		TargetEntity: "orders",
		Aggregations: []domain.AggregationDescriptor{{Field: "status", Operator: domain.AggregateSum, Alias: "status_sum"}},
	}
	result := v.Validate(context.Background(), testIdentity(), plan)
	if result.Valid || !hasErrorContaining(result, "requires a numeric field") {
		t.Fatalf("expected numeric requirement error, got %+v", result)
	}
}

func TestValidate_TenantFieldWarning(t *testing.T) {
	v := newTestValidator(stubProber{count: 1})

	plan := domain.QueryPlan{TargetEntity: "orders"}
	result := v.Validate(context.Background(), testIdentity(), plan)
	if !result.Valid {
		t.Fatalf("tenant warning must not invalidate the plan: %v", result.Errors)
	}
	if !hasWarningContaining(result, "tenant field") {
		t.Fatalf("expected tenant warning, got %v", result.Warnings)
	}
}

func TestValidate_VolumeThresholds(t *testing.T) {
	plan := domain.QueryPlan{TargetEntity: "orders"}

	result := newTestValidator(stubProber{count: domain.HardRowCeiling + 1}).Validate(context.Background(), testIdentity(), plan)
	if result.Valid || !hasErrorContaining(result, "hard ceiling") {
		t.Fatalf("expected hard ceiling rejection, got %+v", result)
	}
	if !result.TooExpensive {
		t.Fatalf("expected hard ceiling rejection to be flagged too expensive")
	}

	result = newTestValidator(stubProber{count: domain.SoftRowThreshold + 1}).Validate(context.Background(), testIdentity(), plan)
	if !result.Valid || !hasWarningContaining(result, "async export") {
		t.Fatalf("expected soft threshold warning only, got %+v", result)
	}
	if result.TooExpensive {
		t.Fatalf("soft threshold must not flag too expensive")
	}
}

func TestValidate_ProbeFailureIsWarning(t *testing.T) {
	v := newTestValidator(stubProber{err: errors.New("store offline")})

	plan := domain.QueryPlan{TargetEntity: "orders"}
	result := v.Validate(context.Background(), testIdentity(), plan)
	if !result.Valid || !hasWarningContaining(result, "probe failed") {
		t.Fatalf("expected probe warning without invalidation, got %+v", result)
	}
}

func TestValidate_GroupByWithoutAggregation(t *testing.T) {
	v := newTestValidator(stubProber{count: 1})

	plan := domain.QueryPlan{
		TargetEntity: "orders",
		GroupBy:      []domain.GroupByDescriptor{{Field: "status", Alias: "status"}},
	}
	result := v.Validate(context.Background(), testIdentity(), plan)
	if result.Valid || !hasErrorContaining(result, "requires at least one aggregation") {
		t.Fatalf("expected group_by invariant error, got %+v", result)
	}
}
