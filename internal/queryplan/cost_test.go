package queryplan

import (
	"context"
	"errors"
	"testing"

	"github.com/rpattn/querygate/internal/domain"
)

func TestComplexityScore_Caps(t *testing.T) {
	plan := domain.QueryPlan{TargetEntity: "orders"}
	for i := 0; i < 50; i++ {
		plan.Fields = append(plan.Fields, domain.FieldDescriptor{Name: "customer.parent.name"})
		plan.Filter = append(plan.Filter, domain.PredicateTerm("status", domain.OpEq, i))
	}
	for i := 0; i < 20; i++ {
		plan.Aggregations = append(plan.Aggregations, domain.AggregationDescriptor{Field: "amount", Operator: domain.AggregateSum})
	}
	for i := 0; i < 10; i++ {
		plan.GroupBy = append(plan.GroupBy, domain.GroupByDescriptor{Field: "status"})
	}

	if score := ComplexityScore(plan); score != 100 {
		t.Fatalf("expected every term capped for a total of 100, got %d", score)
	}
	if score := ComplexityScore(domain.QueryPlan{}); score != 0 {
		t.Fatalf("expected empty plan score 0, got %d", score)
	}
}

func TestRecommendMode_Thresholds(t *testing.T) {
	list := domain.QueryPlan{TargetEntity: "orders"}

	cases := []struct {
		rows int64
		want domain.ExecutionMode
	}{
		{rows: 100, want: domain.ExecutionModeInline},
		{rows: domain.InlineMaxRows, want: domain.ExecutionModeInline},
		{rows: domain.InlineMaxRows + 1, want: domain.ExecutionModePaginated},
		{rows: domain.AsyncThresholdRows, want: domain.ExecutionModePaginated},
		{rows: domain.AsyncThresholdRows + 1, want: domain.ExecutionModeAsyncExport},
	}
	for _, tc := range cases {
		if got := RecommendMode(list, tc.rows); got != tc.want {
			t.Fatalf("rows %d: expected %s, got %s", tc.rows, tc.want, got)
		}
	}
}

func TestRecommendMode_AggregatesAndPreviewStayInline(t *testing.T) {
	agg := domain.QueryPlan{
		TargetEntity: "orders",
		Aggregations: []domain.AggregationDescriptor{{Field: "amount", Operator: domain.AggregateSum}},
	}
	if got := RecommendMode(agg, 1_000_000); got != domain.ExecutionModeInline {
		t.Fatalf("aggregations should run inline, got %s", got)
	}

	preview := domain.QueryPlan{TargetEntity: "orders"}
	preview.Options.PreviewOnly = true
	if got := RecommendMode(preview, 1_000_000); got != domain.ExecutionModeInline {
		t.Fatalf("previews should run inline, got %s", got)
	}
}

func TestEstimate_ProbeFallback(t *testing.T) {
	e := NewEstimator(stubProber{err: errors.New("offline")})

	estimate := e.Estimate(context.Background(), testIdentity(), domain.QueryPlan{TargetEntity: "orders"})
	if estimate.EstimatedRows != FallbackRowEstimate {
		t.Fatalf("expected fallback estimate %d, got %d", FallbackRowEstimate, estimate.EstimatedRows)
	}
	if estimate.RecommendedMode != domain.ExecutionModePaginated {
		t.Fatalf("expected fallback estimate to route paginated, got %s", estimate.RecommendedMode)
	}
	if estimate.EstimatedSeconds <= 0 {
		t.Fatalf("expected positive latency estimate, got %f", estimate.EstimatedSeconds)
	}
}
