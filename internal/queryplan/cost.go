package queryplan

import (
	"context"
	"time"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/domain"
)

// FallbackRowEstimate is assumed when the row count probe fails; high enough
// that an unknown result set is never routed inline.
const FallbackRowEstimate = 10000

// Estimator produces heuristic cost estimates for validated plans. The
// complexity score is a bounded sum of shape terms, not a query-plan cost, and
// exists only to pick a delivery mode and a rough latency figure.
type Estimator struct {
	prober RowCountProber
	now    func() time.Time
}

// NewEstimator wires an estimator over the given row count prober.
func NewEstimator(prober RowCountProber) *Estimator {
	return &Estimator{prober: prober, now: time.Now}
}

// Estimate probes the matching row count and derives complexity, a latency
// guess and the recommended execution mode. A failed probe falls back to
// FallbackRowEstimate rather than erroring; estimation never blocks a query.
func (e *Estimator) Estimate(ctx context.Context, id auth.Identity, plan domain.QueryPlan) domain.CostEstimate {
	started := e.now()

	rows := int64(FallbackRowEstimate)
	if e.prober != nil {
		if count, err := e.prober.Count(ctx, id, plan); err == nil {
			rows = count
		}
	}

	complexity := ComplexityScore(plan)
	seconds := 0.1 + float64(rows)*0.001*(float64(max(complexity, 1))/50.0)

	return domain.CostEstimate{
		EstimatedRows:    rows,
		ComplexityScore:  complexity,
		EstimatedSeconds: seconds,
		RecommendedMode:  RecommendMode(plan, rows),
		EstimationTimeMs: e.now().Sub(started).Milliseconds(),
	}
}

// ComplexityScore scores the plan shape on a 0-100 scale. Each term is capped
// so no single dimension dominates.
func ComplexityScore(plan domain.QueryPlan) int {
	score := min(len(plan.Fields), 20)
	score += min(len(plan.Aggregations)*3+len(plan.GroupBy)*5, 25)

	depth := 0
	for _, f := range plan.Fields {
		if d := Depth(f.Name); d > 1 {
			depth += d * 2
		}
	}
	score += min(depth, 25)
	score += min(len(plan.Filter)*2, 30)
	return score
}

// RecommendMode picks the delivery strategy for an estimated row count.
// Preview plans always run inline; aggregations collapse the result to a few
// rows regardless of how many rows they scan.
func RecommendMode(plan domain.QueryPlan, rows int64) domain.ExecutionMode {
	if plan.Options.PreviewOnly || plan.Options.CountOnly || len(plan.Aggregations) > 0 {
		return domain.ExecutionModeInline
	}
	switch {
	case rows <= domain.InlineMaxRows:
		return domain.ExecutionModeInline
	case rows > domain.AsyncThresholdRows:
		return domain.ExecutionModeAsyncExport
	default:
		return domain.ExecutionModePaginated
	}
}
