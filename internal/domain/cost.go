package domain

// Cost thresholds, taken from operational experience with the reference
// deployment. Estimates are heuristics, never query-plan statistics.
const (
	InlineMaxRows      = 500
	AsyncThresholdRows = 10000
	PaginatedMaxTotal  = 50000
	HardRowCeiling     = 200000
	SoftRowThreshold   = 50000
)

// CostEstimate is the ephemeral pre-execution estimate for a validated plan.
// It is recomputed per request and never persisted.
type CostEstimate struct {
	EstimatedRows    int64         `json:"estimated_rows"`
	ComplexityScore  int           `json:"complexity_score"`
	EstimatedSeconds float64       `json:"estimated_seconds"`
	RecommendedMode  ExecutionMode `json:"recommended_mode"`
	EstimationTimeMs int64         `json:"estimation_time_ms"`
}
