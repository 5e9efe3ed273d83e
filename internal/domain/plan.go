package domain

// SupportedPlanVersion is the single query plan version the gateway accepts.
const SupportedPlanVersion = "1.0"

// Plan-wide shape limits. Plans exceeding these are rejected during
// normalization before any store access happens.
const (
	MaxPlanFields       = 50
	MaxPlanAggregations = 20
	MaxPlanGroupBy      = 10
	MaxPlanOrderBy      = 10
	MaxTraversalDepth   = 5
)

// PaginationMode selects how a plan continues across pages.
type PaginationMode string

const (
	PaginationModeOffset PaginationMode = "offset"
	PaginationModeCursor PaginationMode = "cursor"
)

// ExecutionMode is the delivery strategy chosen for a validated plan.
type ExecutionMode string

const (
	ExecutionModeInline      ExecutionMode = "inline"
	ExecutionModePaginated   ExecutionMode = "paginated"
	ExecutionModeAsyncExport ExecutionMode = "async_export"
)

// AggregateOp enumerates the supported aggregation operators.
type AggregateOp string

const (
	AggregateSum           AggregateOp = "sum"
	AggregateAvg           AggregateOp = "avg"
	AggregateCount         AggregateOp = "count"
	AggregateCountDistinct AggregateOp = "count_distinct"
	AggregateMin           AggregateOp = "min"
	AggregateMax           AggregateOp = "max"
)

// AllowedAggregateOps is the closed set of aggregation operators a plan may use.
var AllowedAggregateOps = map[AggregateOp]struct{}{
	AggregateSum:           {},
	AggregateAvg:           {},
	AggregateCount:         {},
	AggregateCountDistinct: {},
	AggregateMin:           {},
	AggregateMax:           {},
}

// Granularity buckets a date/datetime group key.
type Granularity string

const (
	GranularityDay     Granularity = "day"
	GranularityWeek    Granularity = "week"
	GranularityMonth   Granularity = "month"
	GranularityQuarter Granularity = "quarter"
	GranularityYear    Granularity = "year"
)

// AllowedGranularities is the closed set of group-by time granularities.
var AllowedGranularities = map[Granularity]struct{}{
	GranularityDay:     {},
	GranularityWeek:    {},
	GranularityMonth:   {},
	GranularityQuarter: {},
	GranularityYear:    {},
}

// OutputFormat selects how executed rows are rendered for the caller.
type OutputFormat string

const (
	OutputFormatJSON OutputFormat = "json"
	OutputFormatCSV  OutputFormat = "csv"
	OutputFormatXLSX OutputFormat = "xlsx"
)

// QueryPlan is the canonical, fully typed description of a read request.
// Instances are produced by the normalizer and are immutable once validated;
// only the pagination engine produces continuation copies.
type QueryPlan struct {
	Version      string                  `json:"version"`
	TargetEntity string                  `json:"target_entity"`
	Filter       []FilterTerm            `json:"filter"`
	Fields       []FieldDescriptor       `json:"fields"`
	Aggregations []AggregationDescriptor `json:"aggregations"`
	GroupBy      []GroupByDescriptor     `json:"group_by"`
	OrderBy      []OrderTerm             `json:"order_by"`
	Pagination   PaginationState         `json:"pagination"`
	Options      PlanOptions             `json:"options"`
}

// FieldDescriptor projects one (possibly relation-traversing) field path into
// an output column.
type FieldDescriptor struct {
	Name    string `json:"name"`
	Alias   string `json:"alias"`
	Extract bool   `json:"extract,omitempty"`
}

// AggregationDescriptor requests one aggregate value over a field.
type AggregationDescriptor struct {
	Field    string      `json:"field"`
	Operator AggregateOp `json:"operator"`
	Alias    string      `json:"alias"`
}

// GroupByDescriptor adds one grouping key, optionally time-bucketed.
type GroupByDescriptor struct {
	Field       string      `json:"field"`
	Granularity Granularity `json:"granularity,omitempty"`
	Alias       string      `json:"alias"`
}

// OrderTerm orders the result by one field.
type OrderTerm struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// PaginationState carries the caller's position within a result set. It is
// created by normalization and mutated only by the pagination engine.
type PaginationState struct {
	Mode   PaginationMode `json:"mode"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
	Cursor string         `json:"cursor,omitempty"`
}

// ChartRequest asks the gateway to shape executed rows into a chart payload.
type ChartRequest struct {
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
	XAxis string `json:"x_axis,omitempty"`
	YAxis string `json:"y_axis,omitempty"`
}

// PlanOptions are per-request execution hints that never widen the safety
// envelope.
type PlanOptions struct {
	PreviewOnly     bool          `json:"preview_only"`
	PreviewLimit    int           `json:"preview_limit"`
	IncludeMetadata bool          `json:"include_metadata"`
	CountOnly       bool          `json:"count_only"`
	ChartRequest    *ChartRequest `json:"chart_request,omitempty"`
	OutputFormat    OutputFormat  `json:"output_format"`
}

// OutputColumns returns the ordered output column names the plan produces:
// group-by aliases followed by aggregation aliases for grouped plans, field
// aliases for list plans, and a single "count" column for count-only plans.
func (p QueryPlan) OutputColumns() []string {
	if p.Options.CountOnly {
		return []string{"count"}
	}
	if len(p.Aggregations) > 0 {
		cols := make([]string, 0, len(p.GroupBy)+len(p.Aggregations))
		for _, g := range p.GroupBy {
			cols = append(cols, g.Alias)
		}
		for _, a := range p.Aggregations {
			cols = append(cols, a.Alias)
		}
		return cols
	}
	cols := make([]string, 0, len(p.Fields))
	for _, f := range p.Fields {
		cols = append(cols, f.Alias)
	}
	return cols
}

// WithPagination returns a copy of the plan carrying the given pagination
// state. The receiver is never modified.
func (p QueryPlan) WithPagination(state PaginationState) QueryPlan {
	clone := p
	clone.Filter = append([]FilterTerm(nil), p.Filter...)
	clone.Fields = append([]FieldDescriptor(nil), p.Fields...)
	clone.Aggregations = append([]AggregationDescriptor(nil), p.Aggregations...)
	clone.GroupBy = append([]GroupByDescriptor(nil), p.GroupBy...)
	clone.OrderBy = append([]OrderTerm(nil), p.OrderBy...)
	clone.Pagination = state
	return clone
}
