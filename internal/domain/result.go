package domain

// PageInfo describes the caller's position in a paginated result.
type PageInfo struct {
	Total      int    `json:"total"`
	Offset     int    `json:"offset"`
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"has_more"`
	NextOffset int    `json:"next_offset,omitempty"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Chart is a rendered chart payload built from executed rows on request.
type Chart struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Labels   []string       `json:"labels"`
	Datasets []ChartDataset `json:"datasets"`
}

// ChartDataset is one series of a chart.
type ChartDataset struct {
	Label string `json:"label"`
	Data  []any  `json:"data"`
}

// TierAttempt records one entry of the planning escalation trace.
type TierAttempt struct {
	Tier   string   `json:"tier"`
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// QueryResult is the gateway's answer to an executed plan: rows (or a single
// count), the pagination block, and request metadata. For deferred exports
// Rows is empty and Job carries the queued job.
type QueryResult struct {
	Rows            []map[string]any `json:"rows"`
	Count           int64            `json:"count,omitempty"`
	Columns         []string         `json:"columns"`
	Mode            ExecutionMode    `json:"mode"`
	Page            *PageInfo        `json:"pagination,omitempty"`
	Cost            *CostEstimate    `json:"cost_estimate,omitempty"`
	Cached          bool             `json:"cached"`
	Chart           *Chart           `json:"chart,omitempty"`
	Job             *ExportJob       `json:"export_job,omitempty"`
	EscalationTrace []TierAttempt    `json:"escalation_trace,omitempty"`
}
