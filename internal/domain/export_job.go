package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExportJobState captures lifecycle state for an asynchronous export job.
// The literal values are part of the persisted record shape.
type ExportJobState string

const (
	ExportJobStateQueued     ExportJobState = "queued"
	ExportJobStateProcessing ExportJobState = "processing"
	ExportJobStateCompleted  ExportJobState = "completed"
	ExportJobStateFailed     ExportJobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s ExportJobState) Terminal() bool {
	return s == ExportJobStateCompleted || s == ExportJobStateFailed
}

// ExportJob is the durable record of a deferred query export. The plan is
// copied into the job at creation time so later edits to a live plan cannot
// retroactively change a queued job. Only the requester may read the
// terminal output.
type ExportJob struct {
	ID              uuid.UUID      `json:"id"`
	Token           string         `json:"token"`
	State           ExportJobState `json:"state"`
	RequestedBy     uuid.UUID      `json:"requested_by"`
	OrganizationID  uuid.UUID      `json:"organization_id"`
	// RequesterRoles snapshots the caller's roles at enqueue time so the
	// worker re-validates with the same permission surface, not an elevated
	// one.
	RequesterRoles  []string       `json:"requester_roles,omitempty"`
	Plan            QueryPlan      `json:"plan"`
	TotalRows       int            `json:"total_rows"`
	ProcessedRows   int            `json:"processed_rows"`
	ProgressPercent float64        `json:"progress_percent"`
	// Checkpoint holds the delimited text produced so far, persisted together
	// with the progress counters after every page so a crashed export resumes
	// instead of restarting.
	Checkpoint     []byte       `json:"-"`
	OutputBlob     []byte       `json:"-"`
	OutputFilename string       `json:"output_filename,omitempty"`
	OutputFormat   OutputFormat `json:"output_format"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	FinishedAt     *time.Time   `json:"finished_at,omitempty"`
}

// PlanToJSON marshals the snapshotted plan into the JSONB layout stored in
// Postgres.
func (j ExportJob) PlanToJSON() (json.RawMessage, error) {
	return json.Marshal(j.Plan)
}

// PlanFromJSON hydrates a persisted plan snapshot.
func PlanFromJSON(data []byte) (QueryPlan, error) {
	var plan QueryPlan
	if len(data) == 0 {
		return plan, nil
	}
	if err := json.Unmarshal(data, &plan); err != nil {
		return QueryPlan{}, err
	}
	return plan, nil
}
