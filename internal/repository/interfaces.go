// Package repository persists gateway state: export jobs and entity
// definitions. SQL lives here; callers only see domain types.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rpattn/querygate/internal/domain"
)

// ErrExportJobStateConflict indicates a job cannot transition to the
// requested state, usually because another worker claimed it first.
var ErrExportJobStateConflict = errors.New("export job state conflict")

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ExportJobRepository manages the durable export job lifecycle.
type ExportJobRepository interface {
	Create(ctx context.Context, job domain.ExportJob) (domain.ExportJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ExportJob, error)
	GetByToken(ctx context.Context, token string) (domain.ExportJob, error)

	// ListQueued returns ids of queued jobs, oldest first.
	ListQueued(ctx context.Context, limit int) ([]uuid.UUID, error)

	// MarkProcessing claims a queued or resumable processing job. Returns
	// ErrExportJobStateConflict when the job is terminal or missing.
	MarkProcessing(ctx context.Context, id uuid.UUID) error

	// SaveCheckpoint persists progress counters and the partial output in one
	// update, so a restart never sees counters ahead of the checkpoint.
	SaveCheckpoint(ctx context.Context, id uuid.UUID, processed, total int, percent float64, checkpoint []byte) error

	MarkCompleted(ctx context.Context, id uuid.UUID, filename string, format domain.OutputFormat, blob []byte) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
}

// EntityDefinitionRepository stores the catalog's entity definitions.
type EntityDefinitionRepository interface {
	List(ctx context.Context) ([]domain.EntityDefinition, error)
	Upsert(ctx context.Context, def domain.EntityDefinition) error
}
