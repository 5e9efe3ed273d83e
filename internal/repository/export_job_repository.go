package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/querygate/internal/domain"
)

type exportJobRepository struct {
	pool *pgxpool.Pool
}

// NewExportJobRepository wires the Postgres-backed export job repository.
func NewExportJobRepository(pool *pgxpool.Pool) ExportJobRepository {
	return &exportJobRepository{pool: pool}
}

const exportJobColumns = `id, token, state, requested_by, organization_id, requester_roles, plan,
	total_rows, processed_rows, progress_percent, checkpoint, output_blob,
	output_filename, output_format, error_message, created_at, updated_at, finished_at`

func (r *exportJobRepository) Create(ctx context.Context, job domain.ExportJob) (domain.ExportJob, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	planJSON, err := job.PlanToJSON()
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("marshal plan snapshot: %w", err)
	}
	roles := job.RequesterRoles
	if roles == nil {
		roles = []string{}
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO export_jobs (id, token, state, requested_by, organization_id, requester_roles, plan, output_format)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.Token, string(domain.ExportJobStateQueued),
		job.RequestedBy, job.OrganizationID, roles, planJSON, string(job.OutputFormat),
	)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("insert export job: %w", err)
	}
	return r.GetByID(ctx, job.ID)
}

func (r *exportJobRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ExportJob, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+exportJobColumns+" FROM export_jobs WHERE id = $1", id)
	return scanExportJob(row)
}

func (r *exportJobRepository) GetByToken(ctx context.Context, token string) (domain.ExportJob, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+exportJobColumns+" FROM export_jobs WHERE token = $1", token)
	return scanExportJob(row)
}

func scanExportJob(row pgx.Row) (domain.ExportJob, error) {
	var (
		job      domain.ExportJob
		state    string
		format   string
		planJSON []byte
	)
	err := row.Scan(
		&job.ID, &job.Token, &state, &job.RequestedBy, &job.OrganizationID, &job.RequesterRoles, &planJSON,
		&job.TotalRows, &job.ProcessedRows, &job.ProgressPercent, &job.Checkpoint, &job.OutputBlob,
		&job.OutputFilename, &format, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt, &job.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ExportJob{}, ErrNotFound
	}
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("scan export job: %w", err)
	}
	job.State = domain.ExportJobState(state)
	job.OutputFormat = domain.OutputFormat(format)
	if job.Plan, err = domain.PlanFromJSON(planJSON); err != nil {
		return domain.ExportJob{}, fmt.Errorf("decode plan snapshot: %w", err)
	}
	return job, nil
}

func (r *exportJobRepository) ListQueued(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx,
		"SELECT id FROM export_jobs WHERE state = $1 ORDER BY created_at LIMIT $2",
		string(domain.ExportJobStateQueued), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list queued export jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan queued export job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *exportJobRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE export_jobs SET state = $2, updated_at = now()
		WHERE id = $1 AND state IN ($3, $2)`,
		id, string(domain.ExportJobStateProcessing), string(domain.ExportJobStateQueued),
	)
	if err != nil {
		return fmt.Errorf("mark export job processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExportJobStateConflict
	}
	return nil
}

func (r *exportJobRepository) SaveCheckpoint(ctx context.Context, id uuid.UUID, processed, total int, percent float64, checkpoint []byte) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE export_jobs
		SET processed_rows = $2, total_rows = $3, progress_percent = $4, checkpoint = $5, updated_at = now()
		WHERE id = $1 AND state = $6`,
		id, processed, total, percent, checkpoint, string(domain.ExportJobStateProcessing),
	)
	if err != nil {
		return fmt.Errorf("save export checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExportJobStateConflict
	}
	return nil
}

func (r *exportJobRepository) MarkCompleted(ctx context.Context, id uuid.UUID, filename string, format domain.OutputFormat, blob []byte) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE export_jobs
		SET state = $2, output_filename = $3, output_format = $4, output_blob = $5,
		    progress_percent = 100, checkpoint = NULL, updated_at = now(), finished_at = now()
		WHERE id = $1 AND state = $6`,
		id, string(domain.ExportJobStateCompleted), filename, string(format), blob,
		string(domain.ExportJobStateProcessing),
	)
	if err != nil {
		return fmt.Errorf("mark export job completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExportJobStateConflict
	}
	return nil
}

func (r *exportJobRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE export_jobs
		SET state = $2, error_message = $3, updated_at = now(), finished_at = now()
		WHERE id = $1 AND state IN ($4, $5)`,
		id, string(domain.ExportJobStateFailed), message,
		string(domain.ExportJobStateQueued), string(domain.ExportJobStateProcessing),
	)
	if err != nil {
		return fmt.Errorf("mark export job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExportJobStateConflict
	}
	return nil
}
