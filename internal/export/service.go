// Package export runs deferred query exports: durable jobs that page through
// a validated plan, checkpoint after every page, and publish the finished
// file for the requester to download.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/domain"
	"github.com/rpattn/querygate/internal/repository"
)

// PageSize is the internal page size exports walk the store with, independent
// of the plan's own pagination.
const PageSize = 1000

// utf8BOM prefixes CSV downloads so spreadsheet tools detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// QueryRunner is the slice of the gateway the export worker needs. Narrow on
// purpose: the worker re-validates and pages, it never re-plans.
type QueryRunner interface {
	Validate(ctx context.Context, id auth.Identity, plan domain.QueryPlan) domain.ValidationResult
	Count(ctx context.Context, id auth.Identity, plan domain.QueryPlan) (int64, error)
	RunPage(ctx context.Context, id auth.Identity, plan domain.QueryPlan) ([]map[string]any, error)
}

// Service owns the export job lifecycle.
type Service struct {
	jobs   repository.ExportJobRepository
	runner QueryRunner
}

// NewService wires the export service.
func NewService(jobs repository.ExportJobRepository, runner QueryRunner) *Service {
	return &Service{jobs: jobs, runner: runner}
}

// Enqueue snapshots the plan into a queued job and returns it. The plan copy
// is deep: later mutations of the caller's plan cannot reach the job.
func (s *Service) Enqueue(ctx context.Context, id auth.Identity, plan domain.QueryPlan) (domain.ExportJob, error) {
	job := domain.ExportJob{
		ID:             uuid.New(),
		Token:          strings.ReplaceAll(uuid.New().String(), "-", ""),
		RequestedBy:    id.UserID,
		OrganizationID: id.OrganizationID,
		RequesterRoles: append([]string(nil), id.Roles...),
		Plan:           plan.WithPagination(plan.Pagination),
		OutputFormat:   plan.Options.OutputFormat,
	}
	created, err := s.jobs.Create(ctx, job)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("enqueue export job: %w", err)
	}
	log.Printf("[export] queued job %s for %s on %s", created.ID, id.UserID, plan.TargetEntity)
	return created, nil
}

// GetByID returns a job by id.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (domain.ExportJob, error) {
	return s.jobs.GetByID(ctx, id)
}

// GetByToken returns a job by its opaque token.
func (s *Service) GetByToken(ctx context.Context, token string) (domain.ExportJob, error) {
	return s.jobs.GetByToken(ctx, token)
}

// ProcessQueued claims and runs every currently queued job, oldest first.
// Called by the periodic sweeper.
func (s *Service) ProcessQueued(ctx context.Context) {
	ids, err := s.jobs.ListQueued(ctx, 50)
	if err != nil {
		log.Printf("[export] failed to list queued jobs: %v", err)
		return
	}
	for _, id := range ids {
		if err := s.Process(ctx, id); err != nil {
			log.Printf("[export] job %s failed: %v", id, err)
		}
	}
}

// Process runs one job to a terminal state. Terminal jobs are a no-op, so
// repeated sweeps are safe. The processing claim is deliberately re-entrant:
// a job that crashed mid-run is picked up again and resumes from its
// checkpoint, which also means callers must not run the same job from two
// goroutines at once.
func (s *Service) Process(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load export job: %w", err)
	}
	if job.State.Terminal() {
		return nil
	}
	if err := s.jobs.MarkProcessing(ctx, jobID); err != nil {
		if err == repository.ErrExportJobStateConflict {
			return nil
		}
		return err
	}

	if err := s.run(ctx, job); err != nil {
		message := truncateError(err)
		if markErr := s.jobs.MarkFailed(ctx, jobID, message); markErr != nil {
			log.Printf("[export] job %s: failed to record failure: %v", jobID, markErr)
		}
		return err
	}
	return nil
}

func (s *Service) run(ctx context.Context, job domain.ExportJob) error {
	id := auth.Identity{
		UserID:         job.RequestedBy,
		OrganizationID: job.OrganizationID,
		Roles:          job.RequesterRoles,
	}
	plan := job.Plan
	columns := plan.OutputColumns()

	// The plan was validated at enqueue time, but the catalog may have moved
	// underneath a long-queued job. Re-validate once before touching the store.
	if verdict := s.runner.Validate(ctx, id, plan); !verdict.Valid {
		return fmt.Errorf("plan no longer valid: %s", strings.Join(verdict.Errors, "; "))
	}

	total := job.TotalRows
	if total == 0 {
		count, err := s.runner.Count(ctx, id, plan)
		if err != nil {
			return fmt.Errorf("count export rows: %w", err)
		}
		total = int(count)
	}

	checkpoint := bytes.NewBuffer(append([]byte(nil), job.Checkpoint...))
	processed := job.ProcessedRows
	if processed == 0 && checkpoint.Len() == 0 {
		writer := csv.NewWriter(checkpoint)
		if err := writer.Write(columns); err != nil {
			return fmt.Errorf("write export header: %w", err)
		}
		writer.Flush()
	}

	for processed < total {
		page := plan.WithPagination(domain.PaginationState{
			Mode:   domain.PaginationModeOffset,
			Limit:  PageSize,
			Offset: processed,
		})
		rows, err := s.runner.RunPage(ctx, id, page)
		if err != nil {
			return fmt.Errorf("export page at offset %d: %w", processed, err)
		}
		if len(rows) == 0 {
			break
		}

		writer := csv.NewWriter(checkpoint)
		for _, row := range rows {
			record := make([]string, len(columns))
			for i, col := range columns {
				record[i] = formatValue(row[col])
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("write export row: %w", err)
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return fmt.Errorf("flush export page: %w", err)
		}

		processed += len(rows)
		percent := float64(processed) / float64(total) * 100
		if percent > 99 {
			percent = 99
		}
		if err := s.jobs.SaveCheckpoint(ctx, job.ID, processed, total, percent, checkpoint.Bytes()); err != nil {
			return fmt.Errorf("checkpoint at %d/%d rows: %w", processed, total, err)
		}
		if len(rows) < PageSize {
			break
		}
	}

	blob, ext, err := encodeOutput(job.OutputFormat, checkpoint.Bytes())
	if err != nil {
		return fmt.Errorf("encode export output: %w", err)
	}
	filename := fmt.Sprintf("export_%s_%s.%s", plan.TargetEntity, job.ID.String()[:8], ext)
	if err := s.jobs.MarkCompleted(ctx, job.ID, filename, job.OutputFormat, blob); err != nil {
		return fmt.Errorf("complete export job: %w", err)
	}
	log.Printf("[export] job %s completed, %d rows -> %s", job.ID, processed, filename)
	return nil
}

// encodeOutput renders the checkpoint CSV into the requested format.
func encodeOutput(format domain.OutputFormat, checkpoint []byte) ([]byte, string, error) {
	switch format {
	case domain.OutputFormatCSV:
		return append(append([]byte(nil), utf8BOM...), checkpoint...), "csv", nil
	case domain.OutputFormatXLSX:
		blob, err := encodeXLSX(checkpoint)
		return blob, "xlsx", err
	default:
		blob, err := encodeJSON(checkpoint)
		return blob, "json", err
	}
}

func parseCheckpoint(checkpoint []byte) ([]string, [][]string, error) {
	reader := csv.NewReader(bytes.NewReader(checkpoint))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	if len(records) == 0 {
		return []string{}, nil, nil
	}
	return records[0], records[1:], nil
}

func encodeJSON(checkpoint []byte) ([]byte, error) {
	header, rows, err := parseCheckpoint(checkpoint)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				obj[col] = row[i]
			}
		}
		out = append(out, obj)
	}
	return json.Marshal(out)
}

func encodeXLSX(checkpoint []byte) ([]byte, error) {
	header, rows, err := parseCheckpoint(checkpoint)
	if err != nil {
		return nil, err
	}
	file := excelize.NewFile()
	defer file.Close()
	const sheet = "Sheet1"

	writeRow := func(rowIdx int, values []string) error {
		cell, err := excelize.CoordinatesToCellName(1, rowIdx)
		if err != nil {
			return err
		}
		converted := make([]any, len(values))
		for i, v := range values {
			converted[i] = v
		}
		return file.SetSheetRow(sheet, cell, &converted)
	}

	if err := writeRow(1, header); err != nil {
		return nil, fmt.Errorf("write xlsx header: %w", err)
	}
	for i, row := range rows {
		if err := writeRow(i+2, row); err != nil {
			return nil, fmt.Errorf("write xlsx row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("serialize xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format(time.RFC3339)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}

// truncateError caps persisted failure messages. Store internals beyond the
// first line stay in the logs, not in the caller-visible record.
func truncateError(err error) string {
	message := err.Error()
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		message = message[:idx]
	}
	if len(message) > 500 {
		message = message[:500]
	}
	return message
}
