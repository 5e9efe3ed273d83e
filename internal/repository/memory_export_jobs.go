package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/querygate/internal/domain"
)

// MemoryExportJobs is an in-memory ExportJobRepository used by tests and
// local development. State transition guards mirror the Postgres backend.
type MemoryExportJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]domain.ExportJob
}

// NewMemoryExportJobs builds an empty in-memory export job repository.
func NewMemoryExportJobs() *MemoryExportJobs {
	return &MemoryExportJobs{jobs: make(map[uuid.UUID]domain.ExportJob)}
}

func (m *MemoryExportJobs) Create(ctx context.Context, job domain.ExportJob) (domain.ExportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now()
	job.State = domain.ExportJobStateQueued
	job.CreatedAt = now
	job.UpdatedAt = now
	m.jobs[job.ID] = job
	return job, nil
}

func (m *MemoryExportJobs) GetByID(ctx context.Context, id uuid.UUID) (domain.ExportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ExportJob{}, ErrNotFound
	}
	return job, nil
}

func (m *MemoryExportJobs) GetByToken(ctx context.Context, token string) (domain.ExportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.Token == token {
			return job, nil
		}
	}
	return domain.ExportJob{}, ErrNotFound
}

func (m *MemoryExportJobs) ListQueued(ctx context.Context, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type queued struct {
		id uuid.UUID
		at time.Time
	}
	var all []queued
	for _, job := range m.jobs {
		if job.State == domain.ExportJobStateQueued {
			all = append(all, queued{id: job.ID, at: job.CreatedAt})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	ids := make([]uuid.UUID, len(all))
	for i, q := range all {
		ids[i] = q.id
	}
	return ids, nil
}

func (m *MemoryExportJobs) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.State.Terminal() {
		return ErrExportJobStateConflict
	}
	job.State = domain.ExportJobStateProcessing
	job.UpdatedAt = time.Now()
	m.jobs[id] = job
	return nil
}

func (m *MemoryExportJobs) SaveCheckpoint(ctx context.Context, id uuid.UUID, processed, total int, percent float64, checkpoint []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.State != domain.ExportJobStateProcessing {
		return ErrExportJobStateConflict
	}
	job.ProcessedRows = processed
	job.TotalRows = total
	job.ProgressPercent = percent
	job.Checkpoint = append([]byte(nil), checkpoint...)
	job.UpdatedAt = time.Now()
	m.jobs[id] = job
	return nil
}

func (m *MemoryExportJobs) MarkCompleted(ctx context.Context, id uuid.UUID, filename string, format domain.OutputFormat, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.State != domain.ExportJobStateProcessing {
		return ErrExportJobStateConflict
	}
	now := time.Now()
	job.State = domain.ExportJobStateCompleted
	job.OutputFilename = filename
	job.OutputFormat = format
	job.OutputBlob = append([]byte(nil), blob...)
	job.ProgressPercent = 100
	job.Checkpoint = nil
	job.UpdatedAt = now
	job.FinishedAt = &now
	m.jobs[id] = job
	return nil
}

func (m *MemoryExportJobs) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.State.Terminal() {
		return ErrExportJobStateConflict
	}
	now := time.Now()
	job.State = domain.ExportJobStateFailed
	job.ErrorMessage = message
	job.UpdatedAt = now
	job.FinishedAt = &now
	m.jobs[id] = job
	return nil
}
