package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/domain"
	"github.com/rpattn/querygate/internal/repository"
)

// Handler exposes export job status and downloads under /exports/.
type Handler struct {
	service *Service
}

// NewHTTPHandler builds the export handler.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/download"):
		h.handleDownload(w, r)
	case r.Method == http.MethodGet:
		h.handleStatus(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// lookupJob loads a job by trailing path segment, which may be either the
// job id or its opaque token.
func (h *Handler) lookupJob(r *http.Request, trimSuffix string) (domain.ExportJob, error) {
	path := strings.TrimSuffix(r.URL.Path, trimSuffix)
	key := path[strings.LastIndexByte(path, '/')+1:]
	if key == "" {
		return domain.ExportJob{}, repository.ErrNotFound
	}
	if id, err := uuid.Parse(key); err == nil {
		return h.service.GetByID(r.Context(), id)
	}
	return h.service.GetByToken(r.Context(), key)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := auth.RequireIdentity(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	job, err := h.lookupJob(r, "")
	if err != nil {
		writeJobError(w, err)
		return
	}
	if job.RequestedBy != id.UserID {
		http.Error(w, "export job belongs to another user", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := auth.RequireIdentity(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	job, err := h.lookupJob(r, "/download")
	if err != nil {
		writeJobError(w, err)
		return
	}
	if job.RequestedBy != id.UserID {
		http.Error(w, "export job belongs to another user", http.StatusForbidden)
		return
	}
	if job.State != domain.ExportJobStateCompleted {
		http.Error(w, fmt.Sprintf("export job is %s, not completed", job.State), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", contentType(job.OutputFormat))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.OutputFilename))
	if _, err := w.Write(job.OutputBlob); err != nil {
		log.Printf("[export] failed to stream download for job %s: %v", job.ID, err)
	}
}

func contentType(format domain.OutputFormat) string {
	switch format {
	case domain.OutputFormatCSV:
		return "text/csv; charset=utf-8"
	case domain.OutputFormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

func writeJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "export job not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[export] failed to encode response: %v", err)
	}
}
