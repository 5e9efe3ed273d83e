package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/domain"
)

// Handler exposes the gateway over JSON HTTP under /query/.
type Handler struct {
	gateway *Gateway
}

// NewHTTPHandler builds the gateway handler.
func NewHTTPHandler(gateway *Gateway) http.Handler {
	return &Handler{gateway: gateway}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/validate"):
		h.handleValidate(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/estimate"):
		h.handleEstimate(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/execute"):
		h.handleExecute(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/answer"):
		h.handleAnswer(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type planPayload struct {
	Plan map[string]any `json:"plan"`
}

func decodePlan(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	defer r.Body.Close()
	var payload planPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return nil, false
	}
	if payload.Plan == nil {
		http.Error(w, "missing plan", http.StatusBadRequest)
		return nil, false
	}
	return payload.Plan, true
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	id, err := auth.RequireIdentity(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	raw, ok := decodePlan(w, r)
	if !ok {
		return
	}
	plan, verdict, err := h.gateway.NormalizeAndValidate(r.Context(), id, raw)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":       plan,
		"validation": verdict,
	})
}

func (h *Handler) handleEstimate(w http.ResponseWriter, r *http.Request) {
	id, err := auth.RequireIdentity(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	raw, ok := decodePlan(w, r)
	if !ok {
		return
	}
	plan, verdict, estimate, err := h.gateway.EstimateCost(r.Context(), id, raw)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":          plan,
		"validation":    verdict,
		"cost_estimate": estimate,
	})
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	id, err := auth.RequireIdentity(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	raw, ok := decodePlan(w, r)
	if !ok {
		return
	}
	result, err := h.gateway.Execute(r.Context(), id, raw)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	status := http.StatusOK
	if result.Job != nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

type answerPayload struct {
	Question string `json:"question"`
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id, err := auth.RequireIdentity(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	defer r.Body.Close()
	var payload answerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	question := strings.TrimSpace(payload.Question)
	if question == "" {
		http.Error(w, "missing question", http.StatusBadRequest)
		return
	}
	result, err := h.gateway.Answer(r.Context(), id, question)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	status := http.StatusOK
	if result.Job != nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// writeGatewayError maps the error taxonomy onto HTTP statuses and, where a
// structured verdict or trace exists, renders it alongside the message.
func writeGatewayError(w http.ResponseWriter, err error) {
	body := map[string]any{"error": err.Error()}

	var verdictErr *ValidationError
	if errors.As(err, &verdictErr) {
		body["validation"] = verdictErr.Result
	}
	var planningErr *PlanningFailedError
	if errors.As(err, &planningErr) {
		body["escalation_trace"] = planningErr.Trace
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrMalformedPlan):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownEntityOrField),
		errors.Is(err, domain.ErrDisallowedOperation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTooExpensive):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrExpiredOrInvalidCursor):
		status = http.StatusGone
	case errors.Is(err, domain.ErrBusy):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrExecutionFailure):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		log.Printf("[gateway] unclassified error: %v", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[gateway] failed to encode response: %v", err)
	}
}
