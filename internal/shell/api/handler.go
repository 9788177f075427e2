// Package api exposes deployment status and run history over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/drydock-sh/drydock/internal/shell/docker"
	"github.com/drydock-sh/drydock/internal/shell/history"
)

// =============================================================================
// Handler
// =============================================================================

// RunHistory is the subset of the history store the API reads from.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]history.Run, error)
	GetRun(ctx context.Context, id string) (*history.Run, error)
	PhasesForRun(ctx context.Context, runID string) ([]history.PhaseRecord, error)
}

// StatusReporter reports container state per deployment.
type StatusReporter interface {
	Status(ctx context.Context, deploymentID string) ([]docker.ServiceState, error)
}

// Handler provides HTTP handlers for the status API.
type Handler struct {
	docker docker.Client
	status StatusReporter
	runs   RunHistory
	logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d docker.Client, status StatusReporter, runs RunHistory, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		docker: d,
		status: status,
		runs:   runs,
		logger: l,
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/deployments", func(r chi.Router) {
			r.Get("/{id}/status", h.handleDeploymentStatus)
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.handleListRuns)
			r.Get("/{id}", h.handleGetRun)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := h.docker.Ping(r.Context()); err != nil {
		checks["docker"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["docker"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleDeploymentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	states, err := h.status.Status(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get deployment status", "deployment_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get deployment status", "internal_error")
		return
	}
	if len(states) == 0 {
		h.writeError(w, http.StatusNotFound, "deployment not found", "not_found")
		return
	}

	h.writeJSON(w, http.StatusOK, DeploymentStatusResponse{
		DeploymentID: id,
		Services:     states,
	})
}

// =============================================================================
// Run Handlers
// =============================================================================

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", "validation_error")
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", "internal_error")
		return
	}

	resp := ListRunsResponse{Runs: make([]RunResponse, 0, len(runs))}
	for i := range runs {
		resp.Runs = append(resp.Runs, runToResponse(&runs[i], nil))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			h.writeError(w, http.StatusNotFound, "run not found", "not_found")
			return
		}
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	phases, err := h.runs.PhasesForRun(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list run phases", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list run phases", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, runToResponse(run, phases))
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func runToResponse(run *history.Run, phases []history.PhaseRecord) RunResponse {
	resp := RunResponse{
		ID:           run.ID,
		Command:      run.Command,
		TopologyFile: run.TopologyFile,
		Status:       string(run.Status),
		Error:        run.Error,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
	for _, p := range phases {
		resp.Phases = append(resp.Phases, PhaseResponse{
			Phase:      p.Phase,
			Status:     string(p.Status),
			Error:      p.Error,
			DurationMS: p.Duration.Milliseconds(),
		})
	}
	return resp
}
