package api

import (
	"time"

	"github.com/drydock-sh/drydock/internal/shell/docker"
)

// =============================================================================
// Response Types
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// DeploymentStatusResponse reports per-service container state.
type DeploymentStatusResponse struct {
	DeploymentID string                `json:"deployment_id"`
	Services     []docker.ServiceState `json:"services"`
}

// RunResponse is one recorded run, optionally with its phase outcomes.
type RunResponse struct {
	ID           string          `json:"id"`
	Command      string          `json:"command"`
	TopologyFile string          `json:"topology_file,omitempty"`
	Status       string          `json:"status"`
	Error        string          `json:"error,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Phases       []PhaseResponse `json:"phases,omitempty"`
}

// PhaseResponse is one pipeline phase outcome within a run.
type PhaseResponse struct {
	Phase      string `json:"phase"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ListRunsResponse wraps the run listing.
type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}
