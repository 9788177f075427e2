package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drydock-sh/drydock/internal/shell/docker"
	"github.com/drydock-sh/drydock/internal/shell/history"
)

// =============================================================================
// Test Helpers
// =============================================================================

// stubDocker implements the docker.Client methods the API touches.
type stubDocker struct {
	docker.Client
	pingErr error
}

func (s *stubDocker) Ping(_ context.Context) error { return s.pingErr }

// stubStatus implements StatusReporter.
type stubStatus struct {
	states map[string][]docker.ServiceState
	err    error
}

func (s *stubStatus) Status(_ context.Context, deploymentID string) ([]docker.ServiceState, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.states[deploymentID], nil
}

// stubHistory implements RunHistory.
type stubHistory struct {
	runs   map[string]*history.Run
	phases map[string][]history.PhaseRecord
	err    error
}

func newStubHistory() *stubHistory {
	return &stubHistory{
		runs:   make(map[string]*history.Run),
		phases: make(map[string][]history.PhaseRecord),
	}
}

func (s *stubHistory) ListRuns(_ context.Context, _ int) ([]history.Run, error) {
	if s.err != nil {
		return nil, s.err
	}
	var runs []history.Run
	for _, r := range s.runs {
		runs = append(runs, *r)
	}
	return runs, nil
}

func (s *stubHistory) GetRun(_ context.Context, id string) (*history.Run, error) {
	if s.err != nil {
		return nil, s.err
	}
	r, ok := s.runs[id]
	if !ok {
		return nil, history.ErrRunNotFound
	}
	return r, nil
}

func (s *stubHistory) PhasesForRun(_ context.Context, runID string) ([]history.PhaseRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.phases[runID], nil
}

func testHandler(d *stubDocker, status *stubStatus, runs *stubHistory) http.Handler {
	if d == nil {
		d = &stubDocker{}
	}
	if status == nil {
		status = &stubStatus{states: make(map[string][]docker.ServiceState)}
	}
	if runs == nil {
		runs = newStubHistory()
	}
	return NewHandler(d, status, runs, nil).Routes()
}

func doRequest(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, body io.Reader, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(body).Decode(v))
}

// =============================================================================
// Health Tests
// =============================================================================

func TestHealthEndpoint(t *testing.T) {
	rec := doRequest(t, testHandler(nil, nil, nil), http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	decodeJSON(t, rec.Body, &resp)
	assert.Equal(t, "healthy", resp.Status)
}

func TestReadyEndpoint(t *testing.T) {
	rec := doRequest(t, testHandler(nil, nil, nil), http.MethodGet, "/ready")

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ReadyResponse
	decodeJSON(t, rec.Body, &resp)
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "ok", resp.Checks["docker"])
}

func TestReadyEndpointDockerUnreachable(t *testing.T) {
	d := &stubDocker{pingErr: errors.New("connection refused")}
	rec := doRequest(t, testHandler(d, nil, nil), http.MethodGet, "/ready")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadyResponse
	decodeJSON(t, rec.Body, &resp)
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "failed", resp.Checks["docker"])
}

// =============================================================================
// Deployment Status Tests
// =============================================================================

func TestDeploymentStatus(t *testing.T) {
	status := &stubStatus{states: map[string][]docker.ServiceState{
		"ab12cd34": {
			{Service: "db", Status: "running", Health: "healthy"},
			{Service: "app", Status: "running"},
		},
	}}
	rec := doRequest(t, testHandler(nil, status, nil), http.MethodGet, "/api/v1/deployments/ab12cd34/status")

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp DeploymentStatusResponse
	decodeJSON(t, rec.Body, &resp)
	assert.Equal(t, "ab12cd34", resp.DeploymentID)
	require.Len(t, resp.Services, 2)
}

func TestDeploymentStatusNotFound(t *testing.T) {
	rec := doRequest(t, testHandler(nil, nil, nil), http.MethodGet, "/api/v1/deployments/missing/status")

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	decodeJSON(t, rec.Body, &resp)
	assert.Equal(t, "not_found", resp.Code)
}

// =============================================================================
// Run Tests
// =============================================================================

func TestGetRunWithPhases(t *testing.T) {
	runs := newStubHistory()
	finished := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	runs.runs["run1"] = &history.Run{
		ID:         "run1",
		Command:    "ci",
		Status:     history.RunStatusFailed,
		Error:      "pipeline failed in TEST",
		StartedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: &finished,
	}
	runs.phases["run1"] = []history.PhaseRecord{
		{RunID: "run1", Phase: "BUILD", Status: history.PhaseStatusPassed, Duration: time.Second},
		{RunID: "run1", Phase: "TEST", Status: history.PhaseStatusFailed, Error: "2 tests failed"},
	}

	rec := doRequest(t, testHandler(nil, nil, runs), http.MethodGet, "/api/v1/runs/run1")

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp RunResponse
	decodeJSON(t, rec.Body, &resp)
	assert.Equal(t, "failed", resp.Status)
	require.Len(t, resp.Phases, 2)
	assert.Equal(t, "BUILD", resp.Phases[0].Phase)
	assert.Equal(t, int64(1000), resp.Phases[0].DurationMS)
	assert.Equal(t, "2 tests failed", resp.Phases[1].Error)
}

func TestGetRunNotFound(t *testing.T) {
	rec := doRequest(t, testHandler(nil, nil, nil), http.MethodGet, "/api/v1/runs/missing")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns(t *testing.T) {
	runs := newStubHistory()
	runs.runs["run1"] = &history.Run{ID: "run1", Command: "up", Status: history.RunStatusSucceeded}

	rec := doRequest(t, testHandler(nil, nil, runs), http.MethodGet, "/api/v1/runs")

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ListRunsResponse
	decodeJSON(t, rec.Body, &resp)
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, "up", resp.Runs[0].Command)
	assert.Empty(t, resp.Runs[0].Phases)
}

func TestListRunsInvalidLimit(t *testing.T) {
	rec := doRequest(t, testHandler(nil, nil, nil), http.MethodGet, "/api/v1/runs?limit=abc")

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	decodeJSON(t, rec.Body, &resp)
	assert.Equal(t, "validation_error", resp.Code)
}
