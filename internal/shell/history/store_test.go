package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	run := &Run{ID: "ab12cd34", Command: "up", TopologyFile: "drydock.yaml"}
	require.NoError(t, store.BeginRun(ctx, run))

	got, err := store.GetRun(ctx, "ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.Equal(t, "up", got.Command)
	assert.Equal(t, "drydock.yaml", got.TopologyFile)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, store.FinishRun(ctx, "ab12cd34", RunStatusSucceeded, ""))

	got, err = store.GetRun(ctx, "ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, RunStatusSucceeded, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.False(t, got.FinishedAt.Before(got.StartedAt))
}

func TestGetRunNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestFinishRunNotFound(t *testing.T) {
	store := testStore(t)

	err := store.FinishRun(context.Background(), "missing", RunStatusFailed, "boom")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		require.NoError(t, store.BeginRun(ctx, &Run{
			ID:        id,
			Command:   "ci",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "third", runs[0].ID)
	assert.Equal(t, "second", runs[1].ID)
}

func TestPhaseRecordsKeepExecutionOrder(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.BeginRun(ctx, &Run{ID: "run1", Command: "ci"}))

	phases := []PhaseRecord{
		{RunID: "run1", Phase: "BUILD", Status: PhaseStatusPassed, Duration: 1200 * time.Millisecond},
		{RunID: "run1", Phase: "RUN", Status: PhaseStatusPassed, Duration: 300 * time.Millisecond},
		{RunID: "run1", Phase: "TEST", Status: PhaseStatusFailed, Error: "2 tests failed", Duration: 4 * time.Second},
		{RunID: "run1", Phase: "LINT", Status: PhaseStatusSkipped},
		{RunID: "run1", Phase: "CLEANUP", Status: PhaseStatusPassed, Duration: 100 * time.Millisecond},
	}
	for i := range phases {
		require.NoError(t, store.RecordPhase(ctx, &phases[i]))
	}

	got, err := store.PhasesForRun(ctx, "run1")
	require.NoError(t, err)
	require.Len(t, got, 5)

	names := make([]string, len(got))
	for i, rec := range got {
		names[i] = rec.Phase
	}
	assert.Equal(t, []string{"BUILD", "RUN", "TEST", "LINT", "CLEANUP"}, names)

	assert.Equal(t, PhaseStatusFailed, got[2].Status)
	assert.Equal(t, "2 tests failed", got[2].Error)
	assert.Equal(t, 4*time.Second, got[2].Duration)
	assert.Equal(t, PhaseStatusSkipped, got[3].Status)
}

func TestPhasesForRunEmpty(t *testing.T) {
	store := testStore(t)

	got, err := store.PhasesForRun(context.Background(), "no-such-run")
	require.NoError(t, err)
	assert.Empty(t, got)
}
