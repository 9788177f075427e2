// Package history persists deployment and pipeline runs to SQLite so past
// outcomes survive process restarts.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Domain Types
// =============================================================================

// RunStatus is the lifecycle state of one recorded run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// PhaseStatus is the outcome of one pipeline phase within a run.
type PhaseStatus string

const (
	PhaseStatusPassed  PhaseStatus = "passed"
	PhaseStatusFailed  PhaseStatus = "failed"
	PhaseStatusSkipped PhaseStatus = "skipped"
)

// Run is one invocation of a deployment command.
type Run struct {
	ID           string
	Command      string // "up", "down", "ci"
	TopologyFile string
	Status       RunStatus
	Error        string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// PhaseRecord is the persisted outcome of one pipeline phase.
type PhaseRecord struct {
	RunID      string
	Phase      string
	Status     PhaseStatus
	Error      string
	Duration   time.Duration
	RecordedAt time.Time
}

// =============================================================================
// Errors
// =============================================================================

var (
	ErrRunNotFound      = errors.New("run not found")
	ErrConnectionFailed = errors.New("database connection failed")
	ErrMigrationFailed  = errors.New("database migration failed")
)

// =============================================================================
// Store
// =============================================================================

// Store records runs and phase results in SQLite.
type Store struct {
	db *sqlx.DB
}

// NewStore opens the history database and runs migrations.
func NewStore(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Run Operations
// =============================================================================

type runRow struct {
	ID           string  `db:"id"`
	Command      string  `db:"command"`
	TopologyFile string  `db:"topology_file"`
	Status       string  `db:"status"`
	Error        string  `db:"error"`
	StartedAt    string  `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
}

// BeginRun records the start of a run.
func (s *Store) BeginRun(ctx context.Context, run *Run) error {
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, command, topology_file, status, error, started_at)
		VALUES (:id, :command, :topology_file, :status, :error, :started_at)`,
		runRow{
			ID:           run.ID,
			Command:      run.Command,
			TopologyFile: run.TopologyFile,
			Status:       string(run.Status),
			Error:        run.Error,
			StartedAt:    run.StartedAt.Format(time.RFC3339Nano),
		})
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records a run's terminal status. errMsg is empty on success.
func (s *Store) FinishRun(ctx context.Context, id string, status RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun fetches one run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, command, topology_file, status, error, started_at, finished_at
		FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return row.toRun()
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, command, topology_file, status, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func (r runRow) toRun() (*Run, error) {
	startedAt, err := time.Parse(time.RFC3339Nano, r.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at for run %s: %w", r.ID, err)
	}
	run := &Run{
		ID:           r.ID,
		Command:      r.Command,
		TopologyFile: r.TopologyFile,
		Status:       RunStatus(r.Status),
		Error:        r.Error,
		StartedAt:    startedAt,
	}
	if r.FinishedAt != nil && *r.FinishedAt != "" {
		finishedAt, err := time.Parse(time.RFC3339Nano, *r.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at for run %s: %w", r.ID, err)
		}
		run.FinishedAt = &finishedAt
	}
	return run, nil
}

// =============================================================================
// Phase Operations
// =============================================================================

type phaseRow struct {
	RunID      string `db:"run_id"`
	Phase      string `db:"phase"`
	Status     string `db:"status"`
	Error      string `db:"error"`
	DurationMS int64  `db:"duration_ms"`
	RecordedAt string `db:"recorded_at"`
}

// RecordPhase appends one phase outcome to a run.
func (s *Store) RecordPhase(ctx context.Context, rec *PhaseRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO phase_results (run_id, phase, status, error, duration_ms, recorded_at)
		VALUES (:run_id, :phase, :status, :error, :duration_ms, :recorded_at)`,
		phaseRow{
			RunID:      rec.RunID,
			Phase:      rec.Phase,
			Status:     string(rec.Status),
			Error:      rec.Error,
			DurationMS: rec.Duration.Milliseconds(),
			RecordedAt: rec.RecordedAt.Format(time.RFC3339Nano),
		})
	if err != nil {
		return fmt.Errorf("record phase %s for run %s: %w", rec.Phase, rec.RunID, err)
	}
	return nil
}

// PhasesForRun returns a run's phase outcomes in execution order.
func (s *Store) PhasesForRun(ctx context.Context, runID string) ([]PhaseRecord, error) {
	var rows []phaseRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT run_id, phase, status, error, duration_ms, recorded_at
		FROM phase_results WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list phases for run %s: %w", runID, err)
	}

	records := make([]PhaseRecord, 0, len(rows))
	for _, row := range rows {
		recordedAt, err := time.Parse(time.RFC3339Nano, row.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at for run %s: %w", runID, err)
		}
		records = append(records, PhaseRecord{
			RunID:      row.RunID,
			Phase:      row.Phase,
			Status:     PhaseStatus(row.Status),
			Error:      row.Error,
			Duration:   time.Duration(row.DurationMS) * time.Millisecond,
			RecordedAt: recordedAt,
		})
	}
	return records, nil
}
