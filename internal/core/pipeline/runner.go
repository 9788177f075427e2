package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// =============================================================================
// Hooks and Results
// =============================================================================

// PhaseFunc executes one pipeline phase.
type PhaseFunc func(ctx context.Context) error

// Hooks binds a PhaseFunc to each phase. A nil hook makes the phase a no-op
// that still records as executed.
type Hooks struct {
	Build   PhaseFunc
	Run     PhaseFunc
	Test    PhaseFunc
	Lint    PhaseFunc
	Cleanup PhaseFunc
}

func (h Hooks) forPhase(p Phase) PhaseFunc {
	switch p {
	case PhaseBuild:
		return h.Build
	case PhaseRun:
		return h.Run
	case PhaseTest:
		return h.Test
	case PhaseLint:
		return h.Lint
	case PhaseCleanup:
		return h.Cleanup
	default:
		return nil
	}
}

// PhaseResult records the outcome of one phase.
type PhaseResult struct {
	Phase    Phase
	Err      error
	Duration time.Duration
	Skipped  bool
}

// Result is the aggregate pipeline outcome. The pipeline passes iff every
// executed non-CLEANUP phase succeeded. A CLEANUP failure is recorded as a
// warning and does not flip a passing result.
type Result struct {
	Phases     []PhaseResult
	Failed     *PhaseResult // first failing non-CLEANUP phase, nil when passed
	CleanupErr error
}

// Passed reports whether every executed non-CLEANUP phase succeeded.
func (r Result) Passed() bool {
	return r.Failed == nil
}

// Err surfaces the first failing phase's name and error, or nil.
func (r Result) Err() error {
	if r.Failed == nil {
		return nil
	}
	return fmt.Errorf("pipeline failed in %s: %w", r.Failed.Phase, r.Failed.Err)
}

// =============================================================================
// Runner
// =============================================================================

// Runner executes the phase state machine.
type Runner struct {
	hooks  Hooks
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(hooks Hooks, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{hooks: hooks, logger: logger}
}

// Run executes BUILD → RUN → TEST → LINT → CLEANUP. The first failure in a
// non-CLEANUP phase skips the remaining non-CLEANUP phases; CLEANUP executes
// unconditionally, even on context cancellation, with a detached context.
func (r *Runner) Run(ctx context.Context) Result {
	var result Result

	for _, phase := range Phases {
		if phase.Terminal() {
			break
		}
		if result.Failed != nil {
			result.Phases = append(result.Phases, PhaseResult{Phase: phase, Skipped: true})
			r.logger.Debug("phase skipped", "phase", phase.String())
			continue
		}

		pr := r.execute(ctx, phase)
		result.Phases = append(result.Phases, pr)
		if pr.Err != nil {
			failed := pr
			result.Failed = &failed
			r.logger.Error("phase failed", "phase", phase.String(), "error", pr.Err)
		}
	}

	// CLEANUP must run even when the surrounding context is gone.
	cleanup := r.execute(context.WithoutCancel(ctx), PhaseCleanup)
	result.Phases = append(result.Phases, cleanup)
	if cleanup.Err != nil {
		result.CleanupErr = cleanup.Err
		r.logger.Warn("cleanup reported errors", "error", cleanup.Err)
	}

	return result
}

func (r *Runner) execute(ctx context.Context, phase Phase) PhaseResult {
	hook := r.hooks.forPhase(phase)
	r.logger.Info("phase started", "phase", phase.String())

	start := time.Now()
	var err error
	if hook != nil {
		err = hook(ctx)
	}
	elapsed := time.Since(start)

	if err == nil {
		r.logger.Info("phase succeeded", "phase", phase.String(), "duration", elapsed)
	}
	return PhaseResult{Phase: phase, Err: err, Duration: elapsed}
}
