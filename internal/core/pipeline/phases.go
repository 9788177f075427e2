// Package pipeline drives the CI phase state machine:
// BUILD → RUN → TEST → LINT → CLEANUP, linear with no branching.
// Any failure jumps straight to CLEANUP, and CLEANUP always executes.
package pipeline

// Phase is one stage of the CI pipeline. The order is total and fixed.
type Phase int

const (
	PhaseBuild Phase = iota
	PhaseRun
	PhaseTest
	PhaseLint
	PhaseCleanup
)

// Phases lists every phase in execution order.
var Phases = []Phase{PhaseBuild, PhaseRun, PhaseTest, PhaseLint, PhaseCleanup}

func (p Phase) String() string {
	switch p {
	case PhaseBuild:
		return "BUILD"
	case PhaseRun:
		return "RUN"
	case PhaseTest:
		return "TEST"
	case PhaseLint:
		return "LINT"
	case PhaseCleanup:
		return "CLEANUP"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the phase is the guaranteed finalizer.
func (p Phase) Terminal() bool {
	return p == PhaseCleanup
}
