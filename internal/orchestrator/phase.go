package orchestrator

import (
	"fmt"
	"strings"
)

// Phase is a state of the per-task state machine.
type Phase string

const (
	PhaseDecompose Phase = "DECOMPOSE"
	PhasePlan      Phase = "PLAN"
	PhaseExecute   Phase = "EXECUTE"
	PhaseVerify    Phase = "VERIFY"
	PhaseReflect   Phase = "REFLECT"
	PhaseComplete  Phase = "COMPLETE"
	PhaseRetry     Phase = "RETRY"
	PhaseEscalate  Phase = "ESCALATE"
	PhaseFailed    Phase = "FAILED"
)

// AllPhases lists every phase in state-machine order.
func AllPhases() []Phase {
	return []Phase{
		PhaseDecompose, PhasePlan, PhaseExecute, PhaseVerify, PhaseReflect,
		PhaseComplete, PhaseRetry, PhaseEscalate, PhaseFailed,
	}
}

// ParsePhase parses a phase name case-insensitively.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllPhases() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// IsTerminal reports whether no further automatic work follows the phase.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseEscalate
}
