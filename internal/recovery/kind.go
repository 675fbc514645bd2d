// Package recovery decides what happens after a failed attempt.
//
// Classify maps a failure observation to a Kind. Select turns the kind and
// the task's attempt history into a Strategy. Both are pure; History is the
// only stateful type and holds the per-task AttemptRecords the selector
// reads.
package recovery

import (
	"strings"
	"time"
)

// Kind is the classification of a failed attempt.
type Kind string

const (
	KindNone               Kind = ""
	KindTransient          Kind = "TRANSIENT"
	KindBlocking           Kind = "BLOCKING"
	KindCritical           Kind = "CRITICAL"
	KindVerificationFailed Kind = "verification_failed"
	// KindPersistenceWarning marks checkpoint or audit-log writes that
	// failed twice. It never fails a task and never reaches Select.
	KindPersistenceWarning Kind = "PERSISTENCE_WARNING"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	if k == KindNone {
		return "none"
	}
	return string(k)
}

// ParseKind parses a worker-reported kind. Only the three failure kinds are
// accepted; the verification and persistence kinds are engine-internal.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(KindTransient):
		return KindTransient, true
	case string(KindBlocking):
		return KindBlocking, true
	case string(KindCritical):
		return KindCritical, true
	default:
		return KindNone, false
	}
}

// Strategy is the recovery action chosen for a failed attempt.
type Strategy string

const (
	StrategyNone             Strategy = ""
	StrategySimpleRetry      Strategy = "SIMPLE_RETRY"
	StrategyAlternateAgent   Strategy = "ALTERNATE_AGENT_CONFIGURATION"
	StrategyDecomposeFurther Strategy = "DECOMPOSE_FURTHER"
	StrategyEscalate         Strategy = "ESCALATE"
)

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	if s == StrategyNone {
		return "none"
	}
	return string(s)
}

// Outcome is the result of an attempt.
type Outcome string

const (
	OutcomeFailed    Outcome = "failed"
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeResumed records a human resume after an escalation.
	OutcomeResumed Outcome = "resumed"
)

// AttemptRecord is one entry of a task's append-only attempt history.
type AttemptRecord struct {
	Attempt   int       `json:"attempt"`
	Kind      Kind      `json:"kind,omitempty"`
	Strategy  Strategy  `json:"strategy,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Window returns the records after the most recent ESCALATE. Attempts
// before a human decision belong to an earlier budget and do not count
// against the current one.
func Window(history []AttemptRecord) []AttemptRecord {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Strategy == StrategyEscalate {
			return history[i+1:]
		}
	}
	return history
}
