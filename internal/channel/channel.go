// Package channel carries messages between the engine and the humans
// supervising it: notifications out, escalation decisions in.
package channel

import (
	"context"
	"fmt"
	"strings"
	"time"

	apierrors "github.com/Iron-Ham/autopilot/internal/errors"
)

// DecisionKind is a human answer to an escalation.
type DecisionKind string

const (
	// DecisionResume returns the task to work with a fresh attempt budget.
	DecisionResume DecisionKind = "resume"
	// DecisionSkip leaves the task blocked and moves on.
	DecisionSkip DecisionKind = "skip"
	// DecisionComplete marks the task done without further work.
	DecisionComplete DecisionKind = "complete"
)

// Decision is a decision with an optional free-text note.
type Decision struct {
	Kind DecisionKind `json:"kind"`
	Note string       `json:"note,omitempty"`
}

// String renders the decision in the form ParseDecision accepts.
func (d Decision) String() string {
	if d.Note == "" {
		return string(d.Kind)
	}
	return string(d.Kind) + " " + d.Note
}

// ParseDecision parses "resume|skip|complete [note]". The first word is
// matched case-insensitively; "complete_manually" and "done" are accepted
// as complete.
func ParseDecision(s string) (Decision, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Decision{}, fmt.Errorf("empty decision")
	}
	word := fields[0]
	note := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), word))

	switch strings.ToLower(word) {
	case "resume", "retry":
		return Decision{Kind: DecisionResume, Note: note}, nil
	case "skip":
		return Decision{Kind: DecisionSkip, Note: note}, nil
	case "complete", "complete_manually", "completemanually", "done":
		return Decision{Kind: DecisionComplete, Note: note}, nil
	default:
		return Decision{}, fmt.Errorf("invalid decision %q: want resume, skip or complete", word)
	}
}

// Notification is one outbound message.
type Notification struct {
	Time    time.Time `json:"time"`
	TaskID  string    `json:"task_id,omitempty"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Details []string  `json:"details,omitempty"`
}

// Channel is the engine's link to its human supervisors.
type Channel interface {
	// Notify delivers a notification. Delivery is best effort; callers log
	// errors and carry on.
	Notify(ctx context.Context, n Notification) error
	// AwaitDecision blocks until a decision for taskID arrives or ctx ends.
	// Channels that cannot deliver decisions return ErrNoDecision.
	AwaitDecision(ctx context.Context, taskID string) (Decision, error)
}

// Nop discards notifications and never delivers decisions.
type Nop struct{}

// Notify discards n.
func (Nop) Notify(context.Context, Notification) error { return nil }

// AwaitDecision returns ErrNoDecision.
func (Nop) AwaitDecision(context.Context, string) (Decision, error) {
	return Decision{}, apierrors.ErrNoDecision
}
