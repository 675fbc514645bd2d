// Package checkpoint persists immutable snapshots of a task's progress so
// an interrupted run can resume where it stopped.
//
// Checkpoints are append-only. Each Save assigns the next sequence number
// for the task and the highest sequence is authoritative. Stores publish a
// record only once it is fully written, so a concurrent reader sees either
// the previous latest or the new one, never a partial record.
package checkpoint

import (
	"context"
	"time"

	"github.com/Iron-Ham/autopilot/internal/plan"
	"github.com/Iron-Ham/autopilot/internal/recovery"
	"github.com/Iron-Ham/autopilot/internal/task"
	"github.com/Iron-Ham/autopilot/internal/verify"
)

// DefaultRetention is how long checkpoints of unfinished tasks are kept.
const DefaultRetention = 7 * 24 * time.Hour

// Checkpoint is one snapshot of a task's progress.
type Checkpoint struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	Phase     string `json:"phase"`
	StepIndex int    `json:"step_index"`
	Attempt   int    `json:"attempt"`

	Plan         *plan.ExecutionPlan      `json:"plan,omitempty"`
	Subtasks     map[string]task.Status   `json:"subtasks,omitempty"`
	Attempts     []recovery.AttemptRecord `json:"attempts,omitempty"`
	Verification *verify.Verification     `json:"verification,omitempty"`

	// Next-attempt parameters chosen by recovery.
	Profile     string   `json:"profile,omitempty"`
	Hint        string   `json:"hint,omitempty"`
	Refine      string   `json:"refine,omitempty"`
	Remediation []string `json:"remediation,omitempty"`

	// Escalation is set while the task waits for a human decision.
	Escalation *Escalation `json:"escalation,omitempty"`

	Note string `json:"note,omitempty"`
}

// Escalation records why a task was handed to a human.
type Escalation struct {
	Reason          string `json:"reason"`
	BudgetExhausted bool   `json:"budget_exhausted,omitempty"`
}

// Store is the checkpoint persistence contract.
type Store interface {
	// Save assigns ID, Seq and (if unset) Timestamp, then appends cp.
	Save(ctx context.Context, cp *Checkpoint) error
	// Latest returns the highest-sequence checkpoint, or ErrNoCheckpoint.
	Latest(ctx context.Context, taskID string) (*Checkpoint, error)
	// List returns the task's checkpoints in ascending sequence order.
	List(ctx context.Context, taskID string) ([]*Checkpoint, error)
	// Tasks returns the IDs of tasks with at least one checkpoint.
	Tasks(ctx context.Context) ([]string, error)
	// Purge removes every checkpoint of a task.
	Purge(ctx context.Context, taskID string) error
	// PurgeOlderThan removes checkpoints written more than d ago, except
	// each task's latest, and returns how many were removed.
	PurgeOlderThan(ctx context.Context, d time.Duration) (int, error)
	Close() error
}

// SubtaskStatuses snapshots a task's subtask statuses.
func SubtaskStatuses(t *task.Task) map[string]task.Status {
	out := make(map[string]task.Status, len(t.Subtasks))
	for _, s := range t.Subtasks {
		out[s.ID] = s.Status
	}
	return out
}
