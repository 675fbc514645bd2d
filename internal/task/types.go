// Package task holds the task and subtask records the engine works on and
// the Store contract through which they are read and updated.
//
// The engine never changes a task's structure beyond appending subtasks
// produced by decomposition: it updates statuses, progress logs and the
// audit log. Subtasks are never deleted.
package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/autopilot/internal/errors"
)

// Status is the lifecycle state of a task or subtask.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further automatic work happens in this state.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusBlocked
}

// ParseStatus validates a status string. Common synonyms used by external
// task tools ("todo", "completed", "in-progress") are accepted.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "todo", "":
		return StatusPending, nil
	case "in_progress", "in-progress", "active":
		return StatusInProgress, nil
	case "blocked", "deferred":
		return StatusBlocked, nil
	case "done", "completed", "complete":
		return StatusDone, nil
	case "failed", "cancelled":
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", errors.ErrInvalidStatus, s)
	}
}

// Subtask is a decomposed unit of a Task. Its ID is scoped to the parent
// task ("{task}.{n}"); subtasks refined from a failing subtask carry its ID
// as ParentID and extend it ("{task}.{n}.{m}").
type Subtask struct {
	ID          string   `json:"id" yaml:"id"`
	ParentID    string   `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Status      Status   `json:"status" yaml:"status"`
	Progress    []string `json:"progress,omitempty" yaml:"progress,omitempty"`
}

// AuditEntry is one line of a task's audit log.
type AuditEntry struct {
	Time time.Time `json:"time" yaml:"time"`
	Text string    `json:"text" yaml:"text"`
}

// Task is the top-level unit of work.
type Task struct {
	ID                 string       `json:"id" yaml:"id"`
	Title              string       `json:"title" yaml:"title"`
	Description        string       `json:"description,omitempty" yaml:"description,omitempty"`
	Dependencies       []string     `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Status             Status       `json:"status" yaml:"status"`
	Priority           string       `json:"priority,omitempty" yaml:"priority,omitempty"`
	AcceptanceCriteria string       `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria,omitempty"`
	TestProcedure      string       `json:"test_procedure,omitempty" yaml:"test_procedure,omitempty"`
	Subtasks           []Subtask    `json:"subtasks,omitempty" yaml:"subtasks,omitempty"`
	AuditLog           []AuditEntry `json:"audit_log,omitempty" yaml:"audit_log,omitempty"`
}

// NewSubtask describes a subtask to be appended to a task.
type NewSubtask struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Store is the task-store contract the orchestrator consumes.
//
// SetStatus and AppendProgress accept either a task ID or a subtask ID.
// Expand asks an external capability to split a task into subtasks; it
// returns ErrExpandUnavailable when none is configured.
type Store interface {
	Get(ctx context.Context, taskID string) (*Task, error)
	List(ctx context.Context) ([]Task, error)
	ListSubtasks(ctx context.Context, taskID string) ([]Subtask, error)
	Expand(ctx context.Context, taskID string) ([]Subtask, error)
	AddSubtasks(ctx context.Context, taskID, parentID string, subtasks []NewSubtask) ([]Subtask, error)
	AppendAuditLog(ctx context.Context, taskID, text string) error
	AppendProgress(ctx context.Context, subtaskID, text string) error
	SetStatus(ctx context.Context, id string, status Status) error
}

// SubtaskID builds the n-th (1-based) child ID under parent.
func SubtaskID(parent string, n int) string {
	return fmt.Sprintf("%s.%d", parent, n)
}

// FindSubtask returns the subtask with the given ID.
func (t *Task) FindSubtask(id string) (*Subtask, bool) {
	for i := range t.Subtasks {
		if t.Subtasks[i].ID == id {
			return &t.Subtasks[i], true
		}
	}
	return nil, false
}

// Children returns the direct children of a subtask, in stored order.
func (t *Task) Children(parentID string) []Subtask {
	var out []Subtask
	for _, s := range t.Subtasks {
		if s.ParentID == parentID {
			out = append(out, s)
		}
	}
	return out
}

// OpenLeaves returns the subtasks that still need work: not done and with
// no children of their own. Stored order is preserved.
func (t *Task) OpenLeaves() []Subtask {
	hasChildren := make(map[string]bool)
	for _, s := range t.Subtasks {
		if s.ParentID != "" {
			hasChildren[s.ParentID] = true
		}
	}
	var out []Subtask
	for _, s := range t.Subtasks {
		if s.Status != StatusDone && !hasChildren[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

// AllSubtasksDone reports whether every subtask is done. A task without
// subtasks reports false.
func (t *Task) AllSubtasksDone() bool {
	if len(t.Subtasks) == 0 {
		return false
	}
	for _, s := range t.Subtasks {
		if s.Status != StatusDone {
			return false
		}
	}
	return true
}

// CompletedParents returns the IDs of ancestors of subtaskID whose children
// are now all done but which are not yet marked done themselves, innermost
// first. The caller marks them done after finishing subtaskID.
func (t *Task) CompletedParents(subtaskID string) []string {
	var out []string
	current, ok := t.FindSubtask(subtaskID)
	for ok && current.ParentID != "" {
		parent, found := t.FindSubtask(current.ParentID)
		if !found || parent.Status == StatusDone {
			break
		}
		for _, child := range t.Children(parent.ID) {
			if child.Status != StatusDone && child.ID != subtaskID {
				return out
			}
		}
		out = append(out, parent.ID)
		subtaskID = parent.ID
		current, ok = parent, true
	}
	return out
}
