package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/Iron-Ham/autopilot/internal/checkpoint"
	"github.com/Iron-Ham/autopilot/internal/event"
	"github.com/Iron-Ham/autopilot/internal/task"
)

// Checkpoint notes.
const (
	noteCancelled    = "cancelled"
	noteStepAborted  = "step aborted"
	noteStepFailed   = "step failed"
	noteEscalBudget  = "escalated: attempt budget exhausted"
	noteEscalBlocked = "escalated: blocking failure"
)

// restoredEscalation rebuilds the escalation a checkpoint was saved under.
// Records written without the escalation field fall back to the note.
func restoredEscalation(cp *checkpoint.Checkpoint) *escalation {
	if cp.Escalation != nil {
		return &escalation{reason: cp.Escalation.Reason, budgetExhausted: cp.Escalation.BudgetExhausted}
	}
	return &escalation{
		reason:          strings.TrimPrefix(cp.Note, "escalated: "),
		budgetExhausted: cp.Note == noteEscalBudget,
	}
}

// persist runs a store write, retrying once after the configured backoff.
// A second failure is published as a persistence warning and returned.
// Writes are detached from cancellation so a cancelled run can still
// record where it stopped.
func (e *Engine) persist(ctx context.Context, taskID, op string, fn func(context.Context) error) error {
	ctx = context.WithoutCancel(ctx)
	err := fn(ctx)
	if err == nil {
		return nil
	}

	e.logger.Warn("persistence write failed, retrying",
		"task_id", taskID,
		"op", op,
		"error", err.Error(),
		"backoff", e.cfg.PersistenceBackoff.String(),
	)
	if e.cfg.PersistenceBackoff > 0 {
		time.Sleep(e.cfg.PersistenceBackoff)
	}
	if err = fn(ctx); err == nil {
		return nil
	}

	e.logger.Error("persistence write failed", "task_id", taskID, "op", op, "error", err.Error())
	e.bus.Publish(event.NewPersistenceWarningEvent(taskID, op, err))
	return err
}

// checkpoint saves the run's position. Failures degrade to a persistence
// warning; the step already completed stands.
func (e *Engine) checkpoint(ctx context.Context, r *run, note string) {
	if e.checkpoints == nil || !e.cfg.Workflow.EnableCheckpointing {
		return
	}
	if note == noteCancelled || note == noteStepAborted {
		r.cancelSaved = true
	}

	cp := &checkpoint.Checkpoint{
		TaskID:       r.taskID,
		Phase:        string(r.phase),
		StepIndex:    r.stepIndex,
		Attempt:      r.attempt,
		Plan:         r.plan,
		Subtasks:     checkpoint.SubtaskStatuses(r.task),
		Attempts:     e.history.Records(r.taskID),
		Verification: r.verification,
		Profile:      r.profile,
		Hint:         r.hint,
		Refine:       r.refine,
		Remediation:  r.remediation,
		Note:         note,
	}
	if r.escalation != nil {
		cp.Escalation = &checkpoint.Escalation{
			Reason:          r.escalation.reason,
			BudgetExhausted: r.escalation.budgetExhausted,
		}
	}
	err := e.persist(ctx, r.taskID, "save checkpoint", func(ctx context.Context) error {
		cp.ID, cp.Seq = "", 0
		return e.checkpoints.Save(ctx, cp)
	})
	if err != nil {
		return
	}

	e.updateStatus(func(s *Status) { s.LastCheckpoint = cp.Timestamp })
	e.bus.Publish(event.NewCheckpointSavedEvent(r.taskID, cp.Seq, cp.Phase, cp.StepIndex))
}

// setStatus writes a task or subtask status with retry.
func (e *Engine) setStatus(ctx context.Context, taskID, id string, status task.Status) error {
	return e.persist(ctx, taskID, "set status "+id, func(ctx context.Context) error {
		return e.tasks.SetStatus(ctx, id, status)
	})
}

// audit appends to the task's audit log. Failures only warn.
func (e *Engine) audit(ctx context.Context, taskID, text string) {
	_ = e.persist(ctx, taskID, "append audit log", func(ctx context.Context) error {
		return e.tasks.AppendAuditLog(ctx, taskID, text)
	})
}

// progress appends to a subtask's progress log. Failures only warn.
func (e *Engine) progress(ctx context.Context, taskID, subtaskID, text string) {
	if subtaskID == "" {
		return
	}
	_ = e.persist(ctx, taskID, "append progress "+subtaskID, func(ctx context.Context) error {
		return e.tasks.AppendProgress(ctx, subtaskID, text)
	})
}
