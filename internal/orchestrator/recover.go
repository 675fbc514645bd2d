package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/autopilot/internal/channel"
	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/event"
	"github.com/Iron-Ham/autopilot/internal/recovery"
	"github.com/Iron-Ham/autopilot/internal/task"
	"github.com/Iron-Ham/autopilot/internal/util"
)

// recover records the failed attempt and routes the run to RETRY or
// ESCALATE.
func (e *Engine) recover(ctx context.Context, r *run, f *attemptFailure) {
	history := e.history.Records(r.taskID)
	d := recovery.Select(recovery.Input{
		Kind:           f.kind,
		Attempt:        r.attempt,
		MaxAttempts:    e.cfg.MaxAttempts,
		History:        history,
		SingleStrategy: !e.cfg.Workflow.EnableMultiStrategyRetry,
	})

	e.history.Append(r.taskID, recovery.AttemptRecord{
		Attempt:   r.attempt,
		Kind:      f.kind,
		Strategy:  d.Strategy,
		Outcome:   recovery.OutcomeFailed,
		Detail:    util.TruncateString(f.detail, 1000),
		Timestamp: time.Now().UTC(),
	})

	r.logger.Warn("attempt failed",
		"attempt", r.attempt,
		"kind", string(f.kind),
		"strategy", string(d.Strategy),
		"reason", d.Reason,
	)
	e.bus.Publish(event.NewRecoveryDecidedEvent(r.taskID, r.attempt, string(f.kind), string(d.Strategy), d.Reason))
	e.audit(ctx, r.taskID, fmt.Sprintf("Attempt %d failed (%s): %s\nRecovery: %s (%s)",
		r.attempt, f.kind, util.TruncateString(util.FirstLine(f.detail), 300), d.Strategy, d.Reason))

	if f.verification != nil {
		r.verification = f.verification
	}

	if d.Strategy == recovery.StrategyEscalate {
		r.escalation = &escalation{reason: d.Reason, budgetExhausted: d.BudgetExhausted}
		e.transition(ctx, r, PhaseEscalate)
		return
	}

	e.transition(ctx, r, PhaseRetry)
	r.attempt++
	params := recovery.ParamsFor(d.Strategy, e.cfg.Recovery)
	if params.ClearTranscript {
		r.transcript.Reset()
	}
	r.profile = params.Profile
	r.hint = params.Hint
	r.refine = ""

	if f.kind == recovery.KindVerificationFailed && f.verification != nil {
		r.remediation = f.verification.Reasons()
		r.transcript.Add("verifier", f.verification.Summary())
	} else {
		r.remediation = nil
	}

	if d.Strategy == recovery.StrategyDecomposeFurther {
		r.refine = f.subtaskID
		if r.refine == "" {
			if leaves := r.task.OpenLeaves(); len(leaves) > 0 {
				r.refine = leaves[0].ID
			}
		}
		r.maxChildren = params.MaxSubtasks
	}

	e.checkpoint(ctx, r, "")
	e.transition(ctx, r, PhaseDecompose)
}

// escalate blocks the task and waits for a human decision.
func (e *Engine) escalate(ctx context.Context, r *run) error {
	esc := r.escalation
	if esc == nil {
		esc = &escalation{reason: "escalated"}
		r.escalation = esc
	}

	if err := e.setStatus(ctx, r.taskID, r.taskID, task.StatusBlocked); err != nil {
		r.logger.Error("failed to block task", "error", err.Error())
	}
	r.task.Status = task.StatusBlocked

	var verifierReasons []string
	if r.verification != nil {
		verifierReasons = r.verification.Reasons()
	}
	history := recovery.Summary(e.history.Records(r.taskID))
	note := noteEscalBlocked
	if esc.budgetExhausted {
		note = noteEscalBudget
	}
	e.checkpoint(ctx, r, note)

	r.logger.Warn("task escalated", "reason", esc.reason, "budget_exhausted", esc.budgetExhausted)
	e.bus.Publish(event.NewTaskEscalatedEvent(r.taskID, r.attempt, esc.reason, history, verifierReasons))

	waitCtx := ctx
	if e.cfg.DecisionTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, e.cfg.DecisionTimeout)
		defer cancel()
	}
	decision, err := e.channel.AwaitDecision(waitCtx, r.taskID)
	switch {
	case ctx.Err() != nil:
		return errors.ErrCancelled
	case err != nil:
		return e.undecided(ctx, r, err)
	}

	r.logger.Info("decision received", "decision", string(decision.Kind), "note", decision.Note)
	e.bus.Publish(event.NewTaskDecisionEvent(r.taskID, string(decision.Kind), decision.Note))
	e.audit(ctx, r.taskID, "Decision: "+decision.String())

	switch decision.Kind {
	case channel.DecisionResume:
		e.resumeAfterDecision(ctx, r, decision)
		return nil
	case channel.DecisionComplete:
		out := e.complete(ctx, r, true)
		out.Decision = &decision
		return &errStop{outcome: out}
	default:
		out := e.outcome(r, task.StatusBlocked)
		out.Decision = &decision
		return &errStop{outcome: out}
	}
}

// undecided handles an escalation nobody answered. Exhausted budgets fail
// the task; blocking failures leave it blocked for a later decision.
func (e *Engine) undecided(ctx context.Context, r *run, cause error) error {
	if !errors.Is(cause, errors.ErrNoDecision) && !errors.Is(cause, context.DeadlineExceeded) {
		r.logger.Error("awaiting decision failed", "error", cause.Error())
	}
	if !r.escalation.budgetExhausted {
		r.logger.Info("task left blocked", "reason", cause.Error())
		return &errStop{outcome: e.outcome(r, task.StatusBlocked)}
	}

	if err := e.setStatus(ctx, r.taskID, r.taskID, task.StatusFailed); err != nil {
		r.logger.Error("failed to mark task failed", "error", err.Error())
	}
	r.task.Status = task.StatusFailed
	e.transition(ctx, r, PhaseFailed)
	e.checkpoint(ctx, r, "")

	d := time.Since(r.startedAt)
	r.logger.Warn("task failed", "attempts", r.attempt, "reason", r.escalation.reason)
	e.bus.Publish(event.NewTaskFailedEvent(r.taskID, r.attempt, d, r.escalation.reason))
	e.audit(ctx, r.taskID, "Task failed: "+r.escalation.reason)
	return &errStop{outcome: e.outcome(r, task.StatusFailed)}
}

// resumeAfterDecision opens a new attempt budget and returns the run to
// DECOMPOSE.
func (e *Engine) resumeAfterDecision(ctx context.Context, r *run, d channel.Decision) {
	e.history.Append(r.taskID, recovery.AttemptRecord{
		Attempt:   r.attempt,
		Outcome:   recovery.OutcomeResumed,
		Detail:    d.Note,
		Timestamp: time.Now().UTC(),
	})
	if err := e.setStatus(ctx, r.taskID, r.taskID, task.StatusInProgress); err != nil {
		r.logger.Error("failed to resume task", "error", err.Error())
	} else {
		r.task.Status = task.StatusInProgress
	}

	r.attempt = 1
	r.escalation = nil
	r.profile, r.hint, r.refine = "", "", ""
	r.remediation = nil
	r.transcript.Reset()
	if note := strings.TrimSpace(d.Note); note != "" {
		r.transcript.Add("human", note)
		r.hint = note
	}
	e.transition(ctx, r, PhaseDecompose)
}
