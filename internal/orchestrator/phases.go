package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/event"
	"github.com/Iron-Ham/autopilot/internal/plan"
	"github.com/Iron-Ham/autopilot/internal/recovery"
	"github.com/Iron-Ham/autopilot/internal/task"
	"github.com/Iron-Ham/autopilot/internal/util"
	"github.com/Iron-Ham/autopilot/internal/verify"
	"github.com/Iron-Ham/autopilot/internal/worker"
)

// maxProgressOutput bounds the worker output copied into a progress log.
const maxProgressOutput = 4000

// decompose makes sure the task has subtasks to plan over. Existing
// subtasks are used unchanged; a pending refine scope splits one failing
// subtask into children.
func (e *Engine) decompose(ctx context.Context, r *run) error {
	e.checkpoint(ctx, r, "")

	if r.task.Status != task.StatusInProgress {
		if err := e.setStatus(ctx, r.taskID, r.taskID, task.StatusInProgress); err != nil {
			return &attemptFailure{kind: recovery.KindTransient, detail: "set task in_progress: " + err.Error()}
		}
		r.task.Status = task.StatusInProgress
	}

	switch {
	case r.refine != "":
		if err := e.refineSubtask(ctx, r); err != nil {
			return err
		}
	case len(r.task.Subtasks) == 0 && e.cfg.Workflow.EnableDecomposition:
		if err := e.decomposeTask(ctx, r); err != nil {
			return err
		}
	}

	if err := e.refresh(ctx, r); err != nil {
		return err
	}
	e.transition(ctx, r, PhasePlan)
	e.checkpoint(ctx, r, "")
	return nil
}

// decomposeTask asks the task store to expand the task, then falls back to
// worker decomposition, then to a single deterministic subtask.
func (e *Engine) decomposeTask(ctx context.Context, r *run) error {
	subs, err := e.tasks.Expand(ctx, r.taskID)
	switch {
	case ctx.Err() != nil:
		return errors.ErrCancelled
	case err == nil && len(subs) > 0:
		r.logger.Info("task expanded by store", "subtasks", len(subs))
		e.audit(ctx, r.taskID, fmt.Sprintf("Decomposed into %d subtasks by the task store", len(subs)))
		return nil
	case err != nil && !errors.Is(err, errors.ErrExpandUnavailable):
		r.logger.Warn("task store expansion failed", "error", err.Error())
	}

	proposed, source, err := e.proposeSubtasks(ctx, r)
	if err != nil {
		return err
	}
	var added []task.Subtask
	err = e.persist(ctx, r.taskID, "add subtasks", func(ctx context.Context) error {
		var err error
		added, err = e.tasks.AddSubtasks(ctx, r.taskID, "", proposed)
		return err
	})
	if err != nil {
		return &attemptFailure{kind: recovery.KindTransient, detail: "add subtasks: " + err.Error()}
	}
	e.audit(ctx, r.taskID, fmt.Sprintf("Decomposed into %d subtasks (%s)", len(added), source))
	return nil
}

func (e *Engine) proposeSubtasks(ctx context.Context, r *run) ([]task.NewSubtask, string, error) {
	prompt, err := plan.BuildDecomposePrompt(r.task, e.cfg.MinSubtasks, e.cfg.MaxSubtasks)
	if err != nil {
		r.logger.Warn("decompose prompt failed", "error", err.Error())
		return plan.Fallback(r.task), "fallback", nil
	}
	res, err := e.agent.Invoke(ctx, worker.Request{Instruction: prompt})
	if ctx.Err() != nil {
		return nil, "", errors.ErrCancelled
	}
	if err != nil || !res.Success {
		r.logger.Warn("worker decomposition failed", "error", failureText(res, err))
		return plan.Fallback(r.task), "fallback", nil
	}
	subs, err := plan.ParseSubtasks(res.Output, e.cfg.MinSubtasks, e.cfg.MaxSubtasks)
	if err != nil {
		r.logger.Warn("worker decomposition unusable", "error", err.Error())
		return plan.Fallback(r.task), "fallback", nil
	}
	return subs, "worker", nil
}

// refineSubtask splits r.refine into smaller children.
func (e *Engine) refineSubtask(ctx context.Context, r *run) error {
	target := r.refine
	sub, ok := r.task.FindSubtask(target)
	if !ok || sub.Status == task.StatusDone {
		r.refine = ""
		return nil
	}
	maxChildren := r.maxChildren
	if maxChildren < 2 {
		maxChildren = recovery.ParamsFor(recovery.StrategyDecomposeFurther, e.cfg.Recovery).MaxSubtasks
	}

	children := plan.RefineFallback(*sub)
	source := "fallback"
	failure := strings.Join(r.remediation, "\n")
	if recs := e.history.Records(r.taskID); len(recs) > 0 && failure == "" {
		failure = recs[len(recs)-1].Detail
	}
	if prompt, err := plan.BuildRefinePrompt(r.task, *sub, failure, maxChildren); err == nil {
		res, err := e.agent.Invoke(ctx, worker.Request{Instruction: prompt})
		if ctx.Err() != nil {
			return errors.ErrCancelled
		}
		if err == nil && res.Success {
			if parsed, perr := plan.ParseSubtasks(res.Output, 2, maxChildren); perr == nil {
				children, source = parsed, "worker"
			}
		}
	}

	err := e.persist(ctx, r.taskID, "add subtasks", func(ctx context.Context) error {
		_, err := e.tasks.AddSubtasks(ctx, r.taskID, target, children)
		return err
	})
	if err != nil {
		return &attemptFailure{kind: recovery.KindTransient, detail: "add subtasks: " + err.Error(), subtaskID: target}
	}
	r.refine = ""
	r.logger.Info("subtask refined", "subtask_id", target, "children", len(children), "source", source)
	e.audit(ctx, r.taskID, fmt.Sprintf("Split subtask %s into %d smaller subtasks (%s)", target, len(children), source))
	return nil
}

// planPhase builds the plan for this attempt and records it.
func (e *Engine) planPhase(ctx context.Context, r *run) error {
	if e.cfg.Workflow.EnableDecomposition && len(r.task.Subtasks) > 0 {
		r.plan = plan.Build(r.task, r.attempt, r.remediation)
	} else {
		r.plan = plan.Whole(r.task, r.attempt, r.remediation)
	}
	if r.plan.Len() == 0 {
		// Every subtask is already done; the verifier decides.
		r.logger.Info("nothing left to execute")
	}

	e.audit(ctx, r.taskID, r.plan.Render())
	e.transition(ctx, r, PhaseExecute)
	e.checkpoint(ctx, r, "")
	return nil
}

// execute runs the plan's steps in order from r.stepIndex. The first
// failure ends the attempt.
func (e *Engine) execute(ctx context.Context, r *run) error {
	for r.stepIndex < r.plan.Len() {
		step := r.plan.Steps[r.stepIndex]
		e.updateStatus(func(s *Status) { s.StepIndex = r.stepIndex })

		if step.SubtaskID != "" {
			if sub, ok := r.task.FindSubtask(step.SubtaskID); ok && sub.Status == task.StatusDone {
				r.stepIndex++
				continue
			}
			if err := e.setStatus(ctx, r.taskID, step.SubtaskID, task.StatusInProgress); err != nil {
				e.checkpoint(ctx, r, noteStepFailed)
				return &attemptFailure{kind: recovery.KindTransient, detail: "set status: " + err.Error(), subtaskID: step.SubtaskID}
			}
		}

		if err := e.runStep(ctx, r, step); err != nil {
			return err
		}
		r.stepIndex++
		e.updateStatus(func(s *Status) { s.StepIndex = r.stepIndex })
		e.checkpoint(ctx, r, "")
	}

	e.transition(ctx, r, PhaseVerify)
	return nil
}

func (e *Engine) runStep(ctx context.Context, r *run, step plan.Step) error {
	total := r.plan.Len()
	instruction, err := stepInstruction(r, step, total)
	if err != nil {
		return err
	}

	r.logger.Info("executing step",
		"step_index", step.Index,
		"subtask_id", step.SubtaskID,
		"attempt", r.attempt,
		"profile", r.profile,
	)
	e.bus.Publish(event.NewStepStartedEvent(r.taskID, step.Index, step.SubtaskID, step.Title, r.profile))

	start := time.Now()
	res, invokeErr := e.agent.Invoke(ctx, worker.Request{
		Instruction: instruction,
		Transcript:  r.transcript,
		Profile:     r.profile,
	})
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		e.progress(ctx, r.taskID, step.SubtaskID, fmt.Sprintf("Attempt %d: step aborted", r.attempt))
		e.checkpoint(ctx, r, noteStepAborted)
		e.bus.Publish(event.NewStepFinishedEvent(r.taskID, step.Index, step.SubtaskID, false, true, nil, elapsed, "aborted"))
		return errors.ErrCancelled
	}

	var tools []string
	var output string
	if res != nil {
		tools, output = res.Tools, res.Output
	}
	r.transcript.Add("step "+stepLabel(step, total), step.Title)
	r.transcript.Add("worker", output)

	failed := invokeErr != nil || !res.Success
	if e.cfg.Workflow.EnableProgressLog {
		e.progress(ctx, r.taskID, step.SubtaskID, progressEntry(r, res, invokeErr))
	}

	if failed {
		detail := failureText(res, invokeErr)
		f := recovery.Failure{Detail: detail, Err: invokeErr}
		if res != nil {
			f.ExitCode = res.ExitCode
		}
		kind := recovery.Classify(f)
		r.logger.Warn("step failed",
			"step_index", step.Index,
			"kind", string(kind),
			"detail", util.TruncateString(util.FirstLine(detail), 200),
		)
		e.bus.Publish(event.NewStepFinishedEvent(r.taskID, step.Index, step.SubtaskID, false, false, tools, elapsed, detail))
		e.checkpoint(ctx, r, noteStepFailed)
		return &attemptFailure{kind: kind, detail: detail, subtaskID: step.SubtaskID}
	}

	if step.SubtaskID != "" {
		parents := r.task.CompletedParents(step.SubtaskID)
		if err := e.setStatus(ctx, r.taskID, step.SubtaskID, task.StatusDone); err != nil {
			e.checkpoint(ctx, r, noteStepFailed)
			return &attemptFailure{kind: recovery.KindTransient, detail: "set status: " + err.Error(), subtaskID: step.SubtaskID}
		}
		for _, id := range parents {
			if err := e.setStatus(ctx, r.taskID, id, task.StatusDone); err != nil {
				r.logger.Warn("failed to complete parent subtask", "subtask_id", id, "error", err.Error())
			}
		}
		if err := e.refresh(ctx, r); err != nil {
			return err
		}
	}

	e.bus.Publish(event.NewStepFinishedEvent(r.taskID, step.Index, step.SubtaskID, true, false, tools, elapsed, ""))
	return nil
}

func progressEntry(r *run, res *worker.Result, err error) string {
	var sb strings.Builder
	profile := r.profile
	if profile == "" {
		profile = "default"
	}
	if err == nil && res != nil && res.Success {
		fmt.Fprintf(&sb, "Attempt %d (%s): completed", r.attempt, profile)
	} else {
		fmt.Fprintf(&sb, "Attempt %d (%s): failed: %s", r.attempt, profile, util.FirstLine(failureText(res, err)))
	}
	if res != nil && strings.TrimSpace(res.Output) != "" {
		sb.WriteString("\n" + util.TailString(strings.TrimSpace(res.Output), maxProgressOutput))
	}
	return sb.String()
}

// failureText explains a failed invocation.
func failureText(res *worker.Result, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case res == nil:
		return "worker returned no result"
	case res.FailureDetail != "":
		return res.FailureDetail
	case res.Output != "":
		return util.TailString(res.Output, 500)
	default:
		return fmt.Sprintf("worker reported failure (exit %d)", res.ExitCode)
	}
}

// verifyPhase runs the verifier. A failed verification ends the attempt
// with kind verification_failed.
func (e *Engine) verifyPhase(ctx context.Context, r *run) error {
	var v *verify.Verification
	if e.cfg.Workflow.EnableVerification {
		var err error
		v, err = e.verifier.Verify(ctx, r.task, r.plan)
		if err != nil {
			if ctx.Err() != nil {
				return errors.ErrCancelled
			}
			return err
		}
	} else {
		v = verify.Skipped()
	}
	r.verification = v

	checks := make([]event.CheckResult, len(v.Checks))
	for i, c := range v.Checks {
		checks[i] = event.CheckResult{Name: c.Name, Passed: c.Passed, Reason: c.Reason}
	}
	e.bus.Publish(event.NewVerificationEvent(r.taskID, r.attempt, v.Passed, checks))
	e.audit(ctx, r.taskID, v.Summary())

	if !v.Passed {
		return &attemptFailure{
			kind:         recovery.KindVerificationFailed,
			detail:       strings.Join(v.Reasons(), "; "),
			verification: v,
		}
	}

	e.history.Append(r.taskID, recovery.AttemptRecord{
		Attempt:   r.attempt,
		Outcome:   recovery.OutcomeSucceeded,
		Timestamp: time.Now().UTC(),
	})
	e.transition(ctx, r, PhaseReflect)
	e.checkpoint(ctx, r, "")
	return nil
}

// reflect summarizes the attempt into the audit log. It never fails the
// task; any error falls back to a summary built from the attempt history.
func (e *Engine) reflect(ctx context.Context, r *run) {
	summary, fallback := "", true
	if e.cfg.Workflow.EnableReflection {
		if s, err := e.reflectWithWorker(ctx, r); err == nil {
			summary, fallback = s, false
		} else if ctx.Err() == nil {
			r.logger.Warn("reflection failed, using fallback", "error", err.Error())
		}
	}
	if fallback {
		summary = fallbackReflection(r, e.history.Records(r.taskID))
	}

	e.audit(ctx, r.taskID, summary)
	e.bus.Publish(event.NewReflectionEvent(r.taskID, summary, fallback))
	e.transition(ctx, r, PhaseComplete)
}

func (e *Engine) reflectWithWorker(ctx context.Context, r *run) (string, error) {
	prompt, err := reflectionPrompt(r, recovery.Summary(recovery.Window(e.history.Records(r.taskID))))
	if err != nil {
		return "", err
	}
	res, err := e.agent.Invoke(ctx, worker.Request{Instruction: prompt})
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", fmt.Errorf("reflection worker failed: %s", failureText(res, nil))
	}
	refl, err := ParseReflection(res.Output)
	if err != nil {
		return "", err
	}
	return refl.Render(r.taskID), nil
}

// complete marks the task done and drops its checkpoints.
func (e *Engine) complete(ctx context.Context, r *run, manual bool) *Outcome {
	if err := e.setStatus(ctx, r.taskID, r.taskID, task.StatusDone); err != nil {
		r.logger.Error("failed to mark task done", "error", err.Error())
	}
	if e.checkpoints != nil {
		_ = e.persist(ctx, r.taskID, "purge checkpoints", func(ctx context.Context) error {
			return e.checkpoints.Purge(ctx, r.taskID)
		})
	}
	e.history.Reset(r.taskID)

	r.phase = PhaseComplete
	e.updateStatus(func(s *Status) { s.Phase = PhaseComplete })
	d := time.Since(r.startedAt)
	r.logger.Info("task completed", "attempts", r.attempt, "duration", d.String(), "manual", manual)
	e.bus.Publish(event.NewTaskCompletedEvent(r.taskID, r.attempt, d, manual))
	return e.outcome(r, task.StatusDone)
}
