package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/event"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/plan"
	"github.com/Iron-Ham/autopilot/internal/recovery"
	"github.com/Iron-Ham/autopilot/internal/task"
	"github.com/Iron-Ham/autopilot/internal/verify"
	"github.com/Iron-Ham/autopilot/internal/worker"
)

// run is the mutable state of the task in the active slot.
type run struct {
	taskID    string
	task      *task.Task
	phase     Phase
	attempt   int // 1-based within the current decision window
	stepIndex int
	plan      *plan.ExecutionPlan

	transcript   *worker.Transcript
	verification *verify.Verification

	// Next-attempt parameters chosen by recovery.
	profile     string
	hint        string
	refine      string   // subtask to split before planning
	maxChildren int      // cap for refine
	remediation []string // verifier reasons for the remediation step

	escalation *escalation
	resumed    bool
	startedAt  time.Time
	logger     *logging.Logger

	// cancelSaved is set once the cancellation checkpoint is written.
	cancelSaved bool
}

// escalation describes why the run is waiting for a human.
type escalation struct {
	reason          string
	budgetExhausted bool
}

// attemptFailure ends the current attempt and is routed through recovery.
type attemptFailure struct {
	kind         recovery.Kind
	detail       string
	subtaskID    string
	verification *verify.Verification
}

func (f *attemptFailure) Error() string {
	return fmt.Sprintf("%s: %s", f.kind, f.detail)
}

// errStop ends drive with the outcome already recorded on the run.
type errStop struct{ outcome *Outcome }

func (e *errStop) Error() string { return "run stopped" }

func (e *Engine) newRun(t *task.Task) *run {
	return &run{
		taskID:     t.ID,
		task:       t,
		phase:      PhaseDecompose,
		attempt:    1,
		transcript: worker.NewTranscript(e.cfg.TranscriptMaxEntries, e.cfg.TranscriptMaxChars),
		startedAt:  time.Now(),
		logger:     e.logger.WithTask(t.ID),
	}
}

// drive runs the state machine until the task leaves the engine's hands.
func (e *Engine) drive(ctx context.Context, r *run) (*Outcome, error) {
	for {
		if ctx.Err() != nil {
			return e.cancelled(r)
		}

		var err error
		switch r.phase {
		case PhaseDecompose:
			err = e.decompose(ctx, r)
		case PhasePlan:
			err = e.planPhase(ctx, r)
		case PhaseExecute:
			err = e.execute(ctx, r)
		case PhaseVerify:
			err = e.verifyPhase(ctx, r)
		case PhaseReflect:
			e.reflect(ctx, r)
		case PhaseComplete:
			return e.complete(ctx, r, false), nil
		case PhaseRetry:
			// A run restored between a recovery decision and its next
			// attempt starts that attempt.
			e.transition(ctx, r, PhaseDecompose)
		case PhaseEscalate:
			err = e.escalate(ctx, r)
		case PhaseFailed:
			return e.outcome(r, task.StatusFailed), nil
		default:
			return nil, errors.NewEngineError("unknown phase", nil).WithTask(r.taskID).WithPhase(string(r.phase))
		}

		if err == nil {
			continue
		}

		var stop *errStop
		var failure *attemptFailure
		switch {
		case errors.As(err, &stop):
			return stop.outcome, nil
		case errors.Is(err, errors.ErrCancelled) || ctx.Err() != nil:
			return e.cancelled(r)
		case errors.As(err, &failure):
			e.recover(ctx, r, failure)
		default:
			r.logger.Error("run aborted", "phase", string(r.phase), "error", err.Error())
			return nil, errors.NewEngineError("run aborted", err).WithTask(r.taskID).WithPhase(string(r.phase))
		}
	}
}

// transition moves the run to the next phase and announces it.
func (e *Engine) transition(ctx context.Context, r *run, to Phase) {
	from := r.phase
	r.phase = to
	if to != PhaseExecute {
		r.stepIndex = 0
	}
	e.updateStatus(func(s *Status) {
		s.Phase = to
		s.Attempt = r.attempt
		s.StepIndex = r.stepIndex
	})
	r.logger.Debug("phase transition", "from", string(from), "to", string(to), "attempt", r.attempt)
	e.bus.Publish(event.NewPhaseChangedEvent(r.taskID, string(from), string(to), r.attempt))
}

// refresh re-reads the task after store mutations.
func (e *Engine) refresh(ctx context.Context, r *run) error {
	var t *task.Task
	err := e.persist(ctx, r.taskID, "load task", func(ctx context.Context) error {
		var err error
		t, err = e.tasks.Get(ctx, r.taskID)
		return err
	})
	if err != nil {
		return &attemptFailure{kind: recovery.KindTransient, detail: "load task: " + err.Error()}
	}
	r.task = t
	return nil
}

func (e *Engine) outcome(r *run, status task.Status) *Outcome {
	return &Outcome{
		TaskID:   r.taskID,
		Phase:    r.phase,
		Status:   status,
		Attempts: r.attempt,
	}
}

// cancelled records a cancelled run. The task keeps its status and no
// attempt is consumed.
func (e *Engine) cancelled(r *run) (*Outcome, error) {
	if !r.cancelSaved {
		e.checkpoint(context.Background(), r, noteCancelled)
	}
	r.logger.Info("run cancelled", "phase", string(r.phase), "step_index", r.stepIndex)
	e.bus.Publish(event.NewTaskCancelledEvent(r.taskID, string(r.phase), r.stepIndex))

	status := r.task.Status
	if t, err := e.tasks.Get(context.Background(), r.taskID); err == nil {
		status = t.Status
	}
	out := e.outcome(r, status)
	out.Cancelled = true
	return out, errors.ErrCancelled
}
