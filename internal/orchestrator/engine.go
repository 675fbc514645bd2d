// Package orchestrator drives tasks through the autopilot state machine:
//
//	DECOMPOSE -> PLAN -> EXECUTE -> VERIFY -> REFLECT -> COMPLETE
//
// with RETRY and ESCALATE reached through recovery, and FAILED when an
// exhausted budget cannot be escalated to anyone. The Engine holds a single
// active slot: one task runs at a time, steps run sequentially, and the
// worker invocation in flight can be cancelled from another goroutine.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/autopilot/internal/channel"
	"github.com/Iron-Ham/autopilot/internal/checkpoint"
	"github.com/Iron-Ham/autopilot/internal/config"
	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/event"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/recovery"
	"github.com/Iron-Ham/autopilot/internal/task"
	"github.com/Iron-Ham/autopilot/internal/verify"
	"github.com/Iron-Ham/autopilot/internal/worker"
)

// Config holds the engine's tunables.
type Config struct {
	Workflow config.WorkflowConfig
	Verify   config.VerifyConfig

	MaxAttempts int
	Recovery    recovery.Config

	// PersistenceBackoff is the wait before the single retry of a failed
	// checkpoint or task-store write.
	PersistenceBackoff time.Duration

	// DecisionTimeout bounds the wait for a human decision; zero waits
	// until cancelled.
	DecisionTimeout time.Duration

	MinSubtasks int
	MaxSubtasks int

	TranscriptMaxEntries int
	TranscriptMaxChars   int
}

// ConfigFrom extracts the engine configuration from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Workflow:    cfg.Workflow,
		Verify:      cfg.Verify,
		MaxAttempts: cfg.Recovery.MaxAttempts,
		Recovery: recovery.Config{
			AlternateProfile:     cfg.Recovery.AlternateProfile,
			DecomposeMaxSubtasks: cfg.Recovery.DecomposeMaxSubtasks,
		},
		PersistenceBackoff:   cfg.Recovery.PersistenceBackoff,
		DecisionTimeout:      cfg.Recovery.DecisionTimeout,
		MinSubtasks:          cfg.Decompose.MinSubtasks,
		MaxSubtasks:          cfg.Decompose.MaxSubtasks,
		TranscriptMaxEntries: cfg.Worker.TranscriptMaxEntries,
		TranscriptMaxChars:   cfg.Worker.TranscriptMaxChars,
	}
}

// DefaultConfig returns the engine configuration for config.Default().
func DefaultConfig() Config {
	return ConfigFrom(config.Default())
}

// Deps are the engine's collaborators. Tasks and Agent are required.
type Deps struct {
	Tasks       task.Store
	Agent       worker.Agent
	Checkpoints checkpoint.Store // nil disables checkpointing
	Verifier    *verify.Verifier // nil builds one over Agent
	Channel     channel.Channel  // nil discards notifications
	Bus         *event.Bus       // nil creates a private bus
	Logger      *logging.Logger
}

// Status is a point-in-time view of the engine. After a run ends the
// fields describe the last run and Idle is true.
type Status struct {
	TaskID         string
	Phase          Phase
	Attempt        int
	StepIndex      int
	LastCheckpoint time.Time
	Idle           bool
	Paused         bool
}

// Outcome is how a Submit or Restore call ended.
type Outcome struct {
	TaskID    string
	Phase     Phase
	Status    task.Status
	Attempts  int
	Cancelled bool
	Decision  *channel.Decision
}

// Engine runs tasks one at a time.
type Engine struct {
	cfg         Config
	tasks       task.Store
	agent       worker.Agent
	checkpoints checkpoint.Store
	verifier    *verify.Verifier
	channel     channel.Channel
	bus         *event.Bus
	history     *recovery.History
	logger      *logging.Logger
	notifySub   string

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	status Status

	pauseMu sync.Mutex
	resume  chan struct{} // non-nil while paused; closed by Resume
}

// New creates an Engine.
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Tasks == nil {
		return nil, fmt.Errorf("orchestrator: task store is required")
	}
	if deps.Agent == nil {
		return nil, fmt.Errorf("orchestrator: worker agent is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = recovery.DefaultMaxAttempts
	}
	if cfg.MinSubtasks <= 0 {
		cfg.MinSubtasks = 3
	}
	if cfg.MaxSubtasks < cfg.MinSubtasks {
		cfg.MaxSubtasks = max(cfg.MinSubtasks, 7)
	}

	e := &Engine{
		cfg:         cfg,
		tasks:       deps.Tasks,
		agent:       deps.Agent,
		checkpoints: deps.Checkpoints,
		verifier:    deps.Verifier,
		channel:     deps.Channel,
		bus:         deps.Bus,
		history:     recovery.NewHistory(),
		logger:      logger,
		status:      Status{Idle: true},
	}
	if e.verifier == nil {
		e.verifier = verify.NewVerifier(deps.Agent,
			verify.WithLogger(logger),
			verify.WithConfig(verify.Config{
				ReviewEnabled:      cfg.Verify.ReviewEnabled,
				RequireAllSubtasks: cfg.Verify.RequireAllSubtasks,
			}),
		)
	}
	if e.channel == nil {
		e.channel = channel.Nop{}
	}
	if e.bus == nil {
		e.bus = event.NewBus(logger)
	}
	e.notifySub = e.bus.SubscribeAll(e.forward)
	return e, nil
}

// Bus returns the event bus the engine publishes on.
func (e *Engine) Bus() *event.Bus {
	return e.bus
}

// Close detaches the engine from its bus.
func (e *Engine) Close() {
	e.bus.Unsubscribe(e.notifySub)
}

// Status returns the engine's current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	s := e.status
	e.mu.Unlock()
	s.Paused = e.Paused()
	return s
}

// Cancel stops the run in the active slot. The in-flight worker invocation
// is interrupted, its step is recorded as aborted without consuming an
// attempt, and the task keeps its status. Cancel is a no-op when idle.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.logger.Info("cancel requested", "task_id", e.status.TaskID)
		e.cancel()
	}
}

// acquire claims the active slot for taskID.
func (e *Engine) acquire(ctx context.Context, taskID string) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return nil, fmt.Errorf("%w: %s is running", errors.ErrEngineBusy, e.status.TaskID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.active = true
	e.cancel = cancel
	e.status = Status{TaskID: taskID, Phase: PhaseDecompose, Attempt: 1}
	return runCtx, nil
}

func (e *Engine) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	e.active = false
	e.cancel = nil
	e.status.Idle = true
}

func (e *Engine) updateStatus(fn func(*Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.status)
}

// Submit runs taskID from DECOMPOSE until it completes, fails, is blocked
// awaiting a human, or is cancelled. A fresh submit starts a new attempt
// history. It returns ErrEngineBusy when another task holds the slot and
// ErrCancelled (with a non-nil Outcome) when the run was cancelled.
func (e *Engine) Submit(ctx context.Context, taskID string) (*Outcome, error) {
	runCtx, err := e.acquire(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer e.release()

	t, err := e.tasks.Get(runCtx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	if t.Status == task.StatusDone {
		return &Outcome{TaskID: taskID, Phase: PhaseComplete, Status: task.StatusDone}, nil
	}

	e.history.Reset(taskID)
	r := e.newRun(t)
	e.logger.Info("task submitted", "task_id", taskID, "title", t.Title)
	e.bus.Publish(event.NewTaskStartedEvent(taskID, t.Title, r.attempt, false))
	return e.drive(runCtx, r)
}

// ResumeState is what Restore resumes from: the latest checkpoint of a task.
type ResumeState struct {
	TaskID     string
	Phase      Phase
	StepIndex  int
	Attempt    int
	Checkpoint *checkpoint.Checkpoint
}

// LoadResumeState reads the latest checkpoint for taskID without changing
// anything. It returns ErrNoCheckpoint when there is none.
func (e *Engine) LoadResumeState(ctx context.Context, taskID string) (*ResumeState, error) {
	if e.checkpoints == nil {
		return nil, errors.ErrNoCheckpoint
	}
	cp, err := e.checkpoints.Latest(ctx, taskID)
	if err != nil {
		return nil, err
	}
	phase, err := ParsePhase(cp.Phase)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s/%d: %w", taskID, cp.Seq, err)
	}
	attempt := cp.Attempt
	if attempt < 1 {
		attempt = 1
	}
	return &ResumeState{
		TaskID:     taskID,
		Phase:      phase,
		StepIndex:  cp.StepIndex,
		Attempt:    attempt,
		Checkpoint: cp,
	}, nil
}

// Restore resumes taskID from its latest checkpoint: same phase, step,
// attempt, plan and attempt history. Steps already completed are not run
// again.
func (e *Engine) Restore(ctx context.Context, taskID string) (*Outcome, error) {
	runCtx, err := e.acquire(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer e.release()

	state, err := e.LoadResumeState(runCtx, taskID)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", taskID, err)
	}
	t, err := e.tasks.Get(runCtx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}

	cp := state.Checkpoint
	e.history.Load(taskID, cp.Attempts)

	r := e.newRun(t)
	r.phase = state.Phase
	r.attempt = state.Attempt
	r.stepIndex = state.StepIndex
	r.plan = cp.Plan
	r.verification = cp.Verification
	r.profile = cp.Profile
	r.hint = cp.Hint
	r.refine = cp.Refine
	r.remediation = cp.Remediation
	r.resumed = true
	if r.phase == PhaseEscalate {
		r.escalation = restoredEscalation(cp)
	}
	if r.phase == PhaseExecute && r.plan == nil {
		r.phase = PhasePlan
	}
	e.updateStatus(func(s *Status) {
		s.Phase = r.phase
		s.Attempt = r.attempt
		s.StepIndex = r.stepIndex
		s.LastCheckpoint = cp.Timestamp
	})

	e.logger.Info("restoring task",
		"task_id", taskID,
		"phase", string(r.phase),
		"step_index", r.stepIndex,
		"attempt", r.attempt,
		"seq", cp.Seq,
	)
	e.bus.Publish(event.NewTaskStartedEvent(taskID, t.Title, r.attempt, true))
	return e.drive(runCtx, r)
}
