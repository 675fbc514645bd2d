// Package event defines the orchestration events and the synchronous bus
// they travel on. The orchestrator is the only publisher; telemetry and the
// message channel consume events without touching engine state.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier, e.g. "task.completed".
	EventType() string
	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event type identifiers.
const (
	TypeTaskStarted        = "task.started"
	TypePhaseChanged       = "phase.changed"
	TypeStepStarted        = "step.started"
	TypeStepFinished       = "step.finished"
	TypeVerification       = "verify.completed"
	TypeReflection         = "reflect.completed"
	TypeRecoveryDecided    = "recovery.decided"
	TypeTaskCompleted      = "task.completed"
	TypeTaskFailed         = "task.failed"
	TypeTaskEscalated      = "task.escalated"
	TypeTaskDecision       = "task.decision"
	TypeTaskCancelled      = "task.cancelled"
	TypeCheckpointSaved    = "checkpoint.saved"
	TypePersistenceWarning = "persistence.warning"
)

// -----------------------------------------------------------------------------
// Task Lifecycle Events
// -----------------------------------------------------------------------------

// TaskStartedEvent is emitted when a task takes the active slot.
type TaskStartedEvent struct {
	baseEvent
	TaskID  string
	Title   string
	Attempt int
	// Resumed is true when the run continues from a checkpoint.
	Resumed bool
}

// NewTaskStartedEvent creates a TaskStartedEvent.
func NewTaskStartedEvent(taskID, title string, attempt int, resumed bool) TaskStartedEvent {
	return TaskStartedEvent{
		baseEvent: newBaseEvent(TypeTaskStarted),
		TaskID:    taskID,
		Title:     title,
		Attempt:   attempt,
		Resumed:   resumed,
	}
}

// PhaseChangedEvent is emitted on every state-machine transition.
type PhaseChangedEvent struct {
	baseEvent
	TaskID  string
	From    string
	To      string
	Attempt int
}

// NewPhaseChangedEvent creates a PhaseChangedEvent.
func NewPhaseChangedEvent(taskID, from, to string, attempt int) PhaseChangedEvent {
	return PhaseChangedEvent{
		baseEvent: newBaseEvent(TypePhaseChanged),
		TaskID:    taskID,
		From:      from,
		To:        to,
		Attempt:   attempt,
	}
}

// TaskCompletedEvent is emitted when a task reaches done.
type TaskCompletedEvent struct {
	baseEvent
	TaskID   string
	Attempts int
	Duration time.Duration
	// Manual is true when a human marked the task complete after escalation.
	Manual bool
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(taskID string, attempts int, d time.Duration, manual bool) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent(TypeTaskCompleted),
		TaskID:    taskID,
		Attempts:  attempts,
		Duration:  d,
		Manual:    manual,
	}
}

// TaskFailedEvent is emitted when a task's recovery budget is exhausted.
type TaskFailedEvent struct {
	baseEvent
	TaskID   string
	Attempts int
	Duration time.Duration
	Reason   string
}

// NewTaskFailedEvent creates a TaskFailedEvent.
func NewTaskFailedEvent(taskID string, attempts int, d time.Duration, reason string) TaskFailedEvent {
	return TaskFailedEvent{
		baseEvent: newBaseEvent(TypeTaskFailed),
		TaskID:    taskID,
		Attempts:  attempts,
		Duration:  d,
		Reason:    reason,
	}
}

// TaskEscalatedEvent is emitted when a task is handed to a human.
type TaskEscalatedEvent struct {
	baseEvent
	TaskID          string
	Attempt         int
	Reason          string
	History         string
	VerifierReasons []string
}

// NewTaskEscalatedEvent creates a TaskEscalatedEvent.
func NewTaskEscalatedEvent(taskID string, attempt int, reason, history string, verifierReasons []string) TaskEscalatedEvent {
	return TaskEscalatedEvent{
		baseEvent:       newBaseEvent(TypeTaskEscalated),
		TaskID:          taskID,
		Attempt:         attempt,
		Reason:          reason,
		History:         history,
		VerifierReasons: verifierReasons,
	}
}

// TaskDecisionEvent is emitted when a human decision for an escalated task arrives.
type TaskDecisionEvent struct {
	baseEvent
	TaskID   string
	Decision string
	Note     string
}

// NewTaskDecisionEvent creates a TaskDecisionEvent.
func NewTaskDecisionEvent(taskID, decision, note string) TaskDecisionEvent {
	return TaskDecisionEvent{
		baseEvent: newBaseEvent(TypeTaskDecision),
		TaskID:    taskID,
		Decision:  decision,
		Note:      note,
	}
}

// TaskCancelledEvent is emitted when an external cancel stops the active task.
type TaskCancelledEvent struct {
	baseEvent
	TaskID    string
	Phase     string
	StepIndex int
}

// NewTaskCancelledEvent creates a TaskCancelledEvent.
func NewTaskCancelledEvent(taskID, phase string, stepIndex int) TaskCancelledEvent {
	return TaskCancelledEvent{
		baseEvent: newBaseEvent(TypeTaskCancelled),
		TaskID:    taskID,
		Phase:     phase,
		StepIndex: stepIndex,
	}
}

// -----------------------------------------------------------------------------
// Step Events
// -----------------------------------------------------------------------------

// StepStartedEvent is emitted before the worker is invoked for a step.
type StepStartedEvent struct {
	baseEvent
	TaskID      string
	StepIndex   int
	SubtaskID   string
	Description string
	Profile     string
}

// NewStepStartedEvent creates a StepStartedEvent.
func NewStepStartedEvent(taskID string, stepIndex int, subtaskID, description, profile string) StepStartedEvent {
	return StepStartedEvent{
		baseEvent:   newBaseEvent(TypeStepStarted),
		TaskID:      taskID,
		StepIndex:   stepIndex,
		SubtaskID:   subtaskID,
		Description: description,
		Profile:     profile,
	}
}

// StepFinishedEvent is emitted after a worker invocation returns.
type StepFinishedEvent struct {
	baseEvent
	TaskID        string
	StepIndex     int
	SubtaskID     string
	Success       bool
	Aborted       bool
	Tools         []string
	Duration      time.Duration
	FailureDetail string
}

// NewStepFinishedEvent creates a StepFinishedEvent.
func NewStepFinishedEvent(taskID string, stepIndex int, subtaskID string, success, aborted bool, tools []string, d time.Duration, failure string) StepFinishedEvent {
	return StepFinishedEvent{
		baseEvent:     newBaseEvent(TypeStepFinished),
		TaskID:        taskID,
		StepIndex:     stepIndex,
		SubtaskID:     subtaskID,
		Success:       success,
		Aborted:       aborted,
		Tools:         tools,
		Duration:      d,
		FailureDetail: failure,
	}
}

// -----------------------------------------------------------------------------
// Verification, Reflection and Recovery Events
// -----------------------------------------------------------------------------

// CheckResult mirrors one verifier check.
type CheckResult struct {
	Name   string
	Passed bool
	Reason string
}

// VerificationEvent is emitted after every VERIFY phase.
type VerificationEvent struct {
	baseEvent
	TaskID  string
	Attempt int
	Passed  bool
	Checks  []CheckResult
}

// NewVerificationEvent creates a VerificationEvent.
func NewVerificationEvent(taskID string, attempt int, passed bool, checks []CheckResult) VerificationEvent {
	return VerificationEvent{
		baseEvent: newBaseEvent(TypeVerification),
		TaskID:    taskID,
		Attempt:   attempt,
		Passed:    passed,
		Checks:    checks,
	}
}

// ReflectionEvent is emitted when REFLECT records its summary.
type ReflectionEvent struct {
	baseEvent
	TaskID  string
	Summary string
	// Fallback is true when the summary was built locally because the
	// worker's reflection was unusable.
	Fallback bool
}

// NewReflectionEvent creates a ReflectionEvent.
func NewReflectionEvent(taskID, summary string, fallback bool) ReflectionEvent {
	return ReflectionEvent{
		baseEvent: newBaseEvent(TypeReflection),
		TaskID:    taskID,
		Summary:   summary,
		Fallback:  fallback,
	}
}

// RecoveryDecidedEvent is emitted for every failed attempt once a recovery
// strategy has been chosen.
type RecoveryDecidedEvent struct {
	baseEvent
	TaskID   string
	Attempt  int
	Kind     string
	Strategy string
	Reason   string
}

// NewRecoveryDecidedEvent creates a RecoveryDecidedEvent.
func NewRecoveryDecidedEvent(taskID string, attempt int, kind, strategy, reason string) RecoveryDecidedEvent {
	return RecoveryDecidedEvent{
		baseEvent: newBaseEvent(TypeRecoveryDecided),
		TaskID:    taskID,
		Attempt:   attempt,
		Kind:      kind,
		Strategy:  strategy,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Persistence Events
// -----------------------------------------------------------------------------

// CheckpointSavedEvent is emitted after a checkpoint is durably published.
type CheckpointSavedEvent struct {
	baseEvent
	TaskID    string
	Seq       int64
	Phase     string
	StepIndex int
}

// NewCheckpointSavedEvent creates a CheckpointSavedEvent.
func NewCheckpointSavedEvent(taskID string, seq int64, phase string, stepIndex int) CheckpointSavedEvent {
	return CheckpointSavedEvent{
		baseEvent: newBaseEvent(TypeCheckpointSaved),
		TaskID:    taskID,
		Seq:       seq,
		Phase:     phase,
		StepIndex: stepIndex,
	}
}

// PersistenceWarningEvent is emitted when a checkpoint or audit write fails
// after its retry. It never stops the run.
type PersistenceWarningEvent struct {
	baseEvent
	TaskID    string
	Operation string
	Err       string
}

// NewPersistenceWarningEvent creates a PersistenceWarningEvent.
func NewPersistenceWarningEvent(taskID, operation string, err error) PersistenceWarningEvent {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return PersistenceWarningEvent{
		baseEvent: newBaseEvent(TypePersistenceWarning),
		TaskID:    taskID,
		Operation: operation,
		Err:       msg,
	}
}
