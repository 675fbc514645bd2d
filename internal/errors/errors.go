// Package errors provides the error definitions shared across autopilot.
//
// It defines the sentinel errors returned by the engine's control surface and
// collaborators, plus two context-carrying error types:
//   - EngineError: a failure inside the orchestration loop, annotated with the
//     task, phase and step it happened in
//   - StoreError: a persistence failure in the task or checkpoint stores,
//     annotated with the operation and path
//
// Both types unwrap to their cause, so errors.Is against the sentinels keeps
// working after annotation:
//
//	err := errors.NewEngineError("save checkpoint", cause).WithTask("T1").WithPhase("EXECUTE")
//	if errors.IsRetryable(err) { ... }
//
// Worker-outcome classification (TRANSIENT, BLOCKING, CRITICAL) is a domain
// concern and lives in the recovery package, not here.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions so callers only need this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Engine sentinel errors
var (
	// ErrEngineBusy is returned when a task is submitted while another task
	// occupies the active slot.
	ErrEngineBusy = New("engine busy: another task is active")
	// ErrCancelled marks a run stopped by an external cancel request.
	ErrCancelled = New("run cancelled")
	// ErrNoDecision is returned by channels that cannot deliver human decisions.
	ErrNoDecision = New("no decision available")
)

// Store sentinel errors
var (
	// ErrTaskNotFound indicates that a task or subtask id is unknown.
	ErrTaskNotFound = New("task not found")
	// ErrInvalidStatus indicates an unknown status value.
	ErrInvalidStatus = New("invalid status")
	// ErrExpandUnavailable indicates the task store has no expansion capability.
	ErrExpandUnavailable = New("task expansion unavailable")
	// ErrNoCheckpoint indicates that no checkpoint exists for a task.
	ErrNoCheckpoint = New("no checkpoint")
	// ErrLocked indicates a store file is locked by another process.
	ErrLocked = New("store is locked")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the operation may succeed if repeated.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// EngineError represents a failure inside the orchestration loop.
//
// Example:
//
//	err := errors.NewEngineError("invoke worker", cause).WithTask("T1").WithStep(2)
//	fmt.Println(err) // "engine error [task=T1, step=2]: invoke worker: <cause>"
type EngineError struct {
	baseError
	TaskID string
	Phase  string
	Step   int
}

// NewEngineError creates a new EngineError.
func NewEngineError(message string, cause error) *EngineError {
	return &EngineError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
		Step: -1, // -1 indicates not set
	}
}

// WithTask adds a task ID to the error context.
func (e *EngineError) WithTask(id string) *EngineError {
	e.TaskID = id
	return e
}

// WithPhase adds a phase name to the error context.
func (e *EngineError) WithPhase(phase string) *EngineError {
	e.Phase = phase
	return e
}

// WithStep adds a step index to the error context.
func (e *EngineError) WithStep(step int) *EngineError {
	e.Step = step
	return e
}

// WithSeverity sets the error severity.
func (e *EngineError) WithSeverity(s Severity) *EngineError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *EngineError) WithRetryable(r bool) *EngineError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *EngineError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, "task="+e.TaskID)
	}
	if e.Phase != "" {
		parts = append(parts, "phase="+e.Phase)
	}
	if e.Step >= 0 {
		parts = append(parts, fmt.Sprintf("step=%d", e.Step))
	}

	prefix := "engine error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("engine error [%s]", strings.Join(parts, ", "))
	}
	return prefix + ": " + e.baseError.Error()
}

// StoreError represents a persistence failure in a task or checkpoint store.
type StoreError struct {
	baseError
	Op   string
	Path string
}

// NewStoreError creates a StoreError. Store errors are retryable by default:
// most of them are I/O hiccups that a second attempt resolves.
func NewStoreError(op string, cause error) *StoreError {
	return &StoreError{
		baseError: baseError{
			message:   op,
			cause:     cause,
			severity:  SeverityWarning,
			retryable: true,
		},
		Op: op,
	}
}

// WithPath adds the file or database path to the error context.
func (e *StoreError) WithPath(path string) *StoreError {
	e.Path = path
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *StoreError) WithRetryable(r bool) *StoreError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *StoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("store error [%s]: %s", e.Path, e.baseError.Error())
	}
	return "store error: " + e.baseError.Error()
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

type retryable interface {
	IsRetryable() bool
}

type severe interface {
	Severity() Severity
}

// IsRetryable reports whether err represents a condition that may clear on a
// second attempt. Sentinels for missing records and busy engines are never
// retryable, regardless of how they are wrapped.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrTaskNotFound) || Is(err, ErrNoCheckpoint) || Is(err, ErrEngineBusy) || Is(err, ErrCancelled) {
		return false
	}
	var r retryable
	if As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// GetSeverity returns the severity level of the error, SeverityError when
// the error carries none.
func GetSeverity(err error) Severity {
	var s severe
	if As(err, &s) {
		return s.Severity()
	}
	return SeverityError
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
