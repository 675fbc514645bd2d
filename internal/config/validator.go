package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "recovery.max_attempts")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidCheckpointBackends returns the supported checkpoint store backends
func ValidCheckpointBackends() []string {
	return []string{"file", "sqlite"}
}

// ValidWorkerBackends returns the supported worker backends
func ValidWorkerBackends() []string {
	return []string{"claude", "codex", "opencode", "openai"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateRecovery()...)
	errors = append(errors, c.validateDecompose()...)
	errors = append(errors, c.validateCheckpoint()...)
	errors = append(errors, c.validateTasks()...)
	errors = append(errors, c.validateWorker()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateRecovery() []ValidationError {
	var errors []ValidationError

	// Attempt 1 retries, attempt 2 switches profile, attempt 3 decomposes;
	// fewer than one attempt leaves nothing to run.
	if c.Recovery.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "recovery.max_attempts",
			Value:   c.Recovery.MaxAttempts,
			Message: "must be at least 1",
		})
	}
	if c.Recovery.DecomposeMaxSubtasks < 1 {
		errors = append(errors, ValidationError{
			Field:   "recovery.decompose_max_subtasks",
			Value:   c.Recovery.DecomposeMaxSubtasks,
			Message: "must be at least 1",
		})
	}
	if c.Recovery.PersistenceBackoff < 0 {
		errors = append(errors, ValidationError{
			Field:   "recovery.persistence_backoff",
			Value:   c.Recovery.PersistenceBackoff,
			Message: "must be non-negative",
		})
	}
	if c.Recovery.DecisionTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "recovery.decision_timeout",
			Value:   c.Recovery.DecisionTimeout,
			Message: "must be non-negative",
		})
	}
	if c.Recovery.AlternateProfile != "" && c.Worker.Profiles != nil {
		if _, ok := c.Worker.Profiles[c.Recovery.AlternateProfile]; !ok {
			errors = append(errors, ValidationError{
				Field:   "recovery.alternate_profile",
				Value:   c.Recovery.AlternateProfile,
				Message: "must name a profile under worker.profiles",
			})
		}
	}

	return errors
}

func (c *Config) validateDecompose() []ValidationError {
	var errors []ValidationError

	if c.Decompose.MinSubtasks < 1 {
		errors = append(errors, ValidationError{
			Field:   "decompose.min_subtasks",
			Value:   c.Decompose.MinSubtasks,
			Message: "must be at least 1",
		})
	}
	if c.Decompose.MaxSubtasks < c.Decompose.MinSubtasks {
		errors = append(errors, ValidationError{
			Field:   "decompose.max_subtasks",
			Value:   c.Decompose.MaxSubtasks,
			Message: fmt.Sprintf("must be at least decompose.min_subtasks (%d)", c.Decompose.MinSubtasks),
		})
	}

	return errors
}

func (c *Config) validateCheckpoint() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidCheckpointBackends(), c.Checkpoint.Backend) {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.backend",
			Value:   c.Checkpoint.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidCheckpointBackends(), ", ")),
		})
	}
	if c.Checkpoint.Dir == "" {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.dir",
			Value:   c.Checkpoint.Dir,
			Message: "must not be empty",
		})
	}
	if c.Checkpoint.Retention <= 0 {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.retention",
			Value:   c.Checkpoint.Retention,
			Message: "must be positive",
		})
	}
	if c.Checkpoint.SweepInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.sweep_interval",
			Value:   c.Checkpoint.SweepInterval,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateTasks() []ValidationError {
	var errors []ValidationError

	if c.Tasks.File == "" {
		errors = append(errors, ValidationError{
			Field:   "tasks.file",
			Value:   c.Tasks.File,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateWorker() []ValidationError {
	var errors []ValidationError

	if _, ok := c.Worker.Profiles[c.Worker.DefaultProfile]; !ok {
		errors = append(errors, ValidationError{
			Field:   "worker.default_profile",
			Value:   c.Worker.DefaultProfile,
			Message: "must name a profile under worker.profiles",
		})
	}

	names := make([]string, 0, len(c.Worker.Profiles))
	for name := range c.Worker.Profiles {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		p := c.Worker.Profiles[name]
		if !slices.Contains(ValidWorkerBackends(), p.Backend) {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("worker.profiles.%s.backend", name),
				Value:   p.Backend,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidWorkerBackends(), ", ")),
			})
		}
		if p.Backend == "openai" && p.Model == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("worker.profiles.%s.model", name),
				Value:   p.Model,
				Message: "is required for the openai backend",
			})
		}
		if p.Timeout < 0 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("worker.profiles.%s.timeout", name),
				Value:   p.Timeout,
				Message: "must be non-negative",
			})
		}
	}

	if c.Worker.TranscriptMaxEntries < 1 {
		errors = append(errors, ValidationError{
			Field:   "worker.transcript_max_entries",
			Value:   c.Worker.TranscriptMaxEntries,
			Message: "must be at least 1",
		})
	}
	if c.Worker.TranscriptMaxChars < 256 {
		errors = append(errors, ValidationError{
			Field:   "worker.transcript_max_chars",
			Value:   c.Worker.TranscriptMaxChars,
			Message: "must be at least 256",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("must be between 0 and %d", maxLogSizeMB),
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
