package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete autopilot configuration
type Config struct {
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Recovery   RecoveryConfig   `mapstructure:"recovery"`
	Decompose  DecomposeConfig  `mapstructure:"decompose"`
	Verify     VerifyConfig     `mapstructure:"verify"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Channel    ChannelConfig    `mapstructure:"channel"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// WorkflowConfig toggles individual phases of the orchestration cycle
type WorkflowConfig struct {
	// EnableDecomposition splits tasks into subtasks before planning.
	// When false, a task without subtasks is planned as a single step.
	EnableDecomposition bool `mapstructure:"enable_decomposition"`
	// EnableVerification runs the verifier after execution
	EnableVerification bool `mapstructure:"enable_verification"`
	// EnableReflection asks the worker for a post-run reflection
	EnableReflection bool `mapstructure:"enable_reflection"`
	// EnableCheckpointing persists checkpoints after transitions and steps
	EnableCheckpointing bool `mapstructure:"enable_checkpointing"`
	// EnableProgressLog appends worker transcripts to subtask progress logs
	EnableProgressLog bool `mapstructure:"enable_progress_log"`
	// EnableMultiStrategyRetry enables the escalating recovery strategies.
	// When false every failure is retried as-is until the budget runs out.
	EnableMultiStrategyRetry bool `mapstructure:"enable_multi_strategy_retry"`
}

// RecoveryConfig controls failure handling
type RecoveryConfig struct {
	// MaxAttempts is the attempt budget per task before escalation
	MaxAttempts int `mapstructure:"max_attempts"`
	// AlternateProfile is the worker profile used by the alternate-configuration strategy
	AlternateProfile string `mapstructure:"alternate_profile"`
	// DecomposeMaxSubtasks caps the pieces a failing subtask is refined into
	DecomposeMaxSubtasks int `mapstructure:"decompose_max_subtasks"`
	// PersistenceBackoff is the delay before the single retry of a failed store write
	PersistenceBackoff time.Duration `mapstructure:"persistence_backoff"`
	// DecisionTimeout bounds how long an escalation waits for a human decision (0 = forever)
	DecisionTimeout time.Duration `mapstructure:"decision_timeout"`
}

// DecomposeConfig bounds agent-driven decomposition
type DecomposeConfig struct {
	MinSubtasks int `mapstructure:"min_subtasks"`
	MaxSubtasks int `mapstructure:"max_subtasks"`
}

// VerifyConfig controls the verifier checks
type VerifyConfig struct {
	// ReviewEnabled runs the worker-mediated acceptance review
	ReviewEnabled bool `mapstructure:"review_enabled"`
	// RequireAllSubtasks fails verification when any subtask is not done
	RequireAllSubtasks bool `mapstructure:"require_all_subtasks"`
}

// CheckpointConfig controls checkpoint persistence
type CheckpointConfig struct {
	// Backend is "file" or "sqlite"
	Backend string `mapstructure:"backend"`
	// Dir holds checkpoint files, or the sqlite database file
	Dir string `mapstructure:"dir"`
	// Retention is how long superseded checkpoints are kept
	Retention time.Duration `mapstructure:"retention"`
	// SweepInterval is how often the retention sweep runs during `autopilot run`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// TasksConfig locates the task store
type TasksConfig struct {
	// File is the YAML or JSON tasks file
	File string `mapstructure:"file"`
	// ExpandCommand is an argv template for external task expansion; "{id}" is
	// replaced by the task id. Empty disables external expansion.
	ExpandCommand []string `mapstructure:"expand_command"`
	// WorkDir is the working directory for the worker and expand command
	WorkDir string `mapstructure:"work_dir"`
}

// ProfileConfig describes one worker-agent configuration
type ProfileConfig struct {
	// Backend is one of "claude", "codex", "opencode" (CLI agents) or "openai" (chat API)
	Backend string `mapstructure:"backend"`
	// Command overrides the CLI binary name
	Command string `mapstructure:"command"`
	// Model is passed to backends that accept a model flag
	Model string `mapstructure:"model"`
	// BaseURL is the API endpoint for the openai backend
	BaseURL string `mapstructure:"base_url"`
	// APIKeyEnv names the environment variable holding the API key
	APIKeyEnv string `mapstructure:"api_key_env"`
	// SkipPermissions passes the backend's permission bypass flag
	SkipPermissions bool `mapstructure:"skip_permissions"`
	// Timeout bounds a single invocation (0 = no limit)
	Timeout time.Duration `mapstructure:"timeout"`
}

// WorkerConfig configures the worker agents
type WorkerConfig struct {
	DefaultProfile       string                   `mapstructure:"default_profile"`
	Profiles             map[string]ProfileConfig `mapstructure:"profiles"`
	TranscriptMaxEntries int                      `mapstructure:"transcript_max_entries"`
	TranscriptMaxChars   int                      `mapstructure:"transcript_max_chars"`
}

// ChannelConfig configures the message channel
type ChannelConfig struct {
	// InboxDir is watched for {task}.decision files
	InboxDir string `mapstructure:"inbox_dir"`
	// OutboxFile receives notifications as JSON lines
	OutboxFile string `mapstructure:"outbox_file"`
	// Echo prints notifications to stdout as well
	Echo bool `mapstructure:"echo"`
}

// TelemetryConfig configures telemetry persistence
type TelemetryConfig struct {
	// SnapshotFile is where `autopilot run` writes the final telemetry snapshot
	SnapshotFile string `mapstructure:"snapshot_file"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level"`
	// Dir is the log directory; empty logs to stderr
	Dir string `mapstructure:"dir"`
	// MaxSizeMB triggers rotation (0 disables it)
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// Profile returns the named profile, falling back to the default profile.
func (w WorkerConfig) Profile(name string) (ProfileConfig, bool) {
	if p, ok := w.Profiles[name]; ok {
		return p, true
	}
	p, ok := w.Profiles[w.DefaultProfile]
	return p, ok
}

// StateDir returns the project-local directory for autopilot state.
func StateDir() string {
	return ".autopilot"
}

// Default returns a Config with sensible default values
func Default() *Config {
	state := StateDir()
	return &Config{
		Workflow: WorkflowConfig{
			EnableDecomposition:      true,
			EnableVerification:       true,
			EnableReflection:         true,
			EnableCheckpointing:      true,
			EnableProgressLog:        true,
			EnableMultiStrategyRetry: true,
		},
		Recovery: RecoveryConfig{
			MaxAttempts:          4,
			AlternateProfile:     "alternate",
			DecomposeMaxSubtasks: 5,
			PersistenceBackoff:   200 * time.Millisecond,
			DecisionTimeout:      0,
		},
		Decompose: DecomposeConfig{
			MinSubtasks: 3,
			MaxSubtasks: 7,
		},
		Verify: VerifyConfig{
			ReviewEnabled:      true,
			RequireAllSubtasks: true,
		},
		Checkpoint: CheckpointConfig{
			Backend:       "file",
			Dir:           filepath.Join(state, "checkpoints"),
			Retention:     7 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Tasks: TasksConfig{
			File:    "tasks.yaml",
			WorkDir: ".",
		},
		Worker: WorkerConfig{
			DefaultProfile: "default",
			Profiles: map[string]ProfileConfig{
				"default": {
					Backend:         "claude",
					Command:         "claude",
					SkipPermissions: true,
				},
				"alternate": {
					Backend: "codex",
					Command: "codex",
				},
			},
			TranscriptMaxEntries: 20,
			TranscriptMaxChars:   16000,
		},
		Channel: ChannelConfig{
			InboxDir:   filepath.Join(state, "inbox"),
			OutboxFile: filepath.Join(state, "outbox.jsonl"),
			Echo:       true,
		},
		Telemetry: TelemetryConfig{
			SnapshotFile: filepath.Join(state, "telemetry.json"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        filepath.Join(state, "logs"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Workflow defaults
	viper.SetDefault("workflow.enable_decomposition", defaults.Workflow.EnableDecomposition)
	viper.SetDefault("workflow.enable_verification", defaults.Workflow.EnableVerification)
	viper.SetDefault("workflow.enable_reflection", defaults.Workflow.EnableReflection)
	viper.SetDefault("workflow.enable_checkpointing", defaults.Workflow.EnableCheckpointing)
	viper.SetDefault("workflow.enable_progress_log", defaults.Workflow.EnableProgressLog)
	viper.SetDefault("workflow.enable_multi_strategy_retry", defaults.Workflow.EnableMultiStrategyRetry)

	// Recovery defaults
	viper.SetDefault("recovery.max_attempts", defaults.Recovery.MaxAttempts)
	viper.SetDefault("recovery.alternate_profile", defaults.Recovery.AlternateProfile)
	viper.SetDefault("recovery.decompose_max_subtasks", defaults.Recovery.DecomposeMaxSubtasks)
	viper.SetDefault("recovery.persistence_backoff", defaults.Recovery.PersistenceBackoff)
	viper.SetDefault("recovery.decision_timeout", defaults.Recovery.DecisionTimeout)

	// Decompose defaults
	viper.SetDefault("decompose.min_subtasks", defaults.Decompose.MinSubtasks)
	viper.SetDefault("decompose.max_subtasks", defaults.Decompose.MaxSubtasks)

	// Verify defaults
	viper.SetDefault("verify.review_enabled", defaults.Verify.ReviewEnabled)
	viper.SetDefault("verify.require_all_subtasks", defaults.Verify.RequireAllSubtasks)

	// Checkpoint defaults
	viper.SetDefault("checkpoint.backend", defaults.Checkpoint.Backend)
	viper.SetDefault("checkpoint.dir", defaults.Checkpoint.Dir)
	viper.SetDefault("checkpoint.retention", defaults.Checkpoint.Retention)
	viper.SetDefault("checkpoint.sweep_interval", defaults.Checkpoint.SweepInterval)

	// Tasks defaults
	viper.SetDefault("tasks.file", defaults.Tasks.File)
	viper.SetDefault("tasks.expand_command", defaults.Tasks.ExpandCommand)
	viper.SetDefault("tasks.work_dir", defaults.Tasks.WorkDir)

	// Worker defaults
	viper.SetDefault("worker.default_profile", defaults.Worker.DefaultProfile)
	profiles := make(map[string]any, len(defaults.Worker.Profiles))
	for name, p := range defaults.Worker.Profiles {
		profiles[name] = map[string]any{
			"backend":          p.Backend,
			"command":          p.Command,
			"model":            p.Model,
			"skip_permissions": p.SkipPermissions,
		}
	}
	viper.SetDefault("worker.profiles", profiles)
	viper.SetDefault("worker.transcript_max_entries", defaults.Worker.TranscriptMaxEntries)
	viper.SetDefault("worker.transcript_max_chars", defaults.Worker.TranscriptMaxChars)

	// Channel defaults
	viper.SetDefault("channel.inbox_dir", defaults.Channel.InboxDir)
	viper.SetDefault("channel.outbox_file", defaults.Channel.OutboxFile)
	viper.SetDefault("channel.echo", defaults.Channel.Echo)

	// Telemetry defaults
	viper.SetDefault("telemetry.snapshot_file", defaults.Telemetry.SnapshotFile)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads configuration from viper and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "autopilot")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autopilot"
	}
	return filepath.Join(home, ".config", "autopilot")
}

// ConfigFile returns the path to the user config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
