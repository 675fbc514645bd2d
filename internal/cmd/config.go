package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/autopilot/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify autopilot configuration",
	Long: `View or modify autopilot configuration.

Without arguments, displays the effective configuration: defaults, then the
config file, then AUTOPILOT_* environment variables (including those loaded
from .env).`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file in use (./autopilot.yaml when
none is).

Keys use dot notation, e.g.:
  autopilot config set recovery.max_attempts 6
  autopilot config set workflow.enable_reflection false
  autopilot config set checkpoint.backend sqlite
  autopilot config set recovery.decision_timeout 30m`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file with all available options",
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the effective configuration",
	RunE:  runConfigValidate,
}

var configInitGlobal bool

func init() {
	configInitCmd.Flags().BoolVar(&configInitGlobal, "global", false, "Write to the user config directory instead of ./autopilot.yaml")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		if _, err := os.Stat(viper.ConfigFileUsed()); err == nil {
			fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Fprintf(out, "# Config file: %s (missing - using defaults)\n", viper.ConfigFileUsed())
		}
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// settingKind is the value type a config key accepts.
type settingKind int

const (
	kindString settingKind = iota
	kindBool
	kindInt
	kindDuration
)

// settableKeys lists the scalar keys `config set` accepts.
var settableKeys = map[string]settingKind{
	"workflow.enable_decomposition":        kindBool,
	"workflow.enable_verification":         kindBool,
	"workflow.enable_reflection":           kindBool,
	"workflow.enable_checkpointing":        kindBool,
	"workflow.enable_progress_log":         kindBool,
	"workflow.enable_multi_strategy_retry": kindBool,
	"recovery.max_attempts":                kindInt,
	"recovery.alternate_profile":           kindString,
	"recovery.decompose_max_subtasks":      kindInt,
	"recovery.persistence_backoff":         kindDuration,
	"recovery.decision_timeout":            kindDuration,
	"decompose.min_subtasks":               kindInt,
	"decompose.max_subtasks":               kindInt,
	"verify.review_enabled":                kindBool,
	"verify.require_all_subtasks":          kindBool,
	"checkpoint.backend":                   kindString,
	"checkpoint.dir":                       kindString,
	"checkpoint.retention":                 kindDuration,
	"checkpoint.sweep_interval":            kindDuration,
	"tasks.file":                           kindString,
	"tasks.work_dir":                       kindString,
	"worker.default_profile":               kindString,
	"worker.transcript_max_entries":        kindInt,
	"worker.transcript_max_chars":          kindInt,
	"channel.inbox_dir":                    kindString,
	"channel.outbox_file":                  kindString,
	"channel.echo":                         kindBool,
	"telemetry.snapshot_file":              kindString,
	"logging.level":                        kindString,
	"logging.dir":                          kindString,
	"logging.max_size_mb":                  kindInt,
	"logging.max_backups":                  kindInt,
	"logging.compress":                     kindBool,
}

func parseSetting(key, value string) (any, error) {
	kind, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'autopilot config set --help' for examples", key)
	}

	switch kind {
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	case kindDuration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a duration such as 30s or 2h", key)
		}
		return d.String(), nil
	default:
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := strings.ToLower(args[0])
	value, err := parseSetting(key, args[1])
	if err != nil {
		return err
	}

	// Set the value in viper, then make sure the result still validates
	viper.Set(key, value)
	if _, err := loadConfig(); err != nil {
		return err
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = ProjectConfigFile
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, value)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := ProjectConfigFile
	if configInitGlobal {
		configFile = config.ConfigFile()
	}

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'autopilot config set' to modify values", configFile)
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintln(out, used)
		return nil
	}
	fmt.Fprintln(out, config.ConfigFile())
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Configuration is valid."))
	return nil
}

const configTemplate = `# Autopilot configuration
# Environment variables override any key: AUTOPILOT_RECOVERY_MAX_ATTEMPTS=6

# Phases of the orchestration cycle
workflow:
  enable_decomposition: true
  enable_verification: true
  enable_reflection: true
  enable_checkpointing: true
  enable_progress_log: true
  # false retries every failure as-is until the budget runs out
  enable_multi_strategy_retry: true

recovery:
  # Attempts per task before a human is asked to decide
  max_attempts: 4
  # Worker profile used by the alternate-configuration strategy
  alternate_profile: alternate
  # Upper bound on pieces a failing subtask is refined into
  decompose_max_subtasks: 5
  persistence_backoff: 200ms
  # How long an escalation waits for a decision (0 waits forever)
  decision_timeout: 0s

decompose:
  min_subtasks: 3
  max_subtasks: 7

verify:
  review_enabled: true
  require_all_subtasks: true

checkpoint:
  # file or sqlite
  backend: file
  dir: .autopilot/checkpoints
  retention: 168h
  sweep_interval: 1h

tasks:
  file: tasks.yaml
  # Optional external expansion, e.g. ["task-master", "expand", "--id={id}"]
  expand_command: []
  work_dir: .

worker:
  default_profile: default
  profiles:
    default:
      backend: claude
      command: claude
      skip_permissions: true
    alternate:
      backend: codex
      command: codex
  transcript_max_entries: 20
  transcript_max_chars: 16000

channel:
  # Drop {task}.decision files here, or use 'autopilot decide'
  inbox_dir: .autopilot/inbox
  outbox_file: .autopilot/outbox.jsonl
  echo: true

telemetry:
  snapshot_file: .autopilot/telemetry.json

logging:
  level: info
  dir: .autopilot/logs
  max_size_mb: 10
  max_backups: 3
  compress: false
`
