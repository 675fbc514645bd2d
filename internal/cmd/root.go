package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/Iron-Ham/autopilot/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ProjectConfigFile is picked up from the working directory when no
// --config flag is given.
const ProjectConfigFile = "autopilot.yaml"

var rootCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Autonomous task orchestration for coding agents",
	Long: `Autopilot works through a task list by driving a worker agent through
decompose, plan, execute, verify and reflect phases. Failures are classified
and retried with escalating strategies; checkpoints let an interrupted task
resume where it stopped, and a human can be asked to decide when the
attempt budget runs out.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./autopilot.yaml, then $HOME/.config/autopilot/config.yaml)")
	rootCmd.PersistentFlags().StringP("tasks", "t", "", "tasks file (overrides tasks.file)")
	bindGlobalFlags()
}

func bindGlobalFlags() {
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("tasks.file", rootCmd.PersistentFlags().Lookup("tasks"))
}

func initConfig() {
	// .env files feed AutomaticEnv below, so they load first
	if _, err := config.LoadDotEnv("."); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}

	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	cfgFile := viper.GetString("config")
	if cfgFile == "" {
		if _, err := os.Stat(ProjectConfigFile); err == nil {
			cfgFile = ProjectConfigFile
		}
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/autopilot")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("AUTOPILOT")
	// Replace dots with underscores for nested keys in env vars
	// e.g., AUTOPILOT_RECOVERY_MAX_ATTEMPTS for recovery.max_attempts
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
