package cmd

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/autopilot/internal/channel"
	"github.com/spf13/cobra"
)

var decideCmd = &cobra.Command{
	Use:   "decide <task-id> <resume|skip|complete> [note...]",
	Short: "Answer an escalated task",
	Long: `Decide delivers a human decision to a task waiting in ESCALATE.

  resume [note]   try again with a fresh attempt budget; the note is passed
                  to the worker as guidance
  skip            leave the task blocked and move on
  complete        mark the task done without further work

Examples:
  autopilot decide T4 resume the staging database is back up
  autopilot decide T4 skip`,
	Args: cobra.MinimumNArgs(2),
	RunE: runDecide,
}

func init() {
	rootCmd.AddCommand(decideCmd)
}

func runDecide(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	taskID := args[0]
	d, err := channel.ParseDecision(strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	if err := channel.WriteDecision(cfg.Channel.InboxDir, taskID, d); err != nil {
		return fmt.Errorf("failed to deliver decision: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Decision for %s: %s\n", taskID, okStyle.Render(d.String()))
	fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render(channel.DecisionPath(cfg.Channel.InboxDir, taskID)))
	return nil
}
