package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	apierrors "github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/orchestrator"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <task-id>",
	Short: "Run a single task from the start",
	Long: `Submit drives one task through the full cycle regardless of its place in
the queue. Ctrl+C cancels it; "autopilot restore" picks it up again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOne(cmd, args[0], (*orchestrator.Engine).Submit)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <task-id>",
	Short: "Resume a task from its latest checkpoint",
	Long: `Restore continues a task at the phase, step and attempt recorded in its
latest checkpoint. Steps that already completed are not run again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOne(cmd, args[0], (*orchestrator.Engine).Restore)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(restoreCmd)
}

type runFunc func(e *orchestrator.Engine, ctx context.Context, taskID string) (*orchestrator.Outcome, error)

func runOne(cmd *cobra.Command, taskID string, fn runFunc) error {
	out := cmd.OutOrStdout()
	a, err := newApp(out)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.saveTelemetry()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome, err := fn(a.engine, ctx, taskID)
	if outcome != nil {
		printOutcome(out, outcome)
	}
	if errors.Is(err, apierrors.ErrCancelled) {
		fmt.Fprintf(out, "%s\n", warnStyle.Render("Cancelled; run \"autopilot restore "+taskID+"\" to continue."))
		return nil
	}
	return err
}
