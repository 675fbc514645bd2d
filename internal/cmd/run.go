package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/autopilot/internal/checkpoint"
	apierrors "github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/orchestrator"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Work through the task queue",
	Long: `Run takes the first pending task whose dependencies are done, drives it
to completion, and moves on until no task is ready.

Interrupted tasks (in_progress with a checkpoint) are restored first unless
--no-resume is given. Expired checkpoints are swept in the background.
Ctrl+C cancels the task in flight; its step is recorded as aborted and the
next run resumes it.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runMaxTasks int
	runNoResume bool
)

func init() {
	runCmd.Flags().IntVarP(&runMaxTasks, "max-tasks", "n", 0, "Stop after this many tasks (0 for no limit)")
	runCmd.Flags().BoolVar(&runNoResume, "no-resume", false, "Do not restore interrupted tasks before picking new work")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	a, err := newApp(out)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.saveTelemetry()

	runCtx, stop := context.WithCancel(cmd.Context())
	defer stop()

	var summary orchestrator.RunSummary
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// The sweeper and signal watcher exit once the queue is drained.
		defer stop()
		var err error
		summary, err = a.engine.Run(gctx, orchestrator.RunOptions{
			MaxTasks:          runMaxTasks,
			ResumeInterrupted: !runNoResume,
		})
		return err
	})

	if a.checkpoints != nil {
		sweeper := checkpoint.NewSweeper(a.checkpoints, a.cfg.Checkpoint.Retention, a.cfg.Checkpoint.SweepInterval, a.logger)
		g.Go(func() error {
			return sweeper.Run(gctx)
		})
	}

	g.Go(func() error {
		watchSignals(gctx, a.engine, stop)
		return nil
	})

	err = g.Wait()
	printSummary(out, summary)
	if errors.Is(err, apierrors.ErrCancelled) {
		fmt.Fprintln(out, warnStyle.Render("Run cancelled; interrupted work resumes on the next run."))
		return nil
	}
	return err
}

// watchSignals cancels the active run on SIGINT or SIGTERM, then stops
// the loop. It returns when ctx is done.
func watchSignals(ctx context.Context, engine *orchestrator.Engine, stop context.CancelFunc) {
	sigCtx, release := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer release()

	<-sigCtx.Done()
	if ctx.Err() != nil {
		return
	}
	engine.Cancel()
	stop()
}

func printSummary(w io.Writer, s orchestrator.RunSummary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, section("RUN SUMMARY"))
	if s.Processed() == 0 {
		fmt.Fprintln(w, dimStyle.Render("No task was ready."))
		return
	}
	for _, o := range s.Outcomes {
		printOutcome(w, o)
	}
	fmt.Fprintf(w, "%s %d  %s %d  %s %d  %s %d\n",
		labelStyle.Render("completed"), s.Completed,
		labelStyle.Render("failed"), s.Failed,
		labelStyle.Render("blocked"), s.Blocked,
		labelStyle.Render("errors"), s.Errors)
}

func printOutcome(w io.Writer, o *orchestrator.Outcome) {
	status := statusStyle(o.Status).Render(string(o.Status))
	if o.Cancelled {
		status = warnStyle.Render("cancelled")
	}
	line := fmt.Sprintf("%s  %s  phase=%s attempts=%d", o.TaskID, status, o.Phase, o.Attempts)
	if o.Decision != nil {
		line += " decision=" + o.Decision.String()
	}
	fmt.Fprintln(w, line)
}
