package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/Iron-Ham/autopilot/internal/channel"
	"github.com/Iron-Ham/autopilot/internal/checkpoint"
	apierrors "github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/task"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task progress",
	Long: `Display every task with its status and subtask progress. Unfinished
tasks show where their latest checkpoint would resume them.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var statusNotifications int

func init() {
	statusCmd.Flags().IntVarP(&statusNotifications, "notifications", "n", 5, "Recent notifications to show (0 to hide)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	store, err := openTasks(cfg, nil)
	if err != nil {
		return err
	}
	tasks, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	var cps checkpoint.Store
	if cfg.Workflow.EnableCheckpointing {
		if cps, err = openCheckpoints(cfg); err != nil {
			return err
		}
		defer func() { _ = cps.Close() }()
	}

	fmt.Fprintln(out, section("TASKS"))
	if len(tasks) == 0 {
		fmt.Fprintln(out, dimStyle.Render("No tasks in "+store.Path()))
	}
	for i := range tasks {
		t := &tasks[i]
		fmt.Fprintf(out, "%-8s %-12s %s%s\n", t.ID, statusStyle(t.Status).Render(string(t.Status)), t.Title, subtaskProgress(t))
		if cps == nil || t.Status == task.StatusDone || t.Status == task.StatusPending {
			continue
		}
		cp, err := cps.Latest(cmd.Context(), t.ID)
		if errors.Is(err, apierrors.ErrNoCheckpoint) {
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "         %s %s step %d attempt %d (%s)\n",
			labelStyle.Render("checkpoint"), cp.Phase, cp.StepIndex+1, cp.Attempt,
			cp.Timestamp.Local().Format("2006-01-02 15:04:05"))
		if cp.Note != "" {
			fmt.Fprintf(out, "         %s\n", dimStyle.Render(cp.Note))
		}
	}

	if statusNotifications > 0 {
		return printNotifications(out, cfg.Channel.OutboxFile, statusNotifications)
	}
	return nil
}

// subtaskProgress renders " (done/total)" for tasks with subtasks.
func subtaskProgress(t *task.Task) string {
	if len(t.Subtasks) == 0 {
		return ""
	}
	done := 0
	for _, s := range t.Subtasks {
		if s.Status == task.StatusDone {
			done++
		}
	}
	return dimStyle.Render(fmt.Sprintf(" (%d/%d)", done, len(t.Subtasks)))
}

func printNotifications(w io.Writer, outbox string, n int) error {
	if outbox == "" {
		return nil
	}
	notes, err := channel.ReadOutbox(outbox)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(notes) > n {
		notes = notes[len(notes)-n:]
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, section("RECENT NOTIFICATIONS"))
	for _, note := range notes {
		fmt.Fprintln(w, channel.FormatNotification(note))
	}
	return nil
}
