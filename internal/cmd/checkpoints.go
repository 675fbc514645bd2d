package cmd

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/autopilot/internal/checkpoint"
	"github.com/spf13/cobra"
)

var checkpointsCmd = &cobra.Command{
	Use:     "checkpoints",
	Aliases: []string{"cp"},
	Short:   "Inspect and prune task checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list [task-id]",
	Short: "List checkpoints, for one task or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheckpointsList,
}

var checkpointsPurgeCmd = &cobra.Command{
	Use:   "purge <task-id>",
	Short: "Delete every checkpoint of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsPurge,
}

var checkpointsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete checkpoints older than the retention period, keeping each task's latest",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointsSweep,
}

var sweepOlderThan time.Duration

func init() {
	checkpointsSweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", 0, "Override checkpoint.retention for this sweep")

	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsPurgeCmd)
	checkpointsCmd.AddCommand(checkpointsSweepCmd)
	rootCmd.AddCommand(checkpointsCmd)
}

// withCheckpoints opens the configured checkpoint store for fn.
func withCheckpoints(fn func(store checkpoint.Store, retention time.Duration) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openCheckpoints(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store, cfg.Checkpoint.Retention)
}

func runCheckpointsList(cmd *cobra.Command, args []string) error {
	return withCheckpoints(func(store checkpoint.Store, _ time.Duration) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		ids := args
		if len(ids) == 0 {
			var err error
			if ids, err = store.Tasks(ctx); err != nil {
				return err
			}
		}
		if len(ids) == 0 {
			fmt.Fprintln(out, dimStyle.Render("No checkpoints."))
			return nil
		}

		for _, id := range ids {
			cps, err := store.List(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", section(id), dimStyle.Render(fmt.Sprintf("(%d)", len(cps))))
			for _, cp := range cps {
				fmt.Fprintf(out, "  #%-4d %s  %-9s step %-3d attempt %d",
					cp.Seq, cp.Timestamp.Local().Format("2006-01-02 15:04:05"), cp.Phase, cp.StepIndex+1, cp.Attempt)
				if cp.Note != "" {
					fmt.Fprintf(out, "  %s", dimStyle.Render(cp.Note))
				}
				fmt.Fprintln(out)
			}
		}
		return nil
	})
}

func runCheckpointsPurge(cmd *cobra.Command, args []string) error {
	return withCheckpoints(func(store checkpoint.Store, _ time.Duration) error {
		if err := store.Purge(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged checkpoints of %s\n", args[0])
		return nil
	})
}

func runCheckpointsSweep(cmd *cobra.Command, args []string) error {
	return withCheckpoints(func(store checkpoint.Store, retention time.Duration) error {
		if sweepOlderThan > 0 {
			retention = sweepOlderThan
		}
		n, err := checkpoint.NewSweeper(store, retention, 0, nil).Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d checkpoint(s) older than %s\n", n, retention)
		return nil
	})
}
