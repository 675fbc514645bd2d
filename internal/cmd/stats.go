package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/Iron-Ham/autopilot/internal/telemetry"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run statistics",
	Long: `Display the telemetry collected by previous runs:

- Tasks attempted, completed, failed and blocked
- Success rate and retries per task
- Most used worker tools
- Most frequent failure kinds`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

var (
	statsJSON  bool // Output as JSON
	statsReset bool
)

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output statistics as JSON")
	statsCmd.Flags().BoolVar(&statsReset, "reset", false, "Clear the saved statistics")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	path := cfg.Telemetry.SnapshotFile

	if statsReset {
		if err := telemetry.NewCollector(nil).Save(path); err != nil {
			return err
		}
		fmt.Fprintln(out, "Statistics cleared.")
		return nil
	}

	snap, err := telemetry.LoadSnapshot(path)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(out, "No statistics yet; run some tasks first.")
		return nil
	}
	if err != nil {
		return err
	}
	report := telemetry.NewReport(snap)

	if statsJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal statistics: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintln(out, section("STATISTICS"))
	fmt.Fprintln(out, report.String())
	if !snap.UpdatedAt.IsZero() {
		fmt.Fprintln(out, dimStyle.Render("Updated "+snap.UpdatedAt.Local().Format("2006-01-02 15:04:05")))
	}
	return nil
}
