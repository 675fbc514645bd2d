package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View run logs",
	Long: `View and filter the autopilot log.

Examples:
  # Show the last 50 entries
  autopilot logs

  # Everything for one task
  autopilot logs --task T4 -n 0

  # Follow logs in real-time
  autopilot logs -f

  # Warnings and errors from the last hour
  autopilot logs --level warn --since 1h

  # Search for specific patterns
  autopilot logs --grep "refine|escalat"`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsTail   int
	logsFollow bool
	logsLevel  string
	logsSince  string
	logsTask   string
	logsPhase  string
	logsGrep   string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsTask, "task", "", "Only entries for this task")
	logsCmd.Flags().StringVar(&logsPhase, "phase", "", "Only entries from this phase")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
}

// logQuery is a parsed set of logs flags.
type logQuery struct {
	filter logging.LogFilter
	grep   *regexp.Regexp
}

func (q logQuery) matches(e logging.LogEntry) bool {
	if len(logging.FilterLogs([]logging.LogEntry{e}, q.filter)) == 0 {
		return false
	}
	if q.grep == nil {
		return true
	}
	// Search in message and extra fields
	searchText := e.Message
	for _, v := range e.Attrs {
		searchText += " " + fmt.Sprintf("%v", v)
	}
	return q.grep.MatchString(searchText)
}

func parseLogQuery(now time.Time) (logQuery, error) {
	q := logQuery{filter: logging.LogFilter{TaskID: logsTask, Phase: logsPhase}}
	if logsLevel != "" {
		q.filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		duration, err := time.ParseDuration(logsSince)
		if err != nil {
			return q, fmt.Errorf("invalid duration format: %w", err)
		}
		q.filter.Since = now.Add(-duration)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return q, fmt.Errorf("invalid grep pattern: %w", err)
		}
		q.grep = re
	}
	return q, nil
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(e logging.LogEntry) string {
	var sb strings.Builder
	sb.WriteString(dimStyle.Render("[" + e.Timestamp.Local().Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	sb.WriteString(levelStyle(e.Level).Render("[" + strings.ToUpper(e.Level) + "]"))
	sb.WriteString(" ")
	sb.WriteString(e.Message)

	if e.TaskID != "" {
		sb.WriteString(" " + labelStyle.Render("task="+e.TaskID))
	}
	if e.Phase != "" {
		sb.WriteString(" " + labelStyle.Render("phase="+e.Phase))
	}
	if e.Attempt > 0 {
		sb.WriteString(" " + labelStyle.Render(fmt.Sprintf("attempt=%d", e.Attempt)))
	}
	for _, key := range slices.Sorted(maps.Keys(e.Attrs)) {
		sb.WriteString(" " + labelStyle.Render(key+"=") + fmt.Sprintf("%v", e.Attrs[key]))
	}
	return sb.String()
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if cfg.Logging.Dir == "" {
		fmt.Fprintln(out, "Logging goes to stderr (logging.dir is empty); nothing to show.")
		return nil
	}

	q, err := parseLogQuery(time.Now())
	if err != nil {
		return err
	}

	if logsFollow {
		return followLogs(cmd.Context(), out, filepath.Join(cfg.Logging.Dir, logging.LogFileName), q)
	}

	entries, err := logging.ReadLogs(cfg.Logging.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(out, "No logs found.")
		fmt.Fprintln(out, "Logs are stored at:", filepath.Join(cfg.Logging.Dir, logging.LogFileName))
		return nil
	}
	if err != nil {
		return err
	}
	displayLogs(out, entries, logsTail, q)
	return nil
}

// displayLogs prints the matching entries, keeping the last tail of them
func displayLogs(w io.Writer, entries []logging.LogEntry, tail int, q logQuery) {
	var matched []logging.LogEntry
	for _, e := range entries {
		if q.matches(e) {
			matched = append(matched, e)
		}
	}

	// Apply tail limit
	if tail > 0 && len(matched) > tail {
		matched = matched[len(matched)-tail:]
	}

	if len(matched) == 0 {
		fmt.Fprintln(w, "No matching log entries found.")
		return
	}
	for _, e := range matched {
		fmt.Fprintln(w, formatLogEntry(e))
	}
}

// followLogs implements tail -f behavior for the log file
func followLogs(ctx context.Context, w io.Writer, logPath string, q logQuery) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// Seek to end of file
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	fmt.Fprintf(w, "Following logs... (Ctrl+C to stop)\n\n")

	reader := bufio.NewReader(file)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var partial string
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// No new data, wait briefly and try again
			partial += line
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("error reading log file: %w", err)
		}

		line = strings.TrimSpace(partial + line)
		partial = ""
		if line == "" {
			continue
		}
		entries, _ := logging.ParseLogs(strings.NewReader(line))
		if len(entries) == 0 {
			// If we can't parse as JSON, display raw line
			fmt.Fprintln(w, line)
			continue
		}
		if q.matches(entries[0]) {
			fmt.Fprintln(w, formatLogEntry(entries[0]))
		}
	}
}
