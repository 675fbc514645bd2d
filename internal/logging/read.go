package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogEntry is one parsed JSON log line.
type LogEntry struct {
	Timestamp time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	TaskID    string         `json:"task_id,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter selects log entries. Zero-valued fields do not filter; set
// fields are combined with AND.
type LogFilter struct {
	// Level keeps entries at or above this level.
	Level           string
	Since           time.Time
	Until           time.Time
	TaskID          string
	Phase           string
	MessageContains string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ReadLogs parses {dir}/autopilot.log, skipping lines that are not valid
// JSON. Entries are returned sorted by timestamp.
func ReadLogs(dir string) ([]LogEntry, error) {
	f, err := os.Open(filepath.Join(dir, LogFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file in %s: %w", dir, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseLogs(f)
}

// ParseLogs parses JSON log lines from r.
func ParseLogs(r io.Reader) ([]LogEntry, error) {
	var entries []LogEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseLogEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func parseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := LogEntry{Attrs: make(map[string]any)}
	for k, v := range raw {
		switch k {
		case "time":
			if s, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					entry.Timestamp = t
				}
			}
		case "level":
			entry.Level, _ = v.(string)
		case "msg":
			entry.Message, _ = v.(string)
		case "task_id":
			entry.TaskID, _ = v.(string)
		case "phase":
			entry.Phase, _ = v.(string)
		case "attempt":
			if n, ok := v.(float64); ok {
				entry.Attempt = int(n)
			}
		default:
			entry.Attrs[k] = v
		}
	}
	return entry, nil
}

// FilterLogs returns the entries matching filter.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	var out []LogEntry
	for _, e := range entries {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f LogFilter) matches(e LogEntry) bool {
	if f.Level != "" {
		want, okWant := levelOrder[strings.ToUpper(f.Level)]
		got, okGot := levelOrder[e.Level]
		if okWant && okGot && got < want {
			return false
		}
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.Phase != "" && !strings.EqualFold(e.Phase, f.Phase) {
		return false
	}
	if f.MessageContains != "" && !strings.Contains(e.Message, f.MessageContains) {
		return false
	}
	return true
}

// FormatText renders an entry as a single human-readable line.
func FormatText(e LogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %-5s %s", e.Timestamp.Format("2006-01-02 15:04:05.000"), e.Level, e.Message)

	var ctx []string
	if e.TaskID != "" {
		ctx = append(ctx, "task="+e.TaskID)
	}
	if e.Phase != "" {
		ctx = append(ctx, "phase="+e.Phase)
	}
	if e.Attempt > 0 {
		ctx = append(ctx, fmt.Sprintf("attempt=%d", e.Attempt))
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if len(e.Attrs) > 0 {
		if attrs, err := json.Marshal(e.Attrs); err == nil {
			b.WriteString(" ")
			b.Write(attrs)
		}
	}
	return b.String()
}
