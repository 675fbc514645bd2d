package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/autopilot/internal/logging"
)

// Decision file suffixes.
const (
	DecisionSuffix = ".decision"
	ConsumedSuffix = ".consumed"
	RejectedSuffix = ".rejected"
)

const (
	defaultDebounce     = 50 * time.Millisecond
	defaultPollInterval = 2 * time.Second
)

// FileChannel appends notifications to a JSON-lines outbox and reads
// decisions from per-task files in an inbox directory:
//
//	{inbox}/{task}.decision   contains "resume|skip|complete [note]"
//
// A decision file is renamed to {task}.decision.consumed once read.
type FileChannel struct {
	outbox string
	inbox  string
	echo   io.Writer

	debounce time.Duration
	poll     time.Duration

	mu     sync.Mutex
	logger *logging.Logger
}

// FileOption configures a FileChannel.
type FileOption func(*FileChannel)

// WithEcho writes a one-line text rendering of every notification to w.
func WithEcho(w io.Writer) FileOption {
	return func(c *FileChannel) { c.echo = w }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) FileOption {
	return func(c *FileChannel) { c.logger = logger }
}

// WithPollInterval sets how often the inbox is re-read while waiting, as a
// backstop for missed filesystem events.
func WithPollInterval(d time.Duration) FileOption {
	return func(c *FileChannel) { c.poll = d }
}

// NewFileChannel creates a channel over the given outbox file and inbox
// directory. An empty outbox disables the JSON log.
func NewFileChannel(outbox, inbox string, opts ...FileOption) *FileChannel {
	c := &FileChannel{
		outbox:   outbox,
		inbox:    inbox,
		debounce: defaultDebounce,
		poll:     defaultPollInterval,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Inbox returns the decision directory.
func (c *FileChannel) Inbox() string {
	return c.inbox
}

// Notify appends n to the outbox and echoes it.
func (c *FileChannel) Notify(_ context.Context, n Notification) error {
	if n.Time.IsZero() {
		n.Time = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.echo != nil {
		fmt.Fprintln(c.echo, FormatNotification(n))
	}
	if c.outbox == "" {
		return nil
	}

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.outbox), 0o755); err != nil {
		return fmt.Errorf("create outbox dir: %w", err)
	}
	f, err := os.OpenFile(c.outbox, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}

// FormatNotification renders n as a single line of text.
func FormatNotification(n Notification) string {
	var sb strings.Builder
	sb.WriteString(n.Time.Local().Format("15:04:05"))
	if n.TaskID != "" {
		sb.WriteString(" [" + n.TaskID + "]")
	}
	sb.WriteString(" " + n.Message)
	for _, d := range n.Details {
		sb.WriteString("\n    " + strings.ReplaceAll(d, "\n", "\n    "))
	}
	return sb.String()
}

// AwaitDecision waits for {inbox}/{taskID}.decision to appear with valid
// content, consumes it, and returns the decision. Invalid files are renamed
// with RejectedSuffix and waiting continues.
func (c *FileChannel) AwaitDecision(ctx context.Context, taskID string) (Decision, error) {
	if err := os.MkdirAll(c.inbox, 0o755); err != nil {
		return Decision{}, fmt.Errorf("create inbox: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch before the first read so a decision written in between is not missed.
	if err := watcher.Add(c.inbox); err != nil {
		return Decision{}, fmt.Errorf("failed to watch inbox: %w", err)
	}

	target := DecisionPath(c.inbox, taskID)
	if d, ok := c.consume(target); ok {
		return d, nil
	}

	debounce := time.NewTimer(c.debounce)
	debounce.Stop()
	defer debounce.Stop()
	poll := time.NewTicker(c.poll)
	defer poll.Stop()

	c.logger.Info("waiting for decision", "task_id", taskID, "file", target)
	for {
		select {
		case <-ctx.Done():
			return Decision{}, ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return Decision{}, errors.New("inbox watcher closed")
			}
			if filepath.Base(ev.Name) != filepath.Base(target) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Let the writer finish before reading.
			debounce.Reset(c.debounce)

		case <-debounce.C:
			if d, ok := c.consume(target); ok {
				return d, nil
			}

		case <-poll.C:
			if d, ok := c.consume(target); ok {
				return d, nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return Decision{}, errors.New("inbox watcher closed")
			}
			c.logger.Warn("inbox watcher error", "error", err.Error())
		}
	}
}

// consume reads and retires the decision file at path.
func (c *FileChannel) consume(path string) (Decision, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("failed to read decision", "file", path, "error", err.Error())
		}
		return Decision{}, false
	}
	if strings.TrimSpace(string(data)) == "" {
		return Decision{}, false
	}

	d, err := ParseDecision(string(data))
	if err != nil {
		c.logger.Warn("rejecting decision file", "file", path, "error", err.Error())
		_ = os.Rename(path, path+RejectedSuffix)
		return Decision{}, false
	}
	if err := os.Rename(path, path+ConsumedSuffix); err != nil {
		c.logger.Warn("failed to mark decision consumed", "file", path, "error", err.Error())
	}
	c.logger.Info("decision received", "file", path, "decision", string(d.Kind))
	return d, true
}

// DecisionPath returns the decision file path for a task.
func DecisionPath(inbox, taskID string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(taskID)
	return filepath.Join(inbox, safe+DecisionSuffix)
}

// WriteDecision publishes a decision for taskID into inbox, atomically so a
// waiting reader never sees a partial file.
func WriteDecision(inbox, taskID string, d Decision) error {
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	tmp, err := os.CreateTemp(inbox, ".decision-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp decision: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(d.String() + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write decision: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close decision: %w", err)
	}
	if err := os.Rename(tmpPath, DecisionPath(inbox, taskID)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("publish decision: %w", err)
	}
	return nil
}

// ReadOutbox parses the JSON-lines outbox, skipping malformed lines.
func ReadOutbox(path string) ([]Notification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []Notification
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var n Notification
		if json.Unmarshal([]byte(line), &n) == nil {
			out = append(out, n)
		}
	}
	return out, nil
}
