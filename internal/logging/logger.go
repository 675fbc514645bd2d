// Package logging provides structured logging for autopilot runs.
//
// It wraps log/slog with a JSON handler and carries persistent context
// attributes (task, phase, attempt, worker profile) so that a single run's
// log can be filtered after the fact with ReadLogs and FilterLogs.
//
//	logger, err := logging.NewLogger(dir, "INFO", logging.RotationConfig{})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	taskLog := logger.WithTask("T1").WithPhase("EXECUTE")
//	taskLog.Info("step completed", "step", 2)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogFileName is the name of the log file created inside the log directory.
const LogFileName = "autopilot.log"

// Logger provides structured logging with context propagation.
// It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	closer io.Closer
	mu     *sync.Mutex
	attrs  []slog.Attr
}

// NewLogger creates a Logger that writes JSON lines to {dir}/autopilot.log.
// When rotation.MaxSizeMB is positive the file is rotated by size.
//
// If dir is empty, logs are written to stderr.
func NewLogger(dir string, level string, rotation RotationConfig) (*Logger, error) {
	var writer io.Writer = os.Stderr
	var closer io.Closer

	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rw, err := NewRotatingWriter(filepath.Join(dir, LogFileName), rotation)
		if err != nil {
			return nil, err
		}
		writer = rw
		closer = rw
	}

	return NewLoggerWithWriter(writer, level, closer), nil
}

// NewLoggerWithWriter creates a Logger on an arbitrary writer. closer may be
// nil; when set it is closed by Close.
func NewLoggerWithWriter(w io.Writer, level string, closer io.Closer) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{
		logger: slog.New(handler),
		closer: closer,
		mu:     &sync.Mutex{},
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithTask returns a child Logger that tags every entry with task_id.
func (l *Logger) WithTask(taskID string) *Logger {
	return l.withAttr(slog.String("task_id", taskID))
}

// WithPhase returns a child Logger that tags every entry with the
// orchestration phase (DECOMPOSE, PLAN, EXECUTE, VERIFY, REFLECT).
func (l *Logger) WithPhase(phase string) *Logger {
	return l.withAttr(slog.String("phase", phase))
}

// WithAttempt returns a child Logger that tags every entry with the attempt number.
func (l *Logger) WithAttempt(attempt int) *Logger {
	return l.withAttr(slog.Int("attempt", attempt))
}

// WithProfile returns a child Logger that tags every entry with the worker profile.
func (l *Logger) WithProfile(profile string) *Logger {
	return l.withAttr(slog.String("profile", profile))
}

// With returns a child Logger with arbitrary key-value attributes.
// Keys and values are provided as alternating arguments; non-string keys
// are skipped.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}

	newAttrs := make([]slog.Attr, 0, len(l.attrs)+len(args)/2)
	newAttrs = append(newAttrs, l.attrs...)
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		newAttrs = append(newAttrs, slog.Any(key, args[i+1]))
	}
	return l.child(newAttrs)
}

func (l *Logger) withAttr(attr slog.Attr) *Logger {
	newAttrs := make([]slog.Attr, 0, len(l.attrs)+1)
	newAttrs = append(newAttrs, l.attrs...)
	// A later value for the same key replaces the earlier one, so
	// logger.WithPhase("PLAN").WithPhase("EXECUTE") logs a single phase.
	for i, existing := range newAttrs {
		if existing.Key == attr.Key {
			newAttrs[i] = attr
			return l.child(newAttrs)
		}
	}
	return l.child(append(newAttrs, attr))
}

func (l *Logger) child(attrs []slog.Attr) *Logger {
	return &Logger{
		logger: l.logger,
		closer: l.closer,
		mu:     l.mu,
		attrs:  attrs,
	}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	allArgs := make([]any, 0, len(l.attrs)*2+len(args))
	for _, attr := range l.attrs {
		allArgs = append(allArgs, attr.Key, attr.Value.Any())
	}
	allArgs = append(allArgs, args...)

	l.logger.Log(context.Background(), level, msg, allArgs...)
}

// Close flushes and closes the underlying log file. Loggers writing to
// stderr or to a caller-owned writer treat Close as a no-op.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closer != nil {
		if err := l.closer.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		l.closer = nil
	}
	return nil
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return NewLoggerWithWriter(io.Discard, LevelError, nil)
}

// ParseLevel normalizes a level string, returning LevelInfo when unrecognized.
func ParseLevel(level string) string {
	switch up := strings.ToUpper(level); up {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return up
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
