package recovery

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/autopilot/internal/util"
)

// History holds append-only AttemptRecords per task.
// It is thread-safe and can be used concurrently.
type History struct {
	mu      sync.RWMutex
	records map[string][]AttemptRecord
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{
		records: make(map[string][]AttemptRecord),
	}
}

// Append adds a record for a task.
func (h *History) Append(taskID string, rec AttemptRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[taskID] = append(h.records[taskID], rec)
}

// Records returns a copy of the task's records.
func (h *History) Records(taskID string) []AttemptRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	recs := h.records[taskID]
	if len(recs) == 0 {
		return nil
	}
	out := make([]AttemptRecord, len(recs))
	copy(out, recs)
	return out
}

// Load replaces the task's records, e.g. when restoring from a checkpoint.
func (h *History) Load(taskID string, recs []AttemptRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(recs) == 0 {
		delete(h.records, taskID)
		return
	}
	cp := make([]AttemptRecord, len(recs))
	copy(cp, recs)
	h.records[taskID] = cp
}

// Reset clears the task's records.
func (h *History) Reset(taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.records, taskID)
}

// Summary renders records for a human reading an escalation:
//
//	Attempt 1 (2026-01-02T15:04:05Z): TRANSIENT -> SIMPLE_RETRY: connection reset
func Summary(records []AttemptRecord) string {
	if len(records) == 0 {
		return "no attempts recorded"
	}
	var sb strings.Builder
	for i, r := range records {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if r.Outcome == OutcomeResumed {
			fmt.Fprintf(&sb, "Resumed (%s)", r.Timestamp.UTC().Format(time.RFC3339))
			if r.Detail != "" {
				sb.WriteString(": " + r.Detail)
			}
			continue
		}
		fmt.Fprintf(&sb, "Attempt %d (%s): %s -> %s",
			r.Attempt, r.Timestamp.UTC().Format(time.RFC3339), r.Kind, r.Strategy)
		if r.Detail != "" {
			sb.WriteString(": " + util.TruncateString(util.FirstLine(r.Detail), 200))
		}
	}
	return sb.String()
}
