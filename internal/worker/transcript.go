package worker

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Iron-Ham/autopilot/internal/util"
)

// Default transcript bounds.
const (
	DefaultMaxEntries = 20
	DefaultMaxChars   = 16000
)

// Entry is one transcript line.
type Entry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Transcript is the bounded context carried between invocations for one
// task. When a bound is exceeded the oldest entries are dropped first.
// A nil *Transcript renders as empty.
type Transcript struct {
	mu         sync.Mutex
	maxEntries int
	maxChars   int
	entries    []Entry
	chars      int
}

// NewTranscript creates a transcript with the given bounds; non-positive
// values use the defaults.
func NewTranscript(maxEntries, maxChars int) *Transcript {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Transcript{maxEntries: maxEntries, maxChars: maxChars}
}

// Add appends an entry, trimming from the front to stay within bounds.
// A single entry longer than the character bound keeps only its tail.
func (t *Transcript) Add(role, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(text) > t.maxChars {
		text = util.TailString(text, t.maxChars)
	}
	t.entries = append(t.entries, Entry{Role: role, Text: text})
	t.chars += len(text)

	for len(t.entries) > t.maxEntries || (t.chars > t.maxChars && len(t.entries) > 1) {
		t.chars -= len(t.entries[0].Text)
		t.entries = t.entries[1:]
	}
}

// Entries returns a copy of the entries, oldest first.
func (t *Transcript) Entries() []Entry {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Reset drops all entries.
func (t *Transcript) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.chars = 0
}

// Render formats the entries for inclusion in a prompt.
func (t *Transcript) Render() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var sb strings.Builder
	for i, e := range t.entries {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s]\n%s", e.Role, e.Text)
	}
	return sb.String()
}
