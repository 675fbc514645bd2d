package telemetry

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Report limits.
const (
	TopToolsLimit = 10
	TopKindsLimit = 5
)

// Count is a named counter value.
type Count struct {
	Name  string
	Count int64
}

// Report is a derived, human-oriented view of a Snapshot.
type Report struct {
	Snapshot    Snapshot
	SuccessRate float64
	RetryRate   float64
	TopTools    []Count
	TopKinds    []Count
}

// Report derives rates and top-N lists from the current metrics.
func (c *Collector) Report() Report {
	return NewReport(c.Snapshot())
}

// NewReport derives a Report from a snapshot.
func NewReport(s Snapshot) Report {
	r := Report{
		Snapshot: s,
		TopTools: top(s.Tools, TopToolsLimit),
		TopKinds: top(s.ErrorKinds, TopKindsLimit),
	}
	if s.Attempted > 0 {
		r.SuccessRate = float64(s.Completed) / float64(s.Attempted)
		r.RetryRate = float64(s.Retries) / float64(s.Attempted)
	}
	return r
}

// top returns the n largest counters, ties broken by name.
func top(m map[string]int64, n int) []Count {
	out := make([]Count, 0, len(m))
	for name, count := range m {
		out = append(out, Count{Name: name, Count: count})
	}
	slices.SortFunc(out, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// String renders the report as plain text.
func (r Report) String() string {
	s := r.Snapshot
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tasks: %d attempted, %d completed, %d failed, %d blocked, %d cancelled\n",
		s.Attempted, s.Completed, s.Failed, s.Blocked, s.Cancelled)
	fmt.Fprintf(&sb, "Success rate: %.1f%%  Retry rate: %.2f per task\n", r.SuccessRate*100, r.RetryRate)
	fmt.Fprintf(&sb, "Steps: %d (%d failed)\n", s.Steps, s.StepFailures)
	fmt.Fprintf(&sb, "Mean task duration: %s over %d tasks\n", s.MeanDuration.Round(time.Second), s.DurationSamples)
	writeCounts(&sb, "Top tools", r.TopTools)
	writeCounts(&sb, "Top error kinds", r.TopKinds)
	return strings.TrimRight(sb.String(), "\n")
}

func writeCounts(sb *strings.Builder, title string, counts []Count) {
	if len(counts) == 0 {
		return
	}
	sb.WriteString(title + ":\n")
	for _, c := range counts {
		fmt.Fprintf(sb, "  %-30s %d\n", c.Name, c.Count)
	}
}
