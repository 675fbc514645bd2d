package telemetry

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/autopilot/internal/event"
)

func publishRun(bus *event.Bus) {
	bus.Publish(event.NewTaskStartedEvent("T1", "first", 1, false))
	bus.Publish(event.NewStepFinishedEvent("T1", 0, "T1.1", false, false, []string{"Bash"}, time.Second, "timeout"))
	bus.Publish(event.NewRecoveryDecidedEvent("T1", 1, "TRANSIENT", "SIMPLE_RETRY", "first attempt"))
	bus.Publish(event.NewStepFinishedEvent("T1", 0, "T1.1", true, false, []string{"Edit", "Bash"}, time.Second, ""))
	bus.Publish(event.NewPersistenceWarningEvent("T1", "checkpoint", errors.New("disk full")))
	bus.Publish(event.NewTaskCompletedEvent("T1", 2, 10*time.Second, false))

	bus.Publish(event.NewTaskStartedEvent("T2", "second", 1, false))
	bus.Publish(event.NewRecoveryDecidedEvent("T2", 2, "BLOCKING", "ESCALATE", "blocking"))
	bus.Publish(event.NewTaskEscalatedEvent("T2", 2, "blocking", "history", nil))
	bus.Publish(event.NewTaskStartedEvent("T2", "second", 1, true))
	bus.Publish(event.NewTaskFailedEvent("T2", 4, 20*time.Second, "budget"))
}

func TestCollector_Counts(t *testing.T) {
	bus := event.NewBus(nil)
	c := NewCollector(nil)
	c.Attach(bus)
	publishRun(bus)

	s := c.Snapshot()
	if s.Attempted != 2 {
		t.Errorf("Attempted = %d, want 2 (resumed starts excluded)", s.Attempted)
	}
	if s.Completed != 1 || s.Failed != 1 || s.Blocked != 0 {
		t.Errorf("completed/failed/blocked = %d/%d/%d, want 1/1/0", s.Completed, s.Failed, s.Blocked)
	}
	if s.Retries != 1 {
		t.Errorf("Retries = %d, want 1", s.Retries)
	}
	if s.Steps != 2 || s.StepFailures != 1 {
		t.Errorf("steps = %d/%d failed, want 2/1", s.Steps, s.StepFailures)
	}
	if diff := cmp.Diff(map[string]int64{"Bash": 2, "Edit": 1}, s.Tools); diff != "" {
		t.Errorf("Tools mismatch (-want +got):\n%s", diff)
	}
	wantKinds := map[string]int64{"TRANSIENT": 1, "BLOCKING": 1, "PERSISTENCE_WARNING": 1}
	if diff := cmp.Diff(wantKinds, s.ErrorKinds); diff != "" {
		t.Errorf("ErrorKinds mismatch (-want +got):\n%s", diff)
	}
	if s.MeanDuration != 15*time.Second || s.DurationSamples != 2 {
		t.Errorf("mean = %s over %d, want 15s over 2", s.MeanDuration, s.DurationSamples)
	}
}

func TestCollector_Blocked(t *testing.T) {
	tests := []struct {
		name   string
		events []event.Event
		want   []string
	}{
		{
			name: "escalation left unanswered",
			events: []event.Event{
				event.NewTaskEscalatedEvent("T3", 2, "blocking", "", nil),
			},
			want: []string{"T3"},
		},
		{
			name: "budget exhausted then failed",
			events: []event.Event{
				event.NewTaskEscalatedEvent("T5", 4, "attempt budget exhausted", "", nil),
				event.NewTaskFailedEvent("T5", 4, time.Second, "attempt budget exhausted"),
			},
		},
		{
			name: "escalated again after a restore",
			events: []event.Event{
				event.NewTaskEscalatedEvent("T3", 2, "blocking", "", nil),
				event.NewTaskStartedEvent("T3", "deploy", 2, true),
				event.NewTaskEscalatedEvent("T3", 2, "blocking", "", nil),
				event.NewTaskEscalatedEvent("T1", 4, "attempt budget exhausted", "", nil),
			},
			want: []string{"T1", "T3"},
		},
		{
			name: "resumed then re-escalated",
			events: []event.Event{
				event.NewTaskEscalatedEvent("T3", 2, "blocking", "", nil),
				event.NewTaskDecisionEvent("T3", "resume", "use the staging host"),
				event.NewTaskEscalatedEvent("T3", 2, "blocking", "", nil),
			},
			want: []string{"T3"},
		},
		{
			name: "completed by a human",
			events: []event.Event{
				event.NewTaskEscalatedEvent("T3", 2, "blocking", "", nil),
				event.NewTaskDecisionEvent("T3", "complete", ""),
				event.NewTaskCompletedEvent("T3", 2, time.Second, true),
			},
		},
		{
			name: "skipped stays blocked",
			events: []event.Event{
				event.NewTaskEscalatedEvent("T3", 2, "blocking", "", nil),
				event.NewTaskDecisionEvent("T3", "skip", ""),
			},
			want: []string{"T3"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCollector(nil)
			for _, ev := range tt.events {
				c.Handle(ev)
			}
			s := c.Snapshot()
			if diff := cmp.Diff(tt.want, s.BlockedTasks); diff != "" {
				t.Errorf("BlockedTasks mismatch (-want +got):\n%s", diff)
			}
			if s.Blocked != int64(len(tt.want)) {
				t.Errorf("Blocked = %d, want %d", s.Blocked, len(tt.want))
			}
		})
	}
}

func TestCollector_BlockedSurvivesSnapshot(t *testing.T) {
	c := NewCollector(nil)
	c.Handle(event.NewTaskEscalatedEvent("T3", 2, "blocking", "", nil))

	next := NewCollectorFrom(c.Snapshot(), nil)
	next.Handle(event.NewTaskEscalatedEvent("T3", 2, "blocking", "", nil))
	if got := next.Snapshot().Blocked; got != 1 {
		t.Errorf("Blocked after a second escalation in a new run = %d, want 1", got)
	}
	next.Handle(event.NewTaskFailedEvent("T3", 2, time.Second, "timed out waiting"))
	if got := next.Snapshot().Blocked; got != 0 {
		t.Errorf("Blocked after failure = %d, want 0", got)
	}
}

func TestCollector_SnapshotIsCopy(t *testing.T) {
	c := NewCollector(nil)
	c.Handle(event.NewStepFinishedEvent("T1", 0, "", true, false, []string{"Read"}, 0, ""))

	s := c.Snapshot()
	s.Tools["Read"] = 100
	if c.Snapshot().Tools["Read"] != 1 {
		t.Error("mutating a snapshot changed the collector")
	}
}

func TestCollector_Detach(t *testing.T) {
	bus := event.NewBus(nil)
	c := NewCollector(nil)
	c.Attach(bus)
	c.Detach()
	bus.Publish(event.NewTaskStartedEvent("T1", "x", 1, false))

	if c.Snapshot().Attempted != 0 {
		t.Error("detached collector still received events")
	}
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount = %d, want 0", bus.SubscriptionCount())
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector(nil)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.Handle(event.NewTaskStartedEvent("T", "x", 1, false))
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()
	if got := c.Snapshot().Attempted; got != 800 {
		t.Errorf("Attempted = %d, want 800", got)
	}
}

func TestReport(t *testing.T) {
	c := NewCollector(nil)
	bus := event.NewBus(nil)
	c.Attach(bus)
	publishRun(bus)

	r := c.Report()
	if r.SuccessRate != 0.5 {
		t.Errorf("SuccessRate = %v, want 0.5", r.SuccessRate)
	}
	if r.RetryRate != 0.5 {
		t.Errorf("RetryRate = %v, want 0.5", r.RetryRate)
	}
	if diff := cmp.Diff([]Count{{"Bash", 2}, {"Edit", 1}}, r.TopTools); diff != "" {
		t.Errorf("TopTools mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(r.String(), "Success rate: 50.0%") {
		t.Errorf("String() = %q", r.String())
	}
}

func TestTop_LimitAndTies(t *testing.T) {
	m := map[string]int64{}
	for i, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		m[name] = int64(i % 2)
	}
	got := top(m, 3)
	want := []Count{{"b", 1}, {"d", 1}, {"f", 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("top() mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "telemetry.json")
	c := NewCollector(nil)
	c.Handle(event.NewTaskStartedEvent("T1", "x", 1, false))
	c.Handle(event.NewStepFinishedEvent("T1", 0, "", true, false, []string{"Edit"}, 0, ""))

	if err := c.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if diff := cmp.Diff(c.Snapshot(), loaded); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	resumed := NewCollectorFrom(loaded, nil)
	resumed.Handle(event.NewTaskStartedEvent("T2", "y", 1, false))
	if resumed.Snapshot().Attempted != 2 {
		t.Errorf("Attempted = %d, want counts to carry over", resumed.Snapshot().Attempted)
	}
}

func TestLoadSnapshot_Missing(t *testing.T) {
	_, err := LoadSnapshot(filepath.Join(t.TempDir(), "none.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("LoadSnapshot() error = %v, want fs.ErrNotExist", err)
	}
}
