// Package telemetry aggregates counts and durations across orchestration
// runs. The Collector is a read-only consumer of bus events; it never
// touches orchestration state.
package telemetry

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/autopilot/internal/channel"
	"github.com/Iron-Ham/autopilot/internal/event"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/recovery"
)

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	Attempted int64 `json:"attempted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Blocked   int64 `json:"blocked"` // tasks currently waiting on a decision
	Cancelled int64 `json:"cancelled"`
	Retries   int64 `json:"retries"`

	Steps        int64 `json:"steps"`
	StepFailures int64 `json:"step_failures"`

	Tools      map[string]int64 `json:"tools"`
	ErrorKinds map[string]int64 `json:"error_kinds"`
	Strategies map[string]int64 `json:"strategies"`

	// BlockedTasks are the IDs behind Blocked, sorted.
	BlockedTasks []string `json:"blocked_tasks,omitempty"`

	// MeanDuration is the streaming mean over DurationSamples finished tasks.
	MeanDuration    time.Duration `json:"mean_duration"`
	DurationSamples int64         `json:"duration_samples"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (s Snapshot) clone() Snapshot {
	s.Tools = maps.Clone(s.Tools)
	s.ErrorKinds = maps.Clone(s.ErrorKinds)
	s.Strategies = maps.Clone(s.Strategies)
	s.BlockedTasks = slices.Clone(s.BlockedTasks)
	if s.Tools == nil {
		s.Tools = make(map[string]int64)
	}
	if s.ErrorKinds == nil {
		s.ErrorKinds = make(map[string]int64)
	}
	if s.Strategies == nil {
		s.Strategies = make(map[string]int64)
	}
	return s
}

// Collector accumulates metrics from orchestration events.
type Collector struct {
	mu     sync.Mutex
	snap   Snapshot
	bus    *event.Bus
	subID  string
	logger *logging.Logger
}

// NewCollector creates an empty collector.
func NewCollector(logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Collector{snap: Snapshot{}.clone(), logger: logger}
}

// NewCollectorFrom creates a collector that continues from a saved
// snapshot, so counts accumulate across runs.
func NewCollectorFrom(s Snapshot, logger *logging.Logger) *Collector {
	c := NewCollector(logger)
	c.snap = s.clone()
	return c
}

// Attach subscribes the collector to every event on bus. Calling Attach
// again moves the subscription.
func (c *Collector) Attach(bus *event.Bus) {
	c.Detach()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bus = bus
	c.subID = bus.SubscribeAll(c.Handle)
}

// Detach removes the collector's bus subscription.
func (c *Collector) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus != nil {
		c.bus.Unsubscribe(c.subID)
		c.bus = nil
		c.subID = ""
	}
}

// Handle folds one event into the metrics.
func (c *Collector) Handle(e event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev := e.(type) {
	case event.TaskStartedEvent:
		if !ev.Resumed {
			c.snap.Attempted++
		}
	case event.TaskCompletedEvent:
		c.snap.Completed++
		c.observeDuration(ev.Duration)
		c.unblock(ev.TaskID)
	case event.TaskFailedEvent:
		c.snap.Failed++
		c.observeDuration(ev.Duration)
		c.unblock(ev.TaskID)
	case event.TaskEscalatedEvent:
		c.block(ev.TaskID)
	case event.TaskDecisionEvent:
		if ev.Decision == string(channel.DecisionResume) {
			c.unblock(ev.TaskID)
		}
	case event.TaskCancelledEvent:
		c.snap.Cancelled++
	case event.StepFinishedEvent:
		c.snap.Steps++
		if !ev.Success && !ev.Aborted {
			c.snap.StepFailures++
		}
		for _, tool := range ev.Tools {
			c.snap.Tools[tool]++
		}
	case event.RecoveryDecidedEvent:
		if ev.Kind != "" {
			c.snap.ErrorKinds[ev.Kind]++
		}
		c.snap.Strategies[ev.Strategy]++
		if ev.Strategy != string(recovery.StrategyEscalate) {
			c.snap.Retries++
		}
	case event.PersistenceWarningEvent:
		c.snap.ErrorKinds[string(recovery.KindPersistenceWarning)]++
	default:
		return
	}
	c.snap.UpdatedAt = e.Timestamp()
}

// block counts a task as blocked once, however often it escalates.
func (c *Collector) block(taskID string) {
	i, found := slices.BinarySearch(c.snap.BlockedTasks, taskID)
	if !found {
		c.snap.BlockedTasks = slices.Insert(c.snap.BlockedTasks, i, taskID)
	}
	c.snap.Blocked = int64(len(c.snap.BlockedTasks))
}

func (c *Collector) unblock(taskID string) {
	if i, found := slices.BinarySearch(c.snap.BlockedTasks, taskID); found {
		c.snap.BlockedTasks = slices.Delete(c.snap.BlockedTasks, i, i+1)
	}
	c.snap.Blocked = int64(len(c.snap.BlockedTasks))
}

func (c *Collector) observeDuration(d time.Duration) {
	c.snap.DurationSamples++
	c.snap.MeanDuration += (d - c.snap.MeanDuration) / time.Duration(c.snap.DurationSamples)
}

// Snapshot returns a copy of the current metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.clone()
}

// Reset clears all metrics.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = Snapshot{}.clone()
}
