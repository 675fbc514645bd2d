// Package internal contains integration tests that run the engine over the
// real stores: a YAML task file, the SQLite checkpoint backend, the file
// channel and the telemetry collector listening on the engine's bus.
package internal

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/autopilot/internal/channel"
	"github.com/Iron-Ham/autopilot/internal/checkpoint"
	apierrors "github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/orchestrator"
	"github.com/Iron-Ham/autopilot/internal/task"
	"github.com/Iron-Ham/autopilot/internal/telemetry"
	"github.com/Iron-Ham/autopilot/internal/testutil"
)

// stack is one "process": an engine and the stores it was built over.
type stack struct {
	engine      *orchestrator.Engine
	checkpoints *checkpoint.SQLiteStore
	collector   *telemetry.Collector
}

func openStack(t *testing.T, dir string, tasks task.Store, agent *testutil.ScriptedAgent, snap telemetry.Snapshot) *stack {
	t.Helper()

	cps, err := checkpoint.NewSQLiteStore(filepath.Join(dir, "checkpoints.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	ch := channel.NewFileChannel(filepath.Join(dir, "outbox.jsonl"), filepath.Join(dir, "inbox"))

	cfg := orchestrator.DefaultConfig()
	cfg.PersistenceBackoff = 0
	engine, err := orchestrator.New(orchestrator.Deps{
		Tasks:       tasks,
		Agent:       agent,
		Checkpoints: cps,
		Channel:     ch,
	}, cfg)
	if err != nil {
		_ = cps.Close()
		t.Fatalf("orchestrator.New() error: %v", err)
	}

	s := &stack{engine: engine, checkpoints: cps, collector: telemetry.NewCollectorFrom(snap, nil)}
	s.collector.Attach(engine.Bus())
	return s
}

func (s *stack) close() {
	s.collector.Detach()
	s.engine.Close()
	_ = s.checkpoints.Close()
}

func outboxMessages(t *testing.T, dir string) string {
	t.Helper()
	notes, err := channel.ReadOutbox(filepath.Join(dir, "outbox.jsonl"))
	if err != nil {
		t.Fatalf("ReadOutbox() error: %v", err)
	}
	var sb strings.Builder
	for _, n := range notes {
		sb.WriteString(n.Message + "\n")
	}
	return sb.String()
}

// TestIntegration_RestoreAfterRestart cancels a task mid-step, tears the
// whole stack down, and restores the task in a fresh stack over the same
// files.
func TestIntegration_RestoreAfterRestart(t *testing.T) {
	dir := t.TempDir()
	tasks := testutil.NewTaskStore(t, testutil.PendingTask("T4", "Migrate", "s1", "s2", "s3", "s4", "s5"))

	firstAgent := testutil.NewScriptedAgent()
	started := make(chan struct{})
	firstAgent.On(testutil.PromptStep,
		testutil.Succeed("one"),
		testutil.Succeed("two"),
		testutil.Succeed("three"),
		testutil.WaitForCancel(started),
	)
	first := openStack(t, dir, tasks, firstAgent, telemetry.Snapshot{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-started
		first.engine.Cancel()
	}()
	out, err := first.engine.Submit(t.Context(), "T4")
	<-done
	if !errors.Is(err, apierrors.ErrCancelled) || out == nil || !out.Cancelled {
		t.Fatalf("Submit() = %+v, %v; want a cancelled outcome", out, err)
	}
	snap := first.collector.Snapshot()
	first.close()

	secondAgent := testutil.NewScriptedAgent()
	second := openStack(t, dir, tasks, secondAgent, snap)
	defer second.close()

	state, err := second.engine.LoadResumeState(t.Context(), "T4")
	if err != nil {
		t.Fatalf("LoadResumeState() error: %v", err)
	}
	if state.Phase != orchestrator.PhaseExecute || state.StepIndex != 3 {
		t.Errorf("resume state = %s step %d, want EXECUTE step 3", state.Phase, state.StepIndex)
	}

	out, err = second.engine.Restore(t.Context(), "T4")
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if out.Status != task.StatusDone {
		t.Errorf("restored outcome status = %s, want done", out.Status)
	}
	if n := len(secondAgent.Calls(testutil.PromptStep)); n != 2 {
		t.Errorf("restored run executed %d steps, want 2", n)
	}

	ids, err := second.checkpoints.Tasks(t.Context())
	if err != nil {
		t.Fatalf("Tasks() error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("checkpoints left after completion: %v", ids)
	}

	got := second.collector.Snapshot()
	if got.Attempted != 1 || got.Cancelled != 1 || got.Completed != 1 {
		t.Errorf("telemetry = attempted %d cancelled %d completed %d, want 1/1/1",
			got.Attempted, got.Cancelled, got.Completed)
	}

	messages := outboxMessages(t, dir)
	for _, want := range []string{"Task T4 started", "Step 4 aborted", "Task T4 resumed"} {
		if !strings.Contains(messages, want) {
			t.Errorf("outbox missing %q:\n%s", want, messages)
		}
	}
}

// TestIntegration_EscalationAnsweredThroughInbox escalates a blocking
// failure and answers it with a decision file.
func TestIntegration_EscalationAnsweredThroughInbox(t *testing.T) {
	dir := t.TempDir()
	tasks := testutil.NewTaskStore(t, testutil.PendingTask("T3", "Deploy", "Push config"))

	agent := testutil.NewScriptedAgent()
	agent.On(testutil.PromptStep,
		testutil.Fail("upstream returned 503"),
		testutil.Fail("permission denied writing /etc/app.conf"),
	)
	s := openStack(t, dir, tasks, agent, telemetry.Snapshot{})
	defer s.close()

	if err := channel.WriteDecision(filepath.Join(dir, "inbox"), "T3", channel.Decision{Kind: channel.DecisionComplete}); err != nil {
		t.Fatalf("WriteDecision() error: %v", err)
	}

	out, err := s.engine.Submit(t.Context(), "T3")
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if out.Status != task.StatusDone || out.Decision == nil || out.Decision.Kind != channel.DecisionComplete {
		t.Errorf("outcome = %+v, want done by a complete decision", out)
	}
	if got := testutil.MustGet(t, tasks, "T3"); got.Status != task.StatusDone {
		t.Errorf("task status = %s, want done", got.Status)
	}

	snap := s.collector.Snapshot()
	if snap.Blocked != 0 || snap.Completed != 1 {
		t.Errorf("telemetry = blocked %d completed %d, want 0/1", snap.Blocked, snap.Completed)
	}
	if snap.ErrorKinds["BLOCKING"] != 1 || snap.ErrorKinds["TRANSIENT"] != 1 {
		t.Errorf("error kinds = %v", snap.ErrorKinds)
	}

	messages := outboxMessages(t, dir)
	for _, want := range []string{"Task T3 needs a decision", "Task T3 marked complete by a human"} {
		if !strings.Contains(messages, want) {
			t.Errorf("outbox missing %q:\n%s", want, messages)
		}
	}
}
