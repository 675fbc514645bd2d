package orchestrator

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/autopilot/internal/event"
	"github.com/Iron-Ham/autopilot/internal/plan"
	"github.com/Iron-Ham/autopilot/internal/recovery"
	"github.com/Iron-Ham/autopilot/internal/task"
	"github.com/Iron-Ham/autopilot/internal/verify"
)

func TestParseReflection(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    *Reflection
		wantErr bool
	}{
		{
			name:   "plain object",
			output: `{"successes": ["parser works"], "failures": [], "lessons_learned": ["write tests first"], "suggestions": []}`,
			want:   &Reflection{Successes: []string{"parser works"}, LessonsLearned: []string{"write tests first"}},
		},
		{
			name:   "fenced with prose",
			output: "Here you go:\n```json\n{\"successes\": [\"done\"], \"suggestions\": [\"  add docs \"]}\n```",
			want:   &Reflection{Successes: []string{"done"}, Suggestions: []string{"add docs"}},
		},
		{
			name:   "last usable object wins",
			output: `{"note": "draft"} then {"failures": ["flaky test"]}`,
			want:   &Reflection{Failures: []string{"flaky test"}},
		},
		{
			name:   "braces inside strings",
			output: `{"successes": ["handled {curly} input"]}`,
			want:   &Reflection{Successes: []string{"handled {curly} input"}},
		},
		{name: "no json", output: "It went well.", wantErr: true},
		{name: "empty lists", output: `{"successes": [], "failures": [" "]}`, wantErr: true},
		{name: "wrong types", output: `{"successes": "yes"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReflection(tt.output)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseReflection() = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseReflection() error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReflection_Render(t *testing.T) {
	r := Reflection{Successes: []string{"a"}, Suggestions: []string{"b"}}
	want := "Reflection for task T1:\nWhat worked well:\n- a\nSuggestions:\n- b"
	if got := r.Render("T1"); got != want {
		t.Errorf("Render() =\n%s\nwant\n%s", got, want)
	}
}

func TestResolvedGap(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"acceptance_review: missing test coverage", "test coverage gap found and resolved"},
		{"Missing README", "readme gap found and resolved"},
		{"test_procedure: test procedure failed (exit 1): boom", "test procedure failed (exit 1): boom (resolved)"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := resolvedGap(tt.reason); got != tt.want {
			t.Errorf("resolvedGap(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}

func TestFallbackReflection(t *testing.T) {
	r := &run{
		taskID:       "T1",
		attempt:      3,
		plan:         &plan.ExecutionPlan{Steps: []plan.Step{{Title: "x"}}},
		verification: &verify.Verification{Passed: true},
	}
	records := []recovery.AttemptRecord{
		{Attempt: 1, Kind: recovery.KindTransient, Strategy: recovery.StrategySimpleRetry, Outcome: recovery.OutcomeFailed},
		{Attempt: 2, Kind: recovery.KindVerificationFailed, Strategy: recovery.StrategySimpleRetry, Outcome: recovery.OutcomeFailed,
			Detail: "acceptance_review: missing error handling; subtasks_complete: 1/2 subtasks incomplete: T1.2"},
		{Attempt: 3, Outcome: recovery.OutcomeSucceeded},
	}

	got := fallbackReflection(r, records)
	for _, want := range []string{
		"completed after 3 attempts",
		"attempt 1 failed (TRANSIENT), recovered with SIMPLE_RETRY",
		"error handling gap found and resolved",
		"1/2 subtasks incomplete: T1.2 (resolved)",
		"verification passed",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("fallback reflection missing %q:\n%s", want, got)
		}
	}

	first := fallbackReflection(&run{taskID: "T2", attempt: 1}, nil)
	if !strings.Contains(first, "completed on the first attempt") {
		t.Errorf("first-attempt reflection = %q", first)
	}
}

func TestStepInstruction(t *testing.T) {
	r := &run{
		taskID: "T1",
		task:   &task.Task{ID: "T1", Title: "Add login", AcceptanceCriteria: "users can log in"},
		hint:   recovery.AlternateHint,
	}
	step := plan.Step{Index: 1, SubtaskID: "T1.2", Title: "Wire handler", Description: "POST /login"}

	got, err := stepInstruction(r, step, 3)
	if err != nil {
		t.Fatalf("stepInstruction() error: %v", err)
	}
	for _, want := range []string{
		"Complete step 2/3 of task T1: Add login",
		"Note: " + recovery.AlternateHint,
		"Wire handler",
		"POST /login",
		"users can log in",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("instruction missing %q:\n%s", want, got)
		}
	}

	r.hint = ""
	got, _ = stepInstruction(r, step, 3)
	if strings.Contains(got, "Note:") {
		t.Errorf("instruction without hint should not carry a note:\n%s", got)
	}
}

func TestNotificationFor(t *testing.T) {
	tests := []struct {
		name   string
		ev     event.Event
		wantOK bool
		want   string
	}{
		{"phase", event.NewPhaseChangedEvent("T1", "PLAN", "EXECUTE", 2), true, "PLAN -> EXECUTE (attempt 2)"},
		{"recovery", event.NewRecoveryDecidedEvent("T1", 1, "TRANSIENT", "SIMPLE_RETRY", "first failure"), true, "Attempt 1 failed (TRANSIENT): SIMPLE_RETRY"},
		{"escalation", event.NewTaskEscalatedEvent("T1", 2, "blocking failure", "Attempt 1\nAttempt 2", nil), true, "Task T1 needs a decision: blocking failure"},
		{"completed manually", event.NewTaskCompletedEvent("T1", 2, time.Second, true), true, "Task T1 marked complete by a human"},
		{"failed step", event.NewStepFinishedEvent("T1", 0, "T1.1", false, false, nil, time.Second, "boom"), true, "Step 1 failed"},
		{"aborted step", event.NewStepFinishedEvent("T1", 2, "T1.3", false, true, nil, time.Second, ""), true, "Step 3 aborted"},
		{"successful step", event.NewStepFinishedEvent("T1", 0, "T1.1", true, false, nil, time.Second, ""), false, ""},
		{"checkpoint", event.NewCheckpointSavedEvent("T1", 3, "EXECUTE", 1), false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := notificationFor(tt.ev)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && n.Message != tt.want {
				t.Errorf("Message = %q, want %q", n.Message, tt.want)
			}
		})
	}
}

func TestForward_EscalationDetails(t *testing.T) {
	ch := &fakeChannel{}
	h := newHarness(t, []task.Task{{ID: "T1", Title: "x", Status: task.StatusPending}}, withChannel(ch))

	h.engine.Bus().Publish(event.NewTaskEscalatedEvent("T1", 4, "attempt budget exhausted (4/4)",
		"Attempt 1: a\nAttempt 2: b", []string{"acceptance_review: missing docs"}))

	notes := ch.notifications()
	if len(notes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notes))
	}
	n := notes[0]
	if n.Type != event.TypeTaskEscalated || n.TaskID != "T1" || n.Time.IsZero() {
		t.Errorf("notification header = %+v", n)
	}
	want := []string{
		"Attempt 1: a",
		"Attempt 2: b",
		"verifier: acceptance_review: missing docs",
		"reply with: resume [note] | skip | complete",
	}
	if diff := cmp.Diff(want, n.Details); diff != "" {
		t.Errorf("details mismatch (-want +got):\n%s", diff)
	}
}
