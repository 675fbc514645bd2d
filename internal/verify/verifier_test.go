package verify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/autopilot/internal/plan"
	"github.com/Iron-Ham/autopilot/internal/task"
	"github.com/Iron-Ham/autopilot/internal/worker"
)

// reviewer answers review prompts with review and test prompts with test.
type reviewer struct {
	review   *worker.Result
	test     *worker.Result
	err      error
	requests []worker.Request
}

func (r *reviewer) Invoke(ctx context.Context, req worker.Request) (*worker.Result, error) {
	r.requests = append(r.requests, req)
	if r.err != nil {
		return nil, r.err
	}
	if strings.HasPrefix(req.Instruction, "Run the test procedure") {
		return r.test, nil
	}
	return r.review, nil
}

func passing(output string) *worker.Result {
	return &worker.Result{Output: output, Success: true}
}

func doneTask() *task.Task {
	return &task.Task{
		ID:                 "T1",
		Title:              "Add parser",
		AcceptanceCriteria: "Parser handles empty input",
		Subtasks: []task.Subtask{
			{ID: "T1.1", Title: "write", Status: task.StatusDone},
			{ID: "T1.2", Title: "test", Status: task.StatusDone},
		},
	}
}

func TestVerifier_AllPass(t *testing.T) {
	agent := &reviewer{review: passing(`{"passed": true, "reasons": []}`)}
	v := NewVerifier(agent)

	got, err := v.Verify(context.Background(), doneTask(), nil)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	want := &Verification{
		Passed: true,
		Checks: []Check{
			{Name: CheckSubtasksComplete, Passed: true, Reason: "all 2 subtasks complete"},
			{Name: CheckAcceptanceReview, Passed: true, Reason: "acceptance criteria met"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Verify() mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(agent.requests[0].Instruction, "Parser handles empty input") {
		t.Error("review prompt should include the acceptance criteria")
	}
}

func TestVerifier_FailuresCollected(t *testing.T) {
	tk := doneTask()
	tk.Subtasks[1].Status = task.StatusInProgress
	tk.TestProcedure = "go test ./..."

	agent := &reviewer{
		review: passing(`{"passed": false, "reasons": ["missing test coverage"]}`),
		test:   &worker.Result{Success: false, ExitCode: 1, FailureDetail: "FAIL parser_test.go"},
	}
	p := plan.Build(tk, 1, nil)

	got, err := NewVerifier(agent).Verify(context.Background(), tk, p)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.Passed {
		t.Fatal("Passed = true, want false")
	}
	want := []string{
		"subtasks_complete: 1/2 subtasks incomplete: T1.2",
		"acceptance_review: missing test coverage",
		"test_procedure: test procedure failed (exit 1): FAIL parser_test.go",
	}
	if diff := cmp.Diff(want, got.Reasons()); diff != "" {
		t.Errorf("Reasons() mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(agent.requests[0].Instruction, "[T1.2]") {
		t.Error("review prompt should include the rendered plan")
	}
}

func TestVerifier_UnparseableReviewFails(t *testing.T) {
	agent := &reviewer{review: passing("Looks great, ship it")}

	got, err := NewVerifier(agent).Verify(context.Background(), doneTask(), nil)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.Passed {
		t.Error("Passed = true, want false for unparseable review")
	}
	if diff := cmp.Diff([]string{"acceptance_review: unparseable review"}, got.Reasons()); diff != "" {
		t.Errorf("Reasons() mismatch (-want +got):\n%s", diff)
	}
}

func TestVerifier_ReviewWorkerFailure(t *testing.T) {
	agent := &reviewer{review: &worker.Result{Success: false, FailureDetail: "rate limit"}}

	got, err := NewVerifier(agent).Verify(context.Background(), doneTask(), nil)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.Passed || !strings.Contains(got.Reasons()[0], "rate limit") {
		t.Errorf("got %+v, want failed review carrying the worker detail", got)
	}
}

func TestVerifier_NoSubtasks(t *testing.T) {
	tk := &task.Task{ID: "T2", Title: "one shot"}
	agent := &reviewer{review: passing("PASSED: yes\nREASON: done")}

	got, err := NewVerifier(agent).Verify(context.Background(), tk, nil)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !got.Passed {
		t.Errorf("Passed = false: %v", got.Reasons())
	}
	if got.Checks[0].Reason != "no subtasks" {
		t.Errorf("subtasks check reason = %q", got.Checks[0].Reason)
	}
}

func TestVerifier_ConfigDisablesChecks(t *testing.T) {
	agent := &reviewer{}
	v := NewVerifier(agent, WithConfig(Config{}))

	got, err := v.Verify(context.Background(), doneTask(), nil)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !got.Passed || len(got.Checks) != 1 || got.Checks[0].Name != CheckSkipped {
		t.Errorf("got %+v, want single skipped check", got)
	}
	if len(agent.requests) != 0 {
		t.Errorf("agent invoked %d times, want 0", len(agent.requests))
	}
}

func TestVerifier_UsesProfile(t *testing.T) {
	agent := &reviewer{review: passing(`{"passed": true}`)}
	v := NewVerifier(agent, WithConfig(Config{ReviewEnabled: true, Profile: "reviewer"}))

	if _, err := v.Verify(context.Background(), doneTask(), nil); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if agent.requests[0].Profile != "reviewer" {
		t.Errorf("Profile = %q, want reviewer", agent.requests[0].Profile)
	}
}

func TestVerifier_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	agent := &reviewer{err: context.Canceled}

	_, err := NewVerifier(agent).Verify(ctx, doneTask(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Verify() error = %v, want context.Canceled", err)
	}
}

func TestVerification_Summary(t *testing.T) {
	v := &Verification{Checks: []Check{
		{Name: CheckSubtasksComplete, Passed: true, Reason: "ok"},
		{Name: CheckAcceptanceReview, Passed: false, Reason: "missing docs"},
	}}
	v.finish()

	want := "Verification: 1/2 checks passed\n[PASS] subtasks_complete: ok\n[FAIL] acceptance_review: missing docs"
	if got := v.Summary(); got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
	if v.Passed {
		t.Error("Passed = true, want false")
	}

	var nilV *Verification
	if nilV.Summary() != "Verification: not run" || nilV.Reasons() != nil {
		t.Error("nil verification should be safe")
	}
	if !Skipped().Passed {
		t.Error("Skipped() should pass")
	}
}
