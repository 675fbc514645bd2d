package channel

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	apierrors "github.com/Iron-Ham/autopilot/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in      string
		want    Decision
		wantErr bool
	}{
		{in: "resume", want: Decision{Kind: DecisionResume}},
		{in: "  SKIP  \n", want: Decision{Kind: DecisionSkip}},
		{in: "complete fixed it by hand", want: Decision{Kind: DecisionComplete, Note: "fixed it by hand"}},
		{in: "complete_manually", want: Decision{Kind: DecisionComplete}},
		{in: "resume\ngranted write access", want: Decision{Kind: DecisionResume, Note: "granted write access"}},
		{in: "abort", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDecision(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDecision(%q) = %+v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDecision(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseDecision(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFileChannel_Notify(t *testing.T) {
	dir := t.TempDir()
	outbox := filepath.Join(dir, "state", "outbox.jsonl")
	var echo bytes.Buffer
	c := NewFileChannel(outbox, filepath.Join(dir, "inbox"), WithEcho(&echo))

	first := Notification{TaskID: "T1", Type: "phase.changed", Message: "T1 entered PLAN"}
	second := Notification{TaskID: "T1", Type: "task.escalated", Message: "T1 needs a decision", Details: []string{"Attempt 1: TRANSIENT"}}
	for _, n := range []Notification{first, second} {
		if err := c.Notify(context.Background(), n); err != nil {
			t.Fatalf("Notify() error = %v", err)
		}
	}

	got, err := ReadOutbox(outbox)
	if err != nil {
		t.Fatalf("ReadOutbox() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("outbox has %d notifications, want 2", len(got))
	}
	if got[0].Time.IsZero() {
		t.Error("Notify should stamp the time")
	}
	if diff := cmp.Diff(second.Details, got[1].Details); diff != "" {
		t.Errorf("Details mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(echo.String(), "[T1] T1 needs a decision\n    Attempt 1: TRANSIENT") {
		t.Errorf("echo = %q", echo.String())
	}
}

func TestFileChannel_AwaitExistingDecision(t *testing.T) {
	inbox := t.TempDir()
	if err := WriteDecision(inbox, "T1", Decision{Kind: DecisionSkip, Note: "later"}); err != nil {
		t.Fatalf("WriteDecision() error = %v", err)
	}

	c := NewFileChannel("", inbox)
	got, err := c.AwaitDecision(context.Background(), "T1")
	if err != nil {
		t.Fatalf("AwaitDecision() error = %v", err)
	}
	if got != (Decision{Kind: DecisionSkip, Note: "later"}) {
		t.Errorf("decision = %+v", got)
	}

	if _, err := os.Stat(DecisionPath(inbox, "T1") + ConsumedSuffix); err != nil {
		t.Errorf("decision file should be consumed: %v", err)
	}
	if _, err := os.Stat(DecisionPath(inbox, "T1")); !errors.Is(err, os.ErrNotExist) {
		t.Error("decision file should no longer be pending")
	}
}

func TestFileChannel_AwaitWatchesForDecision(t *testing.T) {
	inbox := t.TempDir()
	c := NewFileChannel("", inbox)

	errCh := make(chan error, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		errCh <- WriteDecision(inbox, "T1", Decision{Kind: DecisionResume})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := c.AwaitDecision(ctx, "T1")
	if err != nil {
		t.Fatalf("AwaitDecision() error = %v", err)
	}
	if got.Kind != DecisionResume {
		t.Errorf("Kind = %s, want resume", got.Kind)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteDecision() error = %v", err)
	}
}

func TestFileChannel_IgnoresOtherTasksAndRejectsInvalid(t *testing.T) {
	inbox := t.TempDir()
	c := NewFileChannel("", inbox, WithPollInterval(50*time.Millisecond))

	if err := WriteDecision(inbox, "T2", Decision{Kind: DecisionResume}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(DecisionPath(inbox, "T1"), []byte("maybe\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = WriteDecision(inbox, "T1", Decision{Kind: DecisionComplete})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := c.AwaitDecision(ctx, "T1")
	if err != nil {
		t.Fatalf("AwaitDecision() error = %v", err)
	}
	if got.Kind != DecisionComplete {
		t.Errorf("Kind = %s, want complete", got.Kind)
	}
	if _, err := os.Stat(DecisionPath(inbox, "T1") + RejectedSuffix); err != nil {
		t.Errorf("invalid decision should be rejected: %v", err)
	}
	if _, err := os.Stat(DecisionPath(inbox, "T2")); err != nil {
		t.Errorf("other task's decision should be untouched: %v", err)
	}
}

func TestFileChannel_AwaitCancelled(t *testing.T) {
	c := NewFileChannel("", t.TempDir())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.AwaitDecision(ctx, "T1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AwaitDecision() error = %v, want deadline exceeded", err)
	}
}

func TestNop(t *testing.T) {
	var c Channel = Nop{}
	if err := c.Notify(context.Background(), Notification{Message: "x"}); err != nil {
		t.Errorf("Notify() error = %v", err)
	}
	if _, err := c.AwaitDecision(context.Background(), "T1"); !errors.Is(err, apierrors.ErrNoDecision) {
		t.Errorf("AwaitDecision() error = %v, want ErrNoDecision", err)
	}
}

func TestDecisionPath_Sanitizes(t *testing.T) {
	got := DecisionPath("/inbox", "../etc/x")
	if filepath.Dir(got) != "/inbox" {
		t.Errorf("DecisionPath escaped inbox: %s", got)
	}
}
