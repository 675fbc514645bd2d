package recovery

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestHistory_AppendAndCopy(t *testing.T) {
	h := NewHistory()
	h.Append("T1", rec(1, KindTransient, StrategySimpleRetry))
	h.Append("T1", rec(2, KindTransient, StrategyAlternateAgent))
	h.Append("T2", rec(1, KindCritical, StrategySimpleRetry))

	got := h.Records("T1")
	if len(got) != 2 {
		t.Fatalf("Records(T1) len = %d, want 2", len(got))
	}
	got[0].Detail = "mutated"
	if h.Records("T1")[0].Detail == "mutated" {
		t.Error("Records should return a copy")
	}

	h.Reset("T1")
	if h.Records("T1") != nil {
		t.Error("Reset should clear the task's records")
	}
	if len(h.Records("T2")) != 1 {
		t.Error("Reset should not touch other tasks")
	}
}

func TestHistory_Load(t *testing.T) {
	h := NewHistory()
	recs := []AttemptRecord{rec(1, KindTransient, StrategySimpleRetry)}
	h.Load("T1", recs)
	recs[0].Attempt = 9
	if h.Records("T1")[0].Attempt != 1 {
		t.Error("Load should copy its input")
	}
	h.Load("T1", nil)
	if h.Records("T1") != nil {
		t.Error("Load(nil) should clear")
	}
}

func TestHistory_Concurrent(t *testing.T) {
	h := NewHistory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h.Append("T", rec(n, KindCritical, StrategySimpleRetry))
			_ = h.Records("T")
		}(i)
	}
	wg.Wait()
	if n := len(h.Records("T")); n != 50 {
		t.Errorf("got %d records, want 50", n)
	}
}

func TestSummary(t *testing.T) {
	if got := Summary(nil); got != "no attempts recorded" {
		t.Errorf("Summary(nil) = %q", got)
	}

	ts := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	out := Summary([]AttemptRecord{
		{Attempt: 1, Kind: KindTransient, Strategy: StrategySimpleRetry, Outcome: OutcomeFailed, Detail: "timeout\nstack trace", Timestamp: ts},
		{Attempt: 2, Kind: KindBlocking, Strategy: StrategyEscalate, Outcome: OutcomeFailed, Timestamp: ts},
		{Outcome: OutcomeResumed, Detail: "token added", Timestamp: ts},
	})
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("Summary lines = %d, want 3:\n%s", len(lines), out)
	}
	if lines[0] != "Attempt 1 (2026-01-02T15:04:05Z): TRANSIENT -> SIMPLE_RETRY: timeout" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "Attempt 2 (2026-01-02T15:04:05Z): BLOCKING -> ESCALATE" {
		t.Errorf("line 1 = %q", lines[1])
	}
	if lines[2] != "Resumed (2026-01-02T15:04:05Z): token added" {
		t.Errorf("line 2 = %q", lines[2])
	}
}
