package worker

import (
	"strings"
	"testing"
)

func TestTranscript_DropsOldestByCount(t *testing.T) {
	tr := NewTranscript(3, 1000)
	for _, s := range []string{"one", "two", "three", "four"} {
		tr.Add("worker", s)
	}

	entries := tr.Entries()
	if len(entries) != 3 {
		t.Fatalf("Len = %d, want 3", len(entries))
	}
	if entries[0].Text != "two" || entries[2].Text != "four" {
		t.Errorf("entries = %+v, want two..four", entries)
	}
}

func TestTranscript_DropsOldestByChars(t *testing.T) {
	tr := NewTranscript(10, 10)
	tr.Add("worker", "aaaaa")
	tr.Add("worker", "bbbbb")
	tr.Add("worker", "cc")

	entries := tr.Entries()
	if len(entries) != 2 {
		t.Fatalf("Len = %d, want 2: %+v", len(entries), entries)
	}
	if entries[0].Text != "bbbbb" {
		t.Errorf("oldest kept = %q, want bbbbb", entries[0].Text)
	}
}

func TestTranscript_OversizedEntryKeepsTail(t *testing.T) {
	tr := NewTranscript(5, 20)
	tr.Add("worker", strings.Repeat("x", 50)+"END")

	entries := tr.Entries()
	if len(entries) != 1 {
		t.Fatalf("Len = %d, want 1", len(entries))
	}
	if !strings.HasSuffix(entries[0].Text, "END") {
		t.Errorf("text = %q, want tail kept", entries[0].Text)
	}
	if len(entries[0].Text) > 20 {
		t.Errorf("len = %d, want <= 20", len(entries[0].Text))
	}
}

func TestTranscript_IgnoresBlank(t *testing.T) {
	tr := NewTranscript(0, 0)
	tr.Add("worker", "   \n")
	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0", tr.Len())
	}
}

func TestTranscript_RenderAndReset(t *testing.T) {
	tr := NewTranscript(0, 0)
	tr.Add("instruction", "do it")
	tr.Add("worker", "done")

	want := "[instruction]\ndo it\n\n[worker]\ndone"
	if got := tr.Render(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}

	tr.Reset()
	if tr.Render() != "" || tr.Len() != 0 {
		t.Error("Reset should clear the transcript")
	}
}

func TestTranscript_NilIsEmpty(t *testing.T) {
	var tr *Transcript
	if tr.Render() != "" || tr.Len() != 0 || tr.Entries() != nil {
		t.Error("nil transcript should render empty")
	}
	tr.Reset()
}

func TestPrompt(t *testing.T) {
	if got := Prompt(Request{Instruction: "fix it"}); got != "fix it" {
		t.Errorf("Prompt without transcript = %q", got)
	}

	tr := NewTranscript(0, 0)
	tr.Add("worker", "earlier output")
	got := Prompt(Request{Instruction: "fix it", Transcript: tr})
	if !strings.Contains(got, "earlier output") || !strings.HasSuffix(got, "fix it") {
		t.Errorf("Prompt = %q, want transcript then instruction", got)
	}
}
