package util

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"long string truncated", "hello world", 8, "hello..."},
		{"tiny maxLen returns ellipsis", "hello", 3, "..."},
		{"multibyte runes counted once", "héllo wörld", 8, "héllo..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateString(tt.input, tt.maxLen); got != tt.expected {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}
}

func TestTailString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short string unchanged", "error", 10, "error"},
		{"keeps the end", "lots of output then: permission denied", 20, "...permission denied"},
		{"tiny maxLen returns ellipsis", "hello", 2, "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TailString(tt.input, tt.maxLen); got != tt.expected {
				t.Errorf("TailString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}

	if got := TailString("0123456789", 6); got != "...789" {
		t.Errorf("TailString() = %q, want %q", got, "...789")
	}
}

func TestTruncateANSI(t *testing.T) {
	styled := lipgloss.NewStyle().Bold(true).Render("hello world")

	if got := TruncateANSI(styled, 20); got != styled {
		t.Errorf("short styled string should be unchanged")
	}
	got := TruncateANSI(styled, 8)
	if w := lipgloss.Width(got); w > 8 {
		t.Errorf("visual width = %d, want <= 8", w)
	}
	if TruncateANSI("abc", 2) != "..." {
		t.Error("tiny width should return ellipsis")
	}
}

func TestFirstLine(t *testing.T) {
	if got := FirstLine("\n  \n  first line  \nsecond"); got != "first line" {
		t.Errorf("FirstLine() = %q", got)
	}
	if got := FirstLine(""); got != "" {
		t.Errorf("FirstLine(\"\") = %q", got)
	}
}
