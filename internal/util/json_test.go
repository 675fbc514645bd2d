package util

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestJSONObjects(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "nested object with prose",
			input: `a {"x": {"y": 1}} b`,
			want:  []string{`{"x": {"y": 1}}`},
		},
		{
			name:  "stray closing brace",
			input: `} {"s": "}"}`,
			want:  []string{`{"s": "}"}`},
		},
		{
			name:  "escaped quote inside string",
			input: `{"s": "a \"{\" b"} {"t": 2}`,
			want:  []string{`{"s": "a \"{\" b"}`, `{"t": 2}`},
		},
		{
			name:  "code fence",
			input: "```json\n{\"passed\": true}\n```",
			want:  []string{`{"passed": true}`},
		},
		{
			name:  "unterminated",
			input: `{"x": 1`,
		},
		{
			name:  "no braces",
			input: "plain text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, JSONObjects(tt.input)); diff != "" {
				t.Errorf("JSONObjects() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
