package verify

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseReview(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    *Review
		wantErr bool
	}{
		{
			name:   "json pass",
			output: `{"passed": true, "reasons": ["all criteria met"]}`,
			want:   &Review{Passed: true, Reasons: []string{"all criteria met"}},
		},
		{
			name:   "json fail embedded in prose",
			output: "I checked the repo.\n```json\n{\"passed\": false, \"reasons\": [\"missing test coverage\", \" \"]}\n```\n",
			want:   &Review{Passed: false, Reasons: []string{"missing test coverage"}},
		},
		{
			name:   "json single reason field",
			output: `{"passed": false, "reason": "no README"}`,
			want:   &Review{Passed: false, Reasons: []string{"no README"}},
		},
		{
			name:   "braces inside strings",
			output: `{"passed": false, "reasons": ["func f() {} is empty"]}`,
			want:   &Review{Passed: false, Reasons: []string{"func f() {} is empty"}},
		},
		{
			name:   "skips objects without a verdict",
			output: `{"note": "x"} then {"passed": true}`,
			want:   &Review{Passed: true},
		},
		{
			name:   "legacy pass",
			output: "PASSED: yes\nREASON: implementation matches\nISSUES: none",
			want:   &Review{Passed: true, Reasons: []string{"implementation matches"}},
		},
		{
			name:   "legacy fail with issues",
			output: "passed: no\nreason: tests missing\nissues: no tests for parser",
			want:   &Review{Passed: false, Reasons: []string{"tests missing", "no tests for parser"}},
		},
		{
			name:   "legacy markdown bold",
			output: "**PASSED**: no\n**REASON**: broken build",
			want:   &Review{Passed: false, Reasons: []string{"broken build"}},
		},
		{
			name:    "wrong type for passed",
			output:  `{"passed": "yes"}`,
			wantErr: true,
		},
		{
			name:    "prose only",
			output:  "Looks good to me!",
			wantErr: true,
		},
		{
			name:    "empty",
			output:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReview(tt.output)
			if tt.wantErr {
				if !errors.Is(err, ErrUnparseableReview) {
					t.Fatalf("ParseReview() error = %v, want ErrUnparseableReview", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseReview() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseReview() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
