package verify

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/Iron-Ham/autopilot/internal/util"
)

// ErrUnparseableReview indicates review output carried no recognizable
// verdict.
var ErrUnparseableReview = errors.New("unparseable review")

// Review is a reviewer's verdict.
type Review struct {
	Passed  bool
	Reasons []string
}

// reviewJSON is the accepted schema. Passed is a pointer so a missing field
// is distinguishable from false.
type reviewJSON struct {
	Passed  *bool    `json:"passed"`
	Reasons []string `json:"reasons"`
	Reason  string   `json:"reason"`
}

var (
	legacyPassedRegex = regexp.MustCompile(`(?im)^\s*\**PASSED\**:\s*\**\s*(yes|no|true|false|pass|fail)\b`)
	legacyReasonRegex = regexp.MustCompile(`(?im)^\s*\**REASON\**:\s*(.+)$`)
	legacyIssuesRegex = regexp.MustCompile(`(?im)^\s*\**ISSUES\**:\s*(.+)$`)
)

// ParseReview extracts a verdict from reviewer output. It accepts a JSON
// object {"passed": bool, "reasons": [string]} anywhere in the output, or
// the line-oriented form:
//
//	PASSED: yes|no
//	REASON: one line
//	ISSUES: problems found, or "none"
func ParseReview(output string) (*Review, error) {
	for _, obj := range util.JSONObjects(output) {
		var raw reviewJSON
		if err := json.Unmarshal([]byte(obj), &raw); err != nil || raw.Passed == nil {
			continue
		}
		r := &Review{Passed: *raw.Passed}
		for _, reason := range raw.Reasons {
			if reason = strings.TrimSpace(reason); reason != "" {
				r.Reasons = append(r.Reasons, reason)
			}
		}
		if len(r.Reasons) == 0 && strings.TrimSpace(raw.Reason) != "" {
			r.Reasons = []string{strings.TrimSpace(raw.Reason)}
		}
		return r, nil
	}
	return parseLegacy(output)
}

func parseLegacy(output string) (*Review, error) {
	m := legacyPassedRegex.FindStringSubmatch(output)
	if m == nil {
		return nil, ErrUnparseableReview
	}
	verdict := strings.ToLower(m[1])
	r := &Review{Passed: verdict == "yes" || verdict == "true" || verdict == "pass"}

	if rm := legacyReasonRegex.FindStringSubmatch(output); rm != nil {
		r.Reasons = append(r.Reasons, strings.TrimSpace(rm[1]))
	}
	if im := legacyIssuesRegex.FindStringSubmatch(output); im != nil && !r.Passed {
		issues := strings.TrimSpace(im[1])
		if !strings.EqualFold(strings.Trim(issues, `".`), "none") {
			r.Reasons = append(r.Reasons, issues)
		}
	}
	return r, nil
}
