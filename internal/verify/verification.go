// Package verify decides whether a finished attempt satisfies its task.
//
// Verification runs a fixed, ordered set of checks and passes only when all
// of them pass:
//   - subtasks_complete: every subtask of the task is done
//   - acceptance_review: a worker reviews the work against the acceptance
//     criteria and answers with a pass/fail verdict and reasons
//   - test_procedure: the task's declared test procedure is run through the
//     worker and its exit signal recorded (only when the task declares one)
//
// Review output from a worker is untrusted. Anything that does not parse
// into a verdict fails the check.
package verify

import (
	"fmt"
	"strings"
)

// Check names, in the order they run.
const (
	CheckSubtasksComplete = "subtasks_complete"
	CheckAcceptanceReview = "acceptance_review"
	CheckTestProcedure    = "test_procedure"
	// CheckSkipped is the single check recorded when verification is disabled.
	CheckSkipped = "verification_skipped"
)

// Check is the result of one named check.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// Verification is the result of one verify phase.
type Verification struct {
	Passed bool    `json:"passed"`
	Checks []Check `json:"checks"`
}

// Skipped returns a passing Verification for runs with verification
// disabled.
func Skipped() *Verification {
	return &Verification{
		Passed: true,
		Checks: []Check{{Name: CheckSkipped, Passed: true, Reason: "verification disabled"}},
	}
}

func (v *Verification) add(c Check) {
	v.Checks = append(v.Checks, c)
}

func (v *Verification) finish() *Verification {
	v.Passed = len(v.Checks) > 0
	for _, c := range v.Checks {
		if !c.Passed {
			v.Passed = false
			break
		}
	}
	return v
}

// Reasons returns "name: reason" for every failing check.
func (v *Verification) Reasons() []string {
	if v == nil {
		return nil
	}
	var out []string
	for _, c := range v.Checks {
		if !c.Passed {
			out = append(out, c.Name+": "+c.Reason)
		}
	}
	return out
}

// Failed returns the names of the failing checks.
func (v *Verification) Failed() []string {
	if v == nil {
		return nil
	}
	var out []string
	for _, c := range v.Checks {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

// Summary renders the verification for the audit log and channel.
func (v *Verification) Summary() string {
	if v == nil {
		return "Verification: not run"
	}
	passed := 0
	for _, c := range v.Checks {
		if c.Passed {
			passed++
		}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Verification: %d/%d checks passed", passed, len(v.Checks))
	for _, c := range v.Checks {
		mark := "PASS"
		if !c.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(&sb, "\n[%s] %s: %s", mark, c.Name, c.Reason)
	}
	return sb.String()
}
