// Package plan builds the execution plan for one attempt at a task and
// parses the subtask lists a worker proposes during decomposition.
package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/autopilot/internal/task"
)

// Step is one unit of an ExecutionPlan. SubtaskID is empty for steps that
// do not target a subtask, such as a remediation step or the single step of
// an undecomposed task.
type Step struct {
	Index       int    `json:"index"`
	SubtaskID   string `json:"subtask_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ExecutionPlan is the ordered list of steps for one attempt.
type ExecutionPlan struct {
	TaskID    string    `json:"task_id"`
	Attempt   int       `json:"attempt"`
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

// RemediationTitle is the title of the step appended after a failed
// verification.
const RemediationTitle = "Address verification feedback"

// Build plans one step per open leaf subtask, in stored order. When
// remediation reasons are given a trailing step addresses them.
func Build(t *task.Task, attempt int, remediation []string) *ExecutionPlan {
	p := &ExecutionPlan{TaskID: t.ID, Attempt: attempt, CreatedAt: time.Now().UTC()}
	for _, sub := range t.OpenLeaves() {
		p.add(Step{SubtaskID: sub.ID, Title: sub.Title, Description: sub.Description})
	}
	p.addRemediation(remediation)
	return p
}

// Whole plans a single step covering the entire task, for runs with
// decomposition disabled.
func Whole(t *task.Task, attempt int, remediation []string) *ExecutionPlan {
	p := &ExecutionPlan{TaskID: t.ID, Attempt: attempt, CreatedAt: time.Now().UTC()}
	p.add(Step{Title: t.Title, Description: t.Description})
	p.addRemediation(remediation)
	return p
}

func (p *ExecutionPlan) add(s Step) {
	s.Index = len(p.Steps)
	p.Steps = append(p.Steps, s)
}

func (p *ExecutionPlan) addRemediation(reasons []string) {
	if len(reasons) == 0 {
		return
	}
	var sb strings.Builder
	sb.WriteString("The previous attempt failed verification. Fix the following:")
	for _, r := range reasons {
		sb.WriteString("\n- " + r)
	}
	p.add(Step{Title: RemediationTitle, Description: sb.String()})
}

// Len returns the number of steps.
func (p *ExecutionPlan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Steps)
}

// Render formats the plan as numbered text for the audit log.
func (p *ExecutionPlan) Render() string {
	if p == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan for task %s (attempt %d):", p.TaskID, p.Attempt)
	for _, s := range p.Steps {
		fmt.Fprintf(&sb, "\n%d. ", s.Index+1)
		if s.SubtaskID != "" {
			fmt.Fprintf(&sb, "[%s] ", s.SubtaskID)
		}
		sb.WriteString(s.Title)
		if s.Description != "" && s.Title != RemediationTitle {
			sb.WriteString(": " + firstLine(s.Description))
		}
	}
	return sb.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
