package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/plan"
	"github.com/Iron-Ham/autopilot/internal/recovery"
	"github.com/Iron-Ham/autopilot/internal/util"
)

// StepPrompt is the instruction given to the worker for one plan step.
const StepPrompt = `Complete step {{.Label}} of task {{.TaskID}}: {{.TaskTitle}}
{{- if .Hint}}

Note: {{.Hint}}
{{- end}}

## Step
{{.Title}}
{{- if .Description}}

{{.Description}}
{{- end}}
{{- if .AcceptanceCriteria}}

## Acceptance criteria for the whole task
{{.AcceptanceCriteria}}
{{- end}}

Work only on this step. When you are done, summarize what you changed. If you cannot finish,
explain what blocked you.`

// ReflectionPrompt asks the worker to reflect on a finished attempt.
const ReflectionPrompt = `Reflect on the work just completed for task {{.TaskID}}: {{.TaskTitle}}

It took {{.Attempts}} attempt(s). Attempt history:
{{.History}}
{{- if .Verification}}

{{.Verification}}
{{- end}}

Respond with only a JSON object of this shape:
{"successes": ["..."], "failures": ["..."], "lessons_learned": ["..."], "suggestions": ["..."]}`

var (
	stepTmpl       = template.Must(template.New("step").Parse(StepPrompt))
	reflectionTmpl = template.Must(template.New("reflection").Parse(ReflectionPrompt))
)

type stepData struct {
	Label              string
	TaskID             string
	TaskTitle          string
	Hint               string
	Title              string
	Description        string
	AcceptanceCriteria string
}

func stepLabel(step plan.Step, total int) string {
	return fmt.Sprintf("%d/%d", step.Index+1, total)
}

func stepInstruction(r *run, step plan.Step, total int) (string, error) {
	data := stepData{
		Label:              stepLabel(step, total),
		TaskID:             r.taskID,
		TaskTitle:          r.task.Title,
		Hint:               r.hint,
		Title:              step.Title,
		Description:        step.Description,
		AcceptanceCriteria: r.task.AcceptanceCriteria,
	}
	var sb strings.Builder
	if err := stepTmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render step prompt: %w", err)
	}
	return sb.String(), nil
}

func reflectionPrompt(r *run, history string) (string, error) {
	data := struct {
		TaskID       string
		TaskTitle    string
		Attempts     int
		History      string
		Verification string
	}{
		TaskID:    r.taskID,
		TaskTitle: r.task.Title,
		Attempts:  r.attempt,
		History:   history,
	}
	if r.verification != nil {
		data.Verification = r.verification.Summary()
	}
	var sb strings.Builder
	if err := reflectionTmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render reflection prompt: %w", err)
	}
	return sb.String(), nil
}

// ErrUnparseableReflection is returned when the worker's reflection holds
// no usable JSON object.
var ErrUnparseableReflection = errors.New("unparseable reflection")

// Reflection is the worker's structured account of a finished attempt.
type Reflection struct {
	Successes      []string `json:"successes"`
	Failures       []string `json:"failures"`
	LessonsLearned []string `json:"lessons_learned"`
	Suggestions    []string `json:"suggestions"`
}

func (r Reflection) empty() bool {
	return len(r.Successes) == 0 && len(r.Failures) == 0 &&
		len(r.LessonsLearned) == 0 && len(r.Suggestions) == 0
}

// ParseReflection extracts the last JSON object in output that decodes to a
// non-empty Reflection. Prose and code fences around it are ignored.
func ParseReflection(output string) (*Reflection, error) {
	candidates := util.JSONObjects(output)
	for i := len(candidates) - 1; i >= 0; i-- {
		var refl Reflection
		if err := json.Unmarshal([]byte(candidates[i]), &refl); err != nil {
			continue
		}
		refl.Successes = clean(refl.Successes)
		refl.Failures = clean(refl.Failures)
		refl.LessonsLearned = clean(refl.LessonsLearned)
		refl.Suggestions = clean(refl.Suggestions)
		if !refl.empty() {
			return &refl, nil
		}
	}
	return nil, ErrUnparseableReflection
}

// Render formats the reflection for the audit log.
func (r Reflection) Render(taskID string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Reflection for task %s:", taskID)
	section(&sb, "What worked well", r.Successes)
	section(&sb, "Challenges", r.Failures)
	section(&sb, "Lessons learned", r.LessonsLearned)
	section(&sb, "Suggestions", r.Suggestions)
	return sb.String()
}

func section(sb *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString("\n" + heading + ":")
	for _, it := range items {
		sb.WriteString("\n- " + it)
	}
}

func clean(items []string) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

// fallbackReflection builds a summary from the attempt history alone.
func fallbackReflection(r *run, records []recovery.AttemptRecord) string {
	refl := Reflection{}
	failures := 0
	for _, rec := range recovery.Window(records) {
		if rec.Outcome != recovery.OutcomeFailed {
			continue
		}
		failures++
		if rec.Kind == recovery.KindVerificationFailed {
			for _, reason := range strings.Split(rec.Detail, "; ") {
				if line := resolvedGap(reason); line != "" {
					refl.Failures = append(refl.Failures, line)
				}
			}
			continue
		}
		refl.Failures = append(refl.Failures,
			fmt.Sprintf("attempt %d failed (%s), recovered with %s", rec.Attempt, rec.Kind, rec.Strategy))
	}

	switch failures {
	case 0:
		refl.Successes = append(refl.Successes, "completed on the first attempt")
	default:
		refl.Successes = append(refl.Successes, fmt.Sprintf("completed after %d attempts", r.attempt))
	}
	if r.plan != nil && r.plan.Len() > 0 {
		refl.Successes = append(refl.Successes, fmt.Sprintf("final plan ran %d step(s)", r.plan.Len()))
	}
	if r.verification != nil && r.verification.Passed {
		refl.Successes = append(refl.Successes, "verification passed")
	}
	return refl.Render(r.taskID)
}

// resolvedGap turns a verifier reason into a resolved-issue line:
// "acceptance_review: missing test coverage" reads "test coverage gap found
// and resolved".
func resolvedGap(reason string) string {
	reason = strings.TrimSpace(reason)
	if name, rest, ok := strings.Cut(reason, ": "); ok && !strings.Contains(name, " ") {
		reason = rest
	}
	if reason == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(strings.ToLower(reason), "missing "); ok {
		return strings.TrimSpace(rest) + " gap found and resolved"
	}
	return reason + " (resolved)"
}
