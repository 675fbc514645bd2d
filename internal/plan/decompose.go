package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/Iron-Ham/autopilot/internal/task"
)

var (
	// ErrNoJSON indicates the worker output contained no JSON array.
	ErrNoJSON = errors.New("no JSON array found in output")
	// ErrTooFewSubtasks indicates fewer valid subtasks than required.
	ErrTooFewSubtasks = errors.New("too few subtasks")
)

// DecomposePrompt asks the worker to split a task into subtasks.
const DecomposePrompt = `You are planning the implementation of a single task.

## Task {{.ID}}: {{.Title}}
{{if .Description}}
{{.Description}}
{{end}}{{if .AcceptanceCriteria}}
## Acceptance criteria
{{.AcceptanceCriteria}}
{{end}}
## Instructions

Break the task into between {{.Min}} and {{.Max}} sequential subtasks. Each
subtask must be completable in one focused session and must leave the
working directory in a consistent state.

Respond ONLY with a JSON array of objects with "title" and "description"
string fields. Do not wrap the JSON in markdown code blocks.
`

// RefinePrompt asks the worker to split one failing subtask into smaller
// pieces.
const RefinePrompt = `A subtask keeps failing and needs to be split into smaller steps.

## Task {{.TaskID}}: {{.TaskTitle}}

## Failing subtask {{.ID}}: {{.Title}}
{{if .Description}}
{{.Description}}
{{end}}{{if .Failure}}
## Last failure
{{.Failure}}
{{end}}
## Instructions

Split the failing subtask into between 2 and {{.Max}} smaller sequential
subtasks that together accomplish it.

Respond ONLY with a JSON array of objects with "title" and "description"
string fields. Do not wrap the JSON in markdown code blocks.
`

// DecomposeData is the template data for DecomposePrompt.
type DecomposeData struct {
	ID                 string
	Title              string
	Description        string
	AcceptanceCriteria string
	Min, Max           int
}

// RefineData is the template data for RefinePrompt.
type RefineData struct {
	TaskID      string
	TaskTitle   string
	ID          string
	Title       string
	Description string
	Failure     string
	Max         int
}

var (
	decomposeTmpl = template.Must(template.New("decompose").Parse(DecomposePrompt))
	refineTmpl    = template.Must(template.New("refine").Parse(RefinePrompt))
)

// BuildDecomposePrompt renders DecomposePrompt for a task.
func BuildDecomposePrompt(t *task.Task, minSubtasks, maxSubtasks int) (string, error) {
	var buf bytes.Buffer
	err := decomposeTmpl.Execute(&buf, DecomposeData{
		ID:                 t.ID,
		Title:              t.Title,
		Description:        t.Description,
		AcceptanceCriteria: t.AcceptanceCriteria,
		Min:                minSubtasks,
		Max:                maxSubtasks,
	})
	return buf.String(), err
}

// BuildRefinePrompt renders RefinePrompt for a failing subtask.
func BuildRefinePrompt(t *task.Task, sub task.Subtask, failure string, maxSubtasks int) (string, error) {
	var buf bytes.Buffer
	err := refineTmpl.Execute(&buf, RefineData{
		TaskID:      t.ID,
		TaskTitle:   t.Title,
		ID:          sub.ID,
		Title:       sub.Title,
		Description: sub.Description,
		Failure:     failure,
		Max:         maxSubtasks,
	})
	return buf.String(), err
}

// ParseSubtasks extracts a JSON array of {title, description} objects from
// worker output. The output is untrusted: markdown fences are stripped,
// entries without a title are dropped, fewer than minSubtasks valid entries
// is an error, and anything beyond maxSubtasks is cut.
func ParseSubtasks(output string, minSubtasks, maxSubtasks int) ([]task.NewSubtask, error) {
	output = strings.TrimSpace(output)
	output = strings.TrimPrefix(output, "```json")
	output = strings.TrimPrefix(output, "```")
	output = strings.TrimSuffix(output, "```")
	output = strings.TrimSpace(output)

	start := strings.Index(output, "[")
	end := strings.LastIndex(output, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, ErrNoJSON
	}

	var raw []struct {
		Title       any `json:"title"`
		Description any `json:"description"`
	}
	if err := json.Unmarshal([]byte(output[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parse subtasks: %w", err)
	}

	var out []task.NewSubtask
	for _, r := range raw {
		title, ok := r.Title.(string)
		if !ok || strings.TrimSpace(title) == "" {
			continue
		}
		desc, _ := r.Description.(string)
		out = append(out, task.NewSubtask{
			Title:       strings.TrimSpace(title),
			Description: strings.TrimSpace(desc),
		})
	}

	if len(out) < minSubtasks {
		return nil, fmt.Errorf("%w: got %d, want at least %d", ErrTooFewSubtasks, len(out), minSubtasks)
	}
	if maxSubtasks > 0 && len(out) > maxSubtasks {
		out = out[:maxSubtasks]
	}
	return out, nil
}

// Fallback is the deterministic single subtask used when no decomposition
// source produced a usable list.
func Fallback(t *task.Task) []task.NewSubtask {
	title := strings.TrimSpace(t.Title)
	if title == "" {
		title = "Complete task " + t.ID
	}
	desc := strings.TrimSpace(t.Description)
	if desc == "" {
		desc = title
	}
	return []task.NewSubtask{{Title: title, Description: desc}}
}

// RefineFallback is the deterministic child used when a failing subtask
// could not be split.
func RefineFallback(sub task.Subtask) []task.NewSubtask {
	desc := sub.Description
	if desc == "" {
		desc = sub.Title
	}
	return []task.NewSubtask{{
		Title:       sub.Title + " (in smaller increments)",
		Description: desc + "\n\nWork in smaller increments and verify each change before moving on.",
	}}
}
