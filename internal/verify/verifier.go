package verify

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/plan"
	"github.com/Iron-Ham/autopilot/internal/task"
	"github.com/Iron-Ham/autopilot/internal/util"
	"github.com/Iron-Ham/autopilot/internal/worker"
)

// maxReason bounds reasons copied from worker output.
const maxReason = 500

// ReviewPrompt asks a worker to review the attempt.
const ReviewPrompt = `Review the work done for this task against its requirements.

## Task {{.ID}}: {{.Title}}
{{if .Description}}
{{.Description}}
{{end}}
## Acceptance criteria
{{if .AcceptanceCriteria}}{{.AcceptanceCriteria}}{{else}}The task description above is fully implemented.{{end}}
{{if .Plan}}
## Executed plan
{{.Plan}}
{{end}}
## Instructions

Inspect the working directory. Check that the code or files implementing the
task exist, that they satisfy every acceptance criterion, and look for
obvious gaps.

Respond ONLY with a JSON object:
{"passed": true or false, "reasons": ["one short reason per finding"]}
`

// TestPrompt asks a worker to run the task's test procedure.
const TestPrompt = `Run the test procedure for task {{.ID}} exactly as written and report the result.

## Test procedure
{{.TestProcedure}}

Do not modify any files. If any part of the procedure fails, report failure
and include the failing output.
`

type promptData struct {
	ID                 string
	Title              string
	Description        string
	AcceptanceCriteria string
	TestProcedure      string
	Plan               string
}

var (
	reviewTmpl = template.Must(template.New("review").Parse(ReviewPrompt))
	testTmpl   = template.Must(template.New("test").Parse(TestPrompt))
)

// Config holds configuration for verification.
type Config struct {
	// ReviewEnabled runs the acceptance_review check.
	ReviewEnabled bool

	// RequireAllSubtasks runs the subtasks_complete check.
	RequireAllSubtasks bool

	// Profile is the worker profile used for review and test runs.
	Profile string
}

// DefaultConfig returns sensible defaults for verification configuration.
func DefaultConfig() Config {
	return Config{
		ReviewEnabled:      true,
		RequireAllSubtasks: true,
	}
}

// Verifier runs the ordered verification checks for a task.
type Verifier struct {
	agent  worker.Agent
	config Config
	logger *logging.Logger
}

// Option is a functional option for configuring Verifier.
type Option func(*Verifier)

// WithLogger sets the logger for the verifier.
func WithLogger(logger *logging.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithConfig sets the configuration for the verifier.
func WithConfig(cfg Config) Option {
	return func(v *Verifier) {
		v.config = cfg
	}
}

// NewVerifier creates a Verifier that runs worker-mediated checks through
// agent, which must be non-nil.
func NewVerifier(agent worker.Agent, opts ...Option) *Verifier {
	if agent == nil {
		panic("verify.NewVerifier: agent must not be nil")
	}
	v := &Verifier{
		agent:  agent,
		config: DefaultConfig(),
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs every check against t. All checks run even after one fails,
// so the next attempt sees every problem at once. The returned error is
// non-nil only when ctx was cancelled.
func (v *Verifier) Verify(ctx context.Context, t *task.Task, p *plan.ExecutionPlan) (*Verification, error) {
	result := &Verification{}

	if v.config.RequireAllSubtasks {
		result.add(subtasksCheck(t))
	}

	data := promptData{
		ID:                 t.ID,
		Title:              t.Title,
		Description:        t.Description,
		AcceptanceCriteria: t.AcceptanceCriteria,
		TestProcedure:      t.TestProcedure,
		Plan:               p.Render(),
	}

	if v.config.ReviewEnabled {
		c, err := v.reviewCheck(ctx, data)
		if err != nil {
			return nil, err
		}
		result.add(c)
	}

	if strings.TrimSpace(t.TestProcedure) != "" {
		c, err := v.testCheck(ctx, data)
		if err != nil {
			return nil, err
		}
		result.add(c)
	}

	if len(result.Checks) == 0 {
		result.add(Check{Name: CheckSkipped, Passed: true, Reason: "no checks configured"})
	}
	result.finish()

	v.logger.Info("verification finished",
		"task_id", t.ID,
		"passed", result.Passed,
		"failed_checks", strings.Join(result.Failed(), ","),
	)
	return result, nil
}

func subtasksCheck(t *task.Task) Check {
	if len(t.Subtasks) == 0 {
		return Check{Name: CheckSubtasksComplete, Passed: true, Reason: "no subtasks"}
	}
	var incomplete []string
	for _, s := range t.Subtasks {
		if s.Status != task.StatusDone {
			incomplete = append(incomplete, s.ID)
		}
	}
	if len(incomplete) > 0 {
		return Check{
			Name:   CheckSubtasksComplete,
			Passed: false,
			Reason: fmt.Sprintf("%d/%d subtasks incomplete: %s", len(incomplete), len(t.Subtasks), strings.Join(incomplete, ", ")),
		}
	}
	return Check{Name: CheckSubtasksComplete, Passed: true, Reason: fmt.Sprintf("all %d subtasks complete", len(t.Subtasks))}
}

func (v *Verifier) reviewCheck(ctx context.Context, data promptData) (Check, error) {
	c := Check{Name: CheckAcceptanceReview}

	prompt, err := render(reviewTmpl, data)
	if err != nil {
		c.Reason = err.Error()
		return c, nil
	}

	res, err := v.agent.Invoke(ctx, worker.Request{Instruction: prompt, Profile: v.config.Profile})
	if ctx.Err() != nil {
		return c, ctx.Err()
	}
	if err != nil {
		c.Reason = "review could not run: " + util.TruncateString(err.Error(), maxReason)
		return c, nil
	}
	if !res.Success {
		c.Reason = "review could not run: " + util.TruncateString(res.FailureDetail, maxReason)
		return c, nil
	}

	review, err := ParseReview(res.Output)
	if err != nil {
		v.logger.Warn("unparseable review output", "task_id", data.ID, "output", util.TruncateString(res.Output, maxReason))
		c.Reason = ErrUnparseableReview.Error()
		return c, nil
	}

	c.Passed = review.Passed
	switch {
	case len(review.Reasons) > 0:
		c.Reason = util.TruncateString(strings.Join(review.Reasons, "; "), maxReason)
	case review.Passed:
		c.Reason = "acceptance criteria met"
	default:
		c.Reason = "review failed without reasons"
	}
	return c, nil
}

func (v *Verifier) testCheck(ctx context.Context, data promptData) (Check, error) {
	c := Check{Name: CheckTestProcedure}

	prompt, err := render(testTmpl, data)
	if err != nil {
		c.Reason = err.Error()
		return c, nil
	}

	res, err := v.agent.Invoke(ctx, worker.Request{Instruction: prompt, Profile: v.config.Profile})
	if ctx.Err() != nil {
		return c, ctx.Err()
	}
	if err != nil {
		c.Reason = "test procedure could not run: " + util.TruncateString(err.Error(), maxReason)
		return c, nil
	}

	c.Passed = res.Success
	if res.Success {
		c.Reason = fmt.Sprintf("test procedure passed (exit %d)", res.ExitCode)
		return c, nil
	}
	detail := res.FailureDetail
	if detail == "" {
		detail = util.TailString(res.Output, maxReason)
	}
	c.Reason = fmt.Sprintf("test procedure failed (exit %d): %s", res.ExitCode, util.TruncateString(detail, maxReason))
	return c, nil
}

func render(tmpl *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
