package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/autopilot/internal/ai"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/util"
)

// DefaultGracePeriod is how long a cancelled worker gets between SIGINT
// and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// maxFailureDetail bounds the failure detail taken from worker output.
const maxFailureDetail = 2000

// CLIAgent runs a coding-agent CLI as a subprocess for each invocation.
type CLIAgent struct {
	backend ai.Backend
	workDir string
	timeout time.Duration
	grace   time.Duration
	env     []string
	logger  *logging.Logger
}

// CLIOption configures a CLIAgent.
type CLIOption func(*CLIAgent)

// WithWorkDir sets the subprocess working directory.
func WithWorkDir(dir string) CLIOption {
	return func(a *CLIAgent) { a.workDir = dir }
}

// WithTimeout bounds each invocation. A timeout is reported as a failed
// result with exit code 124, not as an error.
func WithTimeout(d time.Duration) CLIOption {
	return func(a *CLIAgent) { a.timeout = d }
}

// WithGracePeriod sets the delay between SIGINT and SIGKILL on cancel.
func WithGracePeriod(d time.Duration) CLIOption {
	return func(a *CLIAgent) { a.grace = d }
}

// WithEnv appends KEY=VALUE pairs to the subprocess environment.
func WithEnv(env ...string) CLIOption {
	return func(a *CLIAgent) { a.env = append(a.env, env...) }
}

// WithCLILogger sets the logger.
func WithCLILogger(logger *logging.Logger) CLIOption {
	return func(a *CLIAgent) { a.logger = logger }
}

// NewCLIAgent creates an agent for the given backend.
func NewCLIAgent(backend ai.Backend, opts ...CLIOption) *CLIAgent {
	a := &CLIAgent{
		backend: backend,
		grace:   DefaultGracePeriod,
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Backend returns the agent's backend.
func (a *CLIAgent) Backend() ai.Backend {
	return a.backend
}

// Invoke runs the backend CLI with the request's prompt and waits for it.
func (a *CLIAgent) Invoke(ctx context.Context, req Request) (*Result, error) {
	argv, err := a.backend.BuildCommand(Prompt(req))
	if err != nil {
		return nil, fmt.Errorf("build %s command: %w", a.backend.Name(), err)
	}

	runCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = a.workDir
	if len(a.env) > 0 {
		cmd.Env = append(os.Environ(), a.env...)
	}
	// Interrupt first so the agent can flush its session; WaitDelay kills it
	// if it does not exit in time.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = a.grace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	a.logger.Debug("invoking worker", "backend", string(a.backend.Name()), "profile", req.Profile)
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		a.logger.Info("worker invocation cancelled", "backend", string(a.backend.Name()), "elapsed", elapsed.String())
		return nil, ctx.Err()
	}

	out := a.backend.ParseOutput(stdout.Bytes())
	res := &Result{Output: out.Text, Tools: out.Tools}

	switch {
	case runErr == nil:
		res.Success = out.Error == ""
		res.FailureDetail = out.Error
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.ExitCode = 124
		res.FailureDetail = fmt.Sprintf("worker timed out after %s", a.timeout)
	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// The process never ran: missing binary, bad working directory.
			return nil, fmt.Errorf("run %s: %w", argv[0], runErr)
		}
		res.ExitCode = exitErr.ExitCode()
		res.FailureDetail = failureDetail(out, stderr.String(), runErr)
	}

	a.logger.Debug("worker finished",
		"backend", string(a.backend.Name()),
		"success", res.Success,
		"exit_code", res.ExitCode,
		"tools", len(res.Tools),
		"elapsed", elapsed.String(),
	)
	return res, nil
}

// failureDetail picks the most specific explanation available.
func failureDetail(out ai.Output, stderr string, runErr error) string {
	for _, s := range []string{out.Error, strings.TrimSpace(stderr), strings.TrimSpace(out.Text)} {
		if s != "" {
			return util.TailString(s, maxFailureDetail)
		}
	}
	return runErr.Error()
}
