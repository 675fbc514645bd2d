// Package worker defines the worker-agent contract the engine delegates
// real work to, the bounded transcript passed into every invocation, and
// the concrete agents: coding-agent CLIs run as subprocesses and
// OpenAI-compatible chat endpoints.
package worker

import "context"

// Request is one worker invocation.
type Request struct {
	Instruction string
	// Transcript is prior context for this task; nil means fresh context.
	Transcript *Transcript
	// Profile selects the worker configuration; empty means the default.
	Profile string
}

// Result is the outcome of an invocation that ran to completion.
type Result struct {
	Output        string
	Success       bool
	FailureDetail string
	ExitCode      int
	Tools         []string
}

// Agent performs one unit of work.
//
// Invoke returns an error only when the invocation could not run or was
// cancelled through ctx. A worker that ran and failed reports it with
// Success=false and a FailureDetail.
type Agent interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, req Request) (*Result, error)

// Invoke calls f.
func (f AgentFunc) Invoke(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// Prompt joins the rendered transcript and the instruction into the text
// sent to a worker.
func Prompt(req Request) string {
	ctx := req.Transcript.Render()
	if ctx == "" {
		return req.Instruction
	}
	return "## Context from earlier in this task\n\n" + ctx + "\n\n## Current instruction\n\n" + req.Instruction
}
