package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/Iron-Ham/autopilot/internal/worker"
)

// PromptKind identifies which engine prompt a worker request carries.
type PromptKind string

const (
	PromptStep      PromptKind = "step"
	PromptDecompose PromptKind = "decompose"
	PromptRefine    PromptKind = "refine"
	PromptReview    PromptKind = "review"
	PromptTest      PromptKind = "test"
	PromptReflect   PromptKind = "reflect"
	PromptOther     PromptKind = "other"
)

var promptPrefixes = []struct {
	prefix string
	kind   PromptKind
}{
	{"Complete step", PromptStep},
	{"You are planning", PromptDecompose},
	{"A subtask keeps failing", PromptRefine},
	{"Review the work done", PromptReview},
	{"Run the test procedure", PromptTest},
	{"Reflect on the work", PromptReflect},
}

// KindOf classifies an instruction by its opening words.
func KindOf(instruction string) PromptKind {
	instruction = strings.TrimSpace(instruction)
	for _, p := range promptPrefixes {
		if strings.HasPrefix(instruction, p.prefix) {
			return p.kind
		}
	}
	return PromptOther
}

// Reply produces the result of one scripted invocation.
type Reply func(ctx context.Context, req worker.Request) (*worker.Result, error)

// Succeed replies with a successful result.
func Succeed(output string, tools ...string) Reply {
	return func(context.Context, worker.Request) (*worker.Result, error) {
		return &worker.Result{Output: output, Success: true, Tools: tools}, nil
	}
}

// Fail replies with a failed result carrying detail.
func Fail(detail string) Reply {
	return func(context.Context, worker.Request) (*worker.Result, error) {
		return &worker.Result{Output: detail, FailureDetail: detail, ExitCode: 1}, nil
	}
}

// WaitForCancel signals started, then blocks until the invocation is
// cancelled.
func WaitForCancel(started chan<- struct{}) Reply {
	return func(ctx context.Context, _ worker.Request) (*worker.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// Call is one recorded invocation.
type Call struct {
	Kind        PromptKind
	Instruction string
	Profile     string
	Transcript  string
}

// ScriptedAgent is a worker.Agent that answers each prompt kind from its
// own queue of replies, falling back to a per-kind default when the queue
// is empty. Defaults succeed: steps complete, reviews pass, tests pass.
type ScriptedAgent struct {
	mu       sync.Mutex
	queues   map[PromptKind][]Reply
	defaults map[PromptKind]Reply
	calls    []Call
}

// NewScriptedAgent creates an agent whose every prompt succeeds.
func NewScriptedAgent() *ScriptedAgent {
	return &ScriptedAgent{
		queues: make(map[PromptKind][]Reply),
		defaults: map[PromptKind]Reply{
			PromptStep: Succeed("step done", "Edit"),
			PromptDecompose: Succeed(`[
  {"title": "Scaffold", "description": "Create the skeleton"},
  {"title": "Implement", "description": "Write the logic"},
  {"title": "Test", "description": "Add tests"}
]`),
			PromptRefine: Succeed(`[
  {"title": "First half", "description": "Do the first half"},
  {"title": "Second half", "description": "Do the second half"}
]`),
			PromptReview:  Succeed(`{"passed": true, "reasons": []}`),
			PromptTest:    Succeed("all tests passed"),
			PromptReflect: Succeed(`{"successes": ["work completed"], "failures": [], "lessons_learned": [], "suggestions": []}`),
			PromptOther:   Succeed("ok"),
		},
	}
}

// On queues replies for a prompt kind, consumed in order.
func (a *ScriptedAgent) On(kind PromptKind, replies ...Reply) *ScriptedAgent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queues[kind] = append(a.queues[kind], replies...)
	return a
}

// Default replaces the reply used once a kind's queue is empty.
func (a *ScriptedAgent) Default(kind PromptKind, reply Reply) *ScriptedAgent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.defaults[kind] = reply
	return a
}

// Invoke implements worker.Agent.
func (a *ScriptedAgent) Invoke(ctx context.Context, req worker.Request) (*worker.Result, error) {
	kind := KindOf(req.Instruction)

	a.mu.Lock()
	a.calls = append(a.calls, Call{
		Kind:        kind,
		Instruction: req.Instruction,
		Profile:     req.Profile,
		Transcript:  req.Transcript.Render(),
	})
	reply := a.defaults[kind]
	if q := a.queues[kind]; len(q) > 0 {
		reply, a.queues[kind] = q[0], q[1:]
	}
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return reply(ctx, req)
}

// Calls returns the recorded invocations, optionally filtered by kind.
func (a *ScriptedAgent) Calls(kinds ...PromptKind) []Call {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Call
	for _, c := range a.calls {
		if len(kinds) == 0 || containsKind(kinds, c.Kind) {
			out = append(out, c)
		}
	}
	return out
}

func containsKind(kinds []PromptKind, k PromptKind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}
