// Package ai knows how to drive each supported coding-agent CLI: the argv
// for a one-shot, non-interactive run and how to read its streamed JSON
// output back into text and tool usage.
package ai

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Iron-Ham/autopilot/internal/config"
)

// BackendName identifies a supported AI backend.
type BackendName string

const (
	BackendClaude   BackendName = "claude"
	BackendCodex    BackendName = "codex"
	BackendOpenCode BackendName = "opencode"
)

// Output is a backend run decoded from its stdout.
type Output struct {
	Text      string
	Tools     []string
	SessionID string
	// Error is set when the stream reported a failure even though the
	// process may have exited zero.
	Error string
}

// Backend provides backend-specific behavior for one-shot agent runs.
type Backend interface {
	Name() BackendName
	DisplayName() string
	// BuildCommand returns the argv that runs prompt to completion.
	BuildCommand(prompt string) ([]string, error)
	// ParseOutput decodes the process's stdout.
	ParseOutput(stdout []byte) Output
}

// ErrUnknownBackend is returned when the configured backend is unsupported.
var ErrUnknownBackend = fmt.Errorf("unknown AI backend")

// NewFromProfile builds a Backend from a worker profile.
func NewFromProfile(p config.ProfileConfig) (Backend, error) {
	switch strings.ToLower(p.Backend) {
	case string(BackendClaude), "":
		return NewClaudeBackend(p), nil
	case string(BackendCodex):
		return NewCodexBackend(p), nil
	case string(BackendOpenCode):
		return NewOpenCodeBackend(p), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, p.Backend)
	}
}

// DefaultBackend returns a Claude backend with default settings.
func DefaultBackend() Backend {
	return NewClaudeBackend(config.ProfileConfig{
		Command:         "claude",
		SkipPermissions: true,
	})
}

func requirePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("prompt required")
	}
	return nil
}

// eachJSONLine calls fn for every line of stdout that decodes as a JSON
// object; other lines go to plain.
func eachJSONLine(stdout []byte, fn func(map[string]any), plain func(string)) {
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev map[string]any
		if strings.HasPrefix(line, "{") && json.Unmarshal([]byte(line), &ev) == nil {
			fn(ev)
			continue
		}
		plain(line)
	}
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func obj(m map[string]any, key string) map[string]any {
	o, _ := m[key].(map[string]any)
	return o
}

// ClaudeBackend implements Backend for Claude Code.
type ClaudeBackend struct {
	command         string
	model           string
	skipPermissions bool
}

// NewClaudeBackend creates a Claude backend from a profile.
func NewClaudeBackend(p config.ProfileConfig) *ClaudeBackend {
	command := p.Command
	if command == "" {
		command = "claude"
	}
	return &ClaudeBackend{
		command:         command,
		model:           p.Model,
		skipPermissions: p.SkipPermissions,
	}
}

func (c *ClaudeBackend) Name() BackendName { return BackendClaude }

func (c *ClaudeBackend) DisplayName() string { return "Claude" }

func (c *ClaudeBackend) BuildCommand(prompt string) ([]string, error) {
	if err := requirePrompt(prompt); err != nil {
		return nil, err
	}
	argv := []string{c.command, "--print", "--output-format", "stream-json", "--verbose"}
	if c.model != "" {
		argv = append(argv, "--model", c.model)
	}
	if c.skipPermissions {
		argv = append(argv, "--dangerously-skip-permissions")
	}
	return append(argv, prompt), nil
}

// ParseOutput reads Claude's stream-json: assistant messages carry text and
// tool_use blocks, and the final result event carries the answer.
func (c *ClaudeBackend) ParseOutput(stdout []byte) Output {
	var (
		out    Output
		texts  []string
		result string
	)
	eachJSONLine(stdout, func(ev map[string]any) {
		if id := str(ev, "session_id"); id != "" {
			out.SessionID = id
		}
		switch str(ev, "type") {
		case "assistant":
			content, _ := obj(ev, "message")["content"].([]any)
			for _, item := range content {
				block, _ := item.(map[string]any)
				switch str(block, "type") {
				case "text":
					if t := str(block, "text"); t != "" {
						texts = append(texts, t)
					}
				case "tool_use":
					if name := str(block, "name"); name != "" {
						out.Tools = append(out.Tools, name)
					}
				}
			}
		case "result":
			result = str(ev, "result")
			if isErr, _ := ev["is_error"].(bool); isErr {
				out.Error = result
				if out.Error == "" {
					out.Error = str(ev, "subtype")
				}
			}
		}
	}, func(line string) {
		texts = append(texts, line)
	})

	out.Text = result
	if out.Text == "" {
		out.Text = strings.Join(texts, "\n")
	}
	return out
}

// CodexBackend implements Backend for Codex CLI.
type CodexBackend struct {
	command      string
	model        string
	approvalMode string
}

// NewCodexBackend creates a Codex backend from a profile.
func NewCodexBackend(p config.ProfileConfig) *CodexBackend {
	command := p.Command
	if command == "" {
		command = "codex"
	}
	mode := "full-auto"
	if p.SkipPermissions {
		mode = "bypass"
	}
	return &CodexBackend{
		command:      command,
		model:        p.Model,
		approvalMode: mode,
	}
}

func (c *CodexBackend) Name() BackendName { return BackendCodex }

func (c *CodexBackend) DisplayName() string { return "Codex" }

func (c *CodexBackend) BuildCommand(prompt string) ([]string, error) {
	if err := requirePrompt(prompt); err != nil {
		return nil, err
	}
	argv := []string{c.command, "exec", "--json"}
	argv = append(argv, c.approvalFlags()...)
	if c.model != "" {
		argv = append(argv, "--model", c.model)
	}
	return append(argv, prompt), nil
}

// ParseOutput reads Codex's JSONL events: completed agent_message items are
// the answer, other completed items are tool activity.
func (c *CodexBackend) ParseOutput(stdout []byte) Output {
	var (
		out   Output
		texts []string
	)
	eachJSONLine(stdout, func(ev map[string]any) {
		switch str(ev, "type") {
		case "thread.started":
			out.SessionID = str(ev, "thread_id")
		case "item.completed":
			item := obj(ev, "item")
			switch kind := str(item, "type"); kind {
			case "agent_message":
				if t := str(item, "text"); t != "" {
					texts = append(texts, t)
				}
			case "reasoning", "":
			default:
				out.Tools = append(out.Tools, kind)
			}
		case "error":
			out.Error = str(ev, "message")
		case "turn.failed":
			if msg := str(obj(ev, "error"), "message"); msg != "" {
				out.Error = msg
			}
		}
	}, func(line string) {
		texts = append(texts, line)
	})
	out.Text = strings.Join(texts, "\n")
	return out
}

func (c *CodexBackend) approvalFlags() []string {
	switch strings.ToLower(c.approvalMode) {
	case "bypass":
		return []string{"--dangerously-bypass-approvals-and-sandbox"}
	case "full-auto":
		return []string{"--full-auto"}
	default:
		return nil
	}
}

// OpenCodeBackend implements Backend for the opencode CLI.
type OpenCodeBackend struct {
	command string
	model   string
}

// NewOpenCodeBackend creates an opencode backend from a profile.
func NewOpenCodeBackend(p config.ProfileConfig) *OpenCodeBackend {
	command := p.Command
	if command == "" {
		command = "opencode"
	}
	return &OpenCodeBackend{command: command, model: p.Model}
}

func (o *OpenCodeBackend) Name() BackendName { return BackendOpenCode }

func (o *OpenCodeBackend) DisplayName() string { return "OpenCode" }

func (o *OpenCodeBackend) BuildCommand(prompt string) ([]string, error) {
	if err := requirePrompt(prompt); err != nil {
		return nil, err
	}
	argv := []string{o.command, "run", "--format", "json"}
	if o.model != "" {
		argv = append(argv, "--model", o.model)
	}
	return append(argv, prompt), nil
}

// ParseOutput reads opencode's event stream: "text" parts are the answer,
// "tool_use" parts name the tool, "error" events carry a message.
func (o *OpenCodeBackend) ParseOutput(stdout []byte) Output {
	var (
		out   Output
		texts []string
	)
	eachJSONLine(stdout, func(ev map[string]any) {
		if id := str(ev, "sessionID"); id != "" {
			out.SessionID = id
		}
		part := obj(ev, "part")
		switch str(ev, "type") {
		case "text":
			if t := str(part, "text"); t != "" {
				texts = append(texts, t)
			}
		case "tool_use":
			name := str(part, "tool")
			if name == "" {
				name = "unknown"
			}
			out.Tools = append(out.Tools, name)
		case "error":
			msg := str(obj(ev, "error"), "message")
			if msg == "" {
				msg = "unknown error"
			}
			out.Error = msg
		}
	}, func(line string) {
		texts = append(texts, line)
	})
	out.Text = strings.Join(texts, "\n")
	return out
}
