package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/Iron-Ham/autopilot/internal/logging"
)

// DefaultChatBaseURL is used when a chat profile sets no base URL.
const DefaultChatBaseURL = "https://api.openai.com/v1"

// ChatConfig configures a ChatAgent.
type ChatConfig struct {
	APIKey       string
	Model        string
	BaseURL      string
	SystemPrompt string
	Logger       *logging.Logger
}

// ChatAgent sends each invocation to an OpenAI-compatible chat completion
// endpoint. It cannot touch the working directory itself, so it suits
// decomposition, review and reflection profiles rather than execution.
type ChatAgent struct {
	client *openai.Client
	model  string
	system string
	logger *logging.Logger
}

// NewChatAgent creates a ChatAgent.
func NewChatAgent(cfg ChatConfig) *ChatAgent {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ChatAgent{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		system: cfg.SystemPrompt,
		logger: logger,
	}
}

// Invoke sends the transcript and instruction as one chat completion.
// API errors become failed results so the classifier sees their text;
// only cancellation is returned as an error.
func (a *ChatAgent) Invoke(ctx context.Context, req Request) (*Result, error) {
	var messages []openai.ChatCompletionMessage
	if a.system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: a.system,
		})
	}
	for _, e := range req.Transcript.Entries() {
		role := openai.ChatMessageRoleUser
		if e.Role == "worker" || e.Role == openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: e.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Instruction,
	})

	a.logger.Debug("creating chat completion", "model", a.model, "messages", len(messages))
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: messages,
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		res := &Result{FailureDetail: fmt.Sprintf("chat completion failed: %v", err)}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			res.ExitCode = apiErr.HTTPStatusCode
		}
		return res, nil
	}
	if len(resp.Choices) == 0 {
		return &Result{FailureDetail: "no choices in response"}, nil
	}

	return &Result{Output: resp.Choices[0].Message.Content, Success: true}, nil
}
