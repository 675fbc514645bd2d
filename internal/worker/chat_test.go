package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestChatAgent_Invoke(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"[{\"title\":\"a\"}]"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	agent := NewChatAgent(ChatConfig{APIKey: "k", Model: "test-model", BaseURL: server.URL + "/v1", SystemPrompt: "be brief"})
	tr := NewTranscript(0, 0)
	tr.Add("worker", "earlier")

	res, err := agent.Invoke(context.Background(), Request{Instruction: "split this", Transcript: tr})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !res.Success || res.Output != `[{"title":"a"}]` {
		t.Errorf("result = %+v", res)
	}
	if got.Model != "test-model" {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("messages = %+v, want system, transcript, instruction", got.Messages)
	}
	if got.Messages[0].Role != "system" || got.Messages[1].Role != "assistant" || got.Messages[2].Content != "split this" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestChatAgent_APIErrorIsFailedResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	agent := NewChatAgent(ChatConfig{APIKey: "k", Model: "m", BaseURL: server.URL + "/v1"})
	res, err := agent.Invoke(context.Background(), Request{Instruction: "x"})
	if err != nil {
		t.Fatalf("Invoke() error = %v, want failed result", err)
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
	if res.ExitCode != http.StatusTooManyRequests {
		t.Errorf("ExitCode = %d, want 429", res.ExitCode)
	}
	if !strings.Contains(res.FailureDetail, "Rate limit") {
		t.Errorf("FailureDetail = %q", res.FailureDetail)
	}
}

func TestChatAgent_Cancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agent := NewChatAgent(ChatConfig{APIKey: "k", Model: "m", BaseURL: server.URL + "/v1"})
	if _, err := agent.Invoke(ctx, Request{Instruction: "x"}); err == nil {
		t.Fatal("Invoke() error = nil, want cancellation")
	}
}
