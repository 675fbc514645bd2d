package worker

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/autopilot/internal/ai"
	"github.com/Iron-Ham/autopilot/internal/config"
)

func named(name string) Agent {
	return AgentFunc(func(context.Context, Request) (*Result, error) {
		return &Result{Output: name, Success: true}, nil
	})
}

func TestRegistry_Dispatch(t *testing.T) {
	reg := NewRegistry("default")
	reg.Register("default", named("default"))
	reg.Register("alternate", named("alternate"))

	tests := []struct {
		profile string
		want    string
	}{
		{"", "default"},
		{"default", "default"},
		{"alternate", "alternate"},
		{"unknown", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			res, err := reg.Invoke(context.Background(), Request{Instruction: "x", Profile: tt.profile})
			if err != nil {
				t.Fatalf("Invoke() error = %v", err)
			}
			if res.Output != tt.want {
				t.Errorf("dispatched to %q, want %q", res.Output, tt.want)
			}
		})
	}

	if diff := cmp.Diff([]string{"alternate", "default"}, reg.Profiles()); diff != "" {
		t.Errorf("Profiles() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_NoDefault(t *testing.T) {
	reg := NewRegistry("default")
	if _, err := reg.Invoke(context.Background(), Request{Instruction: "x"}); err == nil {
		t.Error("Invoke() error = nil, want missing profile error")
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := config.WorkerConfig{
		DefaultProfile: "default",
		Profiles: map[string]config.ProfileConfig{
			"default":   {Backend: "claude", Command: "claude"},
			"alternate": {Backend: "codex"},
			"reviewer":  {Backend: "openai", Model: "gpt-4o-mini", APIKeyEnv: "AUTOPILOT_TEST_KEY"},
		},
	}
	reg, err := NewRegistryFromConfig(cfg, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewRegistryFromConfig() error = %v", err)
	}

	a, _ := reg.Lookup("alternate")
	cli, ok := a.(*CLIAgent)
	if !ok {
		t.Fatalf("alternate agent = %T, want *CLIAgent", a)
	}
	if cli.Backend().Name() != ai.BackendCodex {
		t.Errorf("alternate backend = %s, want codex", cli.Backend().Name())
	}

	r, _ := reg.Lookup("reviewer")
	if _, ok := r.(*ChatAgent); !ok {
		t.Errorf("reviewer agent = %T, want *ChatAgent", r)
	}
}

func TestNewRegistryFromConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.WorkerConfig
	}{
		{
			name: "unknown backend",
			cfg: config.WorkerConfig{
				DefaultProfile: "default",
				Profiles:       map[string]config.ProfileConfig{"default": {Backend: "bogus"}},
			},
		},
		{
			name: "missing default",
			cfg: config.WorkerConfig{
				DefaultProfile: "default",
				Profiles:       map[string]config.ProfileConfig{"other": {Backend: "claude"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistryFromConfig(tt.cfg, "", nil); err == nil {
				t.Error("NewRegistryFromConfig() error = nil, want error")
			}
		})
	}
}
