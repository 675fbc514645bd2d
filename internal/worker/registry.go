package worker

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/Iron-Ham/autopilot/internal/ai"
	"github.com/Iron-Ham/autopilot/internal/config"
	"github.com/Iron-Ham/autopilot/internal/logging"
)

// BackendOpenAI selects the chat-completion agent for a profile.
const BackendOpenAI = "openai"

// Registry maps profile names to agents. It implements Agent itself,
// dispatching each request on its Profile and falling back to the default
// profile for unknown or empty names.
type Registry struct {
	mu             sync.RWMutex
	agents         map[string]Agent
	defaultProfile string
}

// NewRegistry creates an empty registry.
func NewRegistry(defaultProfile string) *Registry {
	return &Registry{
		agents:         make(map[string]Agent),
		defaultProfile: defaultProfile,
	}
}

// Register adds or replaces the agent for a profile.
func (r *Registry) Register(profile string, agent Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[profile] = agent
}

// Lookup returns the agent for profile, or the default agent.
func (r *Registry) Lookup(profile string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.agents[profile]; ok {
		return a, true
	}
	a, ok := r.agents[r.defaultProfile]
	return a, ok
}

// Profiles returns the registered profile names, sorted.
func (r *Registry) Profiles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke dispatches req to the agent registered for req.Profile.
func (r *Registry) Invoke(ctx context.Context, req Request) (*Result, error) {
	agent, ok := r.Lookup(req.Profile)
	if !ok {
		return nil, fmt.Errorf("no worker registered for profile %q", req.Profile)
	}
	return agent.Invoke(ctx, req)
}

// NewRegistryFromConfig builds one agent per configured profile.
func NewRegistryFromConfig(cfg config.WorkerConfig, workDir string, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	reg := NewRegistry(cfg.DefaultProfile)
	for name, p := range cfg.Profiles {
		agent, err := newProfileAgent(p, workDir, logger.WithProfile(name))
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		reg.Register(name, agent)
	}
	if _, ok := reg.Lookup(cfg.DefaultProfile); !ok {
		return nil, fmt.Errorf("default profile %q is not configured", cfg.DefaultProfile)
	}
	return reg, nil
}

func newProfileAgent(p config.ProfileConfig, workDir string, logger *logging.Logger) (Agent, error) {
	if strings.EqualFold(p.Backend, BackendOpenAI) {
		var key string
		if p.APIKeyEnv != "" {
			key = os.Getenv(p.APIKeyEnv)
		}
		return NewChatAgent(ChatConfig{
			APIKey:  key,
			Model:   p.Model,
			BaseURL: p.BaseURL,
			Logger:  logger,
		}), nil
	}

	backend, err := ai.NewFromProfile(p)
	if err != nil {
		return nil, err
	}
	return NewCLIAgent(backend,
		WithWorkDir(workDir),
		WithTimeout(p.Timeout),
		WithCLILogger(logger),
	), nil
}
