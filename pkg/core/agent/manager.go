package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stock_research/pkg/core/llm"
	"stock_research/pkg/core/logging"

	"github.com/phuslu/log"
)

// Task names used as keys under agents: in models.yaml.
const (
	TaskAnalysis = "analysis"
	TaskMarket   = "market"
)

type Config struct {
	ActiveProvider string                 `yaml:"active_provider"`
	Agents         map[string]AgentConfig `yaml:"agents"`
}

type AgentConfig struct {
	Provider    string `yaml:"provider"` // Optional override
	Model       string `yaml:"model"`    // Optional override
	Description string `yaml:"description"`
}

// Manager routes each research task to an LLM provider.
type Manager struct {
	mu        sync.RWMutex
	config    Config
	providers map[string]llm.Provider
	logger    *log.Logger
}

// NewManager registers providers under their Name().
func NewManager(config Config, logger *log.Logger, providers ...llm.Provider) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	m := &Manager{
		config:    config,
		providers: make(map[string]llm.Provider, len(providers)),
		logger:    logger,
	}
	for _, p := range providers {
		m.providers[p.Name()] = p
	}
	return m
}

// GetProvider resolves the provider for a task: the agent override first,
// then the global active provider.
func (m *Manager) GetProvider(task string) (llm.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// 1. Check for agent-specific override
	if agentConfig, ok := m.config.Agents[task]; ok && agentConfig.Provider != "" {
		if p, ok := m.providers[agentConfig.Provider]; ok {
			return p, nil
		}
		m.logger.Warn().Str("task", task).Str("provider", agentConfig.Provider).Msg("agent provider override not registered, using active provider")
	}

	// 2. Use global active provider
	if p, ok := m.providers[m.config.ActiveProvider]; ok {
		return p, nil
	}

	return nil, fmt.Errorf("no provider registered for task %q (active provider %q)", task, m.config.ActiveProvider)
}

// ExecutePrompt handles instruction adaptation before sending to the model.
// A model configured for the task replaces opts.Model; opts.Model is the
// fallback for tasks without one.
func (m *Manager) ExecutePrompt(ctx context.Context, task, prompt, systemPrompt string, opts llm.Options) (string, error) {
	provider, err := m.GetProvider(task)
	if err != nil {
		return "", err
	}

	m.mu.RLock()
	if model := m.config.Agents[task].Model; model != "" {
		opts.Model = model
	}
	m.mu.RUnlock()

	m.logger.Debug().Str("task", task).Str("provider", provider.Name()).Str("model", opts.Model).Msg("executing prompt")

	return provider.GenerateResponse(ctx, prompt, provider.AdaptInstructions(systemPrompt), opts)
}

func (m *Manager) SetGlobalProvider(newProvider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.providers[newProvider]; !ok {
		return fmt.Errorf("provider %s not found", newProvider)
	}
	m.config.ActiveProvider = newProvider
	m.logger.Info().Str("provider", newProvider).Msg("global provider switched")
	return nil
}

func (m *Manager) GetActiveProvider() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ActiveProvider
}

// Available lists registered provider names, sorted.
func (m *Manager) Available() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
