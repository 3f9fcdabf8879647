// Package config loads the YAML configuration shared by the binaries.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"stock_research/pkg/core/agent"
	"stock_research/pkg/core/logging"
	"stock_research/pkg/core/retry"

	"gopkg.in/yaml.v2"
)

// DefaultPath is where the binaries look for the config file.
const DefaultPath = "config/models.yaml"

// Providers that can be named by active_provider or an agent override.
var KnownProviders = []string{"gemini", "gemini_legacy", "stub"}

// Duration reads Go duration strings ("1s", "250ms") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

type LLMConfig struct {
	Model       string   `yaml:"model"`
	APIKey      string   `yaml:"api_key"`
	Temperature float32  `yaml:"temperature"`
	Timeout     Duration `yaml:"timeout"` // 0 = none
}

type RetryConfig struct {
	MaxRetries   int      `yaml:"max_retries"`
	InitialDelay Duration `yaml:"initial_delay"`
	Multiplier   float64  `yaml:"multiplier"`
	MaxDelay     Duration `yaml:"max_delay"`
}

// Retry converts the section into the coordinator's config.
func (r RetryConfig) Retry() retry.Config {
	return retry.Config{
		MaxRetries:   r.MaxRetries,
		InitialDelay: time.Duration(r.InitialDelay),
		Multiplier:   r.Multiplier,
		MaxDelay:     time.Duration(r.MaxDelay),
	}
}

type CacheConfig struct {
	DedupeInFlight bool `yaml:"dedupe_in_flight"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// Config is the whole file.
type Config struct {
	ActiveProvider string                       `yaml:"active_provider"`
	Agents         map[string]agent.AgentConfig `yaml:"agents"`
	LLM            LLMConfig                    `yaml:"llm"`
	Retry          RetryConfig                  `yaml:"retry"`
	Cache          CacheConfig                  `yaml:"cache"`
	Server         ServerConfig                 `yaml:"server"`
	Logging        logging.Config               `yaml:"logging"`
	Database       DatabaseConfig               `yaml:"database"`
	PromptsDir     string                       `yaml:"prompts_dir"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	r := retry.DefaultConfig()
	return Config{
		ActiveProvider: "gemini",
		Agents:         map[string]agent.AgentConfig{},
		LLM: LLMConfig{
			Model:       "gemini-2.5-flash",
			Temperature: 0.1,
		},
		Retry: RetryConfig{
			MaxRetries:   r.MaxRetries,
			InitialDelay: Duration(r.InitialDelay),
			Multiplier:   r.Multiplier,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		Logging: logging.Config{Level: "info", Format: "console"},
	}
}

// Agent returns the provider manager's view of the config.
func (c Config) Agent() agent.Config {
	return agent.Config{ActiveProvider: c.ActiveProvider, Agents: c.Agents}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return Config{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables. GEMINI_API_KEY only fills an
// empty llm.api_key; the others always win when set.
func (c *Config) ApplyEnv() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RESEARCH_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("ACTIVE_PROVIDER"); v != "" {
		c.ActiveProvider = v
	}
}

// Validate rejects settings the binaries cannot run with.
func (c Config) Validate() error {
	if !isKnownProvider(c.ActiveProvider) {
		return fmt.Errorf("unknown active_provider %q (known: %s)", c.ActiveProvider, strings.Join(KnownProviders, ", "))
	}
	for task, a := range c.Agents {
		if a.Provider != "" && !isKnownProvider(a.Provider) {
			return fmt.Errorf("agent %s: unknown provider %q", task, a.Provider)
		}
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1, got %g", c.Retry.Multiplier)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2], got %g", c.LLM.Temperature)
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("llm.timeout must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

func isKnownProvider(name string) bool {
	for _, p := range KnownProviders {
		if p == name {
			return true
		}
	}
	return false
}
