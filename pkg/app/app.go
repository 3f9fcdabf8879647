// Package app wires configuration into a ready research service. Both
// binaries start here.
package app

import (
	"context"
	"fmt"
	"time"

	"stock_research/pkg/core/agent"
	"stock_research/pkg/core/config"
	"stock_research/pkg/core/llm"
	"stock_research/pkg/core/logging"
	"stock_research/pkg/core/metrics"
	"stock_research/pkg/core/prompt"
	"stock_research/pkg/core/research"
	"stock_research/pkg/core/store"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
)

// App holds everything built from one Config.
type App struct {
	Config   config.Config
	Logger   *log.Logger
	AgentMgr *agent.Manager
	Service  *research.Service
	History  *store.AnalysisRepo // nil without database.url
	Registry *prometheus.Registry

	pool *pgxpool.Pool
}

// Providers builds every provider the config can name.
func Providers(cfg config.Config, logger *log.Logger) []llm.Provider {
	llmLogger := logging.Component(logger, "llm")
	return []llm.Provider{
		&llm.GeminiProvider{
			Model:   cfg.LLM.Model,
			APIKey:  cfg.LLM.APIKey,
			Timeout: time.Duration(cfg.LLM.Timeout),
			Logger:  llmLogger,
		},
		&llm.LegacyGeminiProvider{
			Model:  cfg.LLM.Model,
			APIKey: cfg.LLM.APIKey,
			Logger: llmLogger,
		},
		&llm.StubProvider{Respond: llm.DemoResponder},
	}
}

// New builds the App. When database.url is set the history table is created
// if needed; a database that cannot be reached is an error.
func New(ctx context.Context, cfg config.Config, logger *log.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}

	builder := prompt.DefaultBuilder()
	if cfg.PromptsDir != "" {
		if err := prompt.LoadFromDirectory(builder.Registry(), cfg.PromptsDir); err != nil {
			return nil, fmt.Errorf("failed to load prompts from %s: %w", cfg.PromptsDir, err)
		}
		logger.Info().Str("dir", cfg.PromptsDir).Int("prompts", builder.Registry().Count()).Msg("prompt overrides loaded")
	}

	a.AgentMgr = agent.NewManager(cfg.Agent(), logging.Component(logger, "agent"), Providers(cfg, logger)...)

	temperature := cfg.LLM.Temperature
	opts := []research.Option{
		research.WithLogger(logger),
		research.WithRetryConfig(cfg.Retry.Retry()),
		research.WithSingleFlight(cfg.Cache.DedupeInFlight),
		research.WithMetrics(metrics.New(a.Registry)),
		research.WithModelOptions(cfg.LLM.Model, &temperature),
	}

	if cfg.Database.URL != "" {
		pool, err := store.OpenPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.History = store.NewAnalysisRepo(pool)
		if err := a.History.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		opts = append(opts, research.WithHistory(a.History))
		logger.Info().Msg("analysis history enabled")
	}

	a.Service = research.NewService(a.AgentMgr, builder, opts...)
	return a, nil
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
