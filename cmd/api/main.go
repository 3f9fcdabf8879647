package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"stock_research/pkg/api"
	apiResearch "stock_research/pkg/api/research"
	"stock_research/pkg/app"
	"stock_research/pkg/core/config"
	"stock_research/pkg/core/logging"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	flag.Parse()

	// Load environment variables
	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New(logging.Config{}).Fatal().Err(err).Msg("failed to load config")
	}

	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise")
	}
	defer a.Close()

	deps := api.Deps{
		Research:       a.Service,
		AgentMgr:       a.AgentMgr,
		Gatherer:       a.Registry,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	}
	// A typed nil would make the history endpoint think a store exists.
	var history apiResearch.HistoryReader
	if a.History != nil {
		history = a.History
	}
	deps.History = history

	logger.Info().
		Str("provider", a.AgentMgr.GetActiveProvider()).
		Bool("history", a.History != nil).
		Msg("routes: POST /api/research/analyze, GET /api/research/market, GET /api/research/history, GET /api/config, POST /api/config/switch, GET /metrics, GET /healthz")

	if err := api.ListenAndServe(ctx, cfg.Server.Addr, api.NewRouter(deps), logger); err != nil {
		logger.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}
