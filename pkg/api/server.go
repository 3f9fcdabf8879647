// Package api assembles the HTTP surface: research endpoints, provider
// switching, health and metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	apiConfig "stock_research/pkg/api/config"
	"stock_research/pkg/api/middleware"
	apiResearch "stock_research/pkg/api/research"
	"stock_research/pkg/core/agent"
	"stock_research/pkg/core/logging"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Research       apiResearch.Researcher
	History        apiResearch.HistoryReader // optional
	AgentMgr       *agent.Manager
	Gatherer       prometheus.Gatherer // nil serves the default registry
	AllowedOrigins []string
	Logger         *log.Logger
}

// NewRouter builds the chi router with every route and middleware.
func NewRouter(d Deps) chi.Router {
	logger := logging.Component(d.Logger, "api")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(logger))
	r.Use(chiMiddleware.Recoverer)

	origins := []string{"*"}
	if len(d.AllowedOrigins) > 0 {
		origins = d.AllowedOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	research := apiResearch.NewHandler(d.Research, d.History, d.Logger)
	r.Route("/api/research", research.Routes)

	if d.AgentMgr != nil {
		cfg := apiConfig.NewHandler(d.AgentMgr)
		r.Get("/api/config", cfg.HandleConfig)
		r.Post("/api/config/switch", cfg.HandleSwitch)
	}

	return r
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("API server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
