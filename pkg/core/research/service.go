// Package research is the entry point used by the HTTP and CLI surfaces.
//
// Each call builds a prompt, makes one upstream request per attempt, extracts
// the JSON object from the answer and maps it onto domain types. A failure
// anywhere in that chain re-runs the whole chain under the retry schedule.
package research

import (
	"context"
	"errors"
	"strings"
	"time"

	"stock_research/pkg/core/agent"
	"stock_research/pkg/core/llm"
	"stock_research/pkg/core/logging"
	"stock_research/pkg/core/mapper"
	"stock_research/pkg/core/metrics"
	"stock_research/pkg/core/prompt"
	"stock_research/pkg/core/retry"
	"stock_research/pkg/core/store"
	"stock_research/pkg/core/utils"
	"stock_research/pkg/models"

	"github.com/phuslu/log"
	"golang.org/x/sync/singleflight"
)

// ErrEmptyQuery is returned for a blank analysis query; no upstream call is made.
var ErrEmptyQuery = errors.New("query is empty")

// Executor sends one prompt for a task. *agent.Manager implements it.
type Executor interface {
	ExecutePrompt(ctx context.Context, task, prompt, systemPrompt string, opts llm.Options) (string, error)
}

// HistoryRecorder receives every successful analysis. *store.AnalysisRepo
// implements it.
type HistoryRecorder interface {
	Save(ctx context.Context, query string, result *models.AnalysisResult) error
}

// Service answers analysis and recommendation queries.
type Service struct {
	executor  Executor
	prompts   *prompt.Builder
	cache     *store.RegionCache
	retry     retry.Config
	retryOpts []retry.Option
	history   HistoryRecorder
	metrics   *metrics.Metrics
	logger    *log.Logger
	now       func() time.Time
	group     *singleflight.Group
	options   llm.Options
}

type Option func(*Service)

// WithCache shares a region cache between services.
func WithCache(c *store.RegionCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithRetryConfig(cfg retry.Config) Option {
	return func(s *Service) { s.retry = cfg }
}

// WithRetryOptions passes extra options to every retry.Do call.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *Service) { s.retryOpts = append(s.retryOpts, opts...) }
}

func WithHistory(h HistoryRecorder) Option {
	return func(s *Service) { s.history = h }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) { s.logger = logging.Component(logger, "research") }
}

// WithClock replaces time.Now for prompt dates and capture timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSingleFlight collapses concurrent cache misses for the same region
// into one upstream fetch. The shared fetch ignores cancellation of the
// caller that started it.
func WithSingleFlight(enabled bool) Option {
	return func(s *Service) {
		if enabled {
			s.group = &singleflight.Group{}
		} else {
			s.group = nil
		}
	}
}

// WithModelOptions sets the model and temperature sent with every request.
// Google Search grounding is always requested.
func WithModelOptions(model string, temperature *float32) Option {
	return func(s *Service) {
		s.options.Model = model
		s.options.Temperature = temperature
	}
}

// NewService wires a service. Without options it uses a private region
// cache, the default retry schedule and a discarding logger.
func NewService(executor Executor, prompts *prompt.Builder, opts ...Option) *Service {
	s := &Service{
		executor: executor,
		prompts:  prompts,
		cache:    store.NewRegionCache(),
		retry:    retry.DefaultConfig(),
		logger:   logging.Component(nil, "research"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.options.GoogleSearch = true
	return s
}

// Cache exposes the region cache for operators and tests.
func (s *Service) Cache() *store.RegionCache {
	return s.cache
}

type analysisOutcome struct {
	result *models.AnalysisResult
	found  bool
}

// AnalyzeEntity researches one company or ticker. found is false when the
// model reports that no such company exists; that is a successful answer
// and is not retried. A non-nil error means every attempt failed; it is the
// last attempt's error.
func (s *Service) AnalyzeEntity(ctx context.Context, query string) (result *models.AnalysisResult, found bool, err error) {
	if strings.TrimSpace(query) == "" {
		return nil, false, ErrEmptyQuery
	}

	out, err := retry.Do(ctx, s.retry, func(ctx context.Context) (analysisOutcome, error) {
		payload, err := s.fetch(ctx, agent.TaskAnalysis, func(today time.Time) (prompt.Prompt, error) {
			return s.prompts.AnalysisPrompt(query, today)
		}, "exists")
		if err != nil {
			return analysisOutcome{}, err
		}
		res, found := mapper.MapAnalysis(payload, s.now())
		return analysisOutcome{result: res, found: found}, nil
	}, s.retryOptions()...)

	if err != nil {
		s.metrics.ObserveResult(agent.TaskAnalysis, metrics.OutcomeFailed)
		s.logger.Error().Err(err).Str("query", query).Msg("analysis failed")
		return nil, false, err
	}

	if !out.found {
		s.metrics.ObserveResult(agent.TaskAnalysis, metrics.OutcomeNotFound)
		s.logger.Info().Str("query", query).Msg("company not found")
		return nil, false, nil
	}

	s.metrics.ObserveResult(agent.TaskAnalysis, metrics.OutcomeFound)
	s.logger.Info().
		Str("query", query).
		Str("symbol", out.result.Symbol).
		Str("valuation", string(out.result.Valuation)).
		Msg("analysis ready")

	if s.history != nil {
		if err := s.history.Save(ctx, query, out.result); err != nil {
			s.logger.Warn().Err(err).Str("query", query).Msg("failed to record analysis history")
		}
	}
	return out.result, true, nil
}

// ListRecommendations returns sector picks for region. It never fails: when
// nothing can be obtained it logs the cause and returns an empty slice, which
// is not cached.
func (s *Service) ListRecommendations(ctx context.Context, region models.Region) []models.SectorRecommendation {
	if cached, ok := s.cache.Get(region); ok {
		s.metrics.ObserveCache(string(region), true)
		s.logger.Debug().Str("region", string(region)).Msg("recommendations served from cache")
		return cached
	}
	s.metrics.ObserveCache(string(region), false)

	if s.group == nil {
		return s.loadRecommendations(ctx, region)
	}

	// The shared fetch outlives a cancelled leader.
	v, _, _ := s.group.Do(string(region), func() (interface{}, error) {
		return s.loadRecommendations(context.WithoutCancel(ctx), region), nil
	})
	return v.([]models.SectorRecommendation)
}

func (s *Service) loadRecommendations(ctx context.Context, region models.Region) []models.SectorRecommendation {
	sectors, err := retry.Do(ctx, s.retry, func(ctx context.Context) ([]models.SectorRecommendation, error) {
		payload, err := s.fetch(ctx, agent.TaskMarket, func(today time.Time) (prompt.Prompt, error) {
			return s.prompts.RecommendationsPrompt(region, today)
		}, "sectors")
		if err != nil {
			return nil, err
		}
		return mapper.MapRecommendations(payload), nil
	}, s.retryOptions()...)

	if err != nil {
		s.metrics.ObserveResult(agent.TaskMarket, metrics.OutcomeFailed)
		s.logger.Error().Err(err).Str("region", string(region)).Msg("recommendations unavailable, returning empty list")
		return []models.SectorRecommendation{}
	}

	if !s.cache.Put(region, sectors) {
		s.metrics.ObserveResult(agent.TaskMarket, metrics.OutcomeEmpty)
		s.logger.Warn().Str("region", string(region)).Msg("empty recommendations, not caching")
		return []models.SectorRecommendation{}
	}

	s.metrics.ObserveResult(agent.TaskMarket, metrics.OutcomeOK)
	s.logger.Info().Str("region", string(region)).Int("sectors", len(sectors)).Msg("recommendations cached")
	return sectors
}

// fetch runs one build-call-extract chain. A repaired answer missing any of
// the required keys counts as malformed and is retried.
func (s *Service) fetch(ctx context.Context, task string, build func(today time.Time) (prompt.Prompt, error), required ...string) (map[string]interface{}, error) {
	p, err := build(s.now())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	text, err := s.executor.ExecutePrompt(ctx, task, p.User, p.System, s.options)
	s.metrics.ObserveAttempt(task, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	payload, err := utils.ExtractJSON(text, required...)
	if err != nil {
		var malformed *utils.MalformedResponseError
		if errors.As(err, &malformed) {
			s.logger.Debug().Str("task", task).Str("raw", malformed.Raw).Msg("unparseable model response")
		}
		return nil, err
	}
	return payload, nil
}

func (s *Service) retryOptions() []retry.Option {
	return append([]retry.Option{retry.WithLogger(s.logger)}, s.retryOpts...)
}
