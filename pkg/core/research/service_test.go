package research

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stock_research/pkg/core/agent"
	"stock_research/pkg/core/llm"
	"stock_research/pkg/core/logging"
	"stock_research/pkg/core/metrics"
	"stock_research/pkg/core/prompt"
	"stock_research/pkg/core/retry"
	"stock_research/pkg/core/utils"
	"stock_research/pkg/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 19, 15, 30, 0, 0, time.UTC)

// instantTimer fires immediately and records the requested waits.
type instantTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

func newInstantTimer() *instantTimer {
	return &instantTimer{c: make(chan time.Time, 1)}
}

func (t *instantTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

func (t *instantTimer) waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}

type fixture struct {
	stub    *llm.StubProvider
	timer   *instantTimer
	metrics *metrics.Metrics
	svc     *Service
}

func newFixture(t *testing.T, stub *llm.StubProvider, opts ...Option) *fixture {
	t.Helper()
	mgr := agent.NewManager(agent.Config{ActiveProvider: stub.Name()}, logging.Nop(), stub)
	timer := newInstantTimer()
	m := metrics.New(nil)

	base := []Option{
		WithLogger(logging.Nop()),
		WithClock(func() time.Time { return fixedNow }),
		WithRetryOptions(retry.WithTimer(timer)),
		WithMetrics(m),
	}
	svc := NewService(mgr, prompt.DefaultBuilder(), append(base, opts...)...)
	return &fixture{stub: stub, timer: timer, metrics: m, svc: svc}
}

const petr4Answer = "Aqui está a análise:\n```json\n" + `{
  "exists": true,
  "symbol": "PETR4",
  "companyName": "Petrobras",
  "currentPrice": "R$ 38,42",
  "currency": "BRL",
  "sector": "Petróleo e Gás",
  "description": "Estatal de energia.",
  "keyStats": {"marketCap": "R$ 500 bi", "peRatio": "4.1", "dividendYield": "14%", "week52High": "R$ 42,10", "week52Low": "R$ 33,00"},
  "news": [{"title": "Dividendos", "source": "Valor", "date": "2026-10-18"}],
  "pros": ["P/L: 4.1 (Baixo)"],
  "cons": ["Ingerência política"],
  "valuation": "Barato",
  "financialHealthScore": 78,
  "metrics": [{"name": "Rentabilidade", "value": "ROE 30%", "score": 90}],
  "lastUpdated": "2001-01-01T00:00:00Z"
}` + "\n```"

const brSectors = `{"sectors": [
  {"sectorName": "Tecnologia / Growth", "stocks": [{"symbol": "TOTS3", "name": "Totvs", "price": "R$ 35,10", "reason": "Receita recorrente.", "trend": "up"}]},
  {"sectorName": "Finanças / Bancos", "stocks": [{"symbol": "ITUB4", "name": "Itaú", "price": "R$ 36,00", "reason": "ROE alto.", "trend": "neutral"}]}
]}`

func TestAnalyzeEntity_EndToEnd(t *testing.T) {
	f := newFixture(t, llm.NewStubProvider(llm.StubResponse{Text: petr4Answer}))

	got, found, err := f.svc.AnalyzeEntity(context.Background(), "PETR4")
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, "PETR4", got.Symbol)
	assert.Equal(t, "R$ 38,42", got.CurrentPrice)
	assert.Equal(t, models.ValuationUndervalued, got.Valuation)
	assert.Equal(t, 78, got.FinancialHealthScore)
	assert.Equal(t, fixedNow, got.GeneratedAt)

	calls := f.stub.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, `"PETR4"`)
	assert.Contains(t, calls[0].Prompt, "2026-10-19")
	assert.True(t, calls[0].Options.GoogleSearch)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Results.WithLabelValues(agent.TaskAnalysis, metrics.OutcomeFound)))
}

func TestAnalyzeEntity_NotFoundIsNotRetried(t *testing.T) {
	f := newFixture(t, llm.NewStubProvider(llm.StubResponse{Text: `{"exists": false}`}))

	got, found, err := f.svc.AnalyzeEntity(context.Background(), "XYZW9")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
	assert.Equal(t, 1, f.stub.CallCount())
	assert.Empty(t, f.timer.waits())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Results.WithLabelValues(agent.TaskAnalysis, metrics.OutcomeNotFound)))
}

func TestAnalyzeEntity_RecoversWithinRetryBudget(t *testing.T) {
	f := newFixture(t, llm.NewStubProvider(
		llm.StubResponse{Err: errors.New("503 unavailable")},
		llm.StubResponse{Text: "Desculpe, não consegui gerar o JSON."},
		llm.StubResponse{Text: petr4Answer},
	))

	got, found, err := f.svc.AnalyzeEntity(context.Background(), "PETR4")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "PETR4", got.Symbol)
	assert.Equal(t, 3, f.stub.CallCount())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.timer.waits())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.UpstreamAttempts.WithLabelValues(agent.TaskAnalysis, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.UpstreamAttempts.WithLabelValues(agent.TaskAnalysis, "error")))
}

func TestAnalyzeEntity_ExhaustionReturnsLastError(t *testing.T) {
	tests := []struct {
		name     string
		response llm.StubResponse
		target   error
	}{
		{"upstream failure", llm.StubResponse{Err: errors.New("connection refused")}, llm.ErrUpstreamCall},
		{"empty answer", llm.StubResponse{Text: "   "}, utils.ErrEmptyResponse},
		{"no json", llm.StubResponse{Text: "no braces here"}, utils.ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, llm.NewStubProvider(tt.response))

			got, found, err := f.svc.AnalyzeEntity(context.Background(), "PETR4")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.False(t, found)
			assert.Nil(t, got)
			assert.Equal(t, 3, f.stub.CallCount())
		})
	}
}

func TestAnalyzeEntity_EmptyQuery(t *testing.T) {
	f := newFixture(t, llm.NewStubProvider(llm.StubResponse{Text: petr4Answer}))

	_, _, err := f.svc.AnalyzeEntity(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Zero(t, f.stub.CallCount())
}

func TestAnalyzeEntity_CancelledContext(t *testing.T) {
	f := newFixture(t, llm.NewStubProvider(llm.StubResponse{Text: petr4Answer}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, found, err := f.svc.AnalyzeEntity(ctx, "PETR4")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, found)
}

type recorder struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (r *recorder) Save(ctx context.Context, query string, result *models.AnalysisResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	return r.err
}

func TestAnalyzeEntity_RecordsHistory(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, llm.NewStubProvider(llm.StubResponse{Text: petr4Answer}), WithHistory(rec))

	_, found, err := f.svc.AnalyzeEntity(context.Background(), "Petrobras")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"Petrobras"}, rec.queries)
}

func TestAnalyzeEntity_HistoryFailureIgnored(t *testing.T) {
	rec := &recorder{err: errors.New("database down")}
	f := newFixture(t, llm.NewStubProvider(llm.StubResponse{Text: petr4Answer}), WithHistory(rec))

	got, found, err := f.svc.AnalyzeEntity(context.Background(), "PETR4")
	require.NoError(t, err)
	assert.True(t, found)
	assert.NotNil(t, got)
	assert.Equal(t, 1, f.stub.CallCount())
}

func TestAnalyzeEntity_NotFoundIsNotRecorded(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, llm.NewStubProvider(llm.StubResponse{Text: `{"exists": false}`}), WithHistory(rec))

	_, _, err := f.svc.AnalyzeEntity(context.Background(), "XYZW9")
	require.NoError(t, err)
	assert.Empty(t, rec.queries)
}

func TestListRecommendations_CachesPerRegion(t *testing.T) {
	f := newFixture(t, llm.NewStubProvider(llm.StubResponse{Text: brSectors}))
	ctx := context.Background()

	first := f.svc.ListRecommendations(ctx, models.RegionBR)
	require.Len(t, first, 2)
	assert.Equal(t, "Tecnologia / Growth", first[0].SectorName)

	second := f.svc.ListRecommendations(ctx, models.RegionBR)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.stub.CallCount())

	f.svc.ListRecommendations(ctx, models.RegionUS)
	assert.Equal(t, 2, f.stub.CallCount())
	assert.Contains(t, f.stub.Calls()[1].Prompt, "NYSE/NASDAQ")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheLookups.WithLabelValues("BR", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheLookups.WithLabelValues("BR", "miss")))
}

func TestListRecommendations_EmptyResultIsNotCached(t *testing.T) {
	f := newFixture(t, llm.NewStubProvider(
		llm.StubResponse{Text: `{"sectors": []}`},
		llm.StubResponse{Text: brSectors},
	))
	ctx := context.Background()

	first := f.svc.ListRecommendations(ctx, models.RegionBR)
	assert.NotNil(t, first)
	assert.Empty(t, first)

	second := f.svc.ListRecommendations(ctx, models.RegionBR)
	assert.Len(t, second, 2)
	assert.Equal(t, 2, f.stub.CallCount())
}

func TestListRecommendations_FailureReturnsEmptyAndRefetches(t *testing.T) {
	f := newFixture(t, llm.NewStubProvider(
		llm.StubResponse{Err: errors.New("503")},
		llm.StubResponse{Err: errors.New("503")},
		llm.StubResponse{Text: "garbage"},
		llm.StubResponse{Text: brSectors},
	))
	ctx := context.Background()

	got := f.svc.ListRecommendations(ctx, models.RegionBR)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 3, f.stub.CallCount())
	_, cached := f.svc.Cache().Get(models.RegionBR)
	assert.False(t, cached)

	got = f.svc.ListRecommendations(ctx, models.RegionBR)
	assert.Len(t, got, 2)
	assert.Equal(t, 4, f.stub.CallCount())
}

func TestListRecommendations_UnknownRegion(t *testing.T) {
	f := newFixture(t, llm.NewStubProvider(llm.StubResponse{Text: brSectors}))

	got := f.svc.ListRecommendations(context.Background(), models.Region("EU"))
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Zero(t, f.stub.CallCount())
}

func TestListRecommendations_SingleFlightCollapsesMisses(t *testing.T) {
	release := make(chan struct{})
	stub := &llm.StubProvider{Respond: func(call llm.StubCall) (string, error) {
		<-release
		return brSectors, nil
	}}
	f := newFixture(t, stub, WithSingleFlight(true))

	const callers = 5
	var wg sync.WaitGroup
	results := make([][]models.SectorRecommendation, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.ListRecommendations(context.Background(), models.RegionBR)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, stub.CallCount())
	for _, r := range results {
		assert.Len(t, r, 2)
	}
}

func TestListRecommendations_ConcurrentMissesFetchIndependently(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	stub := &llm.StubProvider{Respond: func(call llm.StubCall) (string, error) {
		arrived.Done()
		arrived.Wait()
		return brSectors, nil
	}}
	f := newFixture(t, stub)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.ListRecommendations(context.Background(), models.RegionBR)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, stub.CallCount())
	cached, ok := f.svc.Cache().Get(models.RegionBR)
	require.True(t, ok)
	assert.Len(t, cached, 2)
}

func TestAnalyzeEntity_GarbledAnswerIsRetriedNotNotFound(t *testing.T) {
	tests := []struct {
		name  string
		first string
	}{
		{"truncated answer", "```json\n{\n  \"exis"},
		{"prose inside braces", "Desculpe, {houve um problema} na busca."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, llm.NewStubProvider(
				llm.StubResponse{Text: tt.first},
				llm.StubResponse{Text: petr4Answer},
			))

			got, found, err := f.svc.AnalyzeEntity(context.Background(), "PETR4")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "PETR4", got.Symbol)
			assert.Equal(t, 2, f.stub.CallCount())
			assert.Equal(t, []time.Duration{time.Second}, f.timer.waits())
		})
	}
}

func TestListRecommendations_TruncatedAnswerIsRetried(t *testing.T) {
	f := newFixture(t, llm.NewStubProvider(
		llm.StubResponse{Text: `{"sect`},
		llm.StubResponse{Text: brSectors},
	))

	got := f.svc.ListRecommendations(context.Background(), models.RegionBR)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, f.stub.CallCount())
}

func TestListRecommendations_SingleFlightSurvivesLeaderCancel(t *testing.T) {
	release := make(chan struct{})
	stub := &llm.StubProvider{Respond: func(call llm.StubCall) (string, error) {
		<-release
		return brSectors, nil
	}}
	f := newFixture(t, stub, WithSingleFlight(true))

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var leader, waiter []models.SectorRecommendation

	wg.Add(1)
	go func() {
		defer wg.Done()
		leader = f.svc.ListRecommendations(leaderCtx, models.RegionBR)
	}()
	time.Sleep(30 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		waiter = f.svc.ListRecommendations(context.Background(), models.RegionBR)
	}()
	time.Sleep(30 * time.Millisecond)

	cancelLeader()
	close(release)
	wg.Wait()

	assert.Equal(t, 1, stub.CallCount())
	assert.Len(t, waiter, 2)
	assert.Len(t, leader, 2)
}
