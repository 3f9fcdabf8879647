package research

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stock_research/pkg/core/logging"
	coreResearch "stock_research/pkg/core/research"
	"stock_research/pkg/core/store"
	"stock_research/pkg/models"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResearcher struct {
	result  *models.AnalysisResult
	found   bool
	err     error
	sectors []models.SectorRecommendation

	gotQuery  string
	gotRegion models.Region
}

func (f *fakeResearcher) AnalyzeEntity(ctx context.Context, query string) (*models.AnalysisResult, bool, error) {
	f.gotQuery = query
	return f.result, f.found, f.err
}

func (f *fakeResearcher) ListRecommendations(ctx context.Context, region models.Region) []models.SectorRecommendation {
	f.gotRegion = region
	if f.sectors == nil {
		return []models.SectorRecommendation{}
	}
	return f.sectors
}

type fakeHistory struct {
	entries  []store.HistoryEntry
	err      error
	gotLimit int
}

func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]store.HistoryEntry, error) {
	f.gotLimit = limit
	return f.entries, f.err
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/research", h.Routes)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleAnalyze(t *testing.T) {
	petr4 := &models.AnalysisResult{Symbol: "PETR4", Valuation: models.ValuationFair, GeneratedAt: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)}

	tests := []struct {
		name       string
		body       string
		svc        *fakeResearcher
		wantStatus int
		wantState  string
		check      func(t *testing.T, resp AnalyzeResponse)
	}{
		{
			name:       "found",
			body:       `{"query": "PETR4"}`,
			svc:        &fakeResearcher{result: petr4, found: true},
			wantStatus: http.StatusOK,
			wantState:  "ok",
			check: func(t *testing.T, resp AnalyzeResponse) {
				require.NotNil(t, resp.Result)
				assert.Equal(t, "PETR4", resp.Result.Symbol)
			},
		},
		{
			name:       "not found",
			body:       `{"query": "XYZW9"}`,
			svc:        &fakeResearcher{},
			wantStatus: http.StatusNotFound,
			wantState:  "not_found",
			check: func(t *testing.T, resp AnalyzeResponse) {
				assert.Nil(t, resp.Result)
				assert.Contains(t, resp.Message, `"XYZW9"`)
			},
		},
		{
			name:       "upstream failure hides detail",
			body:       `{"query": "PETR4"}`,
			svc:        &fakeResearcher{err: errors.New("secret raw model text")},
			wantStatus: http.StatusBadGateway,
			wantState:  "error",
			check: func(t *testing.T, resp AnalyzeResponse) {
				assert.Equal(t, msgConnectionError, resp.Message)
				assert.NotContains(t, resp.Message, "secret")
			},
		},
		{
			name:       "empty query",
			body:       `{"query": ""}`,
			svc:        &fakeResearcher{err: coreResearch.ErrEmptyQuery},
			wantStatus: http.StatusBadRequest,
			wantState:  "error",
		},
		{
			name:       "bad json",
			body:       `{"query":`,
			svc:        &fakeResearcher{},
			wantStatus: http.StatusBadRequest,
			wantState:  "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(NewHandler(tt.svc, nil, logging.Nop()))
			rec := do(t, router, http.MethodPost, "/api/research/analyze", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp AnalyzeResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantState, resp.Status)
			if tt.check != nil {
				tt.check(t, resp)
			}
		})
	}
}

func TestHandleAnalyze_PassesQueryThrough(t *testing.T) {
	svc := &fakeResearcher{}
	do(t, newRouter(NewHandler(svc, nil, nil)), http.MethodPost, "/api/research/analyze", `{"query": "Banco do Brasil"}`)
	assert.Equal(t, "Banco do Brasil", svc.gotQuery)
}

func TestHandleMarket(t *testing.T) {
	sectors := []models.SectorRecommendation{{SectorName: "Tecnologia / Growth", Stocks: []models.MarketRecommendation{{Symbol: "AAPL", Trend: models.TrendUp}}}}

	tests := []struct {
		name       string
		target     string
		svc        *fakeResearcher
		wantStatus int
		wantRegion models.Region
		wantCount  int
	}{
		{"default region", "/api/research/market", &fakeResearcher{}, http.StatusOK, models.RegionBR, 0},
		{"lowercase us", "/api/research/market?region=us", &fakeResearcher{sectors: sectors}, http.StatusOK, models.RegionUS, 1},
		{"unknown region", "/api/research/market?region=EU", &fakeResearcher{}, http.StatusBadRequest, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newRouter(NewHandler(tt.svc, nil, logging.Nop())), http.MethodGet, tt.target, "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp MarketResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantRegion, resp.Region)
			assert.Equal(t, tt.wantRegion, tt.svc.gotRegion)
			assert.Len(t, resp.Sectors, tt.wantCount)
		})
	}
}

func TestHandleMarket_EmptyStateRendersArray(t *testing.T) {
	rec := do(t, newRouter(NewHandler(&fakeResearcher{}, nil, nil)), http.MethodGet, "/api/research/market?region=BR", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"region":"BR","sectors":[]}`, rec.Body.String())
}

func TestHandleHistory(t *testing.T) {
	t.Run("no store", func(t *testing.T) {
		rec := do(t, newRouter(NewHandler(&fakeResearcher{}, nil, nil)), http.MethodGet, "/api/research/history", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("entries", func(t *testing.T) {
		hist := &fakeHistory{entries: []store.HistoryEntry{{ID: "1", Query: "PETR4", Symbol: "PETR4"}}}
		rec := do(t, newRouter(NewHandler(&fakeResearcher{}, hist, nil)), http.MethodGet, "/api/research/history?limit=5", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 5, hist.gotLimit)

		var resp HistoryResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Entries, 1)
		assert.Equal(t, "PETR4", resp.Entries[0].Symbol)
	})

	t.Run("empty renders array", func(t *testing.T) {
		rec := do(t, newRouter(NewHandler(&fakeResearcher{}, &fakeHistory{}, nil)), http.MethodGet, "/api/research/history", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"entries":[]}`, rec.Body.String())
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := do(t, newRouter(NewHandler(&fakeResearcher{}, &fakeHistory{}, nil)), http.MethodGet, "/api/research/history?limit=abc", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store error", func(t *testing.T) {
		rec := do(t, newRouter(NewHandler(&fakeResearcher{}, &fakeHistory{err: errors.New("down")}, nil)), http.MethodGet, "/api/research/history", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "down")
	})
}
