package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"stock_research/pkg/api/middleware"
	"stock_research/pkg/core/logging"
	coreResearch "stock_research/pkg/core/research"
	"stock_research/pkg/core/store"
	"stock_research/pkg/models"

	"github.com/go-chi/chi/v5"
	"github.com/phuslu/log"
)

// User-facing messages. Upstream detail is logged, never returned.
const (
	msgConnectionError = "Ocorreu um erro ao conectar com a IA. Tente novamente mais tarde."
	msgNotFoundFormat  = "A empresa \"%s\" não foi encontrada ou não possui dados de capital aberto disponíveis."
)

// Researcher is the part of research.Service the handlers use.
type Researcher interface {
	AnalyzeEntity(ctx context.Context, query string) (*models.AnalysisResult, bool, error)
	ListRecommendations(ctx context.Context, region models.Region) []models.SectorRecommendation
}

// HistoryReader lists saved analyses. *store.AnalysisRepo implements it.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]store.HistoryEntry, error)
}

type AnalyzeRequest struct {
	Query string `json:"query"`
}

type AnalyzeResponse struct {
	Status  string                 `json:"status"`
	Result  *models.AnalysisResult `json:"result,omitempty"`
	Message string                 `json:"message,omitempty"`
}

type MarketResponse struct {
	Region  models.Region                 `json:"region"`
	Sectors []models.SectorRecommendation `json:"sectors"`
}

type HistoryResponse struct {
	Entries []store.HistoryEntry `json:"entries"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Handler serves the research endpoints.
type Handler struct {
	Service Researcher
	History HistoryReader // nil when no database is configured
	Logger  *log.Logger
}

// NewHandler creates a research handler. history may be nil.
func NewHandler(service Researcher, history HistoryReader, logger *log.Logger) *Handler {
	return &Handler{Service: service, History: history, Logger: logging.Component(logger, "api")}
}

// Routes mounts the endpoints under the caller's prefix.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/analyze", h.HandleAnalyze)
	r.Get("/market", h.HandleMarket)
	r.Get("/history", h.HandleHistory)
}

func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, found, err := h.Service.AnalyzeEntity(r.Context(), req.Query)
	switch {
	case errors.Is(err, coreResearch.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "query is required")
	case err != nil:
		h.Logger.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("query", req.Query).
			Msg("analysis request failed")
		writeJSON(w, http.StatusBadGateway, AnalyzeResponse{Status: "error", Message: msgConnectionError})
	case !found:
		writeJSON(w, http.StatusNotFound, AnalyzeResponse{Status: "not_found", Message: fmt.Sprintf(msgNotFoundFormat, req.Query)})
	default:
		writeJSON(w, http.StatusOK, AnalyzeResponse{Status: "ok", Result: result})
	}
}

// HandleMarket defaults to BR when no region is given.
func (h *Handler) HandleMarket(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("region")
	if raw == "" {
		raw = string(models.RegionBR)
	}

	region, err := models.ParseRegion(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, MarketResponse{
		Region:  region,
		Sectors: h.Service.ListRecommendations(r.Context(), region),
	})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not configured")
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.History.Recent(r.Context(), limit)
	if err != nil {
		h.Logger.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("failed to read history")
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []store.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Status: "error", Message: msg})
}
