package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stock_research/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HistoryEntry is one saved analysis.
type HistoryEntry struct {
	ID          string                 `json:"id"`
	Query       string                 `json:"query"`
	Symbol      string                 `json:"symbol"`
	Valuation   models.Valuation       `json:"valuation"`
	Result      *models.AnalysisResult `json:"result"`
	GeneratedAt time.Time              `json:"generatedAt"`
}

// AnalysisRepo keeps an append-only log of successful analyses for
// operators. The research service only writes to it; nothing it returns to
// users is ever read back from here.
type AnalysisRepo struct {
	pool *pgxpool.Pool
}

// NewAnalysisRepo creates a new repository instance.
func NewAnalysisRepo(pool *pgxpool.Pool) *AnalysisRepo {
	return &AnalysisRepo{pool: pool}
}

const createHistoryTable = `
	CREATE TABLE IF NOT EXISTS analysis_history (
		id           TEXT PRIMARY KEY,
		query        TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		valuation    TEXT NOT NULL,
		result_json  JSONB NOT NULL,
		generated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS analysis_history_generated_at_idx
		ON analysis_history (generated_at DESC);
`

// EnsureSchema creates the history table when missing.
func (r *AnalysisRepo) EnsureSchema(ctx context.Context) error {
	if r.pool == nil {
		return fmt.Errorf("database pool not initialized")
	}
	if _, err := r.pool.Exec(ctx, createHistoryTable); err != nil {
		return fmt.Errorf("failed to create analysis_history: %w", err)
	}
	return nil
}

// Save records one analysis under a fresh id.
func (r *AnalysisRepo) Save(ctx context.Context, query string, result *models.AnalysisResult) error {
	if r.pool == nil {
		return fmt.Errorf("database pool not initialized")
	}
	if result == nil {
		return fmt.Errorf("nothing to save for %q", query)
	}

	jsonData, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO analysis_history (id, query, symbol, valuation, result_json, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), query, result.Symbol, string(result.Valuation), jsonData, result.GeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

// Recent returns the latest limit analyses, newest first.
func (r *AnalysisRepo) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("database pool not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, query, symbol, valuation, result_json, generated_at
		FROM analysis_history
		ORDER BY generated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var (
			e         HistoryEntry
			valuation string
			jsonData  []byte
		)
		if err := rows.Scan(&e.ID, &e.Query, &e.Symbol, &valuation, &jsonData, &e.GeneratedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Valuation = models.Valuation(valuation)

		var result models.AnalysisResult
		if err := json.Unmarshal(jsonData, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analysis %s: %w", e.ID, err)
		}
		e.Result = &result
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return entries, nil
}
