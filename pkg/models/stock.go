package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Valuation is the closed-set verdict on whether the current price is low,
// fair or high relative to fundamentals.
type Valuation string

const (
	ValuationUndervalued Valuation = "UNDERVALUED"
	ValuationFair        Valuation = "FAIR"
	ValuationOvervalued  Valuation = "OVERVALUED"
	ValuationUnknown     Valuation = "UNKNOWN"
)

// Trend is the directional indicator attached to a market recommendation.
type Trend string

const (
	TrendUp      Trend = "up"
	TrendDown    Trend = "down"
	TrendNeutral Trend = "neutral"
)

// Region scopes recommendation queries to one market.
type Region string

const (
	RegionBR Region = "BR" // B3
	RegionUS Region = "US" // NYSE / NASDAQ
)

// Regions lists every supported region in display order.
var Regions = []Region{RegionBR, RegionUS}

var ErrUnknownRegion = errors.New("unknown region")

// ParseRegion accepts "br", "BR", " us " etc.
func ParseRegion(s string) (Region, error) {
	switch Region(strings.ToUpper(strings.TrimSpace(s))) {
	case RegionBR:
		return RegionBR, nil
	case RegionUS:
		return RegionUS, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRegion, s)
}

// Metric is a named sub-score of the financial health assessment.
type Metric struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Score int    `json:"score"` // 0-100
}

// NewsItem is a recent headline about the analysed company.
type NewsItem struct {
	Title  string `json:"title"`
	Source string `json:"source"`
	Date   string `json:"date"`
	URL    string `json:"url,omitempty"`
}

// KeyStats holds public market statistics exactly as reported upstream.
type KeyStats struct {
	MarketCap     string `json:"marketCap"`
	PERatio       string `json:"peRatio"`
	DividendYield string `json:"dividendYield"`
	Week52High    string `json:"week52High"`
	Week52Low     string `json:"week52Low"`
}

// AnalysisResult is the validated analysis of a single company.
// Prices and statistics stay as the formatted strings the upstream supplied.
type AnalysisResult struct {
	Symbol               string     `json:"symbol"`
	CompanyName          string     `json:"companyName"`
	CurrentPrice         string     `json:"currentPrice"`
	Currency             string     `json:"currency"`
	Sector               string     `json:"sector"`
	Description          string     `json:"description"`
	Pros                 []string   `json:"pros"`
	Cons                 []string   `json:"cons"`
	KeyStats             KeyStats   `json:"keyStats"`
	News                 []NewsItem `json:"news"`
	Valuation            Valuation  `json:"valuation"`
	FinancialHealthScore int        `json:"financialHealthScore"`
	Metrics              []Metric   `json:"metrics"`
	GeneratedAt          time.Time  `json:"lastUpdated"`
}

// MarketRecommendation is one stock pick inside a sector.
type MarketRecommendation struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Price  string `json:"price"`
	Reason string `json:"reason"`
	Trend  Trend  `json:"trend"`
}

// SectorRecommendation groups picks by sector, in upstream order.
type SectorRecommendation struct {
	SectorName string                 `json:"sectorName"`
	Stocks     []MarketRecommendation `json:"stocks"`
}
