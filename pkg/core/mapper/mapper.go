// Package mapper turns the untrusted JSON objects returned by the model into
// domain types.
//
// The only translations performed are the valuation label lookup and the
// capture timestamp. Everything else passes through as supplied. The payload
// is never trusted to match the schema: a missing field becomes its zero
// value (empty slices, never nil), and a value of the wrong JSON type is
// read leniently where the intent is obvious (a number where a string was
// asked for keeps its JSON spelling, a numeric string where a score was asked
// for is parsed) and zeroed otherwise. String lists keep every element in
// order, so an unreadable element becomes an empty string.
package mapper

import (
	"math"
	"strconv"
	"strings"
	"time"

	"stock_research/pkg/models"
)

// valuationLabels maps the labels the prompt asks for to the closed set.
var valuationLabels = map[string]models.Valuation{
	"Barato": models.ValuationUndervalued,
	"Justo":  models.ValuationFair,
	"Caro":   models.ValuationOvervalued,
}

// ParseValuation maps an upstream label to a verdict. Anything unrecognised,
// including "Desconhecido", a missing value or a non-string, is UNKNOWN.
func ParseValuation(label interface{}) models.Valuation {
	s, ok := label.(string)
	if !ok {
		return models.ValuationUnknown
	}
	if v, ok := valuationLabels[s]; ok {
		return v
	}
	return models.ValuationUnknown
}

// MapAnalysis converts an analysis payload. found is false when the payload
// does not assert that the company exists; in that case nothing else in the
// payload is looked at and the result is nil.
func MapAnalysis(payload map[string]interface{}, now time.Time) (result *models.AnalysisResult, found bool) {
	if !Truthy(payload["exists"]) {
		return nil, false
	}

	stats := object(payload, "keyStats")

	return &models.AnalysisResult{
		Symbol:       str(payload, "symbol"),
		CompanyName:  str(payload, "companyName"),
		CurrentPrice: str(payload, "currentPrice"),
		Currency:     str(payload, "currency"),
		Sector:       str(payload, "sector"),
		Description:  str(payload, "description"),
		Pros:         strs(payload, "pros"),
		Cons:         strs(payload, "cons"),
		KeyStats: models.KeyStats{
			MarketCap:     str(stats, "marketCap"),
			PERatio:       str(stats, "peRatio"),
			DividendYield: str(stats, "dividendYield"),
			Week52High:    str(stats, "week52High"),
			Week52Low:     str(stats, "week52Low"),
		},
		News:                 newsItems(payload),
		Valuation:            ParseValuation(payload["valuation"]),
		FinancialHealthScore: integer(payload, "financialHealthScore"),
		Metrics:              metrics(payload),
		GeneratedAt:          now,
	}, true
}

// MapRecommendations reads the "sectors" array, defaulting to empty. Sector
// and stock order are kept as returned.
func MapRecommendations(payload map[string]interface{}) []models.SectorRecommendation {
	out := []models.SectorRecommendation{}
	for _, s := range objects(payload, "sectors") {
		sector := models.SectorRecommendation{
			SectorName: str(s, "sectorName"),
			Stocks:     []models.MarketRecommendation{},
		}
		for _, st := range objects(s, "stocks") {
			sector.Stocks = append(sector.Stocks, models.MarketRecommendation{
				Symbol: str(st, "symbol"),
				Name:   str(st, "name"),
				Price:  str(st, "price"),
				Reason: str(st, "reason"),
				Trend:  models.Trend(str(st, "trend")),
			})
		}
		out = append(out, sector)
	}
	return out
}

// Truthy reports whether v counts as "yes" for the existence flag.
// Missing, null, false, 0, "" and the strings "false"/"0"/"no" are false.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "false", "0", "no":
			return false
		}
		return true
	default:
		return true
	}
}

func newsItems(payload map[string]interface{}) []models.NewsItem {
	out := []models.NewsItem{}
	for _, n := range objects(payload, "news") {
		out = append(out, models.NewsItem{
			Title:  str(n, "title"),
			Source: str(n, "source"),
			Date:   str(n, "date"),
			URL:    str(n, "url"),
		})
	}
	return out
}

func metrics(payload map[string]interface{}) []models.Metric {
	out := []models.Metric{}
	for _, m := range objects(payload, "metrics") {
		out = append(out, models.Metric{
			Name:  str(m, "name"),
			Value: str(m, "value"),
			Score: integer(m, "score"),
		})
	}
	return out
}

func str(m map[string]interface{}, key string) string {
	return toString(m[key])
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func integer(m map[string]interface{}, key string) int {
	switch t := m[key].(type) {
	case float64:
		return int(math.Round(t))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return int(math.Round(f))
	default:
		return 0
	}
}

func strs(m map[string]interface{}, key string) []string {
	out := []string{}
	items, _ := m[key].([]interface{})
	for _, item := range items {
		out = append(out, toString(item))
	}
	return out
}

func object(m map[string]interface{}, key string) map[string]interface{} {
	obj, _ := m[key].(map[string]interface{})
	return obj
}

func objects(m map[string]interface{}, key string) []map[string]interface{} {
	items, _ := m[key].([]interface{})
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]interface{}); ok {
			out = append(out, obj)
		}
	}
	return out
}
