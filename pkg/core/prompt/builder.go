package prompt

import (
	"fmt"
	"time"

	"stock_research/pkg/models"
)

// Sectors covered by the regional recommendations prompt, in order.
var Sectors = []string{
	"Tecnologia / Growth",
	"Finanças / Bancos",
	"Energia / Commodities",
	"Varejo / Consumo",
}

// regionScope constrains which tickers the model may pick per region.
var regionScope = map[models.Region]struct {
	context  string
	currency string
}{
	models.RegionBR: {
		context:  "o mercado brasileiro (B3). Foque APENAS em ações listadas no Brasil (ex: tickers com final 3, 4, 11)",
		currency: "R$",
	},
	models.RegionUS: {
		context:  "o mercado americano (NYSE/NASDAQ). Foque APENAS em ações dos EUA",
		currency: "US$",
	},
}

// Builder renders the instruction text for each research task.
// It holds no state beyond the registry and never calls out.
type Builder struct {
	registry *Registry
}

// NewBuilder renders prompts from registry.
func NewBuilder(registry *Registry) *Builder {
	return &Builder{registry: registry}
}

// DefaultBuilder renders the embedded prompts. It panics if they are broken,
// which TestDefaultBuilder guards against.
func DefaultBuilder() *Builder {
	r, err := LoadDefaults()
	if err != nil {
		panic(fmt.Sprintf("embedded prompts: %v", err))
	}
	return NewBuilder(r)
}

// Registry exposes the underlying prompt registry.
func (b *Builder) Registry() *Registry {
	return b.registry
}

// FormatDate renders the date the way prompts embed it.
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// AnalysisPrompt asks for a full analysis of the company or ticker in query.
func (b *Builder) AnalysisPrompt(query string, today time.Time) (Prompt, error) {
	ctx := NewContext().
		Set("Query", query).
		Set("Today", FormatDate(today))
	return b.render(IDStockAnalysis, ctx)
}

// RecommendationsPrompt asks for sector picks in region.
func (b *Builder) RecommendationsPrompt(region models.Region, today time.Time) (Prompt, error) {
	scope, ok := regionScope[region]
	if !ok {
		return Prompt{}, fmt.Errorf("%w: %q", models.ErrUnknownRegion, region)
	}

	ctx := NewContext().
		Set("Today", FormatDate(today)).
		Set("RegionContext", scope.context).
		Set("Currency", scope.currency).
		Set("Sectors", Sectors)
	return b.render(IDMarketRecommendations, ctx)
}

func (b *Builder) render(id string, ctx *PromptExecutionContext) (Prompt, error) {
	pt, err := b.registry.GetPrompt(id)
	if err != nil {
		return Prompt{}, err
	}

	user, err := RenderUserPrompt(pt, ctx)
	if err != nil {
		return Prompt{}, fmt.Errorf("render %s: %w", id, err)
	}

	return Prompt{ID: pt.ID, System: pt.SystemPrompt, User: user}, nil
}
