package llm

import (
	"context"
	"strings"
	"sync"
)

// StubResponse is one scripted answer. A non-nil Err is returned as an
// upstream failure.
type StubResponse struct {
	Text string
	Err  error
}

// StubCall records what the stub was asked.
type StubCall struct {
	Prompt       string
	SystemPrompt string
	Options      Options
}

// StubProvider answers from a script instead of the network. Responses are
// consumed in order and the last one repeats. When Respond is set it takes
// precedence over the script.
type StubProvider struct {
	ProviderName string
	Responses    []StubResponse
	Respond      func(call StubCall) (string, error)

	mu    sync.Mutex
	calls []StubCall
}

var _ Provider = (*StubProvider)(nil)

// NewStubProvider returns a stub named "stub" that plays responses in order.
func NewStubProvider(responses ...StubResponse) *StubProvider {
	return &StubProvider{Responses: responses}
}

func (p *StubProvider) Name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "stub"
}

func (p *StubProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", upstreamError(p.Name(), err)
	}

	call := StubCall{Prompt: prompt, SystemPrompt: systemPrompt, Options: opts}

	p.mu.Lock()
	n := len(p.calls)
	p.calls = append(p.calls, call)
	p.mu.Unlock()

	if p.Respond != nil {
		text, err := p.Respond(call)
		if err != nil {
			return "", upstreamError(p.Name(), err)
		}
		return text, nil
	}

	if len(p.Responses) == 0 {
		return "", nil
	}
	if n >= len(p.Responses) {
		n = len(p.Responses) - 1
	}
	r := p.Responses[n]
	if r.Err != nil {
		return "", upstreamError(p.Name(), r.Err)
	}
	return r.Text, nil
}

func (p *StubProvider) AdaptInstructions(raw string) string {
	return raw
}

// Calls returns a copy of every request received so far.
func (p *StubProvider) Calls() []StubCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StubCall(nil), p.calls...)
}

// CallCount is the number of requests received so far.
func (p *StubProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// DemoResponder serves canned answers so the binaries can run offline with
// active_provider "stub". Recommendation prompts are recognised by the
// "sectors" key they ask for.
func DemoResponder(call StubCall) (string, error) {
	if strings.Contains(call.Prompt, `"sectors"`) {
		return demoRecommendations, nil
	}
	return demoAnalysis, nil
}

const demoAnalysis = "```json\n" + `{
  "exists": true,
  "symbol": "DEMO3",
  "companyName": "Demo S.A.",
  "currentPrice": "R$ 10,00",
  "currency": "BRL",
  "sector": "Demonstração",
  "description": "Resposta fixa do provedor stub, sem dados reais.",
  "keyStats": {"marketCap": "R$ 1 bi", "peRatio": "8.0", "dividendYield": "6%", "week52High": "R$ 12,00", "week52Low": "R$ 8,00"},
  "news": [],
  "pros": ["P/L: 8.0 (Baixo)"],
  "cons": ["Liquidez: baixa"],
  "valuation": "Justo",
  "financialHealthScore": 50,
  "metrics": [{"name": "Demo", "value": "n/a", "score": 50}]
}` + "\n```"

const demoRecommendations = `{
  "sectors": [
    {"sectorName": "Tecnologia / Growth", "stocks": [{"symbol": "DEMO3", "name": "Demo S.A.", "price": "R$ 10,00", "reason": "Resposta fixa do provedor stub.", "trend": "neutral"}]}
  ]
}`
