package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	legacygenai "github.com/google/generative-ai-go/genai"
	"github.com/phuslu/log"
	"google.golang.org/api/option"
)

// LegacyGeminiProvider talks to Gemini through the older generative-ai-go
// SDK. That SDK has no Google Search grounding, so prices it returns come
// from model memory; keep it as a fallback for environments pinned to it.
type LegacyGeminiProvider struct {
	Model  string
	APIKey string
	Logger *log.Logger
}

var _ Provider = (*LegacyGeminiProvider)(nil)

func (p *LegacyGeminiProvider) Name() string { return "gemini_legacy" }

func (p *LegacyGeminiProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, opts Options) (string, error) {
	apiKey := p.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return "", upstreamError(p.Name(), fmt.Errorf("GEMINI_API_KEY environment variable not set"))
	}

	client, err := legacygenai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return "", upstreamError(p.Name(), fmt.Errorf("failed to create Gemini client: %w", err))
	}
	defer client.Close()

	name := p.Model
	if opts.Model != "" {
		name = opts.Model
	}
	if name == "" {
		name = DefaultGeminiModel
	}

	model := client.GenerativeModel(name)
	model.SetTemperature(0.1)
	if opts.Temperature != nil {
		model.SetTemperature(*opts.Temperature)
	}
	if systemPrompt != "" {
		model.SystemInstruction = &legacygenai.Content{
			Parts: []legacygenai.Part{legacygenai.Text(systemPrompt)},
		}
	}

	if opts.GoogleSearch && p.Logger != nil {
		p.Logger.Warn().Str("provider", p.Name()).Msg("google search grounding not supported, answering without live data")
	}

	resp, err := model.GenerateContent(ctx, legacygenai.Text(prompt))
	if err != nil {
		return "", upstreamError(p.Name(), fmt.Errorf("gemini generation failed: %w", err))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(legacygenai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String(), nil
}

func (p *LegacyGeminiProvider) AdaptInstructions(raw string) string {
	return raw
}
