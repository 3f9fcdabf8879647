package llm

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/phuslu/log"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when neither the provider nor the request names one.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider implements the Provider interface for Google's Gemini models
// using the official GenAI SDK. It is the only provider that can ground
// answers with Google Search.
type GeminiProvider struct {
	Model   string        // e.g. "gemini-2.5-flash"
	APIKey  string        // falls back to GEMINI_API_KEY
	Timeout time.Duration // per request, 0 means none
	Logger  *log.Logger

	once    sync.Once
	client  *genai.Client
	initErr error
}

// Ensure interface compliance
var _ Provider = (*GeminiProvider)(nil)

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) init() {
	apiKey := p.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		p.initErr = fmt.Errorf("GEMINI_API_KEY environment variable not set")
		return
	}

	p.client, p.initErr = genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if p.initErr != nil {
		p.initErr = fmt.Errorf("failed to create GenAI client: %w", p.initErr)
	}
}

// GenerateResponse sends a generateContent request to the Gemini API.
// An empty answer is returned as "" without error; deciding that nothing
// usable came back is the caller's job.
func (p *GeminiProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, opts Options) (string, error) {
	p.once.Do(p.init)
	if p.initErr != nil {
		return "", upstreamError(p.Name(), p.initErr)
	}

	model := p.Model
	if opts.Model != "" {
		model = opts.Model
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0.1)),
	}
	if opts.Temperature != nil {
		config.Temperature = opts.Temperature
	}

	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{
				{Text: systemPrompt},
			},
		}
	}

	// JSON response mode cannot be combined with the search tool, so the
	// output format is enforced by the prompt alone.
	if opts.GoogleSearch {
		config.Tools = []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
		}
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	result, err := p.client.Models.GenerateContent(ctx, model, genai.Text(prompt), config)
	if err != nil {
		return "", upstreamError(p.Name(), fmt.Errorf("gemini generation failed: %w", err))
	}

	p.logGrounding(model, result)
	return result.Text(), nil
}

// logGrounding records which searches and sources backed the answer. They are
// not appended to the text because that would pollute JSON extraction.
func (p *GeminiProvider) logGrounding(model string, result *genai.GenerateContentResponse) {
	if p.Logger == nil || len(result.Candidates) == 0 {
		return
	}
	meta := result.Candidates[0].GroundingMetadata
	if meta == nil {
		return
	}

	var sources []string
	for _, chunk := range meta.GroundingChunks {
		if chunk.Web != nil {
			sources = append(sources, fmt.Sprintf("[%s](%s)", chunk.Web.Title, chunk.Web.URI))
		}
	}
	p.Logger.Debug().
		Str("model", model).
		Strs("search_queries", meta.WebSearchQueries).
		Strs("sources", sources).
		Msg("grounded response")
}

func (p *GeminiProvider) AdaptInstructions(raw string) string {
	return raw
}
