package llm

import (
	"context"
	"errors"
	"fmt"
)

// Options tunes a single generation request.
type Options struct {
	Model        string   // overrides the provider default when set
	GoogleSearch bool     // ground the answer with live Google Search results
	Temperature  *float32 // nil keeps the provider default
}

// Provider is the interface for all LLM providers.
type Provider interface {
	// Name is the key the provider is registered under ("gemini", ...).
	Name() string
	GenerateResponse(ctx context.Context, prompt string, systemPrompt string, opts Options) (string, error)
	// AdaptInstructions transforms raw instructions into model-specific formats
	AdaptInstructions(rawInstructions string) string
}

// ErrUpstreamCall matches any *UpstreamCallError.
var ErrUpstreamCall = errors.New("upstream call failed")

// UpstreamCallError wraps a transport or service failure. The underlying
// error is kept as-is for errors.Is / errors.As.
type UpstreamCallError struct {
	Provider string
	Err      error
}

func (e *UpstreamCallError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Provider, e.Err)
}

func (e *UpstreamCallError) Unwrap() error { return e.Err }

func (e *UpstreamCallError) Is(target error) bool { return target == ErrUpstreamCall }

func upstreamError(provider string, err error) error {
	return &UpstreamCallError{Provider: provider, Err: err}
}
