// Package llm provides the Language Model Service client used to draft
// outreach replies.
//
// Providers are black boxes with a hard per-request timeout; a missing or
// malformed response is a recoverable failure the generator degrades from,
// never a crash.
package llm

import "context"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// CompletionRequest holds parameters for an LLM completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
}

// CompletionResponse holds the model's reply.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	StopReason   string `json:"stop_reason"`
}

// Provider is the interface for LLM providers.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic").
	Name() string

	// Complete sends a completion request and returns the response. The
	// context deadline bounds the call.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Chain tries providers in order, returning the first success. Used so a
// secondary OpenAI-compatible endpoint can back up the primary provider.
type Chain struct {
	providers []Provider
}

// NewChain creates a provider chain. At least one provider is expected;
// Complete on an empty chain returns ErrNoProvider.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Complete routes the request through the chain. The last error is
// returned if every provider fails.
func (c *Chain) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if len(c.providers) == 0 {
		return nil, ErrNoProvider
	}
	var lastErr error
	for _, p := range c.providers {
		resp, err := p.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// Len returns the number of providers in the chain.
func (c *Chain) Len() int { return len(c.providers) }

// ErrNoProvider is returned when the chain has no providers configured.
var ErrNoProvider = &ProviderError{Message: "no LLM provider configured"}

// ProviderError represents an LLM provider error.
type ProviderError struct {
	Message    string
	StatusCode int
	Provider   string
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return e.Provider + ": " + e.Message
	}
	return e.Message
}
