package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedProvider wraps a provider with a token-bucket rate limiter.
// Requests block until the limiter admits them or the context is cancelled.
// Hosted LLM APIs enforce requests-per-minute quotas; limiting client-side
// avoids burning retry budget on 429s.
type RateLimitedProvider struct {
	provider Provider
	limiter  *rate.Limiter
}

// NewRateLimitedProvider wraps a provider with a limiter admitting rps
// requests per second with the given burst size.
func NewRateLimitedProvider(provider Provider, rps float64, burst int) *RateLimitedProvider {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Name returns the wrapped provider's name.
func (p *RateLimitedProvider) Name() string {
	return p.provider.Name()
}

// Capabilities returns the wrapped provider's capabilities.
func (p *RateLimitedProvider) Capabilities() Capabilities {
	return p.provider.Capabilities()
}

// Complete waits for the rate limiter, then delegates to the wrapped provider.
func (p *RateLimitedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.provider.Complete(ctx, req)
}
