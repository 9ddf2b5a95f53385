package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedProvider paces calls to an underlying provider. Agents of one
// run share a provider, so parallel stages draw from the same budget.
type RateLimitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider allows requestsPerMinute calls with the given
// burst. A non-positive rate returns p unchanged.
func NewRateLimitedProvider(p Provider, requestsPerMinute float64, burst int) Provider {
	if requestsPerMinute <= 0 {
		return p
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerMinute/60), burst),
	}
}

// Chat waits for a token, then delegates.
func (p *RateLimitedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return p.Provider.Chat(ctx, req)
}
