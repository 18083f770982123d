package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedProvider wraps a Provider with a token-bucket rate limiter so
// one tenant's burst cannot exhaust a provider quota for everyone.
type RateLimitedProvider struct {
	provider Provider
	limiter  *rate.Limiter
}

// NewRateLimitedProvider wraps the given provider with a limiter that
// allows at most rpm requests per minute.
func NewRateLimitedProvider(provider Provider, rpm int) Provider {
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
	}
}

func (r *RateLimitedProvider) Name() string {
	return r.provider.Name()
}

func (r *RateLimitedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.provider.Complete(ctx, req)
}

func (r *RateLimitedProvider) CompleteStream(ctx context.Context, req CompletionRequest, fn StreamFunc) (*CompletionResponse, error) {
	sp, ok := r.provider.(StreamingProvider)
	if !ok {
		resp, err := r.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := fn(resp.Content); err != nil {
			return nil, err
		}
		return resp, nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return sp.CompleteStream(ctx, req, fn)
}
