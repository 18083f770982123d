package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Factory builds a Provider from a user's provider configuration.
type Factory func(cfg ProviderConfig) (Provider, error)

// RetryPolicy bounds how RateLimited failures are retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Registry holds the set of known provider adapters and runs the
// retry/fallback policy around them. Provider selection is per request
// (from the user's configuration); the process-wide default is used when a
// request does not name a provider and as the fallback when a non-default
// provider is unavailable.
type Registry struct {
	factories     map[string]Factory
	defaultConfig ProviderConfig
	retry         RetryPolicy
	rpm           int
}

// NewRegistry creates a Registry with the built-in adapters registered.
func NewRegistry(defaultConfig ProviderConfig, retry RetryPolicy, rpm int) *Registry {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	r := &Registry{
		factories:     make(map[string]Factory),
		defaultConfig: defaultConfig,
		retry:         retry,
		rpm:           rpm,
	}

	r.Register("openai", func(cfg ProviderConfig) (Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: openai API key is missing", ErrAuth)
		}
		return NewOpenAIProvider(cfg.APIKey, cfg.Model), nil
	})
	r.Register("gemini", func(cfg ProviderConfig) (Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: gemini API key is missing", ErrAuth)
		}
		return NewGeminiProvider(cfg.APIKey, cfg.Model), nil
	})
	r.Register("groq", func(cfg ProviderConfig) (Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: groq API key is missing", ErrAuth)
		}
		return NewGroqProvider(cfg.APIKey, cfg.Model), nil
	})
	r.Register("mistral", func(cfg ProviderConfig) (Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: mistral API key is missing", ErrAuth)
		}
		return NewMistralProvider(cfg.APIKey, cfg.Model), nil
	})
	r.Register("ollama", func(cfg ProviderConfig) (Provider, error) {
		return NewOllamaProvider(cfg.BaseURL, cfg.Model), nil
	})

	return r
}

// Register adds or replaces a provider factory under name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// DefaultProvider returns the name of the process-wide default provider.
func (r *Registry) DefaultProvider() string {
	return r.defaultConfig.Provider
}

// build resolves a provider instance for cfg, applying the rate limiter.
func (r *Registry) build(cfg ProviderConfig) (Provider, error) {
	factory, ok := r.factories[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	p, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	if r.rpm > 0 {
		p = NewRateLimitedProvider(p, r.rpm)
	}
	return p, nil
}

// resolve fills an empty provider selection from the process default.
func (r *Registry) resolve(cfg ProviderConfig) ProviderConfig {
	if cfg.Provider == "" {
		return r.defaultConfig
	}
	return cfg
}

// Generate runs a completion under the failure policy: RateLimited is
// retried with exponential backoff up to the bounded attempt count;
// Unavailable is retried once and then, if the failing provider was not the
// default, the default provider takes over; Auth and InvalidResponse
// surface immediately.
func (r *Registry) Generate(ctx context.Context, cfg ProviderConfig, messages []Message) (*CompletionResponse, error) {
	return r.generate(ctx, cfg, messages, nil)
}

// GenerateStream behaves like Generate but streams fragments to fn when the
// selected provider supports it. The fallback path delivers the fallback
// provider's output through fn as well.
func (r *Registry) GenerateStream(ctx context.Context, cfg ProviderConfig, messages []Message, fn StreamFunc) (*CompletionResponse, error) {
	return r.generate(ctx, cfg, messages, fn)
}

// streamTracker records whether any fragment has reached the consumer.
// Once output is visible downstream, retrying or falling back would replay
// it from the start, so the failure policy stops instead.
type streamTracker struct {
	fn        StreamFunc
	delivered bool
}

func (t *streamTracker) stream(fragment string) error {
	t.delivered = true
	return t.fn(fragment)
}

func (r *Registry) generate(ctx context.Context, cfg ProviderConfig, messages []Message, fn StreamFunc) (*CompletionResponse, error) {
	cfg = r.resolve(cfg)

	tracker := &streamTracker{fn: fn}
	if fn != nil {
		fn = tracker.stream
	}

	resp, err := r.tryProvider(ctx, cfg, messages, fn, tracker)
	if err == nil {
		return resp, nil
	}

	// Unavailable on a non-default provider falls back to the default,
	// unless the stream already delivered fragments.
	if errors.Is(err, ErrUnavailable) && !tracker.delivered && cfg.Provider != r.defaultConfig.Provider {
		log.Printf("provider %s unavailable, falling back to default %s: %v", cfg.Provider, r.defaultConfig.Provider, err)
		return r.tryProvider(ctx, r.defaultConfig, messages, fn, tracker)
	}

	return nil, err
}

// tryProvider runs the bounded retry loop against a single provider.
func (r *Registry) tryProvider(ctx context.Context, cfg ProviderConfig, messages []Message, fn StreamFunc, tracker *streamTracker) (*CompletionResponse, error) {
	provider, err := r.build(cfg)
	if err != nil {
		return nil, err
	}

	req := CompletionRequest{
		Model:       cfg.Model,
		Messages:    messages,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}

	var lastErr error
	backoff := r.retry.Backoff
	unavailableSeen := false

	for attempt := 0; attempt < r.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		resp, err := r.complete(ctx, provider, req, fn)
		if err == nil {
			return resp, nil
		}
		if permanent(err) {
			return nil, err
		}
		if tracker.delivered {
			// Fragments already reached the consumer; a retry would
			// duplicate them.
			return nil, err
		}
		if errors.Is(err, ErrUnavailable) {
			// Unavailable is retried once, not for the full attempt budget.
			if unavailableSeen {
				return nil, err
			}
			unavailableSeen = true
		}
		lastErr = err
	}

	return nil, fmt.Errorf("provider %s failed after %d attempts: %w", provider.Name(), r.retry.MaxAttempts, lastErr)
}

func (r *Registry) complete(ctx context.Context, provider Provider, req CompletionRequest, fn StreamFunc) (*CompletionResponse, error) {
	if fn == nil {
		return provider.Complete(ctx, req)
	}
	if sp, ok := provider.(StreamingProvider); ok {
		return sp.CompleteStream(ctx, req, fn)
	}
	resp, err := provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := fn(resp.Content); err != nil {
		return nil, err
	}
	return resp, nil
}
