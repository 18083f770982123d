package llm

import "context"

// Provider defines the interface for LLM providers.
type Provider interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Name returns the name of this provider.
	Name() string
}

// StreamFunc receives one text fragment at a time during a streamed
// completion. Returning an error aborts the stream.
type StreamFunc func(fragment string) error

// StreamingProvider is implemented by providers that can deliver the
// completion incrementally. Callers fall back to Complete when a provider
// does not support streaming.
type StreamingProvider interface {
	Provider
	// CompleteStream streams fragments to fn and returns the assembled
	// response once the provider finishes.
	CompleteStream(ctx context.Context, req CompletionRequest, fn StreamFunc) (*CompletionResponse, error)
}
