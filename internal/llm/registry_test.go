package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// scriptedProvider returns pre-scripted results in order, recording how
// many calls it received.
type scriptedProvider struct {
	name    string
	script  []error // nil means success
	calls   int
	content string
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Complete(_ context.Context, _ CompletionRequest) (*CompletionResponse, error) {
	i := p.calls
	p.calls++
	if i < len(p.script) && p.script[i] != nil {
		return nil, fmt.Errorf("scripted: %w", p.script[i])
	}
	content := p.content
	if content == "" {
		content = "answer"
	}
	return &CompletionResponse{Content: content, Model: p.name}, nil
}

func testRegistry(defaultName string, retry RetryPolicy) *Registry {
	return NewRegistry(ProviderConfig{Provider: defaultName, Model: "test-model"}, retry, 0)
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}
}

func TestRegistry_RateLimitedThenSuccess(t *testing.T) {
	p := &scriptedProvider{name: "flaky", script: []error{ErrRateLimited, ErrRateLimited, nil}}
	r := testRegistry("flaky", fastRetry())
	r.Register("flaky", func(ProviderConfig) (Provider, error) { return p, nil })

	resp, err := r.Generate(context.Background(), ProviderConfig{}, []Message{{Role: RoleUser, Content: "q"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "answer" {
		t.Errorf("content: got %q", resp.Content)
	}
	if p.calls != 3 {
		t.Errorf("calls: got %d, want 3", p.calls)
	}
}

func TestRegistry_RateLimitedExhaustsAttempts(t *testing.T) {
	p := &scriptedProvider{name: "flaky", script: []error{ErrRateLimited, ErrRateLimited, ErrRateLimited}}
	r := testRegistry("flaky", fastRetry())
	r.Register("flaky", func(ProviderConfig) (Provider, error) { return p, nil })

	_, err := r.Generate(context.Background(), ProviderConfig{}, nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if p.calls != 3 {
		t.Errorf("calls: got %d, want 3", p.calls)
	}
}

func TestRegistry_AuthNotRetried(t *testing.T) {
	p := &scriptedProvider{name: "bad", script: []error{ErrAuth}}
	r := testRegistry("bad", fastRetry())
	r.Register("bad", func(ProviderConfig) (Provider, error) { return p, nil })

	_, err := r.Generate(context.Background(), ProviderConfig{}, nil)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if p.calls != 1 {
		t.Errorf("calls: got %d, want 1", p.calls)
	}
}

func TestRegistry_InvalidResponseNotRetried(t *testing.T) {
	p := &scriptedProvider{name: "bad", script: []error{ErrInvalidResponse}}
	r := testRegistry("bad", fastRetry())
	r.Register("bad", func(ProviderConfig) (Provider, error) { return p, nil })

	_, err := r.Generate(context.Background(), ProviderConfig{}, nil)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
	if p.calls != 1 {
		t.Errorf("calls: got %d, want 1", p.calls)
	}
}

func TestRegistry_UnavailableRetriedOnce(t *testing.T) {
	// Two Unavailable results exhaust the single retry even though the
	// attempt budget would allow a third call.
	p := &scriptedProvider{name: "down", script: []error{ErrUnavailable, ErrUnavailable, nil}}
	r := testRegistry("down", fastRetry())
	r.Register("down", func(ProviderConfig) (Provider, error) { return p, nil })

	_, err := r.Generate(context.Background(), ProviderConfig{}, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if p.calls != 2 {
		t.Errorf("calls: got %d, want 2", p.calls)
	}
}

func TestRegistry_FallbackToDefault(t *testing.T) {
	down := &scriptedProvider{name: "down", script: []error{ErrUnavailable, ErrUnavailable}}
	def := &scriptedProvider{name: "def", content: "from default"}

	r := testRegistry("def", fastRetry())
	r.Register("down", func(ProviderConfig) (Provider, error) { return down, nil })
	r.Register("def", func(ProviderConfig) (Provider, error) { return def, nil })

	resp, err := r.Generate(context.Background(), ProviderConfig{Provider: "down"}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "from default" {
		t.Errorf("content: got %q, want fallback answer", resp.Content)
	}
	if down.calls != 2 {
		t.Errorf("failing provider calls: got %d, want 2", down.calls)
	}
	if def.calls != 1 {
		t.Errorf("default provider calls: got %d, want 1", def.calls)
	}
}

func TestRegistry_NoFallbackWhenDefaultFails(t *testing.T) {
	// The default provider being unavailable must not fall back to
	// itself.
	p := &scriptedProvider{name: "def", script: []error{ErrUnavailable, ErrUnavailable}}
	r := testRegistry("def", fastRetry())
	r.Register("def", func(ProviderConfig) (Provider, error) { return p, nil })

	_, err := r.Generate(context.Background(), ProviderConfig{}, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if p.calls != 2 {
		t.Errorf("calls: got %d, want 2", p.calls)
	}
}

func TestRegistry_AuthFailedFallbackNotTaken(t *testing.T) {
	bad := &scriptedProvider{name: "bad", script: []error{ErrAuth}}
	def := &scriptedProvider{name: "def"}

	r := testRegistry("def", fastRetry())
	r.Register("bad", func(ProviderConfig) (Provider, error) { return bad, nil })
	r.Register("def", func(ProviderConfig) (Provider, error) { return def, nil })

	_, err := r.Generate(context.Background(), ProviderConfig{Provider: "bad"}, nil)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if def.calls != 0 {
		t.Error("auth failure must not fall back to the default provider")
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	r := testRegistry("def", fastRetry())
	r.Register("def", func(ProviderConfig) (Provider, error) { return &scriptedProvider{name: "def"}, nil })

	_, err := r.Generate(context.Background(), ProviderConfig{Provider: "nope"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRegistry_StreamFallsBackToComplete(t *testing.T) {
	// scriptedProvider does not implement StreamingProvider; the full
	// content must still arrive through fn.
	p := &scriptedProvider{name: "plain", content: "whole answer"}
	r := testRegistry("plain", fastRetry())
	r.Register("plain", func(ProviderConfig) (Provider, error) { return p, nil })

	var got string
	resp, err := r.GenerateStream(context.Background(), ProviderConfig{}, nil, func(fragment string) error {
		got += fragment
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	if got != "whole answer" || resp.Content != "whole answer" {
		t.Errorf("stream content: got %q, response %q", got, resp.Content)
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{401, ErrAuth},
		{403, ErrAuth},
		{429, ErrRateLimited},
		{500, ErrUnavailable},
		{503, ErrUnavailable},
		{400, ErrInvalidResponse},
	}
	for _, tc := range cases {
		if got := classifyStatus(tc.status); !errors.Is(got, tc.want) {
			t.Errorf("classifyStatus(%d): got %v, want %v", tc.status, got, tc.want)
		}
	}
}

// streamingProvider emits its fragments through fn, then fails with the
// scripted error if one is set.
type streamingProvider struct {
	scriptedProvider
	fragments []string
	failWith  error
}

func (p *streamingProvider) CompleteStream(_ context.Context, _ CompletionRequest, fn StreamFunc) (*CompletionResponse, error) {
	p.calls++
	var content string
	for _, f := range p.fragments {
		content += f
		if err := fn(f); err != nil {
			return nil, err
		}
	}
	if p.failWith != nil {
		return nil, fmt.Errorf("scripted: %w", p.failWith)
	}
	return &CompletionResponse{Content: content, Model: p.name}, nil
}

func TestRegistry_NoFallbackAfterStreamedFragments(t *testing.T) {
	flaky := &streamingProvider{
		scriptedProvider: scriptedProvider{name: "flaky"},
		fragments:        []string{"partial "},
		failWith:         ErrUnavailable,
	}
	def := &scriptedProvider{name: "stable", content: "from default"}
	r := testRegistry("stable", fastRetry())
	r.Register("flaky", func(ProviderConfig) (Provider, error) { return flaky, nil })
	r.Register("stable", func(ProviderConfig) (Provider, error) { return def, nil })

	var got []string
	_, err := r.GenerateStream(context.Background(), ProviderConfig{Provider: "flaky"}, nil, func(fragment string) error {
		got = append(got, fragment)
		return nil
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	// The consumer already saw output; neither a retry nor the default
	// provider may replay it.
	if flaky.calls != 1 {
		t.Errorf("flaky calls: got %d, want 1", flaky.calls)
	}
	if def.calls != 0 {
		t.Errorf("default provider calls: got %d, want 0", def.calls)
	}
	if len(got) != 1 || got[0] != "partial " {
		t.Errorf("fragments: got %v, want the single delivered fragment", got)
	}
}

func TestRegistry_StreamFallsBackBeforeFragments(t *testing.T) {
	flaky := &streamingProvider{
		scriptedProvider: scriptedProvider{name: "flaky"},
		failWith:         ErrUnavailable,
	}
	def := &scriptedProvider{name: "stable", content: "from default"}
	r := testRegistry("stable", fastRetry())
	r.Register("flaky", func(ProviderConfig) (Provider, error) { return flaky, nil })
	r.Register("stable", func(ProviderConfig) (Provider, error) { return def, nil })

	var got []string
	resp, err := r.GenerateStream(context.Background(), ProviderConfig{Provider: "flaky"}, nil, func(fragment string) error {
		got = append(got, fragment)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	if resp.Content != "from default" {
		t.Errorf("content: got %q, want the default provider's answer", resp.Content)
	}
	if flaky.calls != 2 {
		t.Errorf("flaky calls: got %d, want 2 (one retry before fallback)", flaky.calls)
	}
	if len(got) != 1 || got[0] != "from default" {
		t.Errorf("fragments: got %v, want the fallback content once", got)
	}
}
