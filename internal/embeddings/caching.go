package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"
)

// RetryPolicy bounds how transient embedding failures are retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy retries transient failures up to 3 times, doubling
// the wait each attempt starting at 500ms.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 500 * time.Millisecond}

// CachingEmbedder wraps an Embedder with a content-hash cache and bounded
// retry of transient failures. Cache failures are logged, never fatal.
type CachingEmbedder struct {
	inner Embedder
	cache Cache
	retry RetryPolicy
}

// NewCachingEmbedder wraps inner with the given cache and retry policy.
func NewCachingEmbedder(inner Embedder, cache Cache, retry RetryPolicy) *CachingEmbedder {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &CachingEmbedder{inner: inner, cache: cache, retry: retry}
}

func (e *CachingEmbedder) Name() string {
	return e.inner.Name()
}

func (e *CachingEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Embed returns one vector per input text. Texts whose content hash is
// already cached under this model identity are served from the cache; the
// rest go to the provider in a single batched call.
func (e *CachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := CacheKey(e.inner.Name(), hashText(text))
		vec, ok, err := e.cache.Get(ctx, key)
		if err != nil {
			log.Printf("embedding cache get failed: %v", err)
		}
		if ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	vectors, err := e.embedWithRetry(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, i := range missIdx {
		results[i] = vectors[j]
		key := CacheKey(e.inner.Name(), hashText(texts[i]))
		if err := e.cache.Set(ctx, key, vectors[j]); err != nil {
			log.Printf("embedding cache set failed: %v", err)
		}
	}

	return results, nil
}

// embedWithRetry calls the provider, retrying ErrUnavailable with
// exponential backoff up to MaxAttempts. Permanent failures return
// immediately.
func (e *CachingEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	backoff := e.retry.Backoff

	for attempt := 0; attempt < e.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		vectors, err := e.inner.Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("embedding failed after %d attempts: %w", e.retry.MaxAttempts, lastErr)
}

func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
