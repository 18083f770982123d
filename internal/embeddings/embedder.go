// Package embeddings maps text to fixed-dimension vectors through
// pluggable provider backends.
package embeddings

import (
	"context"
	"errors"
)

// Embedder defines the interface for generating text embeddings.
type Embedder interface {
	// Embed generates embeddings for one or more texts. The result has one
	// vector per input, in input order, all of Dimensions() length.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the number of dimensions in the embedding vectors.
	Dimensions() int

	// Name returns the identity of the embedding model. Vectors produced
	// under different names must never share an index.
	Name() string
}

// ErrUnavailable marks transient provider failures (rate limits, timeouts,
// 5xx). Callers retry these with bounded backoff.
var ErrUnavailable = errors.New("embedding provider unavailable")

// ErrRejected marks permanent failures for a given input (text too long,
// invalid request). The chunk is skipped; ingestion continues.
var ErrRejected = errors.New("embedding request rejected")

// classifyStatus maps an HTTP status code onto the embedding error taxonomy.
func classifyStatus(status int) error {
	switch {
	case status == 429 || status >= 500:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}
