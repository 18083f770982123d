// Package retrieval embeds a query and ranks a tenant's chunks against it.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/docchat/docchat/internal/embeddings"
	"github.com/docchat/docchat/internal/vectordb"
)

// Result is one retrieved chunk: ephemeral, never persisted.
type Result struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Text       string
	Score      float32 // normalized similarity, higher is more relevant
}

// Engine retrieves the chunks most relevant to a query within one tenant's
// index.
type Engine struct {
	embedder embeddings.Embedder
	indexes  *vectordb.Manager
	topK     int
	minScore float32
}

// NewEngine creates a retrieval engine. topK <= 0 defaults to 5.
func NewEngine(embedder embeddings.Embedder, indexes *vectordb.Manager, topK int, minScore float32) *Engine {
	if topK <= 0 {
		topK = 5
	}
	return &Engine{
		embedder: embedder,
		indexes:  indexes,
		topK:     topK,
		minScore: minScore,
	}
}

// Retrieve embeds the query, searches the tenant's index, and returns the
// top results above the score threshold in descending score order. A
// missing or empty index yields an empty result, not an error.
func (e *Engine) Retrieve(ctx context.Context, key vectordb.TenantKey, query string) ([]Result, error) {
	return e.RetrieveMulti(ctx, []vectordb.TenantKey{key}, query)
}

// RetrieveMulti searches several tenant keys with a single query embedding
// and merges the hits into one ranked list capped at topK. Used to combine
// a chat's own documents with the user's chat-independent ones.
func (e *Engine) RetrieveMulti(ctx context.Context, keys []vectordb.TenantKey, query string) ([]Result, error) {
	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vector for query")
	}

	var results []Result
	for _, key := range keys {
		hits, err := e.indexes.Search(ctx, key, vectors[0], e.topK)
		if err != nil {
			return nil, fmt.Errorf("searching index %s: %w", key, err)
		}
		for _, h := range hits {
			if h.Score < e.minScore {
				continue
			}
			results = append(results, Result{
				ChunkID:    h.ChunkID,
				DocumentID: h.DocumentID,
				Ordinal:    h.Ordinal,
				Text:       h.Text,
				Score:      h.Score,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Ordinal != results[j].Ordinal {
			return results[i].Ordinal < results[j].Ordinal
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > e.topK {
		results = results[:e.topK]
	}
	return results, nil
}
