// Package vectordb provides per-tenant nearest-neighbor indexes over
// chunk embeddings, persisted one file per tenant key.
package vectordb

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "chunks"

// Entry is one chunk vector plus the metadata the index needs for
// deterministic ordering and citation.
type Entry struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Text       string
	Vector     []float32
}

// Result is a search hit: chunk id, normalized similarity (higher is more
// relevant), and the owning document.
type Result struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Text       string
	Score      float32
}

// Index is a single tenant's vector index backed by a chromem-go
// collection. All vectors in one Index share the embedding model identity
// and dimension recorded in its manifest; mixing models requires a rebuild.
//
// Index itself is not safe for concurrent use; the Manager serializes
// access per tenant key.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	model      string
	dimensions int
}

// rejectEmbedFunc guards against chromem ever embedding on its own: this
// index only accepts precomputed vectors.
func rejectEmbedFunc(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("index accepts precomputed vectors only")
}

// NewIndex creates an empty in-memory index bound to an embedding model
// identity and dimension.
func NewIndex(model string, dimensions int) (*Index, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(collectionName, nil, rejectEmbedFunc)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Index{
		db:         db,
		collection: col,
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Model returns the embedding model identity the index was built with.
func (ix *Index) Model() string { return ix.model }

// Dimensions returns the vector dimension the index was built with.
func (ix *Index) Dimensions() int { return ix.dimensions }

// Count returns the number of vectors in the index.
func (ix *Index) Count() int { return ix.collection.Count() }

// Add inserts or overwrites chunk vectors. Every vector must match the
// index dimension; deterministic chunk ids make re-adding idempotent.
func (ix *Index) Add(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		if len(e.Vector) != ix.dimensions {
			return fmt.Errorf("chunk %s: vector dimension %d, index expects %d", e.ChunkID, len(e.Vector), ix.dimensions)
		}
		docs[i] = chromem.Document{
			ID:        e.ChunkID,
			Content:   e.Text,
			Embedding: e.Vector,
			Metadata: map[string]string{
				"document_id": e.DocumentID,
				"ordinal":     strconv.Itoa(e.Ordinal),
			},
		}
	}

	if err := ix.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}
	return nil
}

// Remove deletes the given chunk ids from the index.
func (ix *Index) Remove(ctx context.Context, chunkIDs ...string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	if err := ix.collection.Delete(ctx, nil, nil, chunkIDs...); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// RemoveDocument deletes every chunk belonging to a document.
func (ix *Index) RemoveDocument(ctx context.Context, documentID string) error {
	if ix.collection.Count() == 0 {
		return nil
	}
	where := map[string]string{"document_id": documentID}
	if err := ix.collection.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("deleting document chunks: %w", err)
	}
	return nil
}

// Search returns the k nearest chunks to the query vector, ordered by
// descending similarity. Ties are broken by ascending chunk ordinal, then
// chunk id, so repeated searches are deterministic.
func (ix *Index) Search(ctx context.Context, queryVector []float32, k int) ([]Result, error) {
	if len(queryVector) != ix.dimensions {
		return nil, fmt.Errorf("query vector dimension %d, index expects %d", len(queryVector), ix.dimensions)
	}
	if k <= 0 {
		k = 5
	}

	// chromem requires nResults <= collection size.
	count := ix.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	hits, err := ix.collection.QueryEmbedding(ctx, queryVector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		ordinal, _ := strconv.Atoi(h.Metadata["ordinal"])
		results[i] = Result{
			ChunkID:    h.ID,
			DocumentID: h.Metadata["document_id"],
			Ordinal:    ordinal,
			Text:       h.Content,
			Score:      h.Similarity,
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

	return results, nil
}

// Persist exports the index to a single file alongside a manifest that
// records its embedding model identity and dimension.
func (ix *Index) Persist(ctx context.Context, indexPath, manifestPath string) error {
	if err := ix.db.ExportToFile(indexPath, true, ""); err != nil {
		return fmt.Errorf("exporting index: %w", err)
	}
	m := Manifest{Model: ix.model, Dimensions: ix.dimensions, Count: ix.Count()}
	if err := m.Write(manifestPath); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// LoadIndex restores a persisted index. The manifest is read first so the
// caller can detect an embedding-model mismatch before serving searches.
func LoadIndex(indexPath, manifestPath string) (*Index, error) {
	m, err := ReadManifest(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	db := chromem.NewDB()
	if err := db.ImportFromFile(indexPath, ""); err != nil {
		return nil, fmt.Errorf("importing index: %w", err)
	}

	col := db.GetCollection(collectionName, rejectEmbedFunc)
	if col == nil {
		return nil, fmt.Errorf("collection %q not found after import", collectionName)
	}

	return &Index{
		db:         db,
		collection: col,
		model:      m.Model,
		dimensions: m.Dimensions,
	}, nil
}
