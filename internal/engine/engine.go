// Package engine sequences ingestion, retrieval, prompt composition, and
// generation per user request. It is the only caller of the index manager
// and the persistence layer.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/docchat/docchat/internal/chunker"
	"github.com/docchat/docchat/internal/compose"
	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/embeddings"
	"github.com/docchat/docchat/internal/extract"
	"github.com/docchat/docchat/internal/llm"
	"github.com/docchat/docchat/internal/retrieval"
	"github.com/docchat/docchat/internal/store"
	"github.com/docchat/docchat/internal/vectordb"
)

// Engine is the RAG core: it owns the ingestion pipeline and the per-turn
// orchestration, and holds the only references to the index manager and
// the persistence layer.
type Engine struct {
	cfg       *config.Config
	store     *store.Store
	extractor *extract.Extractor
	chunker   *chunker.Chunker
	embedder  embeddings.Embedder
	indexes   *vectordb.Manager
	retriever *retrieval.Engine
	composer  *compose.Composer
	registry  *llm.Registry

	// ingestWG tracks in-flight asynchronous ingestions so Close can
	// drain them.
	ingestWG sync.WaitGroup
}

// chunkSource adapts the store to the index manager's rebuild interface.
type chunkSource struct {
	store *store.Store
}

func (cs chunkSource) TenantChunks(ctx context.Context, userID, chatID string) ([]vectordb.StoredChunk, error) {
	chunks, err := cs.store.ChunksByTenant(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	out := make([]vectordb.StoredChunk, len(chunks))
	for i, c := range chunks {
		out[i] = vectordb.StoredChunk{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Ordinal:    c.Ordinal,
			Text:       c.Content,
		}
	}
	return out, nil
}

// Options bundles the collaborators New needs beyond the config.
type Options struct {
	Store    *store.Store
	Embedder embeddings.Embedder
	Registry *llm.Registry
	IndexDir string
}

// New wires up an Engine from configuration and collaborators.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	ck, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, fmt.Errorf("creating chunker: %w", err)
	}

	manager, err := vectordb.NewManager(opts.IndexDir, opts.Embedder, chunkSource{store: opts.Store})
	if err != nil {
		return nil, fmt.Errorf("creating index manager: %w", err)
	}

	return &Engine{
		cfg:       cfg,
		store:     opts.Store,
		extractor: extract.New(cfg.MaxUploadBytes),
		chunker:   ck,
		embedder:  opts.Embedder,
		indexes:   manager,
		retriever: retrieval.NewEngine(opts.Embedder, manager, cfg.Retrieval.TopK, cfg.Retrieval.MinScore),
		composer:  compose.New(cfg.ContextBudget, nil),
		registry:  opts.Registry,
	}, nil
}

// Store exposes the persistence layer for the CRUD surface (chat listing,
// document polling). The engine's own logic goes through its methods.
func (e *Engine) Store() *store.Store { return e.store }

// Indexes exposes the index manager, mainly for tests and the CLI.
func (e *Engine) Indexes() *vectordb.Manager { return e.indexes }

// Close waits for in-flight asynchronous ingestions to settle.
func (e *Engine) Close() {
	e.ingestWG.Wait()
}

// DeleteChat removes a chat, its messages, its chat-scoped documents, and
// the chat's index. User-wide documents are untouched.
func (e *Engine) DeleteChat(ctx context.Context, userID, chatID string) error {
	if _, err := e.store.GetChat(ctx, userID, chatID); err != nil {
		return err
	}
	if err := e.indexes.DropTenant(ctx, tenantKey(userID, chatID)); err != nil {
		log.Printf("dropping index for chat %s: %v", chatID, err)
	}
	return e.store.DeleteChat(ctx, userID, chatID)
}

// tenantKey scopes a document or query to its isolated index.
func tenantKey(userID, chatID string) vectordb.TenantKey {
	return vectordb.TenantKey{UserID: userID, ChatID: chatID}
}

// providerConfig resolves the generation setup for a user: their saved
// configuration when present, otherwise the zero value so the registry
// applies the process-wide default.
func (e *Engine) providerConfig(ctx context.Context, userID string) llm.ProviderConfig {
	saved, err := e.store.GetProviderConfig(ctx, userID)
	if err != nil {
		return llm.ProviderConfig{}
	}
	return llm.ProviderConfig{
		Provider:    saved.Provider,
		APIKey:      resolveCredential(saved.APIKeyRef),
		Model:       saved.Model,
		Temperature: saved.Temperature,
		MaxTokens:   saved.MaxTokens,
	}
}

// resolveCredential turns a credential reference into the secret: an
// env-style name is looked up, anything else is taken literally.
func resolveCredential(ref string) string {
	if ref == "" {
		return ""
	}
	if v := os.Getenv(ref); v != "" {
		return v
	}
	return ref
}
