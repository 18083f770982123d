package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/embeddings"
	"github.com/docchat/docchat/internal/llm"
	"github.com/docchat/docchat/internal/store"
)

// fakeEmbedder produces deterministic normalized vectors from text so
// identical text always lands on the same point.
type fakeEmbedder struct {
	dims  int
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dims)
		for j, ch := range text {
			vec[(int(ch)+j)%f.dims]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v * v)
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for j := range vec {
				vec[j] = float32(float64(vec[j]) / norm)
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }
func (f *fakeEmbedder) Name() string    { return "fake-embed" }

// fakeProvider echoes a canned answer and records the requests it saw.
type fakeProvider struct {
	name     string
	content  string
	requests []llm.CompletionRequest
	err      error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{Content: p.content, Model: p.name}, nil
}

func testEngine(t *testing.T) (*Engine, *fakeEmbedder, *fakeProvider) {
	t.Helper()
	embedder := &fakeEmbedder{dims: 32}
	eng, provider := testEngineWith(t, embedder)
	return eng, embedder, provider
}

func testEngineWith(t *testing.T, embedder embeddings.Embedder) (*Engine, *fakeProvider) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	provider := &fakeProvider{name: "fake", content: "grounded answer"}
	registry := llm.NewRegistry(
		llm.ProviderConfig{Provider: "fake", Model: "fake-model"},
		llm.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond},
		0,
	)
	registry.Register("fake", func(llm.ProviderConfig) (llm.Provider, error) { return provider, nil })

	eng, err := New(cfg, Options{
		Store:    st,
		Embedder: embedder,
		Registry: registry,
		IndexDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng, provider
}

func TestIngestSync_FullPipeline(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := testEngine(t)

	chat, err := eng.Store().CreateChat(ctx, "u1", "fox chat")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	// 1200 runes with size 500 / overlap 50 chunk at 0, 450, 900.
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 26)
	text += strings.Repeat("x", 1200-len([]rune(text)))

	doc, err := eng.IngestSync(ctx, "u1", chat.ID, "fox.txt", []byte(text))
	if err != nil {
		t.Fatalf("IngestSync: %v", err)
	}
	if doc.Status != store.StatusCompleted {
		t.Fatalf("status: got %s (%s), want completed", doc.Status, doc.FailureReason)
	}
	if doc.TextLength != 1200 {
		t.Errorf("text length: got %d, want 1200", doc.TextLength)
	}

	chunks, err := eng.Store().ChunksByTenant(ctx, "u1", chat.ID)
	if err != nil {
		t.Fatalf("ChunksByTenant: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunks: got %d, want 3", len(chunks))
	}

	count, err := eng.Indexes().Count(ctx, tenantKey("u1", chat.ID))
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("indexed vectors: got %d, want 3", count)
	}
}

func TestIngestSync_Idempotent(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := testEngine(t)

	text := strings.Repeat("stable content ", 100)
	if _, err := eng.IngestSync(ctx, "u1", "", "a.txt", []byte(text)); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	first, _ := eng.Store().ChunksByTenant(ctx, "u1", "")

	// The same content in a second document maps to different chunk ids
	// (ids include the document id), but re-processing one document must
	// not duplicate its own chunks.
	doc2, err := eng.IngestSync(ctx, "u1", "", "a.txt", []byte(text))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if doc2.Status != store.StatusCompleted {
		t.Fatalf("second ingest status: %s", doc2.Status)
	}
	second, _ := eng.Store().ChunksByTenant(ctx, "u1", "")
	if len(second) != 2*len(first) {
		t.Errorf("chunks after second document: got %d, want %d", len(second), 2*len(first))
	}
}

func TestIngest_RejectsBadUploads(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := testEngine(t)

	if _, err := eng.Ingest(ctx, "u1", "", "image.png", []byte("data")); err == nil {
		t.Error("unsupported format accepted")
	}
	if _, err := eng.Ingest(ctx, "u1", "", "empty.txt", nil); err == nil {
		t.Error("empty upload accepted")
	}

	// Rejections must leave no document behind.
	docs, err := eng.Store().ListDocuments(ctx, "u1", "")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("documents after rejected uploads: %d", len(docs))
	}
}

func TestIngestSync_CorruptFileFails(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := testEngine(t)

	doc, err := eng.IngestSync(ctx, "u1", "", "broken.docx", []byte("not a zip"))
	if err != nil {
		t.Fatalf("IngestSync: %v", err)
	}
	if doc.Status != store.StatusFailed {
		t.Fatalf("status: got %s, want failed", doc.Status)
	}
	if doc.FailureReason == "" {
		t.Error("failed document has no failure reason")
	}
}

func TestAsk_AnswersWithCitations(t *testing.T) {
	ctx := context.Background()
	eng, _, provider := testEngine(t)

	chat, err := eng.Store().CreateChat(ctx, "u1", "docs chat")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	content := "The refund policy allows returns within thirty days of purchase."
	if _, err := eng.IngestSync(ctx, "u1", chat.ID, "policy.txt", []byte(content)); err != nil {
		t.Fatalf("IngestSync: %v", err)
	}

	msg, err := eng.Ask(ctx, "u1", chat.ID, "The refund policy allows returns within how many days?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if msg.Role != store.RoleAssistant || msg.Content != "grounded answer" {
		t.Errorf("assistant message: got %s %q", msg.Role, msg.Content)
	}
	if len(msg.Citations) == 0 {
		t.Error("answer has no citations despite relevant chunks")
	}

	// The provider must have seen the excerpt in the system prompt.
	if len(provider.requests) != 1 {
		t.Fatalf("provider requests: got %d, want 1", len(provider.requests))
	}
	system := provider.requests[0].Messages[0]
	if system.Role != llm.RoleSystem || !strings.Contains(system.Content, "refund policy") {
		t.Errorf("system prompt does not carry the excerpt: %q", system.Content)
	}

	// The turn is persisted: user question plus assistant answer.
	msgs, err := eng.Store().RecentMessages(ctx, chat.ID, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted messages: got %d, want 2", len(msgs))
	}
	if msgs[0].Role != store.RoleUser || msgs[1].Role != store.RoleAssistant {
		t.Errorf("turn roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}
}

func TestAsk_UserWideDocumentsVisibleInChat(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := testEngine(t)

	chat, _ := eng.Store().CreateChat(ctx, "u1", "chat")

	// Ingested without a chat id: user-wide scope.
	content := "Shipping takes five business days within the country."
	if _, err := eng.IngestSync(ctx, "u1", "", "shipping.txt", []byte(content)); err != nil {
		t.Fatalf("IngestSync: %v", err)
	}

	msg, err := eng.Ask(ctx, "u1", chat.ID, "Shipping takes five business days within the country?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(msg.Citations) == 0 {
		t.Error("user-wide document not retrieved from a chat-scoped question")
	}
}

func TestAsk_NoDocuments(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := testEngine(t)

	chat, _ := eng.Store().CreateChat(ctx, "u1", "empty chat")

	msg, err := eng.Ask(ctx, "u1", chat.ID, "hello there")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(msg.Citations) != 0 {
		t.Errorf("citations without documents: %v", msg.Citations)
	}
}

func TestAsk_WrongUser(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := testEngine(t)

	chat, _ := eng.Store().CreateChat(ctx, "alice", "private")
	if _, err := eng.Ask(ctx, "bob", chat.ID, "question"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cross-user ask: got %v, want ErrNotFound", err)
	}
}

func TestAsk_GenerationFailurePersistsNothing(t *testing.T) {
	ctx := context.Background()
	eng, _, provider := testEngine(t)
	provider.err = fmt.Errorf("boom: %w", llm.ErrInvalidResponse)

	chat, _ := eng.Store().CreateChat(ctx, "u1", "chat")
	if _, err := eng.Ask(ctx, "u1", chat.ID, "question"); err == nil {
		t.Fatal("expected generation failure")
	}

	msgs, _ := eng.Store().RecentMessages(ctx, chat.ID, 10)
	if len(msgs) != 0 {
		t.Errorf("messages persisted despite failed turn: %d", len(msgs))
	}
}

func TestAskStream_DeliversFragments(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := testEngine(t)

	chat, _ := eng.Store().CreateChat(ctx, "u1", "chat")

	var streamed string
	msg, err := eng.AskStream(ctx, "u1", chat.ID, "question", func(fragment string) error {
		streamed += fragment
		return nil
	})
	if err != nil {
		t.Fatalf("AskStream: %v", err)
	}
	if streamed != msg.Content {
		t.Errorf("streamed %q, persisted %q", streamed, msg.Content)
	}
}

func TestDeleteDocument_RemovedFromSearch(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := testEngine(t)

	chat, _ := eng.Store().CreateChat(ctx, "u1", "chat")
	content := "The warranty covers manufacturing defects for two years."
	doc, err := eng.IngestSync(ctx, "u1", chat.ID, "warranty.txt", []byte(content))
	if err != nil {
		t.Fatalf("IngestSync: %v", err)
	}

	before, err := eng.Ask(ctx, "u1", chat.ID, "The warranty covers manufacturing defects for how long?")
	if err != nil {
		t.Fatalf("Ask before delete: %v", err)
	}
	if len(before.Citations) == 0 {
		t.Fatal("document not retrievable before delete")
	}

	if err := eng.DeleteDocument(ctx, "u1", doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	if _, err := eng.Store().GetDocument(ctx, "u1", doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("document still stored: %v", err)
	}

	after, err := eng.Ask(ctx, "u1", chat.ID, "The warranty covers manufacturing defects for how long?")
	if err != nil {
		t.Fatalf("Ask after delete: %v", err)
	}
	if len(after.Citations) != 0 {
		t.Errorf("deleted document still cited: %v", after.Citations)
	}
}

func TestAsk_UsesSavedProviderConfig(t *testing.T) {
	ctx := context.Background()
	eng, _, defaultProvider := testEngine(t)

	other := &fakeProvider{name: "other", content: "from other"}
	eng.registry.Register("other", func(cfg llm.ProviderConfig) (llm.Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: missing key", llm.ErrAuth)
		}
		return other, nil
	})

	t.Setenv("OTHER_API_KEY", "secret")
	if err := eng.Store().UpsertProviderConfig(ctx, store.ProviderConfig{
		UserID:    "u1",
		Provider:  "other",
		Model:     "other-model",
		APIKeyRef: "OTHER_API_KEY",
	}); err != nil {
		t.Fatalf("UpsertProviderConfig: %v", err)
	}

	chat, _ := eng.Store().CreateChat(ctx, "u1", "chat")
	msg, err := eng.Ask(ctx, "u1", chat.ID, "question")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if msg.Content != "from other" {
		t.Errorf("content: got %q, want the saved provider's answer", msg.Content)
	}
	if len(defaultProvider.requests) != 0 {
		t.Error("default provider used despite a saved configuration")
	}
}

// cancellingEmbedder cancels the run's context from inside Embed,
// simulating a timeout firing mid-pipeline.
type cancellingEmbedder struct {
	fakeEmbedder
	cancel context.CancelFunc
}

func (c *cancellingEmbedder) Embed(ctx context.Context, _ []string) ([][]float32, error) {
	c.cancel()
	return nil, ctx.Err()
}

func TestIngestSync_CancelledRunMarksFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	embedder := &cancellingEmbedder{fakeEmbedder: fakeEmbedder{dims: 32}, cancel: cancel}
	eng, _ := testEngineWith(t, embedder)

	doc, err := eng.IngestSync(ctx, "u1", "", "note.txt", []byte(strings.Repeat("words ", 40)))
	if err != nil {
		t.Fatalf("IngestSync: %v", err)
	}
	// Cancellation must not strand the document in processing.
	if doc.Status != store.StatusFailed {
		t.Fatalf("status: got %s, want failed", doc.Status)
	}
	if doc.FailureReason == "" {
		t.Error("failure reason not recorded")
	}
}

func TestIngestSync_RejectsUnknownChat(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := testEngine(t)

	_, err := eng.IngestSync(ctx, "u1", "no-such-chat", "a.txt", []byte("text"))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	docs, err := eng.Store().ListDocuments(ctx, "u1", "no-such-chat")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("documents scoped to a nonexistent chat: %d", len(docs))
	}
}

// rejectingEmbedder refuses any text containing marker, like a provider
// rejecting unembeddable content.
type rejectingEmbedder struct {
	fakeEmbedder
	marker string
}

func (r *rejectingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if strings.Contains(text, r.marker) {
			return nil, fmt.Errorf("unembeddable content: %w", embeddings.ErrRejected)
		}
	}
	return r.fakeEmbedder.Embed(ctx, texts)
}

func TestIngestSync_RejectedChunksDropped(t *testing.T) {
	ctx := context.Background()
	embedder := &rejectingEmbedder{fakeEmbedder: fakeEmbedder{dims: 32}, marker: "@@poison@@"}
	eng, _ := testEngineWith(t, embedder)

	// 600 runes: the first chunk [0,500) carries the marker, the second
	// chunk [450,600) is clean.
	text := "@@poison@@" + strings.Repeat("a", 440) + strings.Repeat("b", 150)

	doc, err := eng.IngestSync(ctx, "u1", "", "mixed.txt", []byte(text))
	if err != nil {
		t.Fatalf("IngestSync: %v", err)
	}
	if doc.Status != store.StatusCompleted {
		t.Fatalf("status: got %s (%s), want completed", doc.Status, doc.FailureReason)
	}

	// The rejected chunk's row is gone, so a rebuild only sees text the
	// provider accepted.
	chunks, err := eng.Store().ChunksByTenant(ctx, "u1", "")
	if err != nil {
		t.Fatalf("ChunksByTenant: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("stored chunks: got %d, want 1", len(chunks))
	}
	if strings.Contains(chunks[0].Content, "@@poison@@") {
		t.Error("rejected chunk row survived")
	}

	count, err := eng.Indexes().Count(ctx, tenantKey("u1", ""))
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("indexed vectors: got %d, want 1", count)
	}
}
