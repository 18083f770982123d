package vectordb

import (
	"context"
	"math"
	"strings"
	"testing"
)

// mockEmbedder returns deterministic embeddings based on text content.
// It produces a simple hash-based vector for reproducible tests.
type mockEmbedder struct {
	dims  int
	name  string
	calls int
}

func newMockEmbedder(dims int) *mockEmbedder {
	return &mockEmbedder{dims: dims, name: "mock"}
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.calls++
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = m.deterministicVector(text)
	}
	return results, nil
}

func (m *mockEmbedder) Dimensions() int { return m.dims }
func (m *mockEmbedder) Name() string    { return m.name }

// deterministicVector produces a normalized vector from text. Similar
// texts produce similar vectors because shared characters contribute to
// the same positions.
func (m *mockEmbedder) deterministicVector(text string) []float32 {
	vec := make([]float32, m.dims)
	for i, ch := range text {
		idx := (int(ch) + i) % m.dims
		vec[idx] += 1.0
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}

// memSource is an in-memory ChunkSource for rebuild tests.
type memSource struct {
	chunks map[TenantKey][]StoredChunk
}

func (s *memSource) TenantChunks(_ context.Context, userID, chatID string) ([]StoredChunk, error) {
	return s.chunks[TenantKey{UserID: userID, ChatID: chatID}], nil
}

func testEntries(emb *mockEmbedder) []Entry {
	texts := []string{
		"the authentication module handles user login",
		"database connection pooling and configuration",
		"http routing and middleware for the api",
	}
	entries := make([]Entry, len(texts))
	for i, text := range texts {
		entries[i] = Entry{
			ChunkID:    string(rune('a' + i)),
			DocumentID: "doc1",
			Ordinal:    i,
			Text:       text,
			Vector:     emb.deterministicVector(text),
		}
	}
	return entries
}

func TestManager_AddAndSearch(t *testing.T) {
	ctx := context.Background()
	emb := newMockEmbedder(64)
	m, err := NewManager(t.TempDir(), emb, &memSource{chunks: map[TenantKey][]StoredChunk{}})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	key := TenantKey{UserID: "u1", ChatID: "chat1"}
	if err := m.Add(ctx, key, testEntries(emb)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	query := emb.deterministicVector("user login and authentication")
	hits, err := m.Search(ctx, key, query, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("Search returned no hits")
	}
	if len(hits) > 2 {
		t.Errorf("Search returned %d hits, want at most 2", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Error("hits not in descending score order")
		}
	}
}

func TestManager_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	emb := newMockEmbedder(64)
	m, _ := NewManager(t.TempDir(), emb, &memSource{chunks: map[TenantKey][]StoredChunk{}})

	keyA := TenantKey{UserID: "alice", ChatID: "c1"}
	if err := m.Add(ctx, keyA, testEntries(emb)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	query := emb.deterministicVector("authentication")
	hits, err := m.Search(ctx, TenantKey{UserID: "bob", ChatID: "c1"}, query, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("bob sees %d of alice's chunks", len(hits))
	}
}

func TestManager_RemoveDocument(t *testing.T) {
	ctx := context.Background()
	emb := newMockEmbedder(64)
	m, _ := NewManager(t.TempDir(), emb, &memSource{chunks: map[TenantKey][]StoredChunk{}})

	key := TenantKey{UserID: "u1", ChatID: ""}
	entries := testEntries(emb)
	entries[2].DocumentID = "doc2"
	if err := m.Add(ctx, key, entries); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := m.RemoveDocument(ctx, key, "doc1"); err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}

	count, err := m.Count(ctx, key)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("Count after remove: got %d, want 1", count)
	}

	query := emb.deterministicVector("the authentication module handles user login")
	hits, err := m.Search(ctx, key, query, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range hits {
		if h.DocumentID == "doc1" {
			t.Errorf("hit from removed document: %s", h.ChunkID)
		}
	}
}

func TestManager_PersistAndReload(t *testing.T) {
	ctx := context.Background()
	emb := newMockEmbedder(64)
	dir := t.TempDir()
	src := &memSource{chunks: map[TenantKey][]StoredChunk{}}

	m1, _ := NewManager(dir, emb, src)
	key := TenantKey{UserID: "u1", ChatID: "c1"}
	if err := m1.Add(ctx, key, testEntries(emb)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// A fresh manager over the same directory lazily loads the
	// persisted index.
	m2, _ := NewManager(dir, emb, src)
	count, err := m2.Count(ctx, key)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("reloaded count: got %d, want 3", count)
	}

	query := emb.deterministicVector("database connection pooling and configuration")
	hits, err := m2.Search(ctx, key, query, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "b" {
		t.Errorf("search after reload: got %v", hits)
	}
}

func TestManager_ModelChangeRebuilds(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := TenantKey{UserID: "u1", ChatID: "c1"}

	entries := testEntries(newMockEmbedder(64))
	src := &memSource{chunks: map[TenantKey][]StoredChunk{key: {}}}
	for _, e := range entries {
		src.chunks[key] = append(src.chunks[key], StoredChunk{
			ChunkID:    e.ChunkID,
			DocumentID: e.DocumentID,
			Ordinal:    e.Ordinal,
			Text:       e.Text,
		})
	}

	oldEmb := newMockEmbedder(64)
	m1, _ := NewManager(dir, oldEmb, src)
	if err := m1.Add(ctx, key, entries); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Same directory, different model identity: the stale index must be
	// rebuilt from stored chunk text, not served as-is.
	newEmb := newMockEmbedder(32)
	newEmb.name = "mock-v2"
	m2, _ := NewManager(dir, newEmb, src)

	count, err := m2.Count(ctx, key)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("rebuilt count: got %d, want 3", count)
	}
	if newEmb.calls == 0 {
		t.Error("rebuild did not re-embed stored chunks")
	}

	query := newEmb.deterministicVector("http routing and middleware for the api")
	hits, err := m2.Search(ctx, key, query, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "c" {
		t.Errorf("search after rebuild: got %v", hits)
	}
}

func TestManager_SearchEmptyTenant(t *testing.T) {
	ctx := context.Background()
	emb := newMockEmbedder(64)
	m, _ := NewManager(t.TempDir(), emb, &memSource{chunks: map[TenantKey][]StoredChunk{}})

	hits, err := m.Search(ctx, TenantKey{UserID: "nobody"}, emb.deterministicVector("anything"), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits != nil {
		t.Errorf("expected no hits, got %v", hits)
	}
}

func TestManager_DropTenant(t *testing.T) {
	ctx := context.Background()
	emb := newMockEmbedder(64)
	dir := t.TempDir()
	src := &memSource{chunks: map[TenantKey][]StoredChunk{}}

	m, _ := NewManager(dir, emb, src)
	key := TenantKey{UserID: "u1", ChatID: "gone"}
	if err := m.Add(ctx, key, testEntries(emb)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := m.DropTenant(ctx, key); err != nil {
		t.Fatalf("DropTenant: %v", err)
	}

	// The tenant starts empty again, even from a fresh manager over the
	// same directory.
	m2, _ := NewManager(dir, emb, src)
	count, err := m2.Count(ctx, key)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("count after drop: got %d, want 0", count)
	}
}

func TestIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx, err := NewIndex("mock", 64)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	err = idx.Add(ctx, []Entry{{ChunkID: "x", DocumentID: "d", Text: "t", Vector: make([]float32, 16)}})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestTenantKeyFileStem(t *testing.T) {
	wide := TenantKey{UserID: "u1"}.fileStem()

	// No real chat id may land on the user-wide stem, whatever it
	// sanitizes to.
	for _, chatID := range []string{"all", "+all", "star", "_all", "-all"} {
		stem := TenantKey{UserID: "u1", ChatID: chatID}.fileStem()
		if stem == wide {
			t.Errorf("chat %q stem %q collides with the user-wide stem", chatID, stem)
		}
	}

	if got := (TenantKey{UserID: "a/b", ChatID: "c.d"}).fileStem(); strings.ContainsAny(got, "/.") {
		t.Errorf("stem %q contains filesystem-unsafe characters", got)
	}
}
