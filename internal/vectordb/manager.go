package vectordb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docchat/docchat/internal/embeddings"
)

// ErrPersistenceDegraded signals that persisting an index failed after
// retries. The in-memory index stays authoritative for the session; callers
// surface the warning instead of failing the user-visible operation.
var ErrPersistenceDegraded = errors.New("index persistence degraded")

// TenantKey scopes one isolated vector index: a user, optionally narrowed
// to a single chat.
type TenantKey struct {
	UserID string
	ChatID string // empty means the user-wide index
}

func (k TenantKey) String() string {
	if k.ChatID == "" {
		return k.UserID
	}
	return k.UserID + "/" + k.ChatID
}

// fileStem is the on-disk name for the tenant's index files. The user-wide
// sentinel contains "+", which sanitizeStem never emits, so no chat id can
// sanitize to the same stem.
func (k TenantKey) fileStem() string {
	if k.ChatID == "" {
		return sanitizeStem(k.UserID) + "--+all"
	}
	return sanitizeStem(k.UserID) + "--" + sanitizeStem(k.ChatID)
}

func sanitizeStem(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// StoredChunk is a chunk as read back from durable storage for a rebuild.
type StoredChunk struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Text       string
}

// ChunkSource supplies the stored chunk text of a tenant so the Manager can
// re-embed everything after an embedding-model change.
type ChunkSource interface {
	TenantChunks(ctx context.Context, userID, chatID string) ([]StoredChunk, error)
}

// tenant pairs one live Index with the lock that serializes access to it:
// shared for searches, exclusive for mutations and the rebuild swap.
type tenant struct {
	mu  sync.RWMutex
	idx *Index
}

// Manager owns the set of per-tenant indexes. There is at most one live
// Index per tenant key; operations on different keys proceed fully in
// parallel. On an embedding-model change it rebuilds the tenant's index
// from stored chunk text and swaps it in atomically, so searches never
// observe a gap.
type Manager struct {
	dir      string
	embedder embeddings.Embedder
	source   ChunkSource

	persistAttempts int
	persistBackoff  time.Duration

	mu      sync.Mutex
	tenants map[TenantKey]*tenant
}

// NewManager creates a Manager persisting indexes under dir.
func NewManager(dir string, embedder embeddings.Embedder, source ChunkSource) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	return &Manager{
		dir:             dir,
		embedder:        embedder,
		source:          source,
		persistAttempts: 3,
		persistBackoff:  200 * time.Millisecond,
		tenants:         make(map[TenantKey]*tenant),
	}, nil
}

func (m *Manager) indexPath(key TenantKey) string {
	return filepath.Join(m.dir, key.fileStem()+".gob.gz")
}

func (m *Manager) manifestPath(key TenantKey) string {
	return filepath.Join(m.dir, key.fileStem()+".manifest.json")
}

// get returns the tenant slot for key, creating it if needed. The slot's
// index is loaded lazily under its own lock.
func (m *Manager) get(key TenantKey) *tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[key]
	if !ok {
		t = &tenant{}
		m.tenants[key] = t
	}
	return t
}

// ensure loads or creates the tenant's index. Must be called with the
// tenant's write lock held. A persisted index built with a different
// embedding model triggers a full rebuild from stored chunks.
func (m *Manager) ensure(ctx context.Context, key TenantKey, t *tenant) error {
	if t.idx != nil {
		if t.idx.Model() != m.embedder.Name() || t.idx.Dimensions() != m.embedder.Dimensions() {
			return m.rebuildLocked(ctx, key, t)
		}
		return nil
	}

	ipath, mpath := m.indexPath(key), m.manifestPath(key)
	if _, err := os.Stat(ipath); err == nil {
		idx, err := LoadIndex(ipath, mpath)
		if err != nil {
			return fmt.Errorf("loading index for %s: %w", key, err)
		}
		t.idx = idx
		if idx.Model() != m.embedder.Name() || idx.Dimensions() != m.embedder.Dimensions() {
			log.Printf("index %s built with model %q (dim %d), current is %q (dim %d): rebuilding",
				key, idx.Model(), idx.Dimensions(), m.embedder.Name(), m.embedder.Dimensions())
			return m.rebuildLocked(ctx, key, t)
		}
		return nil
	}

	idx, err := NewIndex(m.embedder.Name(), m.embedder.Dimensions())
	if err != nil {
		return fmt.Errorf("creating index for %s: %w", key, err)
	}
	t.idx = idx
	return nil
}

// Add inserts chunk vectors into the tenant's index and persists it.
// A failed persist degrades durability without failing the add: the
// returned error wraps ErrPersistenceDegraded in that case.
func (m *Manager) Add(ctx context.Context, key TenantKey, entries []Entry) error {
	t := m.get(key)
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := m.ensure(ctx, key, t); err != nil {
		return err
	}
	if err := t.idx.Add(ctx, entries); err != nil {
		return err
	}
	return m.persistLocked(ctx, key, t)
}

// RemoveDocument drops every chunk of documentID from the tenant's index.
func (m *Manager) RemoveDocument(ctx context.Context, key TenantKey, documentID string) error {
	t := m.get(key)
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := m.ensure(ctx, key, t); err != nil {
		return err
	}
	if err := t.idx.RemoveDocument(ctx, documentID); err != nil {
		return err
	}
	return m.persistLocked(ctx, key, t)
}

// DropTenant discards the tenant's in-memory index and deletes its files.
// Used when the scope itself goes away, such as a chat deletion.
func (m *Manager) DropTenant(ctx context.Context, key TenantKey) error {
	t := m.get(key)
	t.mu.Lock()
	t.idx = nil
	t.mu.Unlock()

	m.mu.Lock()
	delete(m.tenants, key)
	m.mu.Unlock()

	for _, p := range []string{m.indexPath(key), m.manifestPath(key)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return nil
}

// Search runs a nearest-neighbor query against the tenant's index.
// A tenant with no index yet returns no results, not an error.
func (m *Manager) Search(ctx context.Context, key TenantKey, queryVector []float32, k int) ([]Result, error) {
	t := m.get(key)

	t.mu.RLock()
	idx := t.idx
	t.mu.RUnlock()

	if idx == nil {
		// First touch of this key in this process: load under the write
		// lock, then retry the read path.
		t.mu.Lock()
		if err := m.ensure(ctx, key, t); err != nil {
			t.mu.Unlock()
			return nil, err
		}
		t.mu.Unlock()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.idx == nil || t.idx.Count() == 0 {
		return nil, nil
	}
	return t.idx.Search(ctx, queryVector, k)
}

// Count reports how many vectors the tenant's index holds.
func (m *Manager) Count(ctx context.Context, key TenantKey) (int, error) {
	t := m.get(key)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := m.ensure(ctx, key, t); err != nil {
		return 0, err
	}
	return t.idx.Count(), nil
}

// Rebuild re-embeds every stored chunk of the tenant and atomically swaps
// in the fresh index. The old index keeps serving searches until the swap.
func (m *Manager) Rebuild(ctx context.Context, key TenantKey) error {
	t := m.get(key)
	t.mu.Lock()
	defer t.mu.Unlock()
	return m.rebuildLocked(ctx, key, t)
}

// rebuildLocked assumes the tenant's write lock is held. The fresh index is
// fully built before it replaces the old one, so no search observes a
// half-built index.
func (m *Manager) rebuildLocked(ctx context.Context, key TenantKey, t *tenant) error {
	chunks, err := m.source.TenantChunks(ctx, key.UserID, key.ChatID)
	if err != nil {
		return fmt.Errorf("reading stored chunks for %s: %w", key, err)
	}

	fresh, err := NewIndex(m.embedder.Name(), m.embedder.Dimensions())
	if err != nil {
		return fmt.Errorf("creating rebuild index for %s: %w", key, err)
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := m.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("re-embedding chunks for %s: %w", key, err)
		}

		entries := make([]Entry, len(chunks))
		for i, c := range chunks {
			entries[i] = Entry{
				ChunkID:    c.ChunkID,
				DocumentID: c.DocumentID,
				Ordinal:    c.Ordinal,
				Text:       c.Text,
				Vector:     vectors[i],
			}
		}
		if err := fresh.Add(ctx, entries); err != nil {
			return fmt.Errorf("populating rebuild index for %s: %w", key, err)
		}
	}

	t.idx = fresh
	return m.persistLocked(ctx, key, t)
}

// persistLocked writes the index to disk, retrying with backoff. After the
// attempts are exhausted the in-memory index remains authoritative and the
// error wraps ErrPersistenceDegraded.
func (m *Manager) persistLocked(ctx context.Context, key TenantKey, t *tenant) error {
	var lastErr error
	backoff := m.persistBackoff

	for attempt := 0; attempt < m.persistAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err := t.idx.Persist(ctx, m.indexPath(key), m.manifestPath(key)); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("%w: %s: %v", ErrPersistenceDegraded, key, lastErr)
}
