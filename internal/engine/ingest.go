package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/docchat/docchat/internal/chunker"
	"github.com/docchat/docchat/internal/embeddings"
	"github.com/docchat/docchat/internal/extract"
	"github.com/docchat/docchat/internal/store"
	"github.com/docchat/docchat/internal/vectordb"
)

// ingestTimeout bounds one background ingestion run.
const ingestTimeout = 5 * time.Minute

// Ingest validates and records an upload, then processes it in the
// background. The returned document starts in pending state; callers poll
// its status. Input errors (unsupported format, oversized file) are
// rejected synchronously with no state created.
func (e *Engine) Ingest(ctx context.Context, userID, chatID, filename string, data []byte) (*store.Document, error) {
	doc, err := e.acceptUpload(ctx, userID, chatID, filename, data)
	if err != nil {
		return nil, err
	}

	e.ingestWG.Add(1)
	go func() {
		defer e.ingestWG.Done()
		bgCtx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
		defer cancel()
		if err := e.processDocument(bgCtx, doc, data); err != nil {
			log.Printf("ingesting %s (%s): %v", doc.Filename, doc.ID, err)
		}
	}()

	return doc, nil
}

// IngestSync runs the full pipeline inline and returns the terminal
// document. Used by the CLI, where blocking is what you want.
func (e *Engine) IngestSync(ctx context.Context, userID, chatID, filename string, data []byte) (*store.Document, error) {
	doc, err := e.acceptUpload(ctx, userID, chatID, filename, data)
	if err != nil {
		return nil, err
	}
	if err := e.processDocument(ctx, doc, data); err != nil {
		log.Printf("ingesting %s (%s): %v", doc.Filename, doc.ID, err)
	}
	// Read back on a detached context so a cancelled run still reports the
	// terminal status it was marked with.
	return e.store.GetDocument(context.WithoutCancel(ctx), userID, doc.ID)
}

// acceptUpload validates an upload synchronously and records the pending
// document. Rejections here create no state at all.
func (e *Engine) acceptUpload(ctx context.Context, userID, chatID, filename string, data []byte) (*store.Document, error) {
	filename = extract.SanitizeFilename(filename)
	if !extract.Supported(filename) {
		return nil, fmt.Errorf("%w: %s", extract.ErrUnsupportedFormat, filename)
	}
	if int64(len(data)) > e.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", extract.ErrFileTooLarge, len(data), e.cfg.MaxUploadBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty upload: %s", filename)
	}
	if chatID != "" {
		// Scoping a document to a chat requires that chat to exist and
		// belong to the uploader.
		if _, err := e.store.GetChat(ctx, userID, chatID); err != nil {
			return nil, err
		}
	}

	doc, err := e.store.CreateDocument(ctx, store.Document{
		UserID:   userID,
		ChatID:   chatID,
		Filename: filename,
	})
	if err != nil {
		return nil, fmt.Errorf("recording upload: %w", err)
	}
	return doc, nil
}

// processDocument runs extract -> chunk -> embed -> index for one upload.
// Chunk ids are deterministic, so re-running after a crash overwrites
// instead of duplicating.
func (e *Engine) processDocument(ctx context.Context, doc *store.Document, data []byte) error {
	// Status writes run on a detached context: when ctx is cancelled or
	// times out mid-pipeline, the document must still reach a terminal
	// state instead of sitting in processing forever.
	statusCtx := context.WithoutCancel(ctx)

	if err := e.store.SetDocumentStatus(statusCtx, doc.ID, store.StatusProcessing, 0, ""); err != nil {
		return err
	}

	fail := func(reason error) error {
		if err := e.store.SetDocumentStatus(statusCtx, doc.ID, store.StatusFailed, 0, reason.Error()); err != nil {
			log.Printf("marking document %s failed: %v", doc.ID, err)
		}
		return reason
	}

	text, err := e.extractor.Extract(doc.Filename, data)
	if err != nil {
		return fail(err)
	}

	chunks := e.chunker.Split(doc.ID, text)
	if len(chunks) == 0 {
		// Nothing to embed: the document completes with no index entries.
		return e.store.SetDocumentStatus(statusCtx, doc.ID, store.StatusCompleted, 0, "")
	}

	records := make([]store.Chunk, len(chunks))
	for i, c := range chunks {
		records[i] = store.Chunk{
			ID:         c.ID,
			DocumentID: doc.ID,
			UserID:     doc.UserID,
			ChatID:     doc.ChatID,
			Ordinal:    c.Ordinal,
			Content:    c.Text,
			Length:     c.Length,
		}
	}
	if err := e.store.InsertChunks(ctx, records); err != nil {
		return fail(fmt.Errorf("storing chunks: %w", err))
	}

	entries, rejected, err := e.embedChunks(ctx, chunks)
	if err != nil {
		return fail(fmt.Errorf("embedding chunks: %w", err))
	}
	if len(rejected) > 0 {
		log.Printf("document %s: %d of %d chunks rejected by the embedding provider", doc.ID, len(rejected), len(chunks))
		// Rejected chunks are dropped from storage too, so an index
		// rebuild does not re-embed text the provider already refused.
		if err := e.store.DeleteChunks(statusCtx, rejected); err != nil {
			log.Printf("document %s: removing rejected chunks: %v", doc.ID, err)
		}
	}

	if err := e.indexes.Add(ctx, tenantKey(doc.UserID, doc.ChatID), entries); err != nil {
		if errors.Is(err, vectordb.ErrPersistenceDegraded) {
			// Index is live in memory; durability is degraded, not the upload.
			log.Printf("document %s: %v", doc.ID, err)
		} else {
			return fail(fmt.Errorf("indexing chunks: %w", err))
		}
	}

	textLen := len([]rune(text))
	return e.store.SetDocumentStatus(statusCtx, doc.ID, store.StatusCompleted, textLen, "")
}

// embedChunks embeds all chunk texts in one batched call. When the batch
// is rejected outright, each chunk is retried individually so one bad
// chunk does not sink the document; the ids of rejected chunks are
// returned so the caller can drop their stored rows.
func (e *Engine) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([]vectordb.Entry, []string, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := e.embedder.Embed(ctx, texts)
	if err == nil {
		entries := make([]vectordb.Entry, len(chunks))
		for i, c := range chunks {
			entries[i] = vectordb.Entry{
				ChunkID:    c.ID,
				DocumentID: c.DocumentID,
				Ordinal:    c.Ordinal,
				Text:       c.Text,
				Vector:     vectors[i],
			}
		}
		return entries, nil, nil
	}
	if !errors.Is(err, embeddings.ErrRejected) {
		return nil, nil, err
	}

	var entries []vectordb.Entry
	var rejected []string
	for _, c := range chunks {
		vecs, err := e.embedder.Embed(ctx, []string{c.Text})
		if err != nil {
			if errors.Is(err, embeddings.ErrRejected) {
				rejected = append(rejected, c.ID)
				continue
			}
			return nil, rejected, err
		}
		entries = append(entries, vectordb.Entry{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
			Vector:     vecs[0],
		})
	}
	return entries, rejected, nil
}

// DeleteDocument removes a document's chunks from the tenant index and the
// document itself (with its chunks) from storage.
func (e *Engine) DeleteDocument(ctx context.Context, userID, documentID string) error {
	doc, err := e.store.GetDocument(ctx, userID, documentID)
	if err != nil {
		return err
	}

	if err := e.indexes.RemoveDocument(ctx, tenantKey(doc.UserID, doc.ChatID), doc.ID); err != nil {
		if !errors.Is(err, vectordb.ErrPersistenceDegraded) {
			return fmt.Errorf("removing chunks from index: %w", err)
		}
		log.Printf("deleting %s: %v", doc.ID, err)
	}

	return e.store.DeleteDocument(ctx, userID, documentID)
}
