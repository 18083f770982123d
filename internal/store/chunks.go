package store

import (
	"context"
	"fmt"
	"time"
)

// InsertChunks stores chunks, replacing on id collision. Chunk ids are
// deterministic content hashes, so re-ingesting the same document
// overwrites rather than duplicates.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chunk insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (id, document_id, user_id, chat_id, ordinal, content, length, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.UserID, c.ChatID, c.Ordinal, c.Content, c.Length, now); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunk insert: %w", err)
	}
	return nil
}

// ChunksByDocument returns a document's chunks ordered by ordinal.
func (s *Store) ChunksByDocument(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT id, document_id, user_id, chat_id, ordinal, content, length, created_at
		 FROM chunks WHERE document_id = ? ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ChunksByTenant returns every chunk within a tenant scope, ordered by
// document then ordinal. It feeds index rebuilds.
func (s *Store) ChunksByTenant(ctx context.Context, userID, chatID string) ([]Chunk, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT id, document_id, user_id, chat_id, ordinal, content, length, created_at
		 FROM chunks WHERE user_id = ? AND chat_id = ? ORDER BY document_id, ordinal`, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying tenant chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// DeleteChunks removes the given chunk rows.
func (s *Store) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chunk delete: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM chunks WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("preparing chunk delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("deleting chunk %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunk delete: %w", err)
	}
	return nil
}

// ChunkIDsByDocument returns just the chunk ids of a document.
func (s *Store) ChunkIDsByDocument(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.QueryContext(ctx, `SELECT id FROM chunks WHERE document_id = ? ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanChunks(rows rowScanner) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.UserID, &c.ChatID, &c.Ordinal, &c.Content, &c.Length, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
