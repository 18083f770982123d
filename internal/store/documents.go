package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record does not exist or belongs to a
// different user.
var ErrNotFound = errors.New("record not found")

// CreateDocument inserts a new document in pending state.
func (s *Store) CreateDocument(ctx context.Context, d Document) (*Document, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = StatusPending
	}

	_, err := s.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, chat_id, filename, status, text_length, failure_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.ChatID, d.Filename, d.Status, d.TextLength, d.FailureReason, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting document: %w", err)
	}
	return &d, nil
}

// GetDocument retrieves a document owned by userID.
func (s *Store) GetDocument(ctx context.Context, userID, id string) (*Document, error) {
	var d Document
	err := s.QueryRowContext(ctx,
		`SELECT id, user_id, chat_id, filename, status, text_length, failure_reason, created_at, updated_at
		 FROM documents WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&d.ID, &d.UserID, &d.ChatID, &d.Filename, &d.Status, &d.TextLength, &d.FailureReason, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return &d, nil
}

// ListDocuments returns the documents of a user, optionally narrowed to a chat.
func (s *Store) ListDocuments(ctx context.Context, userID, chatID string) ([]Document, error) {
	query := `SELECT id, user_id, chat_id, filename, status, text_length, failure_reason, created_at, updated_at
		 FROM documents WHERE user_id = ?`
	args := []any{userID}
	if chatID != "" {
		query += ` AND chat_id = ?`
		args = append(args, chatID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.ChatID, &d.Filename, &d.Status, &d.TextLength, &d.FailureReason, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SetDocumentStatus advances a document's lifecycle state. Terminal states
// (completed, failed) are never overwritten.
func (s *Store) SetDocumentStatus(ctx context.Context, id string, status Status, textLength int, failureReason string) error {
	res, err := s.ExecContext(ctx,
		`UPDATE documents SET status = ?, text_length = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		status, textLength, failureReason, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w or already terminal", id, ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document and (via cascade) its chunks.
func (s *Store) DeleteDocument(ctx context.Context, userID, id string) error {
	res, err := s.ExecContext(ctx, `DELETE FROM documents WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
