package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateChat starts a new conversation session for a user.
func (s *Store) CreateChat(ctx context.Context, userID, title string) (*Chat, error) {
	now := time.Now().UTC()
	c := Chat{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting chat: %w", err)
	}
	return &c, nil
}

// GetChat retrieves a chat owned by userID.
func (s *Store) GetChat(ctx context.Context, userID, id string) (*Chat, error) {
	var c Chat
	err := s.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM chats WHERE id = ? AND user_id = ?`,
		id, userID,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chat: %w", err)
	}
	return &c, nil
}

// ListChats returns a user's chats, most recently updated first.
func (s *Store) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM chats WHERE user_id = ? ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// TouchChat bumps a chat's updated_at, keeping the chat list ordered by
// recent activity.
func (s *Store) TouchChat(ctx context.Context, id string) error {
	_, err := s.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touching chat: %w", err)
	}
	return nil
}

// DeleteChat removes a chat; messages cascade, documents scoped to the chat
// are removed explicitly so their chunks cascade too.
func (s *Store) DeleteChat(ctx context.Context, userID, id string) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chat delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking chat delete: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE user_id = ? AND chat_id = ?`, userID, id); err != nil {
		return fmt.Errorf("deleting chat documents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chat delete: %w", err)
	}
	return nil
}
