package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertTurn writes a user message and the assistant's reply in one
// transaction, so a turn is either fully persisted or not at all.
func (s *Store) InsertTurn(ctx context.Context, userMsg, assistantMsg Message) (*Message, *Message, error) {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning turn insert: %w", err)
	}
	defer tx.Rollback()

	u, err := insertMessageTx(ctx, tx, userMsg)
	if err != nil {
		return nil, nil, err
	}
	a, err := insertMessageTx(ctx, tx, assistantMsg)
	if err != nil {
		return nil, nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, time.Now().UTC(), userMsg.ChatID); err != nil {
		return nil, nil, fmt.Errorf("touching chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing turn: %w", err)
	}
	return u, a, nil
}

func insertMessageTx(ctx context.Context, tx *sql.Tx, m Message) (*Message, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Citations == nil {
		m.Citations = []string{}
	}

	citations, err := json.Marshal(m.Citations)
	if err != nil {
		return nil, fmt.Errorf("marshalling citations: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, content, citations, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.Role, m.Content, string(citations), m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	return &m, nil
}

// RecentMessages returns the last limit messages of a chat in
// chronological order.
func (s *Store) RecentMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.QueryContext(ctx,
		`SELECT id, chat_id, role, content, citations, created_at FROM (
		     SELECT id, chat_id, role, content, citations, created_at
		     FROM messages WHERE chat_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		 ) ORDER BY created_at ASC, id ASC`,
		chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var citations string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &citations, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if err := json.Unmarshal([]byte(citations), &m.Citations); err != nil {
			return nil, fmt.Errorf("unmarshalling citations: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
