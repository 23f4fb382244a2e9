package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

func (s *Store) CreateChat(ctx context.Context, c Chat) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	ids := c.DocumentIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshalling document ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO chats (id, title, document_ids, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Title, string(idsJSON), c.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *Store) GetChat(ctx context.Context, id string) (Chat, error) {
	var c Chat
	var idsJSON, createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, title, document_ids, created_at FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &idsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, err
	}
	if err := json.Unmarshal([]byte(idsJSON), &c.DocumentIDs); err != nil {
		return Chat{}, fmt.Errorf("parsing document_ids: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Chat{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}

// AppendChatMessages stores turns in order. Message IDs are assigned by the database.
func (s *Store) AppendChatMessages(ctx context.Context, chatID string, msgs []ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chat transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats WHERE id = ?`, chatID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, m := range msgs {
		citations := m.Citations
		if citations == "" {
			citations = "[]"
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO chat_messages (chat_id, role, content, citations, created_at) VALUES (?, ?, ?, ?, ?)`,
			chatID, m.Role, m.Content, citations, now); err != nil {
			return fmt.Errorf("inserting %s message: %w", m.Role, err)
		}
	}
	return tx.Commit()
}

// ListChatMessages returns the turns of a chat in conversation order.
func (s *Store) ListChatMessages(ctx context.Context, chatID string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, citations, created_at
		FROM chat_messages WHERE chat_id = ? ORDER BY id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.Citations, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
