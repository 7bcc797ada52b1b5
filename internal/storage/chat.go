package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ChatStore handles the registry of monitored chats.
type ChatStore struct {
	db *Database
}

// NewChatStore creates a new chat store.
func NewChatStore(db *Database) *ChatStore {
	return &ChatStore{db: db}
}

// ListChats returns every registered chat in registration order.
func (s *ChatStore) ListChats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	query := `SELECT id, chat_id, name, username, kind, joined_at, created_at FROM chats ORDER BY id ASC`
	if err := s.db.SelectContext(ctx, &chats, query); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// GetChat returns a chat by row id, or nil if it does not exist.
func (s *ChatStore) GetChat(ctx context.Context, id int64) (*Chat, error) {
	var chat Chat
	query := `SELECT id, chat_id, name, username, kind, joined_at, created_at FROM chats WHERE id = ?`
	err := s.db.GetContext(ctx, &chat, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat %d: %w", id, err)
	}
	return &chat, nil
}

// UpsertChat registers a chat or refreshes its name, username and kind.
// The join timestamp of an existing chat is kept.
func (s *ChatStore) UpsertChat(ctx context.Context, chat Chat) (*Chat, error) {
	query := `
		INSERT INTO chats (chat_id, name, username, kind, joined_at)
		VALUES (:chat_id, :name, :username, :kind, :joined_at)
		ON CONFLICT(chat_id) DO UPDATE SET
			name = excluded.name,
			username = excluded.username,
			kind = excluded.kind
	`
	if _, err := s.db.NamedExecContext(ctx, query, chat); err != nil {
		return nil, fmt.Errorf("upsert chat %s: %w", chat.ChatID, err)
	}

	var stored Chat
	err := s.db.GetContext(ctx, &stored,
		`SELECT id, chat_id, name, username, kind, joined_at, created_at FROM chats WHERE chat_id = ?`, chat.ChatID)
	if err != nil {
		return nil, fmt.Errorf("reload chat %s: %w", chat.ChatID, err)
	}
	return &stored, nil
}

// DeleteChat removes a chat by row id. Alerts for the chat are kept.
func (s *ChatStore) DeleteChat(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chat %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete chat %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
