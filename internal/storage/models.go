// Package storage provides database operations and data models.
package storage

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("storage: unique constraint violated")
	// ErrNotFound is returned when a delete targets a missing row.
	ErrNotFound = errors.New("storage: not found")
	// ErrEmptyKeyword is returned when a keyword is blank after normalization.
	ErrEmptyKeyword = errors.New("storage: keyword is empty")
)

// Chat represents a monitored Telegram chat.
type Chat struct {
	ID        int64      `db:"id"`
	ChatID    string     `db:"chat_id"`
	Name      string     `db:"name"`
	Username  string     `db:"username"` // without the @, empty for private chats
	Kind      string     `db:"kind"`     // group, supergroup, channel, private
	JoinedAt  *time.Time `db:"joined_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// DisplayName returns the chat name, falling back to its id.
func (c Chat) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ChatID
}

// Keyword is a normalized, case-insensitive substring trigger.
type Keyword struct {
	ID        int64     `db:"id"`
	Keyword   string    `db:"keyword"`
	CreatedAt time.Time `db:"created_at"`
}

// NormalizeKeyword trims and lower-cases keyword text.
func NormalizeKeyword(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Alert records a keyword match in a specific message.
type Alert struct {
	ID        int64     `db:"id"`
	ChatID    string    `db:"chat_id"`
	Keyword   string    `db:"keyword"`
	Message   string    `db:"message"`
	MessageID string    `db:"message_id"`
	CreatedAt time.Time `db:"created_at"`
}

// AlertView is an alert joined with the name of its chat, if still registered.
type AlertView struct {
	Alert
	ChatName string `db:"chat_name"`
}
