package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// AlertStore persists keyword matches. The (chat_id, message_id, keyword)
// uniqueness constraint is the source of truth for deduplication.
type AlertStore struct {
	db  *Database
	now func() time.Time
}

// NewAlertStore creates a new alert store.
func NewAlertStore(db *Database) *AlertStore {
	return &AlertStore{db: db, now: time.Now}
}

// FindAlert returns any alert recorded for the message, or nil.
func (s *AlertStore) FindAlert(ctx context.Context, chatID, messageID string) (*Alert, error) {
	var alert Alert
	query := `
		SELECT id, chat_id, keyword, message, message_id, created_at
		FROM alerts
		WHERE chat_id = ? AND message_id = ?
		ORDER BY id ASC
		LIMIT 1
	`
	err := s.db.GetContext(ctx, &alert, query, chatID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find alert %s/%s: %w", chatID, messageID, err)
	}
	return &alert, nil
}

// CreateAlert inserts an alert. It returns ErrConflict when an alert for the
// same chat, message and keyword already exists.
func (s *AlertStore) CreateAlert(ctx context.Context, alert Alert) (*Alert, error) {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.now().UTC()
	}

	query := `
		INSERT INTO alerts (chat_id, keyword, message, message_id, created_at)
		VALUES (:chat_id, :keyword, :message, :message_id, :created_at)
	`
	result, err := s.db.NamedExecContext(ctx, query, alert)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create alert %s/%s: %w", alert.ChatID, alert.MessageID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create alert %s/%s: %w", alert.ChatID, alert.MessageID, err)
	}
	alert.ID = id
	return &alert, nil
}

// LatestAlertTime returns the creation time of the newest alert for a chat.
// ok is false when the chat has no alerts.
func (s *AlertStore) LatestAlertTime(ctx context.Context, chatID string) (t time.Time, ok bool, err error) {
	query := `SELECT created_at FROM alerts WHERE chat_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`
	err = s.db.GetContext(ctx, &t, query, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest alert for %s: %w", chatID, err)
	}
	return t, true, nil
}

// ListAlerts returns a page of alerts, newest first.
func (s *AlertStore) ListAlerts(ctx context.Context, limit, offset int) ([]AlertView, error) {
	alerts := []AlertView{}
	query := `
		SELECT a.id, a.chat_id, a.keyword, a.message, a.message_id, a.created_at,
			COALESCE(c.name, '') AS chat_name
		FROM alerts a
		LEFT JOIN chats c ON c.chat_id = a.chat_id
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT ? OFFSET ?
	`
	if err := s.db.SelectContext(ctx, &alerts, query, limit, offset); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// CountAlerts returns the total number of stored alerts.
func (s *AlertStore) CountAlerts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM alerts`); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
