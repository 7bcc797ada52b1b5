package storage

import (
	"context"
	"fmt"
)

// KeywordStore handles the operator-maintained keyword list.
type KeywordStore struct {
	db *Database
}

// NewKeywordStore creates a new keyword store.
func NewKeywordStore(db *Database) *KeywordStore {
	return &KeywordStore{db: db}
}

// ListKeywords returns all keywords, newest first.
func (s *KeywordStore) ListKeywords(ctx context.Context) ([]Keyword, error) {
	var keywords []Keyword
	query := `SELECT id, keyword, created_at FROM keywords ORDER BY created_at DESC, id DESC`
	if err := s.db.SelectContext(ctx, &keywords, query); err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	return keywords, nil
}

// AddKeyword normalizes text and stores it. Adding an existing keyword
// returns the stored row.
func (s *KeywordStore) AddKeyword(ctx context.Context, text string) (*Keyword, error) {
	normalized := NormalizeKeyword(text)
	if normalized == "" {
		return nil, ErrEmptyKeyword
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO keywords (keyword) VALUES (?)`, normalized); err != nil {
		return nil, fmt.Errorf("add keyword %q: %w", normalized, err)
	}

	var kw Keyword
	if err := s.db.GetContext(ctx, &kw,
		`SELECT id, keyword, created_at FROM keywords WHERE keyword = ?`, normalized); err != nil {
		return nil, fmt.Errorf("reload keyword %q: %w", normalized, err)
	}
	return &kw, nil
}

// DeleteKeyword removes a keyword by row id.
func (s *KeywordStore) DeleteKeyword(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM keywords WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete keyword %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete keyword %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteKeywordText removes a keyword by its text.
func (s *KeywordStore) DeleteKeywordText(ctx context.Context, text string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM keywords WHERE keyword = ?`, NormalizeKeyword(text))
	if err != nil {
		return fmt.Errorf("delete keyword %q: %w", text, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete keyword %q: %w", text, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
