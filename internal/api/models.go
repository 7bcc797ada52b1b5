package api

import (
	"time"

	"github.com/fow830/tgator/internal/storage"
)

// LoginRequest is the body of POST /api/admin-auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token.
type LoginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AuthCheckResponse is returned for a valid token.
type AuthCheckResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username"`
}

// CreateChatRequest names a chat by @username or numeric id.
type CreateChatRequest struct {
	ChatID string `json:"chatId"`
	Name   string `json:"name"`
}

// Chat is a monitored chat.
type Chat struct {
	ID        int64      `json:"id"`
	ChatID    string     `json:"chatId"`
	Name      string     `json:"name"`
	Username  string     `json:"username,omitempty"`
	Kind      string     `json:"kind"`
	JoinedAt  *time.Time `json:"joinedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// CreateKeywordRequest is the body of POST /api/keywords.
type CreateKeywordRequest struct {
	Keyword string `json:"keyword"`
}

// Keyword is a stored keyword.
type Keyword struct {
	ID        int64     `json:"id"`
	Keyword   string    `json:"keyword"`
	CreatedAt time.Time `json:"createdAt"`
}

// Alert is a recorded keyword match.
type Alert struct {
	ID        int64     `json:"id"`
	ChatID    string    `json:"chatId"`
	ChatName  string    `json:"chatName"`
	Keyword   string    `json:"keyword"`
	Message   string    `json:"message"`
	MessageID string    `json:"messageId"`
	CreatedAt time.Time `json:"createdAt"`
}

// GetAlertsResponse is one page of alerts.
type GetAlertsResponse struct {
	Alerts []Alert `json:"alerts"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

func toChat(c storage.Chat) Chat {
	return Chat{
		ID:        c.ID,
		ChatID:    c.ChatID,
		Name:      c.Name,
		Username:  c.Username,
		Kind:      c.Kind,
		JoinedAt:  c.JoinedAt,
		CreatedAt: c.CreatedAt,
	}
}

func toKeyword(k storage.Keyword) Keyword {
	return Keyword{ID: k.ID, Keyword: k.Keyword, CreatedAt: k.CreatedAt}
}

func toAlert(a storage.AlertView) Alert {
	return Alert{
		ID:        a.ID,
		ChatID:    a.ChatID,
		ChatName:  a.ChatName,
		Keyword:   a.Keyword,
		Message:   a.Message,
		MessageID: a.MessageID,
		CreatedAt: a.CreatedAt,
	}
}
