package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fow830/tgator/internal/monitor"
	"github.com/fow830/tgator/internal/storage"
	"github.com/fow830/tgator/internal/telegram"
	"github.com/fow830/tgator/pkg/logger"
	"github.com/go-chi/chi/v5"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// ChatStore is the chat registry used by the chat endpoints.
type ChatStore interface {
	ListChats(ctx context.Context) ([]storage.Chat, error)
	GetChat(ctx context.Context, id int64) (*storage.Chat, error)
	UpsertChat(ctx context.Context, chat storage.Chat) (*storage.Chat, error)
	DeleteChat(ctx context.Context, id int64) error
}

// KeywordStore is the keyword set used by the keyword endpoints.
type KeywordStore interface {
	ListKeywords(ctx context.Context) ([]storage.Keyword, error)
	AddKeyword(ctx context.Context, text string) (*storage.Keyword, error)
	DeleteKeyword(ctx context.Context, id int64) error
}

// AlertStore reads the alert log.
type AlertStore interface {
	ListAlerts(ctx context.Context, limit, offset int) ([]storage.AlertView, error)
	CountAlerts(ctx context.Context) (int, error)
}

// ChatJoiner performs the external join and leave for registry changes.
type ChatJoiner interface {
	Join(ctx context.Context, ref string) (*telegram.ChatInfo, error)
	Leave(ctx context.Context, chatID string) error
}

// MonitorControl is the monitor as driven by the admin API.
type MonitorControl interface {
	Start()
	Stop()
	Status() monitor.Status
	RunCycle(ctx context.Context) (monitor.CycleReport, error)
}

// Server holds the collaborators of the admin API.
type Server struct {
	Auth     *Authenticator
	Chats    ChatStore
	Keywords KeywordStore
	Alerts   AlertStore
	Joiner   ChatJoiner
	Monitor  MonitorControl
	Now      func() time.Time
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Health reports that the process is serving.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) Result {
	return Ok(map[string]string{"status": "ok"})
}

// Login exchanges admin credentials for a bearer token.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) Result {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return BadRequest("Invalid request.")
	}

	token, expires, err := s.Auth.Login(req.Username, req.Password)
	if errors.Is(err, ErrBadCredentials) {
		logger.Warn().Str("username", req.Username).Msg("Rejected admin login")
		return Unauthorized("Invalid username or password.")
	}
	if err != nil {
		return InternalError(err, "Failed to issue token.")
	}
	return Ok(LoginResponse{Token: token, Username: req.Username, ExpiresAt: expires})
}

// CheckAuth confirms the caller's token and returns its username.
func (s *Server) CheckAuth(w http.ResponseWriter, r *http.Request) Result {
	return Ok(AuthCheckResponse{Authenticated: true, Username: usernameFrom(r.Context())})
}

// GetChats lists the monitored chats.
func (s *Server) GetChats(w http.ResponseWriter, r *http.Request) Result {
	chats, err := s.Chats.ListChats(r.Context())
	if err != nil {
		return InternalError(err, "Failed to list chats.")
	}
	res := make([]Chat, 0, len(chats))
	for _, c := range chats {
		res = append(res, toChat(c))
	}
	return Ok(res)
}

// CreateChat checks that the bot can read the chat, then registers it.
func (s *Server) CreateChat(w http.ResponseWriter, r *http.Request) Result {
	var req CreateChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return BadRequest("Invalid request.")
	}
	ref := strings.TrimSpace(req.ChatID)
	if ref == "" {
		return BadRequest("chatId is required.")
	}

	info, err := s.Joiner.Join(r.Context(), ref)
	switch {
	case errors.Is(err, telegram.ErrNotAuthorized):
		return Unavailable("Telegram bot is not authorized.")
	case err != nil:
		logger.Warn().Err(err).Str("chat", ref).Msg("Failed to join chat")
		return BadRequest(err.Error())
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = info.Title
	}
	joined := s.now().UTC()
	chat, err := s.Chats.UpsertChat(r.Context(), storage.Chat{
		ChatID:   info.ID,
		Name:     name,
		Username: info.Username,
		Kind:     info.Type,
		JoinedAt: &joined,
	})
	if err != nil {
		return InternalError(err, "Failed to save chat.")
	}

	logger.Info().Str("chat_id", chat.ChatID).Str("name", chat.Name).Msg("Chat added")
	return Created(toChat(*chat))
}

// DeleteChat leaves the chat if possible and removes it from the registry.
func (s *Server) DeleteChat(w http.ResponseWriter, r *http.Request) Result {
	id, err := pathID(r)
	if err != nil {
		return BadRequest("Invalid chat id.")
	}

	chat, err := s.Chats.GetChat(r.Context(), id)
	if err != nil {
		return InternalError(err, "Failed to load chat.")
	}
	if chat == nil {
		return NotFound("Chat not found.")
	}

	if err := s.Joiner.Leave(r.Context(), chat.ChatID); err != nil {
		logger.Warn().Err(err).Str("chat_id", chat.ChatID).Msg("Failed to leave chat, removing anyway")
	}
	if err := s.Chats.DeleteChat(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NotFound("Chat not found.")
		}
		return InternalError(err, "Failed to delete chat.")
	}

	logger.Info().Str("chat_id", chat.ChatID).Msg("Chat removed")
	return NoContent()
}

// GetKeywords lists the keywords.
func (s *Server) GetKeywords(w http.ResponseWriter, r *http.Request) Result {
	keywords, err := s.Keywords.ListKeywords(r.Context())
	if err != nil {
		return InternalError(err, "Failed to list keywords.")
	}
	res := make([]Keyword, 0, len(keywords))
	for _, k := range keywords {
		res = append(res, toKeyword(k))
	}
	return Ok(res)
}

// CreateKeyword adds a keyword. Adding an existing keyword returns it.
func (s *Server) CreateKeyword(w http.ResponseWriter, r *http.Request) Result {
	var req CreateKeywordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return BadRequest("Invalid request.")
	}

	kw, err := s.Keywords.AddKeyword(r.Context(), req.Keyword)
	if errors.Is(err, storage.ErrEmptyKeyword) {
		return BadRequest("Keyword is required.")
	}
	if err != nil {
		return InternalError(err, "Failed to add keyword.")
	}
	return Created(toKeyword(*kw))
}

// DeleteKeyword removes a keyword by id.
func (s *Server) DeleteKeyword(w http.ResponseWriter, r *http.Request) Result {
	id, err := pathID(r)
	if err != nil {
		return BadRequest("Invalid keyword id.")
	}
	if err := s.Keywords.DeleteKeyword(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NotFound("Keyword not found.")
		}
		return InternalError(err, "Failed to delete keyword.")
	}
	return NoContent()
}

// GetAlerts returns a page of alerts, newest first, with the total count.
func (s *Server) GetAlerts(w http.ResponseWriter, r *http.Request) Result {
	limit, err := queryInt(r, "limit", defaultAlertLimit)
	if err != nil || limit < 1 {
		return BadRequest("Invalid limit.")
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		return BadRequest("Invalid offset.")
	}

	alerts, err := s.Alerts.ListAlerts(r.Context(), limit, offset)
	if err != nil {
		return InternalError(err, "Failed to list alerts.")
	}
	total, err := s.Alerts.CountAlerts(r.Context())
	if err != nil {
		return InternalError(err, "Failed to count alerts.")
	}

	res := GetAlertsResponse{Alerts: make([]Alert, 0, len(alerts)), Total: total, Limit: limit, Offset: offset}
	for _, a := range alerts {
		res.Alerts = append(res.Alerts, toAlert(a))
	}
	return Ok(res)
}

// GetMonitor returns the monitor status.
func (s *Server) GetMonitor(w http.ResponseWriter, r *http.Request) Result {
	return Ok(s.Monitor.Status())
}

// StartMonitor starts the schedule if it is not running.
func (s *Server) StartMonitor(w http.ResponseWriter, r *http.Request) Result {
	s.Monitor.Start()
	return Ok(s.Monitor.Status())
}

// StopMonitor stops the schedule.
func (s *Server) StopMonitor(w http.ResponseWriter, r *http.Request) Result {
	s.Monitor.Stop()
	return Ok(s.Monitor.Status())
}

// ScanNow runs one cycle synchronously and returns its report.
func (s *Server) ScanNow(w http.ResponseWriter, r *http.Request) Result {
	report, err := s.Monitor.RunCycle(r.Context())
	if err != nil {
		logger.Warn().Err(err).Msg("Manual scan aborted")
	}
	return Ok(report)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
