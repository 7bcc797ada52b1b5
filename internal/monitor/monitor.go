// Package monitor polls monitored chats, matches message text against the
// keyword list, records alerts and forwards notifications.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fow830/tgator/internal/storage"
	"github.com/fow830/tgator/internal/telegram"
	"github.com/fow830/tgator/pkg/logger"
)

const cycleTimeout = 2 * time.Minute

// ChatLister reads the chat registry.
type ChatLister interface {
	ListChats(ctx context.Context) ([]storage.Chat, error)
}

// KeywordLister reads the keyword set.
type KeywordLister interface {
	ListKeywords(ctx context.Context) ([]storage.Keyword, error)
}

// AlertRepository is the durable alert record. CreateAlert fails with
// storage.ErrConflict when the (chat, message, keyword) triple exists.
type AlertRepository interface {
	FindAlert(ctx context.Context, chatID, messageID string) (*storage.Alert, error)
	CreateAlert(ctx context.Context, alert storage.Alert) (*storage.Alert, error)
	LatestAlertTime(ctx context.Context, chatID string) (time.Time, bool, error)
}

// MessageSource returns recent chat messages, most recent first.
type MessageSource interface {
	Connect(ctx context.Context) error
	GetMessages(ctx context.Context, chatID string, limit int) ([]telegram.Message, error)
	Resolve(ctx context.Context, ref string) (*telegram.ChatInfo, error)
	Invalidate()
}

// Notifier delivers a formatted alert. Failures never undo stored alerts.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Config holds the monitor settings.
type Config struct {
	Interval     time.Duration
	Window       time.Duration
	PageSize     int
	CacheSize    int
	AlertChannel string
	Excluded     []string
}

// Deps are the collaborators of a Monitor. Users and Metrics may be nil.
type Deps struct {
	Chats    ChatLister
	Keywords KeywordLister
	Alerts   AlertRepository
	Source   MessageSource
	Notifier Notifier
	Users    telegram.SenderLookup
	Metrics  *Metrics
}

// CycleReport summarizes one monitor cycle.
type CycleReport struct {
	StartedAt           time.Time `json:"startedAt"`
	DurationMS          int64     `json:"durationMs"`
	ChatsScanned        int       `json:"chatsScanned"`
	ChatsSkipped        int       `json:"chatsSkipped"`
	ChatsFailed         int       `json:"chatsFailed"`
	MessagesEvaluated   int       `json:"messagesEvaluated"`
	AlertsCreated       int       `json:"alertsCreated"`
	NotificationsSent   int       `json:"notificationsSent"`
	NotificationsFailed int       `json:"notificationsFailed"`
	Error               string    `json:"error,omitempty"`
}

// Status is a snapshot of the monitor state.
type Status struct {
	Running    bool         `json:"running"`
	StartedAt  *time.Time   `json:"startedAt,omitempty"`
	Cycles     int64        `json:"cycles"`
	LastReport *CycleReport `json:"lastReport,omitempty"`
}

// Monitor runs scan cycles on a fixed interval.
type Monitor struct {
	cfg      Config
	chats    ChatLister
	keywords KeywordLister
	alerts   AlertRepository
	source   MessageSource
	notifier Notifier
	users    telegram.SenderLookup
	metrics  *Metrics
	now      func() time.Time

	seen    *tracker
	exclude *exclusions

	alertResolved atomic.Bool

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	startedAt time.Time
	cycles    int64
	last      *CycleReport
	wg        sync.WaitGroup
}

// New creates a stopped monitor.
func New(cfg Config, deps Deps) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}

	return &Monitor{
		cfg:      cfg,
		chats:    deps.Chats,
		keywords: deps.Keywords,
		alerts:   deps.Alerts,
		source:   deps.Source,
		notifier: deps.Notifier,
		users:    deps.Users,
		metrics:  deps.Metrics,
		now:      time.Now,
		seen:     newTracker(cfg.CacheSize),
		exclude:  newExclusions(append([]string{cfg.AlertChannel}, cfg.Excluded...)...),
	}
}

// Start arms the schedule and runs a cycle right away. Calling Start on a
// running monitor only logs a notice.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		logger.Info().Msg("Monitor is already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.startedAt = m.now()
	m.metrics.setRunning(true)

	m.wg.Add(1)
	go m.loop(ctx)

	logger.Info().Dur("interval", m.cfg.Interval).Msg("Monitor started")
}

// Stop prevents further cycles. A cycle already in flight runs to
// completion; use Wait to block until it has.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.cancel()
	m.running = false
	m.cancel = nil
	m.metrics.setRunning(false)
	logger.Info().Msg("Monitor stopped")
}

// Wait blocks until every scheduled cycle has returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Running reports whether the schedule is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Status returns the current state and the last cycle report.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{Running: m.running, Cycles: m.cycles}
	if m.running {
		t := m.startedAt
		st.StartedAt = &t
	}
	if m.last != nil {
		r := *m.last
		st.LastReport = &r
	}
	return st
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.scheduled()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scheduled()
		}
	}
}

// scheduled runs one cycle on its own context so Stop never interrupts it.
func (m *Monitor) scheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()

	if _, err := m.RunCycle(ctx); err != nil {
		logger.Error().Err(err).Msg("Monitor cycle aborted")
	}
}

// RunCycle scans every registered chat once. It is safe to call while the
// schedule runs; messages claimed by another cycle are skipped. The
// returned error is set only when the whole cycle was aborted.
func (m *Monitor) RunCycle(ctx context.Context) (report CycleReport, err error) {
	report.StartedAt = m.now()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
		if err != nil {
			report.Error = err.Error()
		}
		report.DurationMS = time.Since(start).Milliseconds()
		m.finish(report, err)
	}()

	chats, err := m.chats.ListChats(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list chats: %w", err)
	}
	keywords, err := m.loadKeywords(ctx)
	if err != nil {
		return report, err
	}
	if len(chats) == 0 || len(keywords) == 0 {
		logger.Debug().Int("chats", len(chats)).Int("keywords", len(keywords)).Msg("Nothing to monitor")
		return report, nil
	}

	if err := m.source.Connect(ctx); err != nil {
		return report, fmt.Errorf("failed to acquire message source: %w", err)
	}
	m.resolveAlertChannel(ctx)

	for _, chat := range chats {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if m.exclude.matches(chat) {
			report.ChatsSkipped++
			continue
		}

		if err := m.scanChat(ctx, chat, keywords, &report); err != nil {
			report.ChatsFailed++
			m.metrics.chatFailed()
			logger.Warn().Err(err).Str("chat_id", chat.ChatID).Str("chat", chat.Name).Msg("Failed to scan chat")

			if errors.Is(err, telegram.ErrNotAuthorized) {
				m.source.Invalidate()
				return report, err
			}
			continue
		}
		report.ChatsScanned++
	}

	logger.Debug().
		Int("chats", report.ChatsScanned).
		Int("messages", report.MessagesEvaluated).
		Int("alerts", report.AlertsCreated).
		Msg("Monitor cycle finished")
	return report, nil
}

func (m *Monitor) finish(report CycleReport, err error) {
	result := "ok"
	if err != nil {
		result = "aborted"
	}
	m.metrics.observeCycle(result, time.Duration(report.DurationMS)*time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
	m.last = &report
}

func (m *Monitor) loadKeywords(ctx context.Context) ([]string, error) {
	rows, err := m.keywords.ListKeywords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	keywords := make([]string, 0, len(rows))
	for _, kw := range rows {
		if k := storage.NormalizeKeyword(kw.Keyword); k != "" {
			keywords = append(keywords, k)
		}
	}
	return keywords, nil
}

// resolveAlertChannel adds the resolved id and title of the alert channel
// to the exclusions, so it is skipped however it was registered.
func (m *Monitor) resolveAlertChannel(ctx context.Context) {
	if m.cfg.AlertChannel == "" || m.alertResolved.Load() {
		return
	}
	info, err := m.source.Resolve(ctx, m.cfg.AlertChannel)
	if err != nil {
		logger.Debug().Err(err).Str("alert_channel", m.cfg.AlertChannel).Msg("Could not resolve alert channel")
		return
	}
	m.exclude.add(info.ID, info.Title, info.Username)
	m.alertResolved.Store(true)
}

// cutoff is the latest of now minus the window, the chat's join time and
// the newest alert in the chat. Messages older than it are ignored.
func (m *Monitor) cutoff(ctx context.Context, chat storage.Chat) (time.Time, error) {
	cutoff := m.now().Add(-m.cfg.Window)
	if chat.JoinedAt != nil && chat.JoinedAt.After(cutoff) {
		cutoff = *chat.JoinedAt
	}

	latest, ok, err := m.alerts.LatestAlertTime(ctx, chat.ChatID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load latest alert: %w", err)
	}
	if ok && latest.After(cutoff) {
		cutoff = latest
	}
	return cutoff, nil
}

// scanChat evaluates the recent messages of one chat. Message failures do
// not stop the scan; they are joined into the returned error.
func (m *Monitor) scanChat(ctx context.Context, chat storage.Chat, keywords []string, report *CycleReport) error {
	cutoff, err := m.cutoff(ctx, chat)
	if err != nil {
		return err
	}

	msgs, err := m.source.GetMessages(ctx, chat.ChatID, m.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}

	var errs []error
	for _, msg := range msgs {
		if msg.Date.IsZero() || strings.TrimSpace(msg.Text) == "" {
			continue
		}
		key := messageKey{chatID: chat.ChatID, messageID: strconv.Itoa(msg.ID)}
		// A partly written message moved the cutoff past itself.
		retry := m.seen.needsRetry(key)
		if msg.Date.Before(cutoff) && !retry {
			continue
		}
		if err := m.processMessage(ctx, chat, msg, key, retry, keywords, report); err != nil {
			errs = append(errs, fmt.Errorf("message %d: %w", msg.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Monitor) processMessage(ctx context.Context, chat storage.Chat, msg telegram.Message, key messageKey, retry bool, keywords []string, report *CycleReport) error {
	if m.seen.isProcessed(key) {
		return nil
	}

	if !retry {
		existing, err := m.alerts.FindAlert(ctx, key.chatID, key.messageID)
		if err != nil {
			return fmt.Errorf("failed to look up alert: %w", err)
		}
		if existing != nil {
			m.seen.markProcessed(key)
			return nil
		}
	}

	if !m.seen.acquire(key) {
		return nil
	}
	done := false
	defer func() {
		m.seen.release(key)
		if done {
			m.seen.markProcessed(key)
		}
	}()

	report.MessagesEvaluated++
	m.metrics.messageEvaluated()

	matched := matchKeywords(msg.Text, keywords)
	if len(matched) == 0 {
		m.seen.clearRetry(key)
		done = true
		return nil
	}

	if !retry {
		// Another path may have written between the first lookup and the lock.
		existing, err := m.alerts.FindAlert(ctx, key.chatID, key.messageID)
		if err != nil {
			return fmt.Errorf("failed to re-check alert: %w", err)
		}
		if existing != nil {
			done = true
			return nil
		}
	}

	created, err := m.createAlerts(ctx, key, msg.Text, matched)
	report.AlertsCreated += len(created)
	if len(created) > 0 {
		m.notify(ctx, chat, msg, created, report)
	}
	if err != nil {
		m.seen.markRetry(key)
		return err
	}
	m.seen.clearRetry(key)
	done = true
	return nil
}

// createAlerts inserts one row per keyword and returns the keywords that
// were new. Conflicts are expected under races and are not errors.
func (m *Monitor) createAlerts(ctx context.Context, key messageKey, text string, matched []string) ([]string, error) {
	var (
		created []string
		errs    []error
	)
	for _, kw := range matched {
		_, err := m.alerts.CreateAlert(ctx, storage.Alert{
			ChatID:    key.chatID,
			Keyword:   kw,
			Message:   text,
			MessageID: key.messageID,
		})
		switch {
		case errors.Is(err, storage.ErrConflict):
			m.metrics.alertConflict()
			logger.Debug().
				Str("chat_id", key.chatID).
				Str("message_id", key.messageID).
				Str("keyword", kw).
				Msg("Alert already recorded")
		case err != nil:
			errs = append(errs, fmt.Errorf("keyword %q: %w", kw, err))
		default:
			created = append(created, kw)
			m.metrics.alertCreated()
			logger.Info().
				Str("chat_id", key.chatID).
				Str("message_id", key.messageID).
				Str("keyword", kw).
				Msg("Alert created")
		}
	}
	if len(errs) > 0 {
		return created, fmt.Errorf("failed to create alert: %w", errors.Join(errs...))
	}
	return created, nil
}

func (m *Monitor) notify(ctx context.Context, chat storage.Chat, msg telegram.Message, keywords []string, report *CycleReport) {
	text := telegram.BuildAlertMessage(telegram.AlertContent{
		ChatID:       chat.ChatID,
		ChatName:     chat.DisplayName(),
		ChatUsername: chatUsername(chat, msg),
		Keywords:     keywords,
		Text:         msg.Text,
		MessageID:    msg.ID,
		Sender:       msg.Sender,
	}, m.users)

	if err := m.notifier.Send(ctx, text); err != nil {
		report.NotificationsFailed++
		m.metrics.notification(false)
		logger.Warn().Err(err).
			Str("chat_id", chat.ChatID).
			Int("message_id", msg.ID).
			Msg("Failed to deliver notification")
		return
	}
	report.NotificationsSent++
	m.metrics.notification(true)
}

func chatUsername(chat storage.Chat, msg telegram.Message) string {
	if msg.Chat.Username != "" {
		return msg.Chat.Username
	}
	return chat.Username
}

// matchKeywords returns the keywords contained in text, in keyword order.
func matchKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}
