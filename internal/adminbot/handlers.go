// Package adminbot answers admin commands sent to the bot in private chats.
package adminbot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/fow830/tgator/internal/monitor"
	"github.com/fow830/tgator/internal/storage"
	"github.com/fow830/tgator/pkg/logger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const commandTimeout = 10 * time.Second

// Replier sends an HTML reply to a chat.
type Replier interface {
	Reply(chatID int64, text string)
}

// Keywords is the keyword list as seen by commands.
type Keywords interface {
	ListKeywords(ctx context.Context) ([]storage.Keyword, error)
	AddKeyword(ctx context.Context, text string) (*storage.Keyword, error)
	DeleteKeywordText(ctx context.Context, text string) error
}

// Chats lists monitored chats.
type Chats interface {
	ListChats(ctx context.Context) ([]storage.Chat, error)
}

// AlertCounter counts stored alerts.
type AlertCounter interface {
	CountAlerts(ctx context.Context) (int, error)
}

// Scanner is the part of the monitor commands can drive.
type Scanner interface {
	Status() monitor.Status
	RunCycle(ctx context.Context) (monitor.CycleReport, error)
}

// Handlers manages command handling for the bot.
type Handlers struct {
	reply     Replier
	keywords  Keywords
	chats     Chats
	alerts    AlertCounter
	scanner   Scanner
	admins    map[int64]struct{}
	startTime time.Time
}

// NewHandlers creates a new handlers instance. Only users listed in
// adminIDs may run commands.
func NewHandlers(reply Replier, keywords Keywords, chats Chats, alerts AlertCounter, scanner Scanner, adminIDs []int64) *Handlers {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Handlers{
		reply:     reply,
		keywords:  keywords,
		chats:     chats,
		alerts:    alerts,
		scanner:   scanner,
		admins:    admins,
		startTime: time.Now(),
	}
}

// SetStartTime sets the process start time for uptime calculation.
func (h *Handlers) SetStartTime(t time.Time) {
	h.startTime = t
}

// HandleCommand routes commands to appropriate handlers.
func (h *Handlers) HandleCommand(msg *tgbotapi.Message) {
	command := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())

	logger.Debug().
		Str("command", command).
		Str("args", args).
		Int64("chat_id", msg.Chat.ID).
		Msg("Received command")

	if msg.From == nil || !h.isAdmin(msg.From.ID) {
		h.reply.Reply(msg.Chat.ID, "⛔ You are not allowed to manage this monitor.")
		return
	}

	switch command {
	case "start":
		h.handleStart(msg)
	case "help":
		h.handleHelp(msg)
	case "status":
		h.handleStatus(msg)
	case "keywords":
		h.handleKeywords(msg)
	case "addkeyword":
		h.handleAddKeyword(msg, args)
	case "delkeyword":
		h.handleDeleteKeyword(msg, args)
	case "chats":
		h.handleChats(msg)
	case "scan":
		// Run off the update loop so slow scans do not stall other updates.
		go h.handleScan(msg)
	default:
		h.reply.Reply(msg.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (h *Handlers) isAdmin(id int64) bool {
	_, ok := h.admins[id]
	return ok
}

func (h *Handlers) handleStart(msg *tgbotapi.Message) {
	text := `🤖 <b>Keyword monitor</b>

I watch the registered chats and post an alert to the alert channel whenever a message contains one of your keywords.

Use /help to see all commands.`
	h.reply.Reply(msg.Chat.ID, text)
}

func (h *Handlers) handleHelp(msg *tgbotapi.Message) {
	text := `📚 <b>Commands</b>

• /status - monitor state and last scan
• /keywords - list keywords
• /addkeyword &lt;text&gt; - add a keyword
• /delkeyword &lt;text&gt; - remove a keyword
• /chats - list monitored chats
• /scan - run a scan now`
	h.reply.Reply(msg.Chat.ID, text)
}

func (h *Handlers) handleStatus(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	st := h.scanner.Status()
	state := "⏸ stopped"
	if st.Running {
		state = "▶️ running"
	}

	chatCount, keywordCount, alertCount := -1, -1, -1
	if chats, err := h.chats.ListChats(ctx); err == nil {
		chatCount = len(chats)
	}
	if keywords, err := h.keywords.ListKeywords(ctx); err == nil {
		keywordCount = len(keywords)
	}
	if n, err := h.alerts.CountAlerts(ctx); err == nil {
		alertCount = n
	}

	var b strings.Builder
	b.WriteString("📊 <b>Monitor status</b>\n\n")
	fmt.Fprintf(&b, "<b>State:</b> %s\n", state)
	fmt.Fprintf(&b, "<b>Uptime:</b> %s\n", formatDuration(time.Since(h.startTime)))
	fmt.Fprintf(&b, "<b>Cycles:</b> %d\n", st.Cycles)
	fmt.Fprintf(&b, "<b>Chats:</b> %s  <b>Keywords:</b> %s  <b>Alerts:</b> %s\n",
		count(chatCount), count(keywordCount), count(alertCount))
	if r := st.LastReport; r != nil {
		b.WriteString("\n" + formatReport(*r))
	}
	h.reply.Reply(msg.Chat.ID, b.String())
}

func (h *Handlers) handleKeywords(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	keywords, err := h.keywords.ListKeywords(ctx)
	if err != nil {
		h.reply.Reply(msg.Chat.ID, "❌ Failed to load keywords")
		logger.Error().Err(err).Msg("Failed to list keywords")
		return
	}
	if len(keywords) == 0 {
		h.reply.Reply(msg.Chat.ID, "📭 No keywords yet. Add one with /addkeyword &lt;text&gt;")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔑 <b>Keywords (%d)</b>\n\n", len(keywords))
	for i, kw := range keywords {
		fmt.Fprintf(&b, "%d. <code>%s</code>\n", i+1, html.EscapeString(kw.Keyword))
	}
	h.reply.Reply(msg.Chat.ID, b.String())
}

func (h *Handlers) handleAddKeyword(msg *tgbotapi.Message, args string) {
	if args == "" {
		h.reply.Reply(msg.Chat.ID, "❌ Usage: /addkeyword &lt;text&gt;")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	kw, err := h.keywords.AddKeyword(ctx, args)
	if err != nil {
		h.reply.Reply(msg.Chat.ID, "❌ Failed to add keyword")
		logger.Error().Err(err).Str("keyword", args).Msg("Failed to add keyword")
		return
	}
	h.reply.Reply(msg.Chat.ID, fmt.Sprintf("✅ Watching for <code>%s</code>", html.EscapeString(kw.Keyword)))
}

func (h *Handlers) handleDeleteKeyword(msg *tgbotapi.Message, args string) {
	if args == "" {
		h.reply.Reply(msg.Chat.ID, "❌ Usage: /delkeyword &lt;text&gt;")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := h.keywords.DeleteKeywordText(ctx, args); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.reply.Reply(msg.Chat.ID, fmt.Sprintf("❌ Keyword <code>%s</code> not found", html.EscapeString(args)))
			return
		}
		h.reply.Reply(msg.Chat.ID, "❌ Failed to remove keyword")
		logger.Error().Err(err).Str("keyword", args).Msg("Failed to delete keyword")
		return
	}
	h.reply.Reply(msg.Chat.ID, fmt.Sprintf("✅ Removed <code>%s</code>", html.EscapeString(storage.NormalizeKeyword(args))))
}

func (h *Handlers) handleChats(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	chats, err := h.chats.ListChats(ctx)
	if err != nil {
		h.reply.Reply(msg.Chat.ID, "❌ Failed to load chats")
		logger.Error().Err(err).Msg("Failed to list chats")
		return
	}
	if len(chats) == 0 {
		h.reply.Reply(msg.Chat.ID, "📭 No chats are monitored. Add them in the admin panel.")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "💬 <b>Monitored chats (%d)</b>\n\n", len(chats))
	for i, c := range chats {
		fmt.Fprintf(&b, "%d. %s <code>%s</code>\n", i+1, html.EscapeString(c.DisplayName()), html.EscapeString(c.ChatID))
	}
	h.reply.Reply(msg.Chat.ID, b.String())
}

func (h *Handlers) handleScan(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report, err := h.scanner.RunCycle(ctx)
	if err != nil {
		h.reply.Reply(msg.Chat.ID, "❌ Scan aborted: "+html.EscapeString(err.Error()))
		return
	}
	h.reply.Reply(msg.Chat.ID, "🔍 <b>Scan finished</b>\n\n"+formatReport(report))
}

func formatReport(r monitor.CycleReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Last scan:</b> %s (%d ms)\n", r.StartedAt.Format(time.RFC3339), r.DurationMS)
	fmt.Fprintf(&b, "• chats scanned %d, skipped %d, failed %d\n", r.ChatsScanned, r.ChatsSkipped, r.ChatsFailed)
	fmt.Fprintf(&b, "• messages evaluated %d, alerts %d\n", r.MessagesEvaluated, r.AlertsCreated)
	fmt.Fprintf(&b, "• notifications sent %d, failed %d", r.NotificationsSent, r.NotificationsFailed)
	if r.Error != "" {
		fmt.Fprintf(&b, "\n• error: %s", html.EscapeString(r.Error))
	}
	return b.String()
}

func count(n int) string {
	if n < 0 {
		return "?"
	}
	return fmt.Sprintf("%d", n)
}

// formatDuration formats a duration to a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	} else if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
