// Package telegram provides Telegram bot functionality.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fow830/tgator/pkg/logger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var (
	// ErrNotAuthorized means the bot token is missing or was rejected.
	ErrNotAuthorized = errors.New("telegram: bot not authorized")
	// ErrInviteLink is returned when asked to join through an invite link,
	// which bots cannot do.
	ErrInviteLink = errors.New("telegram: bots cannot join by invite link, add the bot to the chat instead")
)

var inviteLinkRe = regexp.MustCompile(`(?:joinchat/|/\+)[A-Za-z0-9_-]+`)

// CommandHandler receives commands sent to the bot in private chats.
type CommandHandler interface {
	HandleCommand(msg *tgbotapi.Message)
}

// ChatInfo describes a chat resolved through the Bot API.
type ChatInfo struct {
	ID       string
	Title    string
	Username string
	Kind     ChatKind
	Type     string
}

// Bot is the single shared Bot API handle. It is created lazily on first
// use, feeds every received message into a per-chat buffer and is rebuilt
// after an authorization failure.
type Bot struct {
	token string
	debug bool

	buffer *MessageBuffer
	users  *Directory

	mu       sync.Mutex
	api      *tgbotapi.BotAPI
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	commands CommandHandler
}

// NewBot creates a bot handle. No network call is made until Connect.
//
// Messages only reach the buffer if Telegram delivers them to the bot: in
// groups the bot must be an admin or have privacy mode turned off with
// BotFather (/setprivacy), and in channels it must be an admin.
func NewBot(token string, debug bool, bufferSize int) *Bot {
	return &Bot{
		token:  token,
		debug:  debug,
		buffer: NewMessageBuffer(bufferSize),
		users:  NewDirectory(),
	}
}

// SetCommandHandler routes private-chat commands to h.
func (b *Bot) SetCommandHandler(h CommandHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = h
}

// Users returns the directory of senders seen so far.
func (b *Bot) Users() *Directory {
	return b.users
}

// Connect authorizes the bot and starts receiving updates if it is not
// already running.
func (b *Bot) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.api != nil {
		return nil
	}
	if b.token == "" {
		return fmt.Errorf("%w: token is not configured", ErrNotAuthorized)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	api, err := tgbotapi.NewBotAPI(b.token)
	if err != nil {
		if isUnauthorized(err) {
			return fmt.Errorf("%w: %v", ErrNotAuthorized, err)
		}
		return fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = b.debug

	logger.Info().Str("username", api.Self.UserName).Msg("Telegram bot authorized")

	loopCtx, cancel := context.WithCancel(context.Background())
	b.api = api
	b.cancel = cancel

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "edited_message", "channel_post", "edited_channel_post"}
	updates := api.GetUpdatesChan(u)

	b.wg.Add(1)
	go b.receive(loopCtx, updates)

	return nil
}

// Invalidate stops receiving updates and drops the handle so the next
// Connect builds a fresh one. Buffered messages are kept.
func (b *Bot) Invalidate() {
	b.mu.Lock()
	api, cancel := b.api, b.cancel
	b.api, b.cancel = nil, nil
	b.mu.Unlock()

	if api == nil {
		return
	}
	cancel()
	api.StopReceivingUpdates()
	b.wg.Wait()
	logger.Info().Msg("Telegram bot handle invalidated")
}

// Stop gracefully stops the bot.
func (b *Bot) Stop() {
	logger.Info().Msg("Stopping Telegram bot")
	b.Invalidate()
}

func (b *Bot) receive(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(update)
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	switch {
	case msg != nil:
	case update.EditedMessage != nil:
		msg = update.EditedMessage
	case update.ChannelPost != nil:
		msg = update.ChannelPost
	case update.EditedChannelPost != nil:
		msg = update.EditedChannelPost
	default:
		return
	}

	if msg.From != nil {
		b.users.Remember(senderOf(msg.From))
	}
	if msg.Contact != nil && msg.Contact.UserID != 0 {
		b.users.Remember(Sender{
			ID:        msg.Contact.UserID,
			FirstName: msg.Contact.FirstName,
			LastName:  msg.Contact.LastName,
			Phone:     msg.Contact.PhoneNumber,
		})
	}

	if msg.Chat != nil && msg.Chat.IsPrivate() && msg.IsCommand() {
		b.mu.Lock()
		h := b.commands
		b.mu.Unlock()
		if h != nil {
			h.HandleCommand(msg)
		}
		return
	}

	if m, ok := toMessage(msg); ok {
		b.buffer.Add(m)
	}
}

// GetMessages returns up to limit buffered messages of a chat, most recent
// first.
func (b *Bot) GetMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := b.client(); err != nil {
		return nil, err
	}
	return b.buffer.Recent(chatID, limit), nil
}

// Resolve looks up a chat by "@username", t.me link or numeric id.
func (b *Bot) Resolve(ctx context.Context, ref string) (*ChatInfo, error) {
	api, err := b.client()
	if err != nil {
		return nil, err
	}
	if inviteLinkRe.MatchString(ref) {
		return nil, ErrInviteLink
	}

	cfg, err := chatConfig(ref)
	if err != nil {
		return nil, err
	}

	chat, err := api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: cfg})
	if err != nil {
		return nil, b.wrap(fmt.Errorf("resolve chat %s: %w", ref, err))
	}
	return chatInfo(chat), nil
}

// Join verifies the bot can read the referenced chat. Bots cannot join on
// their own; an operator has to add the bot first.
func (b *Bot) Join(ctx context.Context, ref string) (*ChatInfo, error) {
	info, err := b.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to join chat: %w", err)
	}
	logger.Info().Str("chat_id", info.ID).Str("title", info.Title).Msg("Chat is reachable")
	return info, nil
}

// Leave makes the bot leave a chat and forgets its buffered messages.
func (b *Bot) Leave(ctx context.Context, chatID string) error {
	api, err := b.client()
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	if _, err := api.Request(tgbotapi.LeaveChatConfig{ChatID: id}); err != nil {
		return b.wrap(fmt.Errorf("leave chat %s: %w", chatID, err))
	}
	b.buffer.Forget(chatID)
	return nil
}

// SendText sends an HTML message to a chat given as "@username" or numeric id.
func (b *Bot) SendText(ctx context.Context, target, text string) error {
	api, err := b.client()
	if err != nil {
		return err
	}

	var msg tgbotapi.MessageConfig
	if strings.HasPrefix(target, "@") {
		msg = tgbotapi.NewMessageToChannel(target, text)
	} else {
		id, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chat id %q: %w", target, err)
		}
		msg = tgbotapi.NewMessage(id, text)
	}
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := api.Send(msg); err != nil {
		return b.wrap(fmt.Errorf("send to %s: %w", target, err))
	}
	return nil
}

// Reply answers a bot command with an HTML message.
func (b *Bot) Reply(chatID int64, text string) {
	api, err := b.client()
	if err != nil {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := api.Send(msg); err != nil {
		logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send reply")
	}
}

func (b *Bot) client() (*tgbotapi.BotAPI, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.api == nil {
		return nil, ErrNotAuthorized
	}
	return b.api, nil
}

// wrap marks authorization failures and drops the handle so it is rebuilt.
func (b *Bot) wrap(err error) error {
	if !isUnauthorized(err) {
		return err
	}
	go b.Invalidate()
	return fmt.Errorf("%w: %v", ErrNotAuthorized, err)
}

func isUnauthorized(err error) bool {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return tgErr.Code == http.StatusUnauthorized
	}
	return strings.Contains(err.Error(), "Unauthorized")
}

func chatConfig(ref string) (tgbotapi.ChatConfig, error) {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "https://")
	ref = strings.TrimPrefix(ref, "http://")
	ref = strings.TrimPrefix(ref, "t.me/")

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return tgbotapi.ChatConfig{ChatID: id}, nil
	}

	username := strings.TrimPrefix(ref, "@")
	if username == "" || strings.ContainsAny(username, "/ ") {
		return tgbotapi.ChatConfig{}, fmt.Errorf("invalid chat reference %q", ref)
	}
	return tgbotapi.ChatConfig{SuperGroupUsername: "@" + username}, nil
}

func chatInfo(chat tgbotapi.Chat) *ChatInfo {
	title := chat.Title
	if title == "" {
		title = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	}
	if title == "" {
		title = chat.UserName
	}
	return &ChatInfo{
		ID:       strconv.FormatInt(chat.ID, 10),
		Title:    title,
		Username: chat.UserName,
		Kind:     KindFromType(chat.Type),
		Type:     chat.Type,
	}
}

func senderOf(u *tgbotapi.User) Sender {
	return Sender{
		ID:        u.ID,
		Username:  u.UserName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// toMessage converts a Bot API message. Messages without text or caption
// are dropped.
func toMessage(msg *tgbotapi.Message) (Message, bool) {
	if msg.Chat == nil {
		return Message{}, false
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return Message{}, false
	}

	m := Message{
		ID:     msg.MessageID,
		ChatID: strconv.FormatInt(msg.Chat.ID, 10),
		Text:   text,
		Chat: ChatRef{
			Username: msg.Chat.UserName,
			Title:    msg.Chat.Title,
			Kind:     KindFromType(msg.Chat.Type),
		},
	}
	if msg.Date != 0 {
		m.Date = time.Unix(int64(msg.Date), 0)
	}
	if msg.From != nil {
		m.Sender = senderOf(msg.From)
	} else if msg.SenderChat != nil {
		m.Sender = Sender{ID: msg.SenderChat.ID, Username: msg.SenderChat.UserName, FirstName: msg.SenderChat.Title}
	}
	return m, true
}
