package telegram

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"
)

const (
	unknownSender  = "Unknown"
	unknownPhone   = "Not available"
	maxExcerptRune = 200
)

// SenderLookup resolves a user id to what is known about that user.
type SenderLookup interface {
	LookupSender(id int64) (Sender, bool)
}

// AlertContent is everything needed to render one alert notification.
type AlertContent struct {
	ChatID       string
	ChatName     string
	ChatUsername string
	Keywords     []string
	Text         string
	MessageID    int
	Sender       Sender
}

// CombineKeywords joins matched keywords for display, e.g. "sale, discount".
func CombineKeywords(keywords []string) string {
	return strings.Join(keywords, ", ")
}

// BuildAlertMessage renders an HTML notification for a keyword match.
// lookup may be nil.
func BuildAlertMessage(c AlertContent, lookup SenderLookup) string {
	name := c.ChatName
	if name == "" {
		name = c.ChatID
	}

	var b strings.Builder
	b.WriteString("🚨 <b>Keyword alert</b>\n\n")
	fmt.Fprintf(&b, "<b>Chat:</b> <a href=\"%s\">%s</a>\n",
		html.EscapeString(ChatLink(c.ChatID, c.ChatUsername, c.MessageID)), html.EscapeString(name))
	fmt.Fprintf(&b, "<b>Keywords:</b> %s\n", html.EscapeString(CombineKeywords(c.Keywords)))
	fmt.Fprintf(&b, "<b>From:</b> %s\n", html.EscapeString(ResolveSender(c.Sender, lookup)))
	fmt.Fprintf(&b, "<b>Phone:</b> %s\n", html.EscapeString(ResolvePhone(c.Sender, lookup)))
	fmt.Fprintf(&b, "<b>Message:</b> %s", html.EscapeString(RelevantLine(c.Text, c.Keywords)))
	return b.String()
}

// ChatLink builds a link to a message. Public chats link by username;
// private ones use the t.me/c form with the internal chat id.
func ChatLink(chatID, username string, messageID int) string {
	if username = strings.TrimPrefix(username, "@"); username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", username, messageID)
	}
	return fmt.Sprintf("https://t.me/c/%s/%d", InternalChatID(chatID), messageID)
}

// InternalChatID strips the Bot API prefix from a chat id: "-100" for
// supergroup and channel ids longer than 13 characters, otherwise only the
// minus sign. Shorter -100 ids and legacy group ids are not verified to
// produce working links.
func InternalChatID(chatID string) string {
	if strings.HasPrefix(chatID, "-100") && len(chatID) > 13 {
		return chatID[4:]
	}
	return strings.TrimPrefix(chatID, "-")
}

// RelevantLine picks the first line mentioning any keyword, falling back
// to the text truncated to a bounded length.
func RelevantLine(text string, keywords []string) string {
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return strings.TrimSpace(line)
			}
		}
	}
	return truncate(strings.TrimSpace(text), maxExcerptRune)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}

type senderStrategy func(ref Sender, lookup SenderLookup) string

var senderStrategies = []senderStrategy{
	func(ref Sender, _ SenderLookup) string { return atUsername(ref.Username) },
	func(ref Sender, lookup SenderLookup) string { return atUsername(looked(ref, lookup).Username) },
	func(ref Sender, _ SenderLookup) string { return fullName(ref) },
	func(ref Sender, lookup SenderLookup) string { return fullName(looked(ref, lookup)) },
}

var phoneStrategies = []senderStrategy{
	func(ref Sender, _ SenderLookup) string { return ref.Phone },
	func(ref Sender, lookup SenderLookup) string { return looked(ref, lookup).Phone },
}

// ResolveSender returns the best display name for a sender: username,
// then first/last name, consulting lookup after the message's own data.
func ResolveSender(ref Sender, lookup SenderLookup) string {
	return firstNonEmpty(senderStrategies, ref, lookup, unknownSender)
}

// ResolvePhone returns the sender's phone number if known.
func ResolvePhone(ref Sender, lookup SenderLookup) string {
	return firstNonEmpty(phoneStrategies, ref, lookup, unknownPhone)
}

func firstNonEmpty(strategies []senderStrategy, ref Sender, lookup SenderLookup, fallback string) string {
	for _, s := range strategies {
		if v := strings.TrimSpace(s(ref, lookup)); v != "" {
			return v
		}
	}
	return fallback
}

func looked(ref Sender, lookup SenderLookup) Sender {
	if lookup == nil || ref.ID == 0 {
		return Sender{}
	}
	s, _ := lookup.LookupSender(ref.ID)
	return s
}

func atUsername(u string) string {
	if u == "" {
		return ""
	}
	return "@" + strings.TrimPrefix(u, "@")
}

func fullName(s Sender) string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}
