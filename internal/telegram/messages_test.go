package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeLookup map[int64]Sender

func (f fakeLookup) LookupSender(id int64) (Sender, bool) {
	s, ok := f[id]
	return s, ok
}

func TestChatLink_PublicUsername(t *testing.T) {
	assert.Equal(t, "https://t.me/deals/42", ChatLink("-1001234567890", "deals", 42))
	assert.Equal(t, "https://t.me/deals/42", ChatLink("-1001234567890", "@deals", 42))
}

func TestChatLink_PrivateChat(t *testing.T) {
	assert.Equal(t, "https://t.me/c/1234567890/42", ChatLink("-1001234567890", "", 42))
}

func TestInternalChatID(t *testing.T) {
	assert.Equal(t, "1234567890", InternalChatID("-1001234567890"))
	assert.Equal(t, "123456789", InternalChatID("-123456789"))
	assert.Equal(t, "100123456", InternalChatID("-100123456"), "short ids only lose the sign")
	assert.Equal(t, "777", InternalChatID("777"))
}

func TestRelevantLine_PicksFirstMatchingLine(t *testing.T) {
	text := "Hello everyone\nBig SALE today only\nAnother sale line"
	assert.Equal(t, "Big SALE today only", RelevantLine(text, []string{"sale"}))
	assert.Equal(t, "Big SALE today only", RelevantLine(text, []string{"missing", "today"}))
}

func TestRelevantLine_FallsBackToTruncatedText(t *testing.T) {
	assert.Equal(t, "short text", RelevantLine("  short text ", []string{"absent"}))

	long := strings.Repeat("я", maxExcerptRune+50)
	got := RelevantLine(long, nil)
	assert.Equal(t, strings.Repeat("я", maxExcerptRune)+"…", got)
}

func TestResolveSender_Order(t *testing.T) {
	lookup := fakeLookup{
		7: {ID: 7, Username: "known", FirstName: "Known", Phone: "+100"},
		8: {ID: 8, FirstName: "Dir", LastName: "Name"},
	}

	assert.Equal(t, "@own", ResolveSender(Sender{ID: 7, Username: "own"}, lookup))
	assert.Equal(t, "@known", ResolveSender(Sender{ID: 7, FirstName: "Msg"}, lookup))
	assert.Equal(t, "Msg Name", ResolveSender(Sender{ID: 8, FirstName: "Msg", LastName: "Name"}, lookup))
	assert.Equal(t, "Dir Name", ResolveSender(Sender{ID: 8}, lookup))
	assert.Equal(t, "Unknown", ResolveSender(Sender{ID: 9}, lookup))
	assert.Equal(t, "Unknown", ResolveSender(Sender{}, nil))
}

func TestResolvePhone(t *testing.T) {
	lookup := fakeLookup{7: {ID: 7, Phone: "+100"}}

	assert.Equal(t, "+200", ResolvePhone(Sender{ID: 7, Phone: "+200"}, lookup))
	assert.Equal(t, "+100", ResolvePhone(Sender{ID: 7}, lookup))
	assert.Equal(t, "Not available", ResolvePhone(Sender{ID: 8}, lookup))
	assert.Equal(t, "Not available", ResolvePhone(Sender{ID: 7}, nil))
}

func TestBuildAlertMessage(t *testing.T) {
	msg := BuildAlertMessage(AlertContent{
		ChatID:    "-1001234567890",
		ChatName:  "Deals <VIP>",
		Keywords:  []string{"sale", "today"},
		Text:      "hi\nBig sale today",
		MessageID: 5,
		Sender:    Sender{ID: 1, FirstName: "Ann"},
	}, nil)

	assert.Contains(t, msg, `<a href="https://t.me/c/1234567890/5">Deals &lt;VIP&gt;</a>`)
	assert.Contains(t, msg, "<b>Keywords:</b> sale, today")
	assert.Contains(t, msg, "<b>From:</b> Ann")
	assert.Contains(t, msg, "<b>Phone:</b> Not available")
	assert.Contains(t, msg, "<b>Message:</b> Big sale today")
}

func TestBuildAlertMessage_FallsBackToChatID(t *testing.T) {
	msg := BuildAlertMessage(AlertContent{ChatID: "-42", Keywords: []string{"x"}, Text: "x", MessageID: 1}, nil)
	assert.Contains(t, msg, `<a href="https://t.me/c/42/1">-42</a>`)
}

func TestCombineKeywords(t *testing.T) {
	assert.Equal(t, "sale, discount", CombineKeywords([]string{"sale", "discount"}))
	assert.Equal(t, "", CombineKeywords(nil))
}
