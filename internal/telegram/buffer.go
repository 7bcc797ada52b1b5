package telegram

import (
	"sync"
	"time"
)

// Sender identifies the author of a message as far as the message itself
// tells. Any field may be empty.
type Sender struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Phone     string
}

// ChatRef is the chat context carried by a message.
type ChatRef struct {
	Username string
	Title    string
	Kind     ChatKind
}

// Message is a text message observed in a chat.
type Message struct {
	ID     int
	ChatID string
	Text   string
	Date   time.Time
	Sender Sender
	Chat   ChatRef
}

// MessageBuffer keeps the most recent messages of every chat.
type MessageBuffer struct {
	mu       sync.RWMutex
	capacity int
	chats    map[string][]Message
}

// NewMessageBuffer creates a buffer holding up to capacity messages per chat.
func NewMessageBuffer(capacity int) *MessageBuffer {
	if capacity <= 0 {
		capacity = 200
	}
	return &MessageBuffer{
		capacity: capacity,
		chats:    make(map[string][]Message),
	}
}

// Add stores a message. A message with an id already present replaces the
// stored copy in place, so edits keep their position.
func (b *MessageBuffer) Add(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msgs := b.chats[msg.ChatID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID == msg.ID {
			msgs[i] = msg
			return
		}
	}

	msgs = append(msgs, msg)
	if len(msgs) > b.capacity {
		msgs = append([]Message(nil), msgs[len(msgs)-b.capacity:]...)
	}
	b.chats[msg.ChatID] = msgs
}

// Recent returns up to limit messages of a chat, most recent first.
func (b *MessageBuffer) Recent(chatID string, limit int) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msgs := b.chats[chatID]
	if limit <= 0 || limit > len(msgs) {
		limit = len(msgs)
	}

	out := make([]Message, 0, limit)
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, msgs[i])
	}
	return out
}

// Forget drops everything buffered for a chat.
func (b *MessageBuffer) Forget(chatID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.chats, chatID)
}

// Directory remembers what has been seen about users: names from the
// messages they send and phone numbers from contacts they share.
type Directory struct {
	mu    sync.RWMutex
	users map[int64]Sender
}

// NewDirectory creates an empty user directory.
func NewDirectory() *Directory {
	return &Directory{users: make(map[int64]Sender)}
}

// Remember merges the non-empty fields of s into the stored entry.
func (d *Directory) Remember(s Sender) {
	if s.ID == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.users[s.ID]
	cur.ID = s.ID
	if s.Username != "" {
		cur.Username = s.Username
	}
	if s.FirstName != "" || s.LastName != "" {
		cur.FirstName = s.FirstName
		cur.LastName = s.LastName
	}
	if s.Phone != "" {
		cur.Phone = s.Phone
	}
	d.users[s.ID] = cur
}

// LookupSender implements SenderLookup.
func (d *Directory) LookupSender(id int64) (Sender, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.users[id]
	return s, ok
}
