package monitor

import (
	"strings"
	"sync"

	"github.com/fow830/tgator/internal/storage"
)

// exclusions lists chats that are never scanned: the alert channel itself
// and any extra ids or names from configuration.
type exclusions struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

func newExclusions(entries ...string) *exclusions {
	e := &exclusions{set: make(map[string]struct{})}
	e.add(entries...)
	return e
}

func (e *exclusions) add(entries ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range entries {
		if v = normalizeRef(v); v != "" {
			e.set[v] = struct{}{}
		}
	}
}

func (e *exclusions) matches(chat storage.Chat) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, v := range []string{chat.ChatID, chat.Name, chat.Username} {
		if v == "" {
			continue
		}
		if _, ok := e.set[normalizeRef(v)]; ok {
			return true
		}
	}
	return false
}

func normalizeRef(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "https://t.me/")
	s = strings.TrimPrefix(s, "@")
	return strings.ToLower(s)
}
