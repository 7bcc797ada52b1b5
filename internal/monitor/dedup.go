package monitor

import (
	"container/list"
	"sync"
)

type messageKey struct {
	chatID    string
	messageID string
}

// tracker holds the in-process dedup state: a bounded, insertion-ordered
// cache of evaluated messages, the set of messages being evaluated right
// now and the messages whose alerts were only partly written. None of them
// is the source of truth; the alert store's unique constraint is.
type tracker struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	done     map[messageKey]*list.Element
	inFlight map[messageKey]struct{}
	retry    map[messageKey]struct{}
}

func newTracker(capacity int) *tracker {
	if capacity <= 0 {
		capacity = 1000
	}
	return &tracker{
		capacity: capacity,
		order:    list.New(),
		done:     make(map[messageKey]*list.Element),
		inFlight: make(map[messageKey]struct{}),
		retry:    make(map[messageKey]struct{}),
	}
}

// acquire claims key for evaluation. It fails when the key was already
// evaluated or another cycle holds it.
func (t *tracker) acquire(key messageKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.done[key]; ok {
		return false
	}
	if _, ok := t.inFlight[key]; ok {
		return false
	}
	t.inFlight[key] = struct{}{}
	return true
}

func (t *tracker) release(key messageKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, key)
}

// markProcessed records key, evicting the oldest entries above capacity.
func (t *tracker) markProcessed(key messageKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.done[key]; ok {
		return
	}
	t.done[key] = t.order.PushBack(key)
	for t.order.Len() > t.capacity {
		oldest := t.order.Front()
		t.order.Remove(oldest)
		delete(t.done, oldest.Value.(messageKey))
	}
}

func (t *tracker) isProcessed(key messageKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.done[key]
	return ok
}

// markRetry flags key as having failed alert inserts. A flagged message
// is evaluated again even though some of its rows already exist. The set
// is bounded by the cache capacity; an arbitrary entry is dropped when full.
func (t *tracker) markRetry(key messageKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.retry[key]; !ok && len(t.retry) >= t.capacity {
		for k := range t.retry {
			delete(t.retry, k)
			break
		}
	}
	t.retry[key] = struct{}{}
}

func (t *tracker) clearRetry(key messageKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.retry, key)
}

func (t *tracker) needsRetry(key messageKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.retry[key]
	return ok
}

func (t *tracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}
