package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fow830/tgator/internal/storage"
	"github.com/fow830/tgator/internal/telegram"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu        sync.Mutex
	now       func() time.Time
	chats     []storage.Chat
	keywords  []storage.Keyword
	alerts    []storage.Alert
	createErr error
	// failures makes CreateAlert fail that many times for a keyword.
	failures  map[string]int
	panicList bool
}

func (s *fakeStore) ListChats(context.Context) ([]storage.Chat, error) {
	if s.panicList {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.Chat(nil), s.chats...), nil
}

func (s *fakeStore) ListKeywords(context.Context) ([]storage.Keyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.Keyword(nil), s.keywords...), nil
}

func (s *fakeStore) FindAlert(_ context.Context, chatID, messageID string) (*storage.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ChatID == chatID && a.MessageID == messageID {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CreateAlert(_ context.Context, a storage.Alert) (*storage.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	if s.failures[a.Keyword] > 0 {
		s.failures[a.Keyword]--
		return nil, errors.New("database is locked")
	}
	for _, existing := range s.alerts {
		if existing.ChatID == a.ChatID && existing.MessageID == a.MessageID && existing.Keyword == a.Keyword {
			return nil, storage.ErrConflict
		}
	}
	a.ID = int64(len(s.alerts) + 1)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.alerts = append(s.alerts, a)
	return &a, nil
}

func (s *fakeStore) LatestAlertTime(_ context.Context, chatID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	found := false
	for _, a := range s.alerts {
		if a.ChatID == chatID && (!found || a.CreatedAt.After(latest)) {
			latest, found = a.CreatedAt, true
		}
	}
	return latest, found, nil
}

func (s *fakeStore) alertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type fakeSource struct {
	mu          sync.Mutex
	messages    map[string][]telegram.Message
	fetchErr    map[string]error
	connectErr  error
	resolved    map[string]*telegram.ChatInfo
	connects    int
	fetched     []string
	invalidated int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		messages: make(map[string][]telegram.Message),
		fetchErr: make(map[string]error),
		resolved: make(map[string]*telegram.ChatInfo),
	}
}

func (f *fakeSource) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeSource) GetMessages(_ context.Context, chatID string, limit int) ([]telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, chatID)
	if err := f.fetchErr[chatID]; err != nil {
		return nil, err
	}
	msgs := f.messages[chatID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *fakeSource) Resolve(_ context.Context, ref string) (*telegram.ChatInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.resolved[ref]; ok {
		return info, nil
	}
	return nil, errors.New("chat not found")
}

func (f *fakeSource) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
}

func (f *fakeSource) fetchedChats() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, text)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fixture struct {
	store    *fakeStore
	source   *fakeSource
	notifier *fakeNotifier
	now      time.Time
}

func newFixture(keywords ...string) *fixture {
	f := &fixture{
		source:   newFakeSource(),
		notifier: &fakeNotifier{},
		now:      baseTime,
	}
	f.store = &fakeStore{now: func() time.Time { return f.now }}
	for i, kw := range keywords {
		f.store.keywords = append(f.store.keywords, storage.Keyword{ID: int64(i + 1), Keyword: kw})
	}
	return f
}

func (f *fixture) addChat(chatID, name string) {
	f.store.chats = append(f.store.chats, storage.Chat{ID: int64(len(f.store.chats) + 1), ChatID: chatID, Name: name})
}

func (f *fixture) post(chatID string, id int, text string, at time.Time) {
	f.source.messages[chatID] = append([]telegram.Message{{
		ID:     id,
		ChatID: chatID,
		Text:   text,
		Date:   at,
	}}, f.source.messages[chatID]...)
}

func (f *fixture) monitor(cfg Config) *Monitor {
	m := New(cfg, Deps{
		Chats:    f.store,
		Keywords: f.store,
		Alerts:   f.store,
		Source:   f.source,
		Notifier: f.notifier,
	})
	m.now = func() time.Time { return f.now }
	return m
}

func TestRunCycle_SingleMatch(t *testing.T) {
	f := newFixture("sale")
	f.addChat("-100200", "Deals")
	f.post("-100200", 7, "Big sale today", f.now.Add(-time.Minute))

	report, err := f.monitor(Config{}).RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, f.store.alerts, 1)
	a := f.store.alerts[0]
	assert.Equal(t, "-100200", a.ChatID)
	assert.Equal(t, "sale", a.Keyword)
	assert.Equal(t, "7", a.MessageID)
	assert.Equal(t, "Big sale today", a.Message)

	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, 1, report.AlertsCreated)
	assert.Equal(t, 1, report.NotificationsSent)
	assert.Equal(t, 1, report.ChatsScanned)
}

func TestRunCycle_TwoKeywordsOneNotification(t *testing.T) {
	f := newFixture("sale", "today")
	f.addChat("-100200", "Deals")
	f.post("-100200", 7, "Big sale today", f.now.Add(-time.Minute))

	_, err := f.monitor(Config{}).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, f.store.alertCount())
	require.Equal(t, 1, f.notifier.count())
	assert.Contains(t, f.notifier.sent[0], "sale, today")
}

func TestRunCycle_CutoffIsInclusive(t *testing.T) {
	f := newFixture("sale")
	f.addChat("c", "C")
	f.post("c", 1, "sale at the edge", f.now.Add(-5*time.Minute))
	f.post("c", 2, "sale too old", f.now.Add(-5*time.Minute-time.Second))

	_, err := f.monitor(Config{}).RunCycle(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, f.store.alertCount())
	assert.Equal(t, "1", f.store.alerts[0].MessageID)
}

func TestRunCycle_ExistingAlertIsSkipped(t *testing.T) {
	f := newFixture("sale")
	f.addChat("c", "C")
	msgAt := f.now.Add(-time.Minute)
	f.post("c", 3, "sale", msgAt)
	f.store.alerts = []storage.Alert{{ID: 1, ChatID: "c", Keyword: "sale", MessageID: "3", CreatedAt: msgAt.Add(-time.Second)}}

	m := f.monitor(Config{})
	_, err := m.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.alertCount())
	assert.Zero(t, f.notifier.count())
	assert.True(t, m.seen.isProcessed(messageKey{chatID: "c", messageID: "3"}))
}

func TestRunCycle_NotifierFailureKeepsAlerts(t *testing.T) {
	f := newFixture("sale")
	f.addChat("c", "C")
	f.post("c", 1, "sale", f.now.Add(-time.Minute))
	f.notifier.err = errors.New("forbidden")

	report, err := f.monitor(Config{}).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.alertCount())
	assert.Equal(t, 1, report.NotificationsFailed)
	assert.Equal(t, 1, report.ChatsScanned)
}

func TestRunCycle_Idempotent(t *testing.T) {
	f := newFixture("sale")
	f.addChat("c", "C")
	f.post("c", 1, "sale", f.now.Add(-time.Minute))

	m := f.monitor(Config{})
	_, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	_, err = m.RunCycle(context.Background())
	require.NoError(t, err)

	// A restarted process has an empty cache and must still not duplicate.
	_, err = f.monitor(Config{}).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.alertCount())
	assert.Equal(t, 1, f.notifier.count())
}

func TestRunCycle_ExcludesAlertChannel(t *testing.T) {
	f := newFixture("sale")
	f.addChat("-100999", "Alerts")
	f.addChat("-100555", "Mirror")
	f.addChat("c", "Regular")
	for _, id := range []string{"-100999", "-100555", "c"} {
		f.post(id, 1, "sale", f.now.Add(-time.Minute))
	}
	f.source.resolved["@alerts_out"] = &telegram.ChatInfo{ID: "-100999", Title: "Alerts", Username: "alerts_out"}

	report, err := f.monitor(Config{AlertChannel: "@alerts_out", Excluded: []string{"mirror"}}).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"c"}, f.source.fetchedChats())
	assert.Equal(t, 2, report.ChatsSkipped)
	require.Equal(t, 1, f.store.alertCount())
	assert.Equal(t, "c", f.store.alerts[0].ChatID)
}

func TestRunCycle_ExcludesAlertChannelByID(t *testing.T) {
	f := newFixture("sale")
	f.addChat("-100999", "Whatever")
	f.post("-100999", 1, "sale", f.now.Add(-time.Minute))

	_, err := f.monitor(Config{AlertChannel: "-100999"}).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.source.fetchedChats())
	assert.Zero(t, f.store.alertCount())
}

func TestRunCycle_ExcludesAlertChannelByUsername(t *testing.T) {
	f := newFixture("sale")
	f.store.chats = []storage.Chat{{ID: 1, ChatID: "-100777", Name: "Outbox", Username: "Alerts_Out"}}
	f.post("-100777", 1, "sale", f.now.Add(-time.Minute))

	// Resolve fails, so only the stored username identifies the channel.
	report, err := f.monitor(Config{AlertChannel: "@alerts_out"}).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.source.fetchedChats())
	assert.Equal(t, 1, report.ChatsSkipped)
	assert.Zero(t, f.store.alertCount())
}

func TestRunCycle_IsolatesChatFailures(t *testing.T) {
	f := newFixture("sale")
	f.addChat("a", "A")
	f.addChat("b", "B")
	f.source.fetchErr["a"] = errors.New("chat not found")
	f.post("b", 1, "sale", f.now.Add(-time.Minute))

	report, err := f.monitor(Config{}).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.ChatsFailed)
	assert.Equal(t, 1, report.ChatsScanned)
	require.Equal(t, 1, f.store.alertCount())
	assert.Equal(t, "b", f.store.alerts[0].ChatID)
}

func TestRunCycle_NoopWithoutKeywordsOrChats(t *testing.T) {
	f := newFixture()
	f.addChat("c", "C")

	_, err := f.monitor(Config{}).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.source.connects)

	f = newFixture("sale")
	_, err = f.monitor(Config{}).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.source.connects)
}

func TestRunCycle_AbortsWhenSourceUnavailable(t *testing.T) {
	f := newFixture("sale")
	f.addChat("c", "C")
	f.source.connectErr = telegram.ErrNotAuthorized

	report, err := f.monitor(Config{}).RunCycle(context.Background())
	require.ErrorIs(t, err, telegram.ErrNotAuthorized)
	assert.Empty(t, f.source.fetchedChats())
	assert.NotEmpty(t, report.Error)
}

func TestRunCycle_InvalidatesSourceOnAuthError(t *testing.T) {
	f := newFixture("sale")
	f.addChat("a", "A")
	f.addChat("b", "B")
	f.source.fetchErr["a"] = fmt.Errorf("fetch: %w", telegram.ErrNotAuthorized)

	_, err := f.monitor(Config{}).RunCycle(context.Background())
	require.ErrorIs(t, err, telegram.ErrNotAuthorized)
	assert.Equal(t, 1, f.source.invalidated)
	assert.Equal(t, []string{"a"}, f.source.fetchedChats())
}

func TestRunCycle_RecoversPanic(t *testing.T) {
	f := newFixture("sale")
	f.store.panicList = true
	m := f.monitor(Config{})

	report, err := m.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Contains(t, report.Error, "panicked")
	assert.Equal(t, int64(1), m.Status().Cycles)
}

func TestRunCycle_SkipsMessagesHeldByAnotherCycle(t *testing.T) {
	f := newFixture("sale")
	f.addChat("c", "C")
	f.post("c", 1, "sale", f.now.Add(-time.Minute))

	m := f.monitor(Config{})
	key := messageKey{chatID: "c", messageID: "1"}
	require.True(t, m.seen.acquire(key))

	_, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.store.alertCount())

	m.seen.release(key)
	_, err = m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.alertCount())
	assert.False(t, m.seen.isLocked(key))
}

func TestRunCycle_ConcurrentCyclesNotifyOnce(t *testing.T) {
	f := newFixture("sale", "deal")
	f.addChat("c", "C")
	f.post("c", 1, "sale deal", f.now.Add(-time.Minute))
	f.post("c", 2, "another sale", f.now.Add(-30*time.Second))

	m := f.monitor(Config{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.RunCycle(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, f.store.alertCount())
	assert.Equal(t, 2, f.notifier.count())
}

func TestRunCycle_StoreErrorIsRetried(t *testing.T) {
	f := newFixture("sale")
	f.addChat("c", "C")
	f.post("c", 1, "sale", f.now.Add(-time.Minute))
	f.store.createErr = errors.New("database is locked")

	m := f.monitor(Config{})
	report, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.store.alertCount())
	assert.False(t, m.seen.isProcessed(messageKey{chatID: "c", messageID: "1"}))
	assert.Equal(t, 1, report.ChatsFailed)
	assert.Zero(t, report.ChatsScanned)

	f.store.createErr = nil
	report, err = m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.alertCount())
	assert.Equal(t, 1, report.ChatsScanned)
}

func TestRunCycle_PartialInsertIsRetried(t *testing.T) {
	f := newFixture("sale", "today")
	f.addChat("c", "C")
	f.post("c", 1, "Big sale today", f.now.Add(-time.Minute))
	f.store.failures = map[string]int{"today": 1}

	m := f.monitor(Config{})
	report, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.AlertsCreated)
	assert.Equal(t, 1, report.ChatsFailed)
	require.Equal(t, 1, f.notifier.count())

	// The stored "sale" row moves the cutoff past the message.
	f.now = f.now.Add(15 * time.Second)
	report, err = m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.AlertsCreated)

	var keywords []string
	for _, a := range f.store.alerts {
		keywords = append(keywords, a.Keyword)
	}
	assert.ElementsMatch(t, []string{"sale", "today"}, keywords)

	require.Equal(t, 2, f.notifier.count())
	assert.Contains(t, f.notifier.sent[1], "<b>Keywords:</b> today\n")

	_, err = m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.alertCount())
	assert.Equal(t, 2, f.notifier.count())
	assert.True(t, m.seen.isProcessed(messageKey{chatID: "c", messageID: "1"}))
}

func TestRunCycle_DropsEmptyAndUndatedMessages(t *testing.T) {
	f := newFixture("sale")
	f.addChat("c", "C")
	f.post("c", 1, "sale", time.Time{})
	f.post("c", 2, "   ", f.now)

	report, err := f.monitor(Config{}).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.MessagesEvaluated)
	assert.Zero(t, f.store.alertCount())
}

func TestCutoff_IsMonotonic(t *testing.T) {
	f := newFixture("sale")
	joined := f.now.Add(-2 * time.Minute)
	chat := storage.Chat{ChatID: "c", JoinedAt: &joined}
	m := f.monitor(Config{})

	first, err := m.cutoff(context.Background(), chat)
	require.NoError(t, err)
	assert.Equal(t, joined, first, "join time is newer than the window")

	f.now = f.now.Add(time.Minute)
	_, err = f.store.CreateAlert(context.Background(), storage.Alert{ChatID: "c", Keyword: "sale", MessageID: "1"})
	require.NoError(t, err)

	second, err := m.cutoff(context.Background(), chat)
	require.NoError(t, err)
	assert.Equal(t, f.now, second, "latest alert wins")
	assert.False(t, second.Before(first))

	f.now = f.now.Add(10 * time.Minute)
	third, err := m.cutoff(context.Background(), chat)
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(-5*time.Minute), third)
	assert.False(t, third.Before(second))
}

func TestStartStop(t *testing.T) {
	f := newFixture("sale")
	f.addChat("c", "C")
	f.post("c", 1, "sale", f.now.Add(-time.Minute))

	m := f.monitor(Config{Interval: time.Hour})
	m.Start()
	m.Start()
	assert.True(t, m.Running())

	require.Eventually(t, func() bool { return m.Status().Cycles == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.store.alertCount())

	m.Stop()
	m.Stop()
	m.Wait()
	assert.False(t, m.Running())

	st := m.Status()
	assert.Nil(t, st.StartedAt)
	require.NotNil(t, st.LastReport)
	assert.Equal(t, 1, st.LastReport.AlertsCreated)
}

func TestMetricsRecordCycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture("sale")
	f.addChat("c", "C")
	f.post("c", 1, "sale", f.now.Add(-time.Minute))

	m := New(Config{}, Deps{
		Chats:    f.store,
		Keywords: f.store,
		Alerts:   f.store,
		Source:   f.source,
		Notifier: f.notifier,
		Metrics:  NewMetrics(reg),
	})
	m.now = func() time.Time { return f.now }

	_, err := m.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, reg, "tgator_alerts_created_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "tgator_notifications_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "tgator_monitor_cycles_total"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestMatchKeywords(t *testing.T) {
	assert.Equal(t, []string{"sale", "today"}, matchKeywords("Big SALE Today", []string{"sale", "today", "tomorrow"}))
	assert.Empty(t, matchKeywords("nothing here", []string{"sale"}))
}
