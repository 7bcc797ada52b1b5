package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the monitor's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	chatFailures  prometheus.Counter
	evaluated     prometheus.Counter
	alerts        prometheus.Counter
	conflicts     prometheus.Counter
	notifications *prometheus.CounterVec
	running       prometheus.Gauge
}

// NewMetrics registers the monitor collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tgator_monitor_cycles_total",
			Help: "Monitor cycles by result.",
		}, []string{"result"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tgator_monitor_cycle_duration_seconds",
			Help:    "Duration of monitor cycles.",
			Buckets: prometheus.DefBuckets,
		}),
		chatFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "tgator_monitor_chat_failures_total",
			Help: "Chats that failed to scan.",
		}),
		evaluated: f.NewCounter(prometheus.CounterOpts{
			Name: "tgator_monitor_messages_evaluated_total",
			Help: "Messages matched against keywords.",
		}),
		alerts: f.NewCounter(prometheus.CounterOpts{
			Name: "tgator_alerts_created_total",
			Help: "Alert rows created.",
		}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "tgator_alert_conflicts_total",
			Help: "Alert inserts that hit the uniqueness constraint.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tgator_notifications_total",
			Help: "Notification attempts by status.",
		}, []string{"status"}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Name: "tgator_monitor_running",
			Help: "1 while the monitor schedule is active.",
		}),
	}
}

func (m *Metrics) observeCycle(result string, dur time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(dur.Seconds())
}

func (m *Metrics) chatFailed() {
	if m != nil {
		m.chatFailures.Inc()
	}
}

func (m *Metrics) messageEvaluated() {
	if m != nil {
		m.evaluated.Inc()
	}
}

func (m *Metrics) alertCreated() {
	if m != nil {
		m.alerts.Inc()
	}
}

func (m *Metrics) alertConflict() {
	if m != nil {
		m.conflicts.Inc()
	}
}

func (m *Metrics) notification(ok bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !ok {
		status = "failed"
	}
	m.notifications.WithLabelValues(status).Inc()
}

func (m *Metrics) setRunning(running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.running.Set(v)
}
