package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	AgentErrors     *prometheus.CounterVec
	Asks            *prometheus.CounterVec
	NormalizeMethod *prometheus.CounterVec
	AskLatency      prometheus.Histogram

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the instruments on reg.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		AgentErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_errors_total",
			Help:      "Agent call failures by classified code.",
		}, []string{"code"}),
		Asks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asks_total",
			Help:      "Questions processed by outcome.",
		}, []string{"outcome"}),
		NormalizeMethod: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalize_method_total",
			Help:      "Normalization rule that produced the displayed answer.",
		}, []string{"method"}),
		AskLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ask_latency_ms",
			Help:      "End-to-end latency of an ask round trip in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		window: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveSessionEvent(event string, active int) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
	m.ActiveSessions.Set(float64(active))
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveAgentError(code string) {
	if m == nil {
		return
	}
	m.AgentErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) ObserveAsk(outcome, method string, stages map[string]time.Duration) {
	if m == nil {
		return
	}
	m.Asks.WithLabelValues(outcome).Inc()
	if method != "" {
		m.NormalizeMethod.WithLabelValues(method).Inc()
		m.window.ObserveIndicator("method_" + method)
	}
	for stage, d := range stages {
		ms := float64(d.Microseconds()) / 1000
		if stage == StageAskTotal {
			m.AskLatency.Observe(ms)
		}
		m.window.Observe(stage, ms)
	}
}

// SnapshotLatency returns rolling latency stats for recent asks.
func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return newLatencyWindow(1).Snapshot()
	}
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
