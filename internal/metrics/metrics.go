// Package metrics defines the Prometheus series recorded during conversations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "talkingbot"

// Metrics holds one set of collectors registered on a single registry.
type Metrics struct {
	updatesTotal    *prometheus.CounterVec
	toolCallsTotal  *prometheus.CounterVec
	toolCallSeconds *prometheus.HistogramVec
	bargeInsTotal   prometheus.Counter
	sessionsActive  prometheus.Gauge
	sessionSeconds  *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		updatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_total",
				Help:      "Realtime updates processed by the dispatcher",
			},
			[]string{"kind"},
		),
		toolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Tool invocations requested by the model",
			},
			[]string{"tool", "status"}, // status: success, error, not_found
		),
		toolCallSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Duration of tool calls in seconds",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"tool"},
		),
		bargeInsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "barge_ins_total",
				Help:      "Times user speech cleared pending playback",
			},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Conversations currently live",
			},
		),
		sessionSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Conversation length in seconds",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"reason"}, // reason: stopped, error, finished
		),
	}

	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

// Collectors lists every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.updatesTotal,
		m.toolCallsTotal,
		m.toolCallSeconds,
		m.bargeInsTotal,
		m.sessionsActive,
		m.sessionSeconds,
	}
}

// ObserveUpdate counts one dispatched update.
func (m *Metrics) ObserveUpdate(kind string) {
	if m == nil {
		return
	}
	m.updatesTotal.WithLabelValues(kind).Inc()
}

// ObserveToolCall records one tool invocation outcome.
func (m *Metrics) ObserveToolCall(tool string, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, status).Inc()
	if status != "not_found" {
		m.toolCallSeconds.WithLabelValues(tool).Observe(elapsed.Seconds())
	}
}

// ObserveBargeIn counts one playback interruption.
func (m *Metrics) ObserveBargeIn() {
	if m == nil {
		return
	}
	m.bargeInsTotal.Inc()
}

// SessionStarted marks a conversation live.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

// SessionEnded marks a conversation finished after elapsed.
func (m *Metrics) SessionEnded(reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionSeconds.WithLabelValues(reason).Observe(elapsed.Seconds())
}
