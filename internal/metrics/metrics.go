// Package metrics exposes client-side counters for the API and chat layers.
// All methods are safe on a nil *Metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "questline"

// Metrics groups the client counters.
type Metrics struct {
	requests   *prometheus.CounterVec
	refreshes  *prometheus.CounterVec
	reconnects prometheus.Counter
	fallbacks  prometheus.Counter
	duplicates prometheus.Counter
}

// New creates the counters and registers them with reg (nil skips registration).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "API requests by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Token refresh attempts by result.",
		}, []string{"result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_reconnects_total",
			Help:      "Scheduled chat reconnect attempts.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_http_fallback_sends_total",
			Help:      "Chat messages sent over HTTP because the socket was not open.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_duplicate_messages_total",
			Help:      "Incoming chat messages dropped as duplicates.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.refreshes, m.reconnects, m.fallbacks, m.duplicates)
	}
	return m
}

// Request records one orchestrator call outcome ("ok" or an error kind).
func (m *Metrics) Request(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

// Refresh records a token refresh result.
func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

// Reconnect records a scheduled reconnect.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// Fallback records an HTTP fallback send.
func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

// Duplicate records a dropped duplicate message.
func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}
