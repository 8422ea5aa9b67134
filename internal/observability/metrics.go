package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the chat client's message flow and connection health.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.MessagesSent.Inc()
type Metrics struct {
	// MessagesSent counts outbound messages emitted on the channel.
	MessagesSent prometheus.Counter

	// MessagesReceived counts inbound message events.
	MessagesReceived prometheus.Counter

	// MessagesFailed counts sends that timed out or were rejected.
	MessagesFailed prometheus.Counter

	// ReconnectAttempts counts reconnection attempts after drops.
	ReconnectAttempts prometheus.Counter

	// Connected is 1 while the event channel is connected.
	Connected prometheus.Gauge

	// HistoryPageDuration measures history backfill latency in seconds.
	// Buckets: 0.01s to 10s.
	HistoryPageDuration prometheus.Histogram
}

// NewMetrics creates and registers the chat client metrics with reg.
// Passing prometheus.DefaultRegisterer exposes them on the standard
// /metrics endpoint; tests pass a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatkit_messages_sent_total",
			Help: "Outbound chat messages emitted on the event channel.",
		}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatkit_messages_received_total",
			Help: "Inbound chat message events.",
		}),
		MessagesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatkit_messages_failed_total",
			Help: "Sends that timed out or were rejected by the server.",
		}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatkit_reconnect_attempts_total",
			Help: "Reconnection attempts after a connection drop.",
		}),
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatkit_connected",
			Help: "1 while the event channel is connected.",
		}),
		HistoryPageDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatkit_history_page_duration_seconds",
			Help:    "Latency of history backfill pages.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}
