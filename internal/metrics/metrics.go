// Package metrics provides Prometheus instrumentation for the chat core.
// It exposes counters for message flow through the reconciler, presence
// recomputation counts, and gauges for live connections and typing users.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesSent counts messages successfully written by local sends.
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Total number of messages sent by local sessions",
	})

	// MessagesReceived counts live insert events delivered to sessions,
	// including ones later discarded as duplicates.
	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_received_total",
		Help: "Total number of live insert events delivered",
	})

	// MessagesDeduplicated counts live events discarded because their ID
	// was already present in the reconciled sequence.
	MessagesDeduplicated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_deduplicated_total",
		Help: "Total number of live events dropped as duplicates",
	})

	// DegradedMessages counts live events delivered with the placeholder
	// author because by-ID enrichment failed.
	DegradedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_degraded_total",
		Help: "Total number of live events delivered as degraded records",
	})

	// PresenceRecomputes counts typing-presence recomputations, labeled by
	// trigger: "change" (store event) or "tick" (periodic expiry sweep).
	PresenceRecomputes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_presence_recomputes_total",
		Help: "Total number of typing presence recomputations",
	}, []string{"trigger"}) // trigger = "change", "tick"

	// TypingUsers tracks the size of the last computed presence set.
	TypingUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_typing_users",
		Help: "Number of users in the last computed typing presence set",
	})

	// Connections tracks the current number of gateway websocket
	// connections (one chat session each).
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_gateway_connections",
		Help: "Current number of gateway websocket connections",
	})

	// SendLatency records store write latency for sends in seconds.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_send_latency_seconds",
		Help:    "Message send store-write latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		MessagesReceived,
		MessagesDeduplicated,
		DegradedMessages,
		PresenceRecomputes,
		TypingUsers,
		Connections,
		SendLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
