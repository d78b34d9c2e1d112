// Package metrics provides Prometheus instrumentation for the roomtalk
// gateway. It exposes gauges for connection and room counts, counters for
// message and moderation throughput, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomtalk_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts the total number of messages processed, labeled by
	// outcome: "sent", "taboo", "warning", or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomtalk_messages_total",
		Help: "Total number of messages processed",
	}, []string{"outcome"})

	// MessageLatency records message processing latency in seconds.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomtalk_message_latency_seconds",
		Help:    "Message processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// RoomOperationsTotal counts lifecycle operations, labeled by operation
	// ("create", "join", "leave", "close") and result ("ok", "conflict", "error").
	RoomOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomtalk_room_operations_total",
		Help: "Total number of room lifecycle operations",
	}, []string{"operation", "result"})

	// ActiveRooms tracks the current number of rooms with a live talk.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomtalk_active_rooms",
		Help: "Current number of active rooms",
	})

	// NotificationsTotal counts push notifications, labeled by event kind.
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomtalk_notifications_total",
		Help: "Total number of push notifications dispatched",
	}, []string{"event"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		MessageLatency,
		RoomOperationsTotal,
		ActiveRooms,
		NotificationsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
