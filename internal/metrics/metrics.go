package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goopforum_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status"},
	)

	// Bus metrics
	BusPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goopforum_bus_published_total",
			Help: "Envelopes published on the shared channel",
		},
		[]string{"kind", "result"}, // result: "ok" or "error"
	)

	BusPublishLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "goopforum_bus_publish_latency_seconds",
			Help:    "Time spent handing an envelope to the transport",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2},
		},
	)

	// Sync metrics
	SyncOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goopforum_sync_outcomes_total",
			Help: "Inbound envelopes by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Business metrics
	PostsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goopforum_posts_created_total",
			Help: "Posts created by local users",
		},
	)

	ChatMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goopforum_chat_messages_sent_total",
			Help: "Chat messages sent by local users",
		},
	)

	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goopforum_rooms_created_total",
			Help: "Chat rooms created by local users",
		},
	)

	// Broadcast metrics
	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goopforum_broadcast_dropped_total",
			Help: "Events dropped because a local subscriber was too slow",
		},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "goopforum_websocket_clients",
			Help: "Connected websocket clients",
		},
	)
)
