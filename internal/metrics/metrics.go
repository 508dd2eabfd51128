package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Socket metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_active_connections",
			Help: "Open socket connections",
		},
	)

	RosterSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_roster_users",
			Help: "Users currently registered in the presence roster",
		},
	)

	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_inbound_events_total",
			Help: "Socket events received, by event name",
		},
		[]string{"event"},
	)

	RelayDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dropped_events_total",
			Help: "Events dropped because the destination was not connected",
		},
		[]string{"event"},
	)

	SlowConsumerDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_slow_consumer_drops_total",
			Help: "Outbound frames dropped because a connection's send queue was full",
		},
	)

	PresenceBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_presence_broadcasts_total",
			Help: "Full presence roster pushes",
		},
	)

	// AI responder metrics
	AIReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_ai_replies_total",
			Help: "AI responder invocations by outcome",
		},
		[]string{"outcome"}, // "success", "fallback", "rejected", "rate_limited"
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_ai_provider_latency_seconds",
			Help:    "Generative provider call latency",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// Infrastructure metrics
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_store_errors_total",
			Help: "Best-effort document store writes that failed",
		},
		[]string{"op"},
	)
)
