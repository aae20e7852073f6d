package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CounterWrites - записи счетчиков непрочитанного (op: increment, reset; status: ok, error)
	CounterWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readstate_counter_writes_total",
			Help: "Unread counter writes by operation and status",
		},
		[]string{"op", "status"},
	)

	FanoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "readstate_fanout_duration_seconds",
			Help:    "Duration of unread increment fan-out for one message",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2},
		},
	)

	// DispatchTokens - исходы по токенам (result: delivered, failed)
	DispatchTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readstate_dispatch_tokens_total",
			Help: "Per-token push dispatch outcomes",
		},
		[]string{"result"},
	)

	DispatchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "readstate_dispatch_provider_errors_total",
			Help: "Multicast calls that failed at the provider level",
		},
	)

	DuplicateEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "readstate_duplicate_message_events_total",
			Help: "Message-sent events skipped by the idempotency guard",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readstate_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "readstate_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "readstate_ws_connections",
			Help: "Open websocket client views",
		},
	)
)
