package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub Metrics
var (
	// HubSubscribersCurrent tracks live subscribers across all channels
	HubSubscribersCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_subscribers_current",
			Help: "Current number of registered subscribers across all channels",
		},
	)

	// HubChannelsCurrent tracks channels with at least one subscriber
	HubChannelsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_channels_current",
			Help: "Current number of channels with at least one subscriber",
		},
	)

	// HubSubscriptionsTotal tracks subscribe attempts by result
	HubSubscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_subscriptions_total",
			Help: "Total subscribe attempts by result (success/setup_failed/closed)",
		},
		[]string{"result"},
	)

	// HubMessagesPublishedTotal tracks publish calls that reached at least one subscriber
	HubMessagesPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_messages_published_total",
			Help: "Total publish calls fanned out to at least one subscriber",
		},
	)

	// HubDeliveriesTotal tracks per-subscriber delivery attempts by result
	HubDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_deliveries_total",
			Help: "Total per-subscriber delivery attempts by result (delivered/failed)",
		},
		[]string{"result"},
	)

	// HubEvictionsTotal tracks evicted subscribers by trigger
	HubEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_evictions_total",
			Help: "Total subscribers evicted by reason (delivery/probe/shutdown)",
		},
		[]string{"reason"},
	)

	// HubSweepDuration tracks liveness sweep latency
	HubSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcast_sweep_duration_seconds",
			Help:    "Liveness sweep duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	// HubPublishDuration tracks fan-out latency of one publish call
	HubPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcast_publish_duration_seconds",
			Help:    "Publish fan-out duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)

// Stream Metrics
var (
	// SSEConnectionsCurrent tracks open Server-Sent Events streams
	SSEConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_current",
			Help: "Current number of open Server-Sent Events streams",
		},
	)

	// WebSocketConnectionsCurrent tracks open WebSocket streams
	WebSocketConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_current",
			Help: "Current number of open WebSocket streams",
		},
	)

	// StreamConnectionsRejected tracks rejected stream connection attempts by reason
	StreamConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_connections_rejected_total",
			Help: "Total stream connections rejected by reason (rate_limit/per_ip_limit/global_limit)",
		},
		[]string{"reason"},
	)

	// StreamConnectionDuration tracks how long stream connections stay open
	StreamConnectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stream_connection_duration_seconds",
			Help:    "Stream connection duration in seconds by transport",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
		[]string{"transport"},
	)
)

// Producer Metrics
var (
	// CPUSamplesTotal tracks CPU usage samples by result
	CPUSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpu_samples_total",
			Help: "Total CPU usage samples by result (success/error/circuit_open)",
		},
		[]string{"result"},
	)

	// ProducerRunning is 1 while the producer loop for a channel is active
	ProducerRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "producer_running",
			Help: "1 if the background producer for a channel is running, 0 otherwise",
		},
		[]string{"channel"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// HTTP Metrics
var (
	// HTTPErrorsTotal tracks error responses by structured error type
	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total HTTP error responses by type (validation/not_found/rate_limited/unavailable/internal)",
		},
		[]string{"type"},
	)
)
