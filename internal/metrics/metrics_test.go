package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	// promauto panics on duplicate names at init; this checks every collector has a descriptor.
	collectors := []prometheus.Collector{
		HubSubscribersCurrent,
		HubChannelsCurrent,
		HubSubscriptionsTotal,
		HubMessagesPublishedTotal,
		HubDeliveriesTotal,
		HubEvictionsTotal,
		HubSweepDuration,
		HubPublishDuration,

		SSEConnectionsCurrent,
		WebSocketConnectionsCurrent,
		StreamConnectionsRejected,
		StreamConnectionDuration,

		CPUSamplesTotal,
		ProducerRunning,
		CircuitBreakerState,

		HTTPErrorsTotal,
	}

	for _, c := range collectors {
		desc := make(chan *prometheus.Desc, 1)
		c.Describe(desc)
		close(desc)

		require.NotNil(t, <-desc, "metric should have a valid descriptor")
	}
}

func TestCounterVecMetrics(t *testing.T) {
	tests := []struct {
		name   string
		metric *prometheus.CounterVec
		label  string
		incBy  int
	}{
		{"subscriptions by result", HubSubscriptionsTotal, "success", 3},
		{"deliveries by result", HubDeliveriesTotal, "failed", 2},
		{"evictions by reason", HubEvictionsTotal, "probe", 4},
		{"rejected streams by reason", StreamConnectionsRejected, "per_ip_limit", 1},
		{"cpu samples by result", CPUSamplesTotal, "circuit_open", 5},
		{"http errors by type", HTTPErrorsTotal, "validation", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.metric.Reset()

			for n := 0; n < tt.incBy; n++ {
				tt.metric.WithLabelValues(tt.label).Inc()
			}

			assert.Equal(t, float64(tt.incBy), testutil.ToFloat64(tt.metric.WithLabelValues(tt.label)))
		})
	}
}

func TestGaugeMetrics(t *testing.T) {
	gauges := map[string]prometheus.Gauge{
		"subscribers": HubSubscribersCurrent,
		"channels":    HubChannelsCurrent,
		"sse":         SSEConnectionsCurrent,
		"websocket":   WebSocketConnectionsCurrent,
	}

	for name, gauge := range gauges {
		t.Run(name, func(t *testing.T) {
			gauge.Set(10)
			gauge.Inc()
			gauge.Dec()
			gauge.Dec()
			assert.Equal(t, 9.0, testutil.ToFloat64(gauge))
		})
	}
}

func TestGaugeVecMetrics(t *testing.T) {
	ProducerRunning.Reset()
	CircuitBreakerState.Reset()

	ProducerRunning.WithLabelValues("cpu").Set(1)
	CircuitBreakerState.WithLabelValues("cpu_sampler").Set(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(ProducerRunning.WithLabelValues("cpu")))
	assert.Equal(t, 2.0, testutil.ToFloat64(CircuitBreakerState.WithLabelValues("cpu_sampler")))
}

func TestHistogramMetrics(t *testing.T) {
	HubPublishDuration.Observe(0.0002)
	HubSweepDuration.Observe(0.001)
	StreamConnectionDuration.WithLabelValues("sse").Observe(12)

	assert.Equal(t, 1, testutil.CollectAndCount(HubPublishDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(HubSweepDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(StreamConnectionDuration))
}

func TestMetricNaming(t *testing.T) {
	expected := `
		# HELP broadcast_messages_published_total Total publish calls fanned out to at least one subscriber
		# TYPE broadcast_messages_published_total counter
		broadcast_messages_published_total 1
	`
	HubMessagesPublishedTotal.Inc()

	require.NoError(t, testutil.CollectAndCompare(HubMessagesPublishedTotal, strings.NewReader(expected)))
}
