package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type streamMetrics struct {
	published   *prometheus.CounterVec
	subscribers prometheus.Gauge
}

var (
	streamMetricsOnce sync.Once
	streamRegistry    *streamMetrics
)

// Stream returns the metrics registry tracking published escrow events and
// live websocket subscribers.
func Stream() *streamMetrics {
	streamMetricsOnce.Do(func() {
		streamRegistry = &streamMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pow",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of committed events segmented by type.",
			}, []string{"type"}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pow",
				Subsystem: "events",
				Name:      "subscribers",
				Help:      "Number of connected event stream subscribers.",
			}),
		}
		prometheus.MustRegister(streamRegistry.published, streamRegistry.subscribers)
	})
	return streamRegistry
}

// RecordPublished increments the event counter for the supplied type.
func (m *streamMetrics) RecordPublished(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.published.WithLabelValues(normalized).Inc()
}

// SubscriberJoined and SubscriberLeft track open stream connections.
func (m *streamMetrics) SubscriberJoined() {
	if m != nil {
		m.subscribers.Inc()
	}
}

func (m *streamMetrics) SubscriberLeft() {
	if m != nil {
		m.subscribers.Dec()
	}
}
