package observability

import (
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics tracks escrow transitions handled by the node.
type EscrowMetrics struct {
	transitions *prometheus.CounterVec
	distance    prometheus.Histogram
	transfers   *prometheus.CounterVec
	commits     *prometheus.CounterVec
}

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics
)

// NewEscrowMetrics builds the escrow collectors and registers them with reg.
// A nil registerer leaves the collectors unregistered.
func NewEscrowMetrics(reg prometheus.Registerer) *EscrowMetrics {
	m := &EscrowMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pow",
			Subsystem: "escrow",
			Name:      "operations_total",
			Help:      "Escrow operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		distance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pow",
			Subsystem: "escrow",
			Name:      "claim_distance",
			Help:      "Distance between a verified claim and its job site, in metric units.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pow",
			Subsystem: "escrow",
			Name:      "transfers_total",
			Help:      "Value transfers initiated by escrow transitions, by direction and outcome.",
		}, []string{"direction", "outcome"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pow",
			Subsystem: "state",
			Name:      "commits_total",
			Help:      "State commits segmented by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.distance, m.transfers, m.commits)
	}
	return m
}

// Escrow returns the lazily-initialised escrow metrics registered with the
// default prometheus registry.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = NewEscrowMetrics(prometheus.DefaultRegisterer)
	})
	return escrowRegistry
}

// ObserveOperation counts an escrow operation. The outcome is "success" or a
// short stable error class such as "not_found".
func (m *EscrowMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if outcome == "" {
		outcome = "success"
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
}

// ObserveDistance records the measured distance of an accepted claim.
func (m *EscrowMetrics) ObserveDistance(distance *big.Int) {
	if m == nil || distance == nil {
		return
	}
	value, _ := new(big.Float).SetInt(distance).Float64()
	m.distance.Observe(value)
}

// ObserveTransfer counts a custody transfer. Direction is one of "deposit",
// "release" or "refund".
func (m *EscrowMetrics) ObserveTransfer(direction string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failed"
	}
	m.transfers.WithLabelValues(direction, outcome).Inc()
}

// ObserveCommit counts a state commit attempt.
func (m *EscrowMetrics) ObserveCommit(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.commits.WithLabelValues(outcome).Inc()
}

// RPC returns the lazily-initialised metrics registry used to record JSON-RPC
// activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = newRPCMetrics(prometheus.DefaultRegisterer)
	})
	return rpcRegistry
}

func newRPCMetrics(reg prometheus.Registerer) *rpcMetrics {
	m := &rpcMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pow",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total JSON-RPC requests segmented by method and outcome.",
		}, []string{"method", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pow",
			Subsystem: "rpc",
			Name:      "errors_total",
			Help:      "Total JSON-RPC errors segmented by method and JSON-RPC error code.",
		}, []string{"method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pow",
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for JSON-RPC handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pow",
			Subsystem: "rpc",
			Name:      "throttles_total",
			Help:      "Count of requests rejected due to throttling policies.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.errors, m.latency, m.throttles)
	}
	return m
}

// Observe records the outcome of a JSON-RPC call. A zero code means success.
func (m *rpcMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, strconv.Itoa(code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied reason.
// Reasons should be stable strings such as "rate_limit".
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}
