package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// ProtocolMetrics tracks state-transition requests applied by the protocol.
type ProtocolMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	protocolMetricsOnce sync.Once
	protocolRegistry    *ProtocolMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record query
// RPC activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bdn",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total query RPC requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bdn",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total query RPC errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "bdn",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for query RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bdn",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an RPC request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// Protocol returns the singleton registry for protocol requests.
func Protocol() *ProtocolMetrics {
	protocolMetricsOnce.Do(func() {
		protocolRegistry = &ProtocolMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bdn",
				Subsystem: "protocol",
				Name:      "requests_total",
				Help:      "Count of protocol requests segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "bdn",
				Subsystem: "protocol",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for protocol requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bdn",
				Subsystem: "protocol",
				Name:      "errors_total",
				Help:      "Count of rejected protocol requests segmented by operation and error kind.",
			}, []string{"op", "kind"}),
		}
		prometheus.MustRegister(
			protocolRegistry.requests,
			protocolRegistry.latency,
			protocolRegistry.errors,
		)
	})
	return protocolRegistry
}

// Observe records the execution of one request. kind classifies a failure
// and is ignored on success.
func (m *ProtocolMetrics) Observe(op string, duration time.Duration, kind string) {
	if m == nil {
		return
	}
	op = strings.TrimSpace(op)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if kind != "" {
		outcome = "error"
		m.errors.WithLabelValues(op, kind).Inc()
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}
