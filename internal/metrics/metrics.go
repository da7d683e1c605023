// Package metrics exposes Prometheus collectors for the onboarding service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	guardDecisionsTotal        *prometheus.CounterVec
	rateLimitedTotal           *prometheus.CounterVec
	streamSubscribers          prometheus.Gauge
	liveSessions               prometheus.Gauge
	reapedSessionsTotal        prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboard_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onboard_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)

		guardDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboard_guard_decisions_total",
				Help: "Page guard outcomes, labeled by reason.",
			},
			[]string{"reason"},
		)

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboard_rate_limited_total",
				Help: "Requests rejected by the per-user limiter, labeled by route.",
			},
			[]string{"route"},
		)

		streamSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "onboard_stream_subscribers",
				Help: "Websocket clients currently following a progress indicator.",
			},
		)

		liveSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "onboard_live_sessions",
				Help: "Form sessions held in memory by the registry.",
			},
		)

		reapedSessionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "onboard_reaped_sessions_total",
				Help: "Idle sessions closed by the reaper.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveGuardDecision counts one guard outcome.
func ObserveGuardDecision(reason string) {
	guardDecisionsTotal.WithLabelValues(reason).Inc()
}

// ObserveRateLimited counts a rejected request.
func ObserveRateLimited(route string) {
	rateLimitedTotal.WithLabelValues(route).Inc()
}

// IncStreamSubscribers increments the websocket subscriber gauge.
func IncStreamSubscribers() {
	streamSubscribers.Inc()
}

// DecStreamSubscribers decrements the websocket subscriber gauge.
func DecStreamSubscribers() {
	streamSubscribers.Dec()
}

// SetLiveSessions records the registry size.
func SetLiveSessions(n int) {
	liveSessions.Set(float64(n))
}

// ObserveReaped adds n reaped sessions.
func ObserveReaped(n int) {
	if n > 0 {
		reapedSessionsTotal.Add(float64(n))
	}
}
