package http

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the adapter's Prometheus instruments. One instance per
// process; the registry is shared with the /metrics handler.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec

	loginOutcomes  *prometheus.CounterVec
	refreshReplays prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "identity",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "identity",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		loginOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "identity",
			Subsystem: "auth",
			Name:      "login_outcomes_total",
			Help:      "Login attempts by terminal outcome.",
		}, []string{"outcome"}),
		refreshReplays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "identity",
			Subsystem: "auth",
			Name:      "refresh_replays_total",
			Help:      "Refresh attempts against already-consumed tokens.",
		}),
	}
}

func (m *Metrics) observeRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) loginOutcome(outcome string) {
	m.loginOutcomes.WithLabelValues(outcome).Inc()
}
