package observability

import (
	"strconv"
	"time"

	"procurement-reconciler/internal/core"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the reconciler's collectors. It implements core.Observer.
type Metrics struct {
	transitions   *prometheus.CounterVec
	batchFailures *prometheus.CounterVec
	dispatch      *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

var _ core.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "procurement",
				Name:      "basket_transitions_total",
				Help:      "Basket status changes by outcome.",
			},
			[]string{"from", "to", "outcome"},
		),
		batchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "procurement",
				Name:      "batch_failures_total",
				Help:      "Failed writes within reconciliation batches, by step.",
			},
			[]string{"step"},
		),
		dispatch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "procurement",
				Name:      "dispatch_requests_total",
				Help:      "Purchase requests handled by dispatch, by outcome.",
			},
			[]string{"outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "procurement",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "procurement",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
	reg.MustRegister(m.transitions, m.batchFailures, m.dispatch, m.httpRequests, m.httpDuration)
	return m
}

func (m *Metrics) TransitionObserved(from, to core.BasketStatus, outcome string) {
	m.transitions.WithLabelValues(string(from), string(to), outcome).Inc()
}

func (m *Metrics) BatchFailuresObserved(step string, failed int) {
	if failed <= 0 {
		return
	}
	m.batchFailures.WithLabelValues(step).Add(float64(failed))
}

func (m *Metrics) DispatchObserved(outcome string, count int) {
	if count <= 0 {
		return
	}
	m.dispatch.WithLabelValues(outcome).Add(float64(count))
}

// RecordHTTPRequest counts one served request. route is the chi route pattern, not the
// raw path, to keep label cardinality bounded.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}
