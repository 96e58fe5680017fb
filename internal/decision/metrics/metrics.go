package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the decision engine.
type Metrics struct {
	DecisionsTotal  *prometheus.CounterVec
	FallbacksTotal  *prometheus.CounterVec
	ReasonerLatency prometheus.Histogram
	BreakerOpen     prometheus.Gauge
}

// New registers and returns decision metrics collectors.
func New() *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_decisions_total",
			Help: "Total number of decisions produced, labeled by source",
		}, []string{"source"}),
		FallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_decision_fallbacks_total",
			Help: "Total number of zero-confidence fallback decisions, labeled by reason",
		}, []string{"reason"}),
		ReasonerLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbiter_reasoner_latency_seconds",
			Help:    "Latency of reasoner calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		BreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "arbiter_reasoner_breaker_open",
			Help: "1 when the reasoner circuit breaker is open, 0 otherwise",
		}),
	}
}

// IncrementDecisions counts a produced decision by source (reasoner, fallback
// or replay for idempotent hits).
func (m *Metrics) IncrementDecisions(source string) {
	m.DecisionsTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) IncrementFallbacks(reason string) {
	m.FallbacksTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveReasonerLatency(d time.Duration) {
	m.ReasonerLatency.Observe(d.Seconds())
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
