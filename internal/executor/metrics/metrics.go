package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the action executor.
type Metrics struct {
	ExecutionsTotal    *prometheus.CounterVec
	AttemptsTotal      prometheus.Counter
	BreakerRejections  prometheus.Counter
	BreakerOpen        prometheus.Gauge
	ApplyDuration      prometheus.Histogram
	RetryBackoffsTotal prometheus.Counter
}

// New registers and returns executor metrics collectors.
func New() *Metrics {
	return &Metrics{
		ExecutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_executor_executions_total",
			Help: "Total number of completed executions, labeled by outcome",
		}, []string{"outcome"}),
		AttemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_executor_attempts_total",
			Help: "Total number of outbound ERP attempts, including retries",
		}),
		BreakerRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_executor_breaker_rejections_total",
			Help: "Total number of attempts rejected by an open circuit breaker",
		}),
		BreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "arbiter_erp_breaker_open",
			Help: "1 when the ERP circuit breaker is open, 0 otherwise",
		}),
		ApplyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbiter_executor_apply_duration_seconds",
			Help:    "Duration of a full execution including retries in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		RetryBackoffsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_executor_retry_backoffs_total",
			Help: "Total number of backoff sleeps between ERP attempts",
		}),
	}
}

// IncrementExecutions counts a finished execution by outcome (executed or
// failed).
func (m *Metrics) IncrementExecutions(outcome string) {
	m.ExecutionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementAttempts() {
	m.AttemptsTotal.Inc()
}

func (m *Metrics) IncrementBreakerRejections() {
	m.BreakerRejections.Inc()
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}

func (m *Metrics) ObserveApplyDuration(d time.Duration) {
	m.ApplyDuration.Observe(d.Seconds())
}

func (m *Metrics) IncrementRetryBackoffs() {
	m.RetryBackoffsTotal.Inc()
}
