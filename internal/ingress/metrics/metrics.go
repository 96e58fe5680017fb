package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for event ingress.
type Metrics struct {
	EventsTotal   *prometheus.CounterVec
	RejectedTotal *prometheus.CounterVec
	BodyBytes     prometheus.Histogram
}

// New registers and returns ingress metrics collectors.
func New() *Metrics {
	return &Metrics{
		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_ingress_events_total",
			Help: "Total number of verified events, labeled by result",
		}, []string{"result"}),
		RejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_ingress_rejected_total",
			Help: "Total number of rejected webhook deliveries, labeled by reason",
		}, []string{"reason"}),
		BodyBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbiter_ingress_body_bytes",
			Help:    "Size distribution of accepted webhook bodies",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}),
	}
}

// IncrementEvents counts a verified event by result (accepted, duplicate or
// replayed).
func (m *Metrics) IncrementEvents(result string) {
	m.EventsTotal.WithLabelValues(result).Inc()
}

// IncrementRejected counts a rejected delivery by reason (signature or
// schema).
func (m *Metrics) IncrementRejected(reason string) {
	m.RejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveBodyBytes(n int) {
	m.BodyBytes.Observe(float64(n))
}
