package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for queue operations.
type Metrics struct {
	Enqueued prometheus.Counter
	Acked    prometheus.Counter
	Requeued prometheus.Counter
	Reaped   prometheus.Counter
	Depth    prometheus.Gauge
}

// NewMetrics registers and returns queue metrics collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		Enqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_queue_enqueued_total",
			Help: "Total number of work items enqueued",
		}),
		Acked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_queue_acked_total",
			Help: "Total number of work items acknowledged",
		}),
		Requeued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_queue_requeued_total",
			Help: "Total number of work items returned to the queue by workers",
		}),
		Reaped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_queue_reaped_total",
			Help: "Total number of expired leases reclaimed",
		}),
		Depth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "arbiter_queue_depth",
			Help: "Current number of ready work items",
		}),
	}
}
