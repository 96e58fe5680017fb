package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the dispatch pipeline.
type Metrics struct {
	ProcessedTotal  *prometheus.CounterVec
	RetriedTotal    prometheus.Counter
	PoisonedTotal   prometheus.Counter
	ProcessDuration prometheus.Histogram
	WorkersBusy     prometheus.Gauge
}

// New registers and returns pipeline metrics collectors.
func New() *Metrics {
	return &Metrics{
		ProcessedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_pipeline_processed_total",
			Help: "Total number of change events routed to a verdict",
		}, []string{"verdict"}),
		RetriedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_pipeline_retried_total",
			Help: "Total number of deliveries requeued after a processing error",
		}),
		PoisonedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_pipeline_poisoned_total",
			Help: "Total number of deliveries dropped after exhausting the delivery budget",
		}),
		ProcessDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbiter_pipeline_process_duration_seconds",
			Help:    "Duration of one full event dispatch in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		WorkersBusy: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "arbiter_pipeline_workers_busy",
			Help: "Number of workers currently processing a delivery",
		}),
	}
}

// IncrementProcessed counts an event routed to its final verdict.
func (m *Metrics) IncrementProcessed(verdict string) {
	m.ProcessedTotal.WithLabelValues(verdict).Inc()
}

func (m *Metrics) IncrementRetried() {
	m.RetriedTotal.Inc()
}

func (m *Metrics) IncrementPoisoned() {
	m.PoisonedTotal.Inc()
}

func (m *Metrics) ObserveProcessDuration(d time.Duration) {
	m.ProcessDuration.Observe(d.Seconds())
}

func (m *Metrics) IncBusyWorkers() {
	m.WorkersBusy.Inc()
}

func (m *Metrics) DecBusyWorkers() {
	m.WorkersBusy.Dec()
}
