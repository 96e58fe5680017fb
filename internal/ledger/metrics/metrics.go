package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the audit ledger.
type Metrics struct {
	AppendsTotal     *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	ResolutionsTotal *prometheus.CounterVec
	StaleTransitions prometheus.Counter
}

// New registers and returns ledger metrics collectors.
func New() *Metrics {
	return &Metrics{
		AppendsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_audit_appends_total",
			Help: "Total number of audit records appended, labeled by verdict",
		}, []string{"verdict"}),
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_audit_transitions_total",
			Help: "Total number of audit status transitions, labeled by from and to status",
		}, []string{"from", "to"}),
		ResolutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_audit_resolutions_total",
			Help: "Total number of operator resolutions, labeled by outcome",
		}, []string{"outcome"}),
		StaleTransitions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_audit_stale_transitions_total",
			Help: "Transitions rejected because another writer moved the record first",
		}),
	}
}

func (m *Metrics) IncrementAppends(verdict string) {
	m.AppendsTotal.WithLabelValues(verdict).Inc()
}

func (m *Metrics) IncrementTransitions(from, to string) {
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncrementResolutions(outcome string) {
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementStaleTransitions() {
	m.StaleTransitions.Inc()
}
