package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the institution directory.
type Metrics struct {
	Registered    prometheus.Counter
	StatusChanges *prometheus.CounterVec
}

// New creates and registers all directory metrics.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Registered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "certledger_institutions_registered_total",
			Help: "Total number of institutions registered",
		}),
		StatusChanges: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_institution_status_changes_total",
			Help: "Total number of institution activations and suspensions, labeled by action",
		}, []string{"action"}),
	}
}

func (m *Metrics) IncrementRegistered() {
	m.Registered.Inc()
}

func (m *Metrics) IncrementStatusChange(action string) {
	m.StatusChanges.WithLabelValues(action).Inc()
}
