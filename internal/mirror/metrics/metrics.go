package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	eventsApplied *prometheus.CounterVec
	staleDropped  prometheus.Counter
	rebuilds      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		eventsApplied: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_mirror_events_applied_total",
			Help: "Ledger events applied to the query mirror, by kind.",
		}, []string{"kind"}),
		staleDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "certledger_mirror_stale_entries_dropped_total",
			Help: "Mirror entries dropped because the ledger disagreed.",
		}),
		rebuilds: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "certledger_mirror_rebuilds_total",
			Help: "Full mirror rebuilds from the ledger.",
		}),
	}
}

func (m *Metrics) IncrementApplied(kind string) {
	m.eventsApplied.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementStaleDropped() {
	m.staleDropped.Inc()
}

func (m *Metrics) IncrementRebuilds() {
	m.rebuilds.Inc()
}
