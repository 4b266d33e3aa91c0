package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the certificate ledger.
type Metrics struct {
	Issued             prometheus.Counter
	Revoked            prometheus.Counter
	DuplicatesRejected prometheus.Counter
	VerifyChecks       *prometheus.CounterVec
	IssueLatency       prometheus.Histogram
}

// New creates and registers all ledger metrics.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Issued: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "certledger_certificates_issued_total",
			Help: "Total number of certificates issued",
		}),
		Revoked: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "certledger_certificates_revoked_total",
			Help: "Total number of certificates revoked",
		}),
		DuplicatesRejected: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "certledger_duplicate_content_rejections_total",
			Help: "Total number of issuance attempts rejected for fingerprint reuse",
		}),
		VerifyChecks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_verify_checks_total",
			Help: "Total number of verification checks, labeled by outcome",
		}, []string{"outcome"}),
		IssueLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "certledger_issue_latency_seconds",
			Help:    "Latency of the atomic issue operation in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncrementIssued()            { m.Issued.Inc() }
func (m *Metrics) IncrementRevoked()           { m.Revoked.Inc() }
func (m *Metrics) IncrementDuplicateRejected() { m.DuplicatesRejected.Inc() }

func (m *Metrics) IncrementVerify(outcome string) {
	m.VerifyChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveIssueLatency(d time.Duration) {
	m.IssueLatency.Observe(d.Seconds())
}
