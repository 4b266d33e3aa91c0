package mirror

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	ledgermodels "certledger/internal/ledger/models"
	"certledger/internal/mirror/metrics"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
)

// rebuildWorkers bounds ledger fan-out during a full rebuild.
const rebuildWorkers = 8

// Ledger is the authoritative source the mirror reconciles against.
type Ledger interface {
	Get(ctx context.Context, certID id.CertificateID) (*ledgermodels.Certificate, error)
	GetBatch(ctx context.Context, certIDs []id.CertificateID) ([]*ledgermodels.Certificate, error)
	TotalCount(ctx context.Context) (uint64, error)
}

// Service answers listing queries from the denormalized views. Every answer
// is confirmed against the ledger before it leaves: entries the ledger no
// longer agrees with are dropped from the view and excluded from the result.
type Service struct {
	store   ViewStore
	ledger  Ledger
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store ViewStore, ledger Ledger, opts ...Option) *Service {
	s := &Service{store: store, ledger: ledger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CertificatesByRecipient lists certificates held by the recipient, revoked
// included.
func (s *Service) CertificatesByRecipient(ctx context.Context, recipient id.Address) ([]*ledgermodels.Certificate, error) {
	certIDs, err := s.store.ByRecipient(ctx, recipient)
	if err != nil {
		return nil, viewErr(err)
	}
	return s.reconcile(ctx, certIDs, nil)
}

// CertificatesByInstitution lists certificates issued by the institution,
// revoked included.
func (s *Service) CertificatesByInstitution(ctx context.Context, institution id.Address) ([]*ledgermodels.Certificate, error) {
	certIDs, err := s.store.ByInstitution(ctx, institution)
	if err != nil {
		return nil, viewErr(err)
	}
	return s.reconcile(ctx, certIDs, nil)
}

// CertificatesByStatus lists certificates whose current ledger validity
// matches the requested status.
func (s *Service) CertificatesByStatus(ctx context.Context, status string) ([]*ledgermodels.Certificate, error) {
	if status != StatusValid && status != StatusRevoked {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "status must be valid or revoked")
	}
	certIDs, err := s.store.ByStatus(ctx, status)
	if err != nil {
		return nil, viewErr(err)
	}
	wantValid := status == StatusValid
	return s.reconcile(ctx, certIDs, func(c *ledgermodels.Certificate) bool {
		return c.Valid == wantValid
	})
}

// CertificatesByType lists certificates of one certificate type.
func (s *Service) CertificatesByType(ctx context.Context, certType string) ([]*ledgermodels.Certificate, error) {
	certIDs, err := s.store.ByType(ctx, certType)
	if err != nil {
		return nil, viewErr(err)
	}
	return s.reconcile(ctx, certIDs, func(c *ledgermodels.Certificate) bool {
		return c.Type.String() == certType
	})
}

// VerificationStats returns the cached verification aggregate for one
// certificate.
func (s *Service) VerificationStats(ctx context.Context, certID id.CertificateID) (VerificationStats, error) {
	stats, err := s.store.Stats(ctx, certID)
	if err != nil {
		return VerificationStats{}, viewErr(err)
	}
	return stats, nil
}

// RegistryTotals reports the mirror's status and type counts alongside the
// ledger's authoritative issuance count.
type RegistryTotals struct {
	Issued  uint64
	Valid   uint64
	Revoked uint64
	ByType  map[string]uint64
}

func (s *Service) Totals(ctx context.Context) (RegistryTotals, error) {
	issued, err := s.ledger.TotalCount(ctx)
	if err != nil {
		return RegistryTotals{}, err
	}
	viewTotals, err := s.store.Totals(ctx)
	if err != nil {
		return RegistryTotals{}, viewErr(err)
	}
	return RegistryTotals{
		Issued:  issued,
		Valid:   viewTotals.Valid,
		Revoked: viewTotals.Revoked,
		ByType:  viewTotals.ByType,
	}, nil
}

// Rebuild repopulates the views from the ledger. Certificate ids are dense
// and start at one, so the full catalog is the range [1, TotalCount].
func (s *Service) Rebuild(ctx context.Context) error {
	total, err := s.ledger.TotalCount(ctx)
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(rebuildWorkers)
	for n := uint64(1); n <= total; n++ {
		certID := id.CertificateID(n)
		group.Go(func() error {
			certificate, err := s.ledger.Get(ctx, certID)
			if err != nil {
				return err
			}
			entry := entryFor(certificate)
			if err := s.store.Add(ctx, entry); err != nil {
				return viewErr(err)
			}
			if !certificate.Valid {
				if err := s.store.SetStatus(ctx, certID, StatusValid, StatusRevoked, entry.Type); err != nil {
					return viewErr(err)
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.IncrementRebuilds()
	}
	if s.logger != nil {
		s.logger.Info("mirror rebuilt from ledger", "certificates", total)
	}
	return nil
}

// reconcile resolves view ids through the ledger. Ids the ledger does not
// know are stale and get dropped from the views; entries failing the match
// predicate had their status corrected since the view was written, so the
// view is repaired and the entry excluded.
func (s *Service) reconcile(ctx context.Context, certIDs []id.CertificateID, match func(*ledgermodels.Certificate) bool) ([]*ledgermodels.Certificate, error) {
	if len(certIDs) == 0 {
		return nil, nil
	}
	certificates, err := s.ledger.GetBatch(ctx, certIDs)
	if err != nil {
		return nil, err
	}

	found := make(map[id.CertificateID]*ledgermodels.Certificate, len(certificates))
	for _, certificate := range certificates {
		found[certificate.ID] = certificate
	}

	out := make([]*ledgermodels.Certificate, 0, len(certificates))
	for _, certID := range certIDs {
		certificate, ok := found[certID]
		if !ok {
			s.dropStale(ctx, Entry{CertificateID: certID})
			continue
		}
		if match != nil && !match(certificate) {
			s.repairStatus(ctx, certificate)
			continue
		}
		out = append(out, certificate)
	}
	return out, nil
}

func (s *Service) dropStale(ctx context.Context, entry Entry) {
	if s.metrics != nil {
		s.metrics.IncrementStaleDropped()
	}
	if err := s.store.Drop(ctx, entry); err != nil && s.logger != nil {
		s.logger.Warn("failed to drop stale mirror entry",
			"certificate_id", entry.CertificateID.String(),
			"error", err,
		)
	}
}

func (s *Service) repairStatus(ctx context.Context, certificate *ledgermodels.Certificate) {
	from, to := StatusValid, StatusRevoked
	if certificate.Valid {
		from, to = StatusRevoked, StatusValid
	}
	if err := s.store.SetStatus(ctx, certificate.ID, from, to, certificate.Type.String()); err != nil && s.logger != nil {
		s.logger.Warn("failed to repair mirror status",
			"certificate_id", certificate.ID.String(),
			"error", err,
		)
	}
}

func entryFor(certificate *ledgermodels.Certificate) Entry {
	return Entry{
		CertificateID: certificate.ID,
		Recipient:     certificate.Recipient,
		Institution:   certificate.Institution,
		Type:          certificate.Type.String(),
		Status:        StatusValid,
	}
}

func viewErr(err error) error {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "query mirror unavailable")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "query mirror failed")
}
