package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"certledger/internal/events"
	ledgermetrics "certledger/internal/ledger/metrics"
	"certledger/internal/ledger/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

// Store defines the persistence contract for the ledger. Issue must be
// atomic: id allocation, fingerprint uniqueness, and index updates are one
// unit of work, never partially observable.
type Store interface {
	Issue(ctx context.Context, certificate *models.Certificate) (id.CertificateID, error)
	FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	FindByFingerprint(ctx context.Context, fp id.Fingerprint) (*models.Certificate, error)
	MarkRevoked(ctx context.Context, certID id.CertificateID) error
	ListByRecipient(ctx context.Context, recipient id.Address) ([]id.CertificateID, error)
	ListByInstitution(ctx context.Context, institution id.Address) ([]id.CertificateID, error)
	FindBatch(ctx context.Context, certIDs []id.CertificateID) ([]*models.Certificate, error)
	Count(ctx context.Context) (uint64, error)
}

// Directory is the authorization port into the institution directory. The
// ledger consults it before every write and on every verification; it is
// never bypassed.
type Directory interface {
	IsAuthorizedIssuer(ctx context.Context, identity id.Address) (bool, error)
	IsActive(ctx context.Context, identity id.Address) (bool, error)
}

// Service is the authoritative certificate ledger.
type Service struct {
	store     Store
	directory Directory
	publisher events.Publisher
	metrics   *ledgermetrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithMetrics(m *ledgermetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, directory Directory, opts ...Option) *Service {
	s := &Service{
		store:     store,
		directory: directory,
		tracer:    otel.Tracer("certledger/ledger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueCommand carries validated issuance input into the ledger. IssuedAt
// must be the timestamp covered by the fingerprint: the stored record has to
// hash back to its own fingerprint. Zero means "now".
type IssueCommand struct {
	Institution         id.Address
	Recipient           id.Address
	Fingerprint         id.Fingerprint
	MetadataFingerprint id.Fingerprint
	Type                models.CertificateType
	CourseName          string
	Grade               string
	IssuedAt            time.Time
}

// Issue writes a new certificate. Preconditions: the institution must be an
// authorized issuer and the fingerprint must never have been issued before,
// revoked certificates included.
func (s *Service) Issue(ctx context.Context, cmd IssueCommand) (id.CertificateID, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.issue",
		trace.WithAttributes(attribute.String("institution", cmd.Institution.String())))
	defer span.End()
	start := time.Now()

	authorized, err := s.directory.IsAuthorizedIssuer(ctx, cmd.Institution)
	if err != nil {
		return 0, err
	}
	if !authorized {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "caller is not an authorized issuer")
	}

	issuedAt := cmd.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = requestcontext.Now(ctx)
	}
	certificate, err := models.NewCertificate(
		cmd.Institution,
		cmd.Recipient,
		cmd.Fingerprint,
		cmd.MetadataFingerprint,
		cmd.Type,
		cmd.CourseName,
		cmd.Grade,
		issuedAt,
	)
	if err != nil {
		return 0, err
	}

	certID, err := s.store.Issue(ctx, certificate)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			if s.metrics != nil {
				s.metrics.IncrementDuplicateRejected()
			}
			return 0, dErrors.New(dErrors.CodeDuplicateContent, "certificate content already issued")
		}
		if errors.Is(err, sentinel.ErrUnavailable) {
			return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger store unavailable")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue certificate")
	}
	span.SetAttributes(attribute.Int64("certificate_id", int64(certID)))

	s.publish(ctx, events.Event{
		Kind:          events.CertificateIssued,
		At:            certificate.IssuedAt,
		Institution:   certificate.Institution,
		Recipient:     certificate.Recipient,
		CertificateID: certID,
		Fingerprint:   certificate.Fingerprint,
		CertType:      certificate.Type.String(),
	})
	if s.metrics != nil {
		s.metrics.IncrementIssued()
		s.metrics.ObserveIssueLatency(time.Since(start))
	}
	return certID, nil
}

// Verify answers "is this certificate valid". A certificate fails with
// CodeInvalidCertificate when its validity flag is false or when its issuing
// institution is currently inactive: institution status is checked live on
// every call, not snapshotted at issuance, so deactivating an institution
// invalidates its whole catalog at once.
func (s *Service) Verify(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.verify",
		trace.WithAttributes(attribute.Int64("certificate_id", int64(certID))))
	defer span.End()

	certificate, err := s.store.FindByID(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.countVerify("not_found")
		}
		return nil, wrapLedgerErr(err)
	}
	return s.checkValidity(ctx, certificate)
}

// VerifyByFingerprint resolves the fingerprint through the content index and
// applies the same validity rules as Verify.
func (s *Service) VerifyByFingerprint(ctx context.Context, fp id.Fingerprint) (*models.Certificate, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.verify_by_fingerprint")
	defer span.End()

	certificate, err := s.store.FindByFingerprint(ctx, fp)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.countVerify("not_found")
		}
		return nil, wrapLedgerErr(err)
	}
	return s.checkValidity(ctx, certificate)
}

func (s *Service) checkValidity(ctx context.Context, certificate *models.Certificate) (*models.Certificate, error) {
	if !certificate.Valid {
		s.countVerify("revoked")
		return nil, dErrors.New(dErrors.CodeInvalidCertificate, "certificate has been revoked")
	}
	active, err := s.directory.IsActive(ctx, certificate.Institution)
	if err != nil {
		return nil, err
	}
	if !active {
		s.countVerify("issuer_inactive")
		return nil, dErrors.New(dErrors.CodeInvalidCertificate, "issuing institution is not active")
	}
	s.countVerify("valid")
	return certificate, nil
}

// Revoke invalidates a certificate. Only the original issuer may revoke;
// the transition is permanent.
func (s *Service) Revoke(ctx context.Context, certID id.CertificateID, actor id.Address) error {
	ctx, span := s.tracer.Start(ctx, "ledger.revoke",
		trace.WithAttributes(attribute.Int64("certificate_id", int64(certID))))
	defer span.End()

	certificate, err := s.store.FindByID(ctx, certID)
	if err != nil {
		return wrapLedgerErr(err)
	}
	if certificate.Institution != actor {
		return dErrors.New(dErrors.CodeForbidden, "only the issuing institution may revoke")
	}
	if err := certificate.Revoke(); err != nil {
		return dErrors.New(dErrors.CodeAlreadyRevoked, "certificate is already revoked")
	}

	if err := s.store.MarkRevoked(ctx, certID); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrInvalidState):
			// Lost the race against a concurrent revocation; same outcome.
			return dErrors.New(dErrors.CodeAlreadyRevoked, "certificate is already revoked")
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.New(dErrors.CodeNotFound, "certificate not found")
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke certificate")
		}
	}

	s.publish(ctx, events.Event{
		Kind:          events.CertificateRevoked,
		At:            requestcontext.Now(ctx),
		Institution:   certificate.Institution,
		Recipient:     certificate.Recipient,
		CertificateID: certID,
		Fingerprint:   certificate.Fingerprint,
		CertType:      certificate.Type.String(),
	})
	if s.metrics != nil {
		s.metrics.IncrementRevoked()
	}
	return nil
}

// Get returns the raw ledger record without validity checks. Used by the
// verification engine and the mirror, which need revoked records too.
func (s *Service) Get(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	certificate, err := s.store.FindByID(ctx, certID)
	if err != nil {
		return nil, wrapLedgerErr(err)
	}
	return certificate, nil
}

// GetBatch resolves a set of ids, skipping unknown ones.
func (s *Service) GetBatch(ctx context.Context, certIDs []id.CertificateID) ([]*models.Certificate, error) {
	certificates, err := s.store.FindBatch(ctx, certIDs)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger batch lookup failed")
	}
	return certificates, nil
}

// ListByRecipient returns the ids of all certificates ever issued to the
// recipient, in issuance order, revoked included.
func (s *Service) ListByRecipient(ctx context.Context, recipient id.Address) ([]id.CertificateID, error) {
	ids, err := s.store.ListByRecipient(ctx, recipient)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger list failed")
	}
	return ids, nil
}

// ListByInstitution returns the ids of all certificates the institution ever
// issued, in issuance order, revoked included.
func (s *Service) ListByInstitution(ctx context.Context, institution id.Address) ([]id.CertificateID, error) {
	ids, err := s.store.ListByInstitution(ctx, institution)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger list failed")
	}
	return ids, nil
}

// TotalCount equals the number of successful issue calls; revocation never
// decreases it.
func (s *Service) TotalCount(ctx context.Context) (uint64, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger count failed")
	}
	return count, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil && s.logger != nil {
		s.logger.Warn("failed to publish ledger event",
			"kind", string(event.Kind),
			"certificate_id", event.CertificateID.String(),
			"error", err,
		)
	}
}

func (s *Service) countVerify(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementVerify(outcome)
	}
}

func wrapLedgerErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "certificate not found")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger lookup failed")
	}
}
