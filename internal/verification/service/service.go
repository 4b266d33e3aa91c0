package service

import (
	"context"
	"iter"
	"log/slog"
	"sync"

	"certledger/internal/events"
	ledgermodels "certledger/internal/ledger/models"
	"certledger/internal/verification/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/requestcontext"
)

// historyPageSize bounds how much of the audit trail one store round trip
// loads while iterating History.
const historyPageSize = 100

// Store defines the persistence contract for the audit trail. Append-only:
// nothing is ever updated or deleted.
type Store interface {
	Append(ctx context.Context, record models.VerificationRecord) error
	ListByCertificate(ctx context.Context, certID id.CertificateID, offset, limit int) ([]models.VerificationRecord, error)
	CountByCertificate(ctx context.Context, certID id.CertificateID) (uint64, error)
}

// Ledger is the validity port into the certificate ledger. Verification
// failures propagate unchanged; this engine introduces no new failure kinds.
type Ledger interface {
	Verify(ctx context.Context, certID id.CertificateID) (*ledgermodels.Certificate, error)
}

// Service is the verification engine: it answers validity queries through
// the ledger and appends an audit entry for every successful verification.
type Service struct {
	store  Store
	ledger Ledger

	publisher events.Publisher
	logger    *slog.Logger

	// locks serialize appends per certificate so the derived counter and
	// last-verified-at stay accurate under concurrent verifications. Sharded
	// by id, so memory stays constant no matter how many certificates exist.
	locks [64]sync.Mutex
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func New(store Store, ledger Ledger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ledger: ledger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordVerification verifies the certificate through the ledger and appends
// an audit entry. Attempts against unknown or invalid certificates are not
// recorded: they did not verify anything. An append failure fails the whole
// call; a verification that cannot be audited must not be reported
// successful.
func (s *Service) RecordVerification(ctx context.Context, certID id.CertificateID, verifier id.Address, category string) (*ledgermodels.Certificate, error) {
	certificate, err := s.ledger.Verify(ctx, certID)
	if err != nil {
		return nil, err
	}

	lock := s.certLock(certID)
	lock.Lock()
	defer lock.Unlock()

	record := models.NewVerificationRecord(certID, verifier, category, requestcontext.Now(ctx))
	if err := s.store.Append(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to record verification")
	}

	s.publish(ctx, events.Event{
		Kind:          events.CertificateVerified,
		At:            record.VerifiedAt,
		Verifier:      verifier,
		CertificateID: certID,
		Category:      record.Category,
	})
	return certificate, nil
}

// History yields the certificate's audit trail ordered by timestamp
// ascending. The sequence is lazy - records are paged out of the store as
// the caller iterates - and restartable: ranging again re-reads from the
// start.
func (s *Service) History(ctx context.Context, certID id.CertificateID) iter.Seq2[models.VerificationRecord, error] {
	return func(yield func(models.VerificationRecord, error) bool) {
		offset := 0
		for {
			page, err := s.store.ListByCertificate(ctx, certID, offset, historyPageSize)
			if err != nil {
				yield(models.VerificationRecord{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read verification history"))
				return
			}
			for _, record := range page {
				if !yield(record, nil) {
					return
				}
			}
			if len(page) < historyPageSize {
				return
			}
			offset += len(page)
		}
	}
}

// Count returns the number of recorded verifications for the certificate.
func (s *Service) Count(ctx context.Context, certID id.CertificateID) (uint64, error) {
	count, err := s.store.CountByCertificate(ctx, certID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to count verifications")
	}
	return count, nil
}

func (s *Service) certLock(certID id.CertificateID) *sync.Mutex {
	return &s.locks[uint64(certID)%uint64(len(s.locks))]
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil && s.logger != nil {
		s.logger.Warn("failed to publish verification event",
			"certificate_id", event.CertificateID.String(),
			"error", err,
		)
	}
}
