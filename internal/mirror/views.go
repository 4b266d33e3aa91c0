// Package mirror maintains denormalized read views of the ledger: by
// recipient, by institution, by status, and by type, plus cached verification
// stats per certificate. The mirror is advisory and eventually consistent;
// on any divergence the ledger's answer wins.
package mirror

import (
	"context"
	"time"

	id "certledger/pkg/domain"
)

// Status values tracked by the status view.
const (
	StatusValid   = "valid"
	StatusRevoked = "revoked"
)

// Entry is the denormalized projection of one certificate.
type Entry struct {
	CertificateID id.CertificateID
	Recipient     id.Address
	Institution   id.Address
	Type          string
	Status        string
}

// VerificationStats is the cached aggregate kept per certificate for fast
// reads; the authoritative trail lives in the verification store.
type VerificationStats struct {
	Count          uint64
	LastVerifiedAt time.Time
}

// Totals aggregates view cardinalities for the statistics endpoint.
type Totals struct {
	Valid   uint64
	Revoked uint64
	ByType  map[string]uint64
}

// ViewStore is the backing index for the mirror. Implementations return
// sentinel.ErrUnavailable when they cannot answer; callers surface that
// explicitly rather than serving silent partial data.
type ViewStore interface {
	Add(ctx context.Context, entry Entry) error
	SetStatus(ctx context.Context, certID id.CertificateID, fromStatus, toStatus, certType string) error
	RecordVerification(ctx context.Context, certID id.CertificateID, at time.Time) error
	Drop(ctx context.Context, entry Entry) error

	ByRecipient(ctx context.Context, recipient id.Address) ([]id.CertificateID, error)
	ByInstitution(ctx context.Context, institution id.Address) ([]id.CertificateID, error)
	ByStatus(ctx context.Context, status string) ([]id.CertificateID, error)
	ByType(ctx context.Context, certType string) ([]id.CertificateID, error)
	Stats(ctx context.Context, certID id.CertificateID) (VerificationStats, error)
	Totals(ctx context.Context) (Totals, error)
}
