package models

import (
	"time"

	"github.com/google/uuid"

	id "certledger/pkg/domain"
)

// VerificationRecord is one entry in the append-only audit trail. Records are
// never mutated or deleted; the per-certificate count and last-verified-at
// are derived and cached on the mirror.
type VerificationRecord struct {
	ID            uuid.UUID        `json:"id"`
	CertificateID id.CertificateID `json:"certificate_id"`
	Verifier      id.Address       `json:"verifier"`
	// Category is a free-form verifier classification, e.g. "web" or "api".
	Category   string    `json:"category"`
	VerifiedAt time.Time `json:"verified_at"`
}

func NewVerificationRecord(certID id.CertificateID, verifier id.Address, category string, now time.Time) VerificationRecord {
	if category == "" {
		category = "api"
	}
	return VerificationRecord{
		ID:            uuid.New(),
		CertificateID: certID,
		Verifier:      verifier,
		Category:      category,
		VerifiedAt:    now,
	}
}
