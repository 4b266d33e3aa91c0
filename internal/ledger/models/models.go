package models

import (
	"time"

	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// CertificateType is the closed enumeration of issuable document kinds.
// Invariant: the value must be one of the supported types.
//
// Usage: construct via ParseCertificateType at trust boundaries to enforce
// the allowlist; direct casting bypasses validation.
type CertificateType string

const (
	TypeDegree      CertificateType = "degree"
	TypeDiploma     CertificateType = "diploma"
	TypeCertificate CertificateType = "certificate"
	TypeTranscript  CertificateType = "transcript"
	TypeOther       CertificateType = "other"
)

// validCertificateTypes is the single source of truth for supported types.
var validCertificateTypes = map[CertificateType]bool{
	TypeDegree:      true,
	TypeDiploma:     true,
	TypeCertificate: true,
	TypeTranscript:  true,
	TypeOther:       true,
}

// ParseCertificateType constructs a CertificateType from external input.
func ParseCertificateType(s string) (CertificateType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "certificate type cannot be empty")
	}
	t := CertificateType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported certificate type")
	}
	return t, nil
}

func (t CertificateType) IsValid() bool {
	return validCertificateTypes[t]
}

func (t CertificateType) String() string {
	return string(t)
}

// Certificate is the write-once-then-revocable ledger record. The fingerprint
// is globally unique across all certificates ever issued, including revoked
// ones; the id is sequential from 1 and never reused.
type Certificate struct {
	ID                  id.CertificateID `json:"id"`
	Institution         id.Address       `json:"institution"`
	Recipient           id.Address       `json:"recipient"`
	Fingerprint         id.Fingerprint   `json:"fingerprint"`
	MetadataFingerprint id.Fingerprint   `json:"metadata_fingerprint,omitempty"`
	Type                CertificateType  `json:"certificate_type"`
	CourseName          string           `json:"course_name"`
	Grade               string           `json:"grade,omitempty"`
	IssuedAt            time.Time        `json:"issued_at"`
	Valid               bool             `json:"valid"`
}

/// Revoke flips the validity flag. Irreversible: there is no un-revoke.
// Returns an error if the certificate is already revoked.
func (c *Certificate) Revoke() error {
	if !c.Valid {
		return dErrors.New(dErrors.CodeInvariantViolation, "certificate is already revoked")
	}
	c.Valid = false
	return nil
}

// NewCertificate validates issuance input. The id is assigned by the store's
// atomic allocation, never here.
func NewCertificate(
	institution id.Address,
	recipient id.Address,
	fp id.Fingerprint,
	metadataFP id.Fingerprint,
	certType CertificateType,
	courseName string,
	grade string,
	issuedAt time.Time,
) (*Certificate, error) {
	if institution.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "issuing institution is required")
	}
	if recipient.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "recipient identity is required")
	}
	if fp.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "content fingerprint is required")
	}
	if !certType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unsupported certificate type")
	}
	if courseName == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "course name cannot be empty")
	}
	return &Certificate{
		Institution:         institution,
		Recipient:           recipient,
		Fingerprint:         fp,
		MetadataFingerprint: metadataFP,
		Type:                certType,
		CourseName:          courseName,
		Grade:               grade,
		IssuedAt:            issuedAt,
		Valid:               true,
	}, nil
}
