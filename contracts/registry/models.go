package registry

// ContractVersion identifies the schema for registry events shared with
// external consumers (off-platform mirrors, analytics).
const ContractVersion = "v0.1.0"

// Event types published on the registry event stream.
const (
	EventInstitutionRegistered  = "institution_registered"
	EventInstitutionDeactivated = "institution_deactivated"
	EventInstitutionReactivated = "institution_reactivated"
	EventCertificateIssued      = "certificate_issued"
	EventCertificateRevoked     = "certificate_revoked"
	EventCertificateVerified    = "certificate_verified"
)

// Envelope wraps every registry event with routing metadata.
type Envelope struct {
	Version   string `json:"version"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// InstitutionEvent carries institution lifecycle changes.
type InstitutionEvent struct {
	Envelope
	Institution string `json:"institution"`
	Name        string `json:"name,omitempty"`
	Active      bool   `json:"active"`
}

// CertificateEvent carries certificate lifecycle changes. Fingerprints are
// hex-encoded with a 0x prefix.
type CertificateEvent struct {
	Envelope
	CertificateID uint64 `json:"certificate_id"`
	Institution   string `json:"institution"`
	Recipient     string `json:"recipient"`
	Fingerprint   string `json:"fingerprint"`
	Type          string `json:"certificate_type,omitempty"`
	Valid         bool   `json:"valid"`
}

// VerificationEvent carries audit-trail appends for external consumers.
type VerificationEvent struct {
	Envelope
	CertificateID uint64 `json:"certificate_id"`
	Verifier      string `json:"verifier"`
	Category      string `json:"category"`
}
