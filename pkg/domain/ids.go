// Package domain provides type-safe identifiers to prevent mixing up actor
// addresses, fingerprints, and certificate ids at compile time.
package domain

import (
	"strconv"
	"strings"

	dErrors "certledger/pkg/domain-errors"
)

// Address is a settlement-layer actor identity: 0x followed by 40 hex digits,
// normalized to lowercase. Institutions, recipients, and verifiers are all
// addressed this way.
type Address string

// Fingerprint is a content digest: 0x followed by 64 hex digits, normalized
// to lowercase. It is the uniqueness key for certificate content, independent
// of the assigned certificate id.
type Fingerprint string

// CertificateID is the sequential ledger identifier, assigned from 1 upward
// and never reused.
type CertificateID uint64

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseAddress(s string) (Address, error) {
	normalized, err := parseHex(s, 40, "address")
	if err != nil {
		return "", err
	}
	return Address(normalized), nil
}

func ParseFingerprint(s string) (Fingerprint, error) {
	normalized, err := parseHex(s, 64, "fingerprint")
	if err != nil {
		return "", err
	}
	return Fingerprint(normalized), nil
}

// ParseCertificateID parses a decimal certificate id from external input.
// Ids start at 1; zero is rejected so lookups never alias the unset value.
func ParseCertificateID(s string) (CertificateID, error) {
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "certificate id cannot be empty")
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "certificate id must be a positive integer")
	}
	return CertificateID(n), nil
}

// String methods - for logging and persistence.

func (a Address) String() string       { return string(a) }
func (f Fingerprint) String() string   { return string(f) }
func (c CertificateID) String() string { return strconv.FormatUint(uint64(c), 10) }

// IsZero checks - used for service-layer validation.

func (a Address) IsZero() bool       { return a == "" }
func (f Fingerprint) IsZero() bool   { return f == "" }
func (c CertificateID) IsZero() bool { return c == 0 }

// parseHex is the shared validation logic: 0x prefix, exact digit count,
// lowercased so map keys and database lookups compare consistently.
func parseHex(s string, digits int, label string) (string, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", dErrors.New(dErrors.CodeInvalidInput, label+" must start with 0x")
	}
	body := s[2:]
	if len(body) != digits {
		return "", dErrors.New(dErrors.CodeInvalidInput, label+" must contain "+strconv.Itoa(digits)+" hex digits")
	}
	for _, r := range body {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return "", dErrors.New(dErrors.CodeInvalidInput, label+" contains non-hex characters")
		}
	}
	return "0x" + strings.ToLower(body), nil
}
