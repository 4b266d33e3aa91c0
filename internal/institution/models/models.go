package models

import (
	"time"

	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// Institution is an authorized issuer identity. Institutions are created by
// an administrative action, never self-registered, and never deleted - only
// deactivated.
type Institution struct {
	Identity           id.Address `json:"identity"`
	Name               string     `json:"name"`
	RegistrationNumber string     `json:"registration_number"`
	// Registered is set once at creation and never unset.
	Registered   bool      `json:"registered"`
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registered_at"`
}

// IsAuthorizedIssuer is the single authorization predicate gating every
// ledger write: registered AND currently active.
func (i *Institution) IsAuthorizedIssuer() bool {
	return i.Registered && i.Active
}

// SetActive toggles the active flag. Returns true when the value actually
// changed; setting the same value twice is a no-op, not an error.
func (i *Institution) SetActive(active bool) bool {
	if i.Active == active {
		return false
	}
	i.Active = active
	return true
}

func NewInstitution(identity id.Address, name, registrationNumber string, now time.Time) (*Institution, error) {
	if identity.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "institution identity is required")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "institution name cannot be empty")
	}
	if len(name) > 256 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "institution name must be 256 characters or less")
	}
	if registrationNumber == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "registration number cannot be empty")
	}
	return &Institution{
		Identity:           identity,
		Name:               name,
		RegistrationNumber: registrationNumber,
		Registered:         true,
		Active:             true,
		RegisteredAt:       now,
	}, nil
}
