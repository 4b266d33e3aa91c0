package adapters

import (
	"context"

	instservice "certledger/internal/institution/service"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// DirectoryAdapter bridges the ledger's authorization port to the institution
// directory service without the ledger importing directory internals.
type DirectoryAdapter struct {
	directory *instservice.Service
}

func NewDirectoryAdapter(directory *instservice.Service) *DirectoryAdapter {
	return &DirectoryAdapter{directory: directory}
}

func (a *DirectoryAdapter) IsAuthorizedIssuer(ctx context.Context, identity id.Address) (bool, error) {
	return a.directory.IsAuthorizedIssuer(ctx, identity)
}

// IsActive reports live institution status for verification checks. An
// identity the directory has never seen counts as inactive rather than an
// error: the certificate exists, its issuer does not vouch for it.
func (a *DirectoryAdapter) IsActive(ctx context.Context, identity id.Address) (bool, error) {
	institution, err := a.directory.Get(ctx, identity)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	return institution.Active, nil
}
