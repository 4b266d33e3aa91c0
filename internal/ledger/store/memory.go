package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"certledger/internal/ledger/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

// InMemory is the in-process ledger store. A single mutex makes the
// check-fingerprint / allocate-id / index steps one critical section, so
// concurrent issuance can neither double-allocate an id nor double-issue a
// fingerprint.
type InMemory struct {
	mu            sync.RWMutex
	nextID        uint64
	certificates  map[id.CertificateID]*models.Certificate
	byFingerprint map[id.Fingerprint]id.CertificateID
	byRecipient   map[id.Address][]id.CertificateID
	byInstitution map[id.Address][]id.CertificateID
}

func NewInMemory() *InMemory {
	return &InMemory{
		certificates:  make(map[id.CertificateID]*models.Certificate),
		byFingerprint: make(map[id.Fingerprint]id.CertificateID),
		byRecipient:   make(map[id.Address][]id.CertificateID),
		byInstitution: make(map[id.Address][]id.CertificateID),
	}
}

// Issue stores the certificate under the next sequential id. The fingerprint
// check happens inside the same critical section as the allocation: a
// rejected issue never consumes an id, so the sequence stays gapless.
func (s *InMemory) Issue(_ context.Context, certificate *models.Certificate) (id.CertificateID, error) {
	if certificate == nil {
		return 0, fmt.Errorf("certificate is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byFingerprint[certificate.Fingerprint]; exists {
		return 0, fmt.Errorf("fingerprint already issued: %w", sentinel.ErrConflict)
	}

	s.nextID++
	certID := id.CertificateID(s.nextID)

	copied := *certificate
	copied.ID = certID
	s.certificates[certID] = &copied
	s.byFingerprint[copied.Fingerprint] = certID
	s.byRecipient[copied.Recipient] = append(s.byRecipient[copied.Recipient], certID)
	s.byInstitution[copied.Institution] = append(s.byInstitution[copied.Institution], certID)
	return certID, nil
}

func (s *InMemory) FindByID(_ context.Context, certID id.CertificateID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	certificate, ok := s.certificates[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *certificate
	return &copied, nil
}

func (s *InMemory) FindByFingerprint(_ context.Context, fp id.Fingerprint) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	certID, ok := s.byFingerprint[fp]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *s.certificates[certID]
	return &copied, nil
}

// MarkRevoked flips the validity flag. ErrInvalidState reports a lost race
// against another revocation; callers translate it to their taxonomy.
func (s *InMemory) MarkRevoked(_ context.Context, certID id.CertificateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	certificate, ok := s.certificates[certID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !certificate.Valid {
		return sentinel.ErrInvalidState
	}
	certificate.Valid = false
	return nil
}

func (s *InMemory) ListByRecipient(_ context.Context, recipient id.Address) ([]id.CertificateID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byRecipient[recipient]
	out := make([]id.CertificateID, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *InMemory) ListByInstitution(_ context.Context, institution id.Address) ([]id.CertificateID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byInstitution[institution]
	out := make([]id.CertificateID, len(ids))
	copy(out, ids)
	return out, nil
}

// FindBatch resolves a set of ids in id order, silently skipping unknown
// ones. The mirror uses it during reconciliation.
func (s *InMemory) FindBatch(_ context.Context, certIDs []id.CertificateID) ([]*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Certificate, 0, len(certIDs))
	for _, certID := range certIDs {
		if certificate, ok := s.certificates[certID]; ok {
			copied := *certificate
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.certificates)), nil
}
