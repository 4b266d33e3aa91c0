package store

import (
	"context"
	"sync"

	"certledger/internal/verification/models"
	id "certledger/pkg/domain"
)

// InMemory keeps the audit trail in process memory, one append-only slice per
// certificate. Appends arrive pre-serialized per certificate by the service,
// so slices stay ordered by timestamp.
type InMemory struct {
	mu      sync.RWMutex
	records map[id.CertificateID][]models.VerificationRecord
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[id.CertificateID][]models.VerificationRecord)}
}

func (s *InMemory) Append(_ context.Context, record models.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.CertificateID] = append(s.records[record.CertificateID], record)
	return nil
}

// ListByCertificate returns a page of records ordered by timestamp ascending.
func (s *InMemory) ListByCertificate(_ context.Context, certID id.CertificateID, offset, limit int) ([]models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.records[certID]
	if offset >= len(records) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(records) {
		end = len(records)
	}
	out := make([]models.VerificationRecord, end-offset)
	copy(out, records[offset:end])
	return out, nil
}

func (s *InMemory) CountByCertificate(_ context.Context, certID id.CertificateID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.records[certID])), nil
}
