package mirror

import (
	"context"
	"sort"
	"sync"
	"time"

	id "certledger/pkg/domain"
)

// MemoryViewStore keeps the mirror views in process memory. Used in tests and
// in deployments without Redis.
type MemoryViewStore struct {
	mu            sync.RWMutex
	entries       map[id.CertificateID]Entry
	byRecipient   map[id.Address]map[id.CertificateID]struct{}
	byInstitution map[id.Address]map[id.CertificateID]struct{}
	byStatus      map[string]map[id.CertificateID]struct{}
	byType        map[string]map[id.CertificateID]struct{}
	stats         map[id.CertificateID]VerificationStats
}

func NewMemoryViewStore() *MemoryViewStore {
	return &MemoryViewStore{
		entries:       make(map[id.CertificateID]Entry),
		byRecipient:   make(map[id.Address]map[id.CertificateID]struct{}),
		byInstitution: make(map[id.Address]map[id.CertificateID]struct{}),
		byStatus:      make(map[string]map[id.CertificateID]struct{}),
		byType:        make(map[string]map[id.CertificateID]struct{}),
		stats:         make(map[id.CertificateID]VerificationStats),
	}
}

func (s *MemoryViewStore) Add(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.CertificateID] = entry
	addTo(s.byRecipient, entry.Recipient, entry.CertificateID)
	addTo(s.byInstitution, entry.Institution, entry.CertificateID)
	addTo(s.byStatus, entry.Status, entry.CertificateID)
	addTo(s.byType, entry.Type, entry.CertificateID)
	return nil
}

func (s *MemoryViewStore) SetStatus(_ context.Context, certID id.CertificateID, fromStatus, toStatus, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.byStatus[fromStatus]; ok {
		delete(bucket, certID)
	}
	addTo(s.byStatus, toStatus, certID)
	if entry, ok := s.entries[certID]; ok {
		entry.Status = toStatus
		s.entries[certID] = entry
	}
	return nil
}

func (s *MemoryViewStore) RecordVerification(_ context.Context, certID id.CertificateID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stat := s.stats[certID]
	stat.Count++
	if at.After(stat.LastVerifiedAt) {
		stat.LastVerifiedAt = at
	}
	s.stats[certID] = stat
	return nil
}

// Drop removes the certificate from every view. Callers may pass an entry
// carrying only the id; the indexed keys are resolved from the stored entry.
func (s *MemoryViewStore) Drop(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.entries[entry.CertificateID]; ok {
		entry = stored
	}
	delete(s.entries, entry.CertificateID)
	delete(s.stats, entry.CertificateID)
	removeFrom(s.byRecipient, entry.Recipient, entry.CertificateID)
	removeFrom(s.byInstitution, entry.Institution, entry.CertificateID)
	for status := range s.byStatus {
		delete(s.byStatus[status], entry.CertificateID)
	}
	for certType := range s.byType {
		delete(s.byType[certType], entry.CertificateID)
	}
	return nil
}

func (s *MemoryViewStore) ByRecipient(_ context.Context, recipient id.Address) ([]id.CertificateID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedIDs(s.byRecipient[recipient]), nil
}

func (s *MemoryViewStore) ByInstitution(_ context.Context, institution id.Address) ([]id.CertificateID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedIDs(s.byInstitution[institution]), nil
}

func (s *MemoryViewStore) ByStatus(_ context.Context, status string) ([]id.CertificateID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedIDs(s.byStatus[status]), nil
}

func (s *MemoryViewStore) ByType(_ context.Context, certType string) ([]id.CertificateID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedIDs(s.byType[certType]), nil
}

func (s *MemoryViewStore) Stats(_ context.Context, certID id.CertificateID) (VerificationStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats[certID], nil
}

func (s *MemoryViewStore) Totals(_ context.Context) (Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	totals := Totals{
		Valid:   uint64(len(s.byStatus[StatusValid])),
		Revoked: uint64(len(s.byStatus[StatusRevoked])),
		ByType:  make(map[string]uint64, len(s.byType)),
	}
	for certType, bucket := range s.byType {
		totals.ByType[certType] = uint64(len(bucket))
	}
	return totals, nil
}

func addTo[K comparable](index map[K]map[id.CertificateID]struct{}, key K, certID id.CertificateID) {
	bucket, ok := index[key]
	if !ok {
		bucket = make(map[id.CertificateID]struct{})
		index[key] = bucket
	}
	bucket[certID] = struct{}{}
}

func removeFrom[K comparable](index map[K]map[id.CertificateID]struct{}, key K, certID id.CertificateID) {
	if bucket, ok := index[key]; ok {
		delete(bucket, certID)
	}
}

func sortedIDs(bucket map[id.CertificateID]struct{}) []id.CertificateID {
	out := make([]id.CertificateID, 0, len(bucket))
	for certID := range bucket {
		out = append(out, certID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
