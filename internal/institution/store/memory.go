package store

import (
	"context"
	"fmt"
	"sync"

	"certledger/internal/institution/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

// InMemory keeps the directory in process memory. It favors clarity over
// performance and backs unit tests and single-node deployments.
type InMemory struct {
	mu           sync.RWMutex
	institutions map[id.Address]*models.Institution
}

func NewInMemory() *InMemory {
	return &InMemory{institutions: make(map[id.Address]*models.Institution)}
}

// CreateIfAbsent registers the institution unless the identity is already
// taken.
func (s *InMemory) CreateIfAbsent(_ context.Context, institution *models.Institution) error {
	if institution == nil {
		return fmt.Errorf("institution is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.institutions[institution.Identity]; exists {
		return fmt.Errorf("institution identity taken: %w", sentinel.ErrConflict)
	}
	copied := *institution
	s.institutions[institution.Identity] = &copied
	return nil
}

func (s *InMemory) Update(_ context.Context, institution *models.Institution) error {
	if institution == nil {
		return fmt.Errorf("institution is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.institutions[institution.Identity]; !exists {
		return sentinel.ErrNotFound
	}
	copied := *institution
	s.institutions[institution.Identity] = &copied
	return nil
}

func (s *InMemory) FindByIdentity(_ context.Context, identity id.Address) (*models.Institution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	institution, ok := s.institutions[identity]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *institution
	return &copied, nil
}

func (s *InMemory) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.institutions), nil
}
