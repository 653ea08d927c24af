package memory

import (
	"context"
	"sync"

	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/storage"
)

// SettlementStore is an in-memory implementation of storage.SettlementStore.
type SettlementStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SettlementPlan // keyed by round id
}

// NewSettlementStore creates a new in-memory settlement store.
func NewSettlementStore() *SettlementStore {
	return &SettlementStore{data: make(map[string]*domain.SettlementPlan)}
}

// Compile-time interface check.
var _ storage.SettlementStore = (*SettlementStore)(nil)

// Add persists a plan. First writer wins.
func (s *SettlementStore) Add(_ context.Context, p *domain.SettlementPlan) error {
	if p == nil || p.RoundID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.RoundID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[p.RoundID] = clonePlan(p)
	return nil
}

// Upsert replaces the plan for a round.
func (s *SettlementStore) Upsert(_ context.Context, p *domain.SettlementPlan) error {
	if p == nil || p.RoundID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[p.RoundID] = clonePlan(p)
	return nil
}

// Get retrieves the plan for a round.
func (s *SettlementStore) Get(_ context.Context, roundID string) (*domain.SettlementPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[roundID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return clonePlan(p), nil
}

// MarkCompleted sets the terminal COMPLETED state.
func (s *SettlementStore) MarkCompleted(_ context.Context, roundID string, completedAtMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[roundID]
	if !exists {
		return storage.ErrNotFound
	}
	p.State = domain.SettlementCompleted
	p.CompletedAtMs = completedAtMs
	return nil
}

func clonePlan(p *domain.SettlementPlan) *domain.SettlementPlan {
	cp := *p
	cp.Transfers = make([]domain.PlannedTransfer, len(p.Transfers))
	copy(cp.Transfers, p.Transfers)
	return &cp
}
