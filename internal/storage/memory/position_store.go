package memory

import (
	"context"
	"sort"
	"sync"

	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/storage"
)

type positionKey struct {
	roundID string
	wallet  string
	side    domain.Side
}

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[positionKey]*domain.Position
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{data: make(map[positionKey]*domain.Position)}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// Upsert accumulates stake into the position.
func (s *PositionStore) Upsert(_ context.Context, p *domain.Position) error {
	if p == nil || p.RoundID == "" || p.Wallet == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey{roundID: p.RoundID, wallet: p.Wallet, side: p.Side}
	if existing, exists := s.data[key]; exists {
		if existing.Claimed {
			return nil
		}
		existing.AmountLamports += p.AmountLamports
		return nil
	}

	cp := *p
	cp.Claimed = false
	s.data[key] = &cp
	return nil
}

// Get retrieves a position.
func (s *PositionStore) Get(_ context.Context, roundID, wallet string, side domain.Side) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[positionKey{roundID: roundID, wallet: wallet, side: side}]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// GetByRound retrieves all positions of a round.
func (s *PositionStore) GetByRound(_ context.Context, roundID string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Position
	for key, p := range s.data {
		if key.roundID == roundID {
			cp := *p
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Wallet != out[j].Wallet {
			return out[i].Wallet < out[j].Wallet
		}
		return out[i].Side < out[j].Side
	})
	return out, nil
}

// MarkClaimed flips claimed false→true.
func (s *PositionStore) MarkClaimed(_ context.Context, roundID, wallet string, side domain.Side) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[positionKey{roundID: roundID, wallet: wallet, side: side}]
	if !exists || p.Claimed {
		return false, nil
	}
	p.Claimed = true
	return true, nil
}
