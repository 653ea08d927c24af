package memory

import (
	"context"
	"sync"
	"time"

	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/storage"
)

// RoundLockStore is an in-memory implementation of storage.RoundLockStore.
type RoundLockStore struct {
	mu   sync.Mutex
	data map[string]*domain.RoundProcessingLock
}

// NewRoundLockStore creates a new in-memory round lock store.
func NewRoundLockStore() *RoundLockStore {
	return &RoundLockStore{data: make(map[string]*domain.RoundProcessingLock)}
}

// Compile-time interface check.
var _ storage.RoundLockStore = (*RoundLockStore)(nil)

// TryAcquire takes the lock for holder, stealing locks older than staleAfter.
func (s *RoundLockStore) TryAcquire(_ context.Context, roundID, holder string, staleAfter time.Duration, nowMs int64) (bool, error) {
	if roundID == "" || holder == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staleBefore := nowMs - staleAfter.Milliseconds()
	if existing, exists := s.data[roundID]; exists && existing.AcquiredAtMs > staleBefore {
		return false, nil
	}

	s.data[roundID] = &domain.RoundProcessingLock{
		RoundID:      roundID,
		Holder:       holder,
		AcquiredAtMs: nowMs,
	}
	return true, nil
}

// Release drops the lock if still held by holder.
func (s *RoundLockStore) Release(_ context.Context, roundID, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.data[roundID]; exists && existing.Holder == holder {
		delete(s.data, roundID)
	}
	return nil
}
