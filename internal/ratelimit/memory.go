package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowCounter struct {
	windowStart int64
	count       int
}

// MemoryStore is an in-process Store. Suitable for single-replica
// deployments and tests; multi-replica deployments use the Redis store.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*windowCounter
}

// NewMemoryStore creates a new in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*windowCounter)}
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// Incr records an attempt and returns the in-window count.
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration, nowMs int64) (int, error) {
	windowMs := window.Milliseconds()
	windowStart := nowMs - nowMs%windowMs

	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.data[key]
	if !exists || c.windowStart != windowStart {
		c = &windowCounter{windowStart: windowStart}
		s.data[key] = c
	}
	c.count++

	// Opportunistic cleanup of rolled-over windows.
	if len(s.data) > 65536 {
		for k, v := range s.data {
			if v.windowStart != windowStart {
				delete(s.data, k)
			}
		}
	}

	return c.count, nil
}
