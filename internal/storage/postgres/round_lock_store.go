package postgres

import (
	"context"
	"fmt"
	"time"

	"pancho-pvp/internal/storage"
)

// RoundLockStore implements storage.RoundLockStore using PostgreSQL.
// A single upsert with a staleness guard in the WHERE clause makes
// acquisition atomic at row granularity; no table locks are taken.
type RoundLockStore struct {
	pool *Pool
}

// NewRoundLockStore creates a new RoundLockStore.
func NewRoundLockStore(pool *Pool) *RoundLockStore {
	return &RoundLockStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RoundLockStore = (*RoundLockStore)(nil)

// TryAcquire takes the lock for holder, stealing locks older than staleAfter.
func (s *RoundLockStore) TryAcquire(ctx context.Context, roundID, holder string, staleAfter time.Duration, nowMs int64) (bool, error) {
	if roundID == "" || holder == "" {
		return false, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO round_locks (round_id, holder, acquired_at_ms)
		VALUES ($1, $2, $3)
		ON CONFLICT (round_id) DO UPDATE
		SET holder = EXCLUDED.holder, acquired_at_ms = EXCLUDED.acquired_at_ms
		WHERE round_locks.acquired_at_ms <= $4
	`

	staleBefore := nowMs - staleAfter.Milliseconds()
	tag, err := s.pool.Exec(ctx, query, roundID, holder, nowMs, staleBefore)
	if err != nil {
		return false, fmt.Errorf("acquire round lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release drops the lock if still held by holder.
func (s *RoundLockStore) Release(ctx context.Context, roundID, holder string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM round_locks WHERE round_id = $1 AND holder = $2`,
		roundID, holder,
	)
	if err != nil {
		return fmt.Errorf("release round lock: %w", err)
	}
	return nil
}
