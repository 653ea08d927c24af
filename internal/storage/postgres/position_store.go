package postgres

import (
	"context"
	"fmt"

	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// Upsert accumulates stake into the position.
func (s *PositionStore) Upsert(ctx context.Context, p *domain.Position) error {
	if p == nil || p.RoundID == "" || p.Wallet == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO positions (round_id, wallet, side, amount_lamports, claimed)
		VALUES ($1, $2, $3, $4, FALSE)
		ON CONFLICT (round_id, wallet, side) DO UPDATE
		SET amount_lamports = positions.amount_lamports + EXCLUDED.amount_lamports
		WHERE positions.claimed = FALSE
	`

	_, err := s.pool.Exec(ctx, query, p.RoundID, p.Wallet, int16(p.Side), int64(p.AmountLamports))
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// Get retrieves a position.
func (s *PositionStore) Get(ctx context.Context, roundID, wallet string, side domain.Side) (*domain.Position, error) {
	query := `
		SELECT round_id, wallet, side, amount_lamports, claimed
		FROM positions
		WHERE round_id = $1 AND wallet = $2 AND side = $3
	`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, roundID, wallet, int16(side)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// GetByRound retrieves all positions of a round.
func (s *PositionStore) GetByRound(ctx context.Context, roundID string) ([]*domain.Position, error) {
	query := `
		SELECT round_id, wallet, side, amount_lamports, claimed
		FROM positions
		WHERE round_id = $1
		ORDER BY wallet ASC, side ASC
	`

	rows, err := s.pool.Query(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("get positions by round: %w", err)
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return out, nil
}

// MarkClaimed flips claimed false→true.
func (s *PositionStore) MarkClaimed(ctx context.Context, roundID, wallet string, side domain.Side) (bool, error) {
	query := `
		UPDATE positions
		SET claimed = TRUE
		WHERE round_id = $1 AND wallet = $2 AND side = $3 AND claimed = FALSE
	`

	tag, err := s.pool.Exec(ctx, query, roundID, wallet, int16(side))
	if err != nil {
		return false, fmt.Errorf("mark position claimed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPosition(row scannable) (*domain.Position, error) {
	var p domain.Position
	var side int16
	var amount int64
	if err := row.Scan(&p.RoundID, &p.Wallet, &side, &amount, &p.Claimed); err != nil {
		return nil, err
	}
	p.Side = domain.Side(side)
	p.AmountLamports = uint64(amount)
	return &p, nil
}
