package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/storage"
)

// RoundStore implements storage.RoundStore using PostgreSQL.
// State transitions are guarded UPDATEs: the WHERE clause carries the
// expected pre-state so concurrent writers cannot skip states.
type RoundStore struct {
	pool *Pool
}

// NewRoundStore creates a new RoundStore.
func NewRoundStore(pool *Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RoundStore = (*RoundStore)(nil)

const roundColumns = `
	round_id, market, start_ts, lock_ts, end_ts, status,
	start_price, end_price, expo, winner_side,
	up_total, down_total, fee_lamports, distributable_lamports,
	created_at_ms, locked_at_ms, settled_at_ms
`

// Create inserts a round if absent. Returns false if it already exists.
func (s *RoundStore) Create(ctx context.Context, r *domain.Round) (bool, error) {
	if r == nil || r.ID == "" || r.Market == "" {
		return false, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO rounds (
			round_id, market, start_ts, lock_ts, end_ts, status,
			winner_side, created_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (round_id) DO NOTHING
	`

	tag, err := s.pool.Exec(ctx, query,
		r.ID,
		r.Market,
		r.StartTS,
		r.LockTS,
		r.EndTS,
		int16(r.Status),
		int16(r.WinnerSide),
		r.CreatedAtMs,
	)
	if err != nil {
		return false, fmt.Errorf("create round: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get retrieves a round by wire identity.
func (s *RoundStore) Get(ctx context.Context, id string) (*domain.Round, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE round_id = $1`, id)

	r, err := scanRound(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get round: %w", err)
	}
	return r, nil
}

// GetDue retrieves unsettled rounds with end_ts <= now, oldest first.
func (s *RoundStore) GetDue(ctx context.Context, now int64, limit int) ([]*domain.Round, error) {
	query := `
		SELECT ` + roundColumns + `
		FROM rounds
		WHERE end_ts <= $1 AND status <> 2
		ORDER BY end_ts ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("get due rounds: %w", err)
	}
	defer rows.Close()

	var out []*domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due round: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due rounds: %w", err)
	}
	return out, nil
}

// MarkLocked transitions OPEN→LOCKED, freezing start price and totals.
func (s *RoundStore) MarkLocked(ctx context.Context, id string, startPrice int64, expo int32, upTotal, downTotal uint64, lockedAtMs int64) (bool, error) {
	query := `
		UPDATE rounds
		SET status = 1, start_price = $2, expo = $3,
		    up_total = $4, down_total = $5, locked_at_ms = $6
		WHERE round_id = $1 AND status = 0
	`

	tag, err := s.pool.Exec(ctx, query, id, startPrice, expo, int64(upTotal), int64(downTotal), lockedAtMs)
	if err != nil {
		return false, fmt.Errorf("mark round locked: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSettled transitions to SETTLED, recording the outcome.
func (s *RoundStore) MarkSettled(ctx context.Context, id string, endPrice int64, winner domain.Side, fee, distributable uint64, settledAtMs int64) (bool, error) {
	query := `
		UPDATE rounds
		SET status = 2, end_price = $2, winner_side = $3,
		    fee_lamports = $4, distributable_lamports = $5, settled_at_ms = $6
		WHERE round_id = $1 AND status <> 2
	`

	tag, err := s.pool.Exec(ctx, query, id, endPrice, int16(winner), int64(fee), int64(distributable), settledAtMs)
	if err != nil {
		return false, fmt.Errorf("mark round settled: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanRound(row pgx.Row) (*domain.Round, error) {
	var r domain.Round
	var status, winner int16
	var upTotal, downTotal, fee, distributable int64

	err := row.Scan(
		&r.ID,
		&r.Market,
		&r.StartTS,
		&r.LockTS,
		&r.EndTS,
		&status,
		&r.StartPrice,
		&r.EndPrice,
		&r.Expo,
		&winner,
		&upTotal,
		&downTotal,
		&fee,
		&distributable,
		&r.CreatedAtMs,
		&r.LockedAtMs,
		&r.SettledAtMs,
	)
	if err != nil {
		return nil, err
	}

	r.Status = domain.RoundStatus(status)
	r.WinnerSide = domain.Side(winner)
	r.UpTotal = uint64(upTotal)
	r.DownTotal = uint64(downTotal)
	r.FeeLamports = uint64(fee)
	r.Distributable = uint64(distributable)
	return &r, nil
}
