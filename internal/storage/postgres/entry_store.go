package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/storage"
)

// EntryStore implements storage.EntryStore using PostgreSQL.
type EntryStore struct {
	pool *Pool
}

// NewEntryStore creates a new EntryStore.
func NewEntryStore(pool *Pool) *EntryStore {
	return &EntryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EntryStore = (*EntryStore)(nil)

// Insert adds a new entry. Returns ErrDuplicateKey if the identity exists.
func (s *EntryStore) Insert(ctx context.Context, e *domain.Entry) error {
	if e == nil || e.ID == "" || e.RoundID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO entries (
			entry_id, round_id, market, wallet, side, stake_lamports, stake_usd, joined_at_ms, created_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		e.ID,
		e.RoundID,
		e.Market,
		e.Wallet,
		int16(e.Side),
		int64(e.StakeLamports),
		e.StakeUSD,
		e.JoinedAtMs,
		e.CreatedAtMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Has reports whether an entry with the given identity exists.
func (s *EntryStore) Has(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM entries WHERE entry_id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("entry exists: %w", err)
	}
	return exists, nil
}

// GetByRound retrieves all entries of a round in canonical order.
func (s *EntryStore) GetByRound(ctx context.Context, roundID string) ([]*domain.Entry, error) {
	query := `
		SELECT entry_id, round_id, market, wallet, side, stake_lamports, stake_usd, joined_at_ms, created_at_ms
		FROM entries
		WHERE round_id = $1
		ORDER BY joined_at_ms ASC, entry_id ASC
	`

	rows, err := s.pool.Query(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("get entries by round: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Totals returns the summed stakes per side for a round.
func (s *EntryStore) Totals(ctx context.Context, roundID string) (uint64, uint64, error) {
	query := `
		SELECT
			COALESCE(SUM(stake_lamports) FILTER (WHERE side = 0), 0),
			COALESCE(SUM(stake_lamports) FILTER (WHERE side = 1), 0)
		FROM entries
		WHERE round_id = $1
	`

	var up, down int64
	if err := s.pool.QueryRow(ctx, query, roundID).Scan(&up, &down); err != nil {
		return 0, 0, fmt.Errorf("entry totals: %w", err)
	}
	return uint64(up), uint64(down), nil
}

func scanEntries(rows pgx.Rows) ([]*domain.Entry, error) {
	var out []*domain.Entry
	for rows.Next() {
		var e domain.Entry
		var side int16
		var stake int64
		err := rows.Scan(
			&e.ID,
			&e.RoundID,
			&e.Market,
			&e.Wallet,
			&side,
			&stake,
			&e.StakeUSD,
			&e.JoinedAtMs,
			&e.CreatedAtMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Side = domain.Side(side)
		e.StakeLamports = uint64(stake)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}
