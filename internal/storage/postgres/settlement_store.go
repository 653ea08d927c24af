package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/storage"
)

// SettlementStore implements storage.SettlementStore using PostgreSQL.
// The plan header lives in settlements; planned transfers in
// settlement_transfers. Both are written in one transaction.
type SettlementStore struct {
	pool *Pool
}

// NewSettlementStore creates a new SettlementStore.
func NewSettlementStore(pool *Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SettlementStore = (*SettlementStore)(nil)

// Add persists a plan. First writer wins.
func (s *SettlementStore) Add(ctx context.Context, p *domain.SettlementPlan) error {
	if p == nil || p.RoundID == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin add settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertPlanHeader(ctx, tx, p); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert settlement: %w", err)
	}
	if err := insertPlanTransfers(ctx, tx, p); err != nil {
		return fmt.Errorf("insert settlement transfers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit add settlement: %w", err)
	}
	return nil
}

// Upsert replaces the plan for a round. Callers must only use this before
// any transfer has been executed.
func (s *SettlementStore) Upsert(ctx context.Context, p *domain.SettlementPlan) error {
	if p == nil || p.RoundID == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM settlements WHERE round_id = $1`, p.RoundID); err != nil {
		return fmt.Errorf("delete settlement: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM settlement_transfers WHERE round_id = $1`, p.RoundID); err != nil {
		return fmt.Errorf("delete settlement transfers: %w", err)
	}
	if err := insertPlanHeader(ctx, tx, p); err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	if err := insertPlanTransfers(ctx, tx, p); err != nil {
		return fmt.Errorf("insert settlement transfers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert settlement: %w", err)
	}
	return nil
}

// Get retrieves the plan for a round.
func (s *SettlementStore) Get(ctx context.Context, roundID string) (*domain.SettlementPlan, error) {
	query := `
		SELECT round_id, mode, winner_side, start_price, end_price, expo,
		       fee_lamports, distributable_lamports, state, created_at_ms, completed_at_ms
		FROM settlements
		WHERE round_id = $1
	`

	var p domain.SettlementPlan
	var mode, state string
	var winner int16
	var fee, distributable int64

	err := s.pool.QueryRow(ctx, query, roundID).Scan(
		&p.RoundID,
		&mode,
		&winner,
		&p.StartPrice,
		&p.EndPrice,
		&p.Expo,
		&fee,
		&distributable,
		&state,
		&p.CreatedAtMs,
		&p.CompletedAtMs,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get settlement: %w", err)
	}

	if mode == domain.ModeWin.String() {
		p.Mode = domain.ModeWin
	} else {
		p.Mode = domain.ModeRefund
	}
	p.WinnerSide = domain.Side(winner)
	p.FeeLamports = uint64(fee)
	p.Distributable = uint64(distributable)
	p.State = domain.SettlementState(state)

	transfers, err := s.getTransfers(ctx, roundID)
	if err != nil {
		return nil, err
	}
	p.Transfers = transfers
	return &p, nil
}

// MarkCompleted sets the terminal COMPLETED state.
func (s *SettlementStore) MarkCompleted(ctx context.Context, roundID string, completedAtMs int64) error {
	query := `
		UPDATE settlements
		SET state = $2, completed_at_ms = $3
		WHERE round_id = $1
	`

	tag, err := s.pool.Exec(ctx, query, roundID, string(domain.SettlementCompleted), completedAtMs)
	if err != nil {
		return fmt.Errorf("mark settlement completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *SettlementStore) getTransfers(ctx context.Context, roundID string) ([]domain.PlannedTransfer, error) {
	query := `
		SELECT transfer_id, recipient, lamports, kind
		FROM settlement_transfers
		WHERE round_id = $1
		ORDER BY transfer_id ASC
	`

	rows, err := s.pool.Query(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("get settlement transfers: %w", err)
	}
	defer rows.Close()

	var out []domain.PlannedTransfer
	for rows.Next() {
		var t domain.PlannedTransfer
		var lamports int64
		var kind string
		if err := rows.Scan(&t.TransferID, &t.Recipient, &lamports, &kind); err != nil {
			return nil, fmt.Errorf("scan settlement transfer: %w", err)
		}
		t.Lamports = uint64(lamports)
		t.Kind = domain.TransferKind(kind)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlement transfers: %w", err)
	}
	return out, nil
}

func insertPlanHeader(ctx context.Context, tx pgx.Tx, p *domain.SettlementPlan) error {
	query := `
		INSERT INTO settlements (
			round_id, mode, winner_side, start_price, end_price, expo,
			fee_lamports, distributable_lamports, state, created_at_ms, completed_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := tx.Exec(ctx, query,
		p.RoundID,
		p.Mode.String(),
		int16(p.WinnerSide),
		p.StartPrice,
		p.EndPrice,
		p.Expo,
		int64(p.FeeLamports),
		int64(p.Distributable),
		string(p.State),
		p.CreatedAtMs,
		p.CompletedAtMs,
	)
	return err
}

func insertPlanTransfers(ctx context.Context, tx pgx.Tx, p *domain.SettlementPlan) error {
	query := `
		INSERT INTO settlement_transfers (round_id, transfer_id, recipient, lamports, kind)
		VALUES ($1, $2, $3, $4, $5)
	`

	for _, t := range p.Transfers {
		if _, err := tx.Exec(ctx, query, p.RoundID, t.TransferID, t.Recipient, int64(t.Lamports), string(t.Kind)); err != nil {
			return err
		}
	}
	return nil
}
