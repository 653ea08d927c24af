package postgres

import (
	"context"
	"errors"
	"fmt"

	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/storage"
)

// ReceiptStore implements storage.ReceiptStore using PostgreSQL.
type ReceiptStore struct {
	pool *Pool
}

// NewReceiptStore creates a new ReceiptStore.
func NewReceiptStore(pool *Pool) *ReceiptStore {
	return &ReceiptStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ReceiptStore = (*ReceiptStore)(nil)

// Append records a receipt. A re-append of the same (round, transfer) is a
// silent no-op returning (false, nil). A signature collision on a different
// transfer is a genuine uniqueness violation and surfaces as an error.
func (s *ReceiptStore) Append(ctx context.Context, r *domain.TransferReceipt) (bool, error) {
	if r == nil || r.RoundID == "" || r.Signature == "" {
		return false, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO transfer_receipts (round_id, transfer_id, signature, lamports, executed_at_ms)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query, r.RoundID, r.TransferID, r.Signature, int64(r.Lamports), r.ExecutedAtMs)
	if err == nil {
		return true, nil
	}
	if !isDuplicateKeyError(err) {
		return false, fmt.Errorf("append receipt: %w", err)
	}

	// Resumed execution re-appends the same receipt; tolerate only an exact
	// match on (round_id, transfer_id).
	existing, getErr := s.get(ctx, r.RoundID, r.TransferID)
	if getErr != nil {
		if errors.Is(getErr, storage.ErrNotFound) {
			return false, fmt.Errorf("append receipt: signature %s already used by another transfer", r.Signature)
		}
		return false, getErr
	}
	if existing.Signature != r.Signature {
		return false, fmt.Errorf("append receipt: transfer %s/%d already executed with signature %s",
			r.RoundID, r.TransferID, existing.Signature)
	}
	return false, nil
}

// GetByRound retrieves all receipts of a round ordered by transfer_id ASC.
func (s *ReceiptStore) GetByRound(ctx context.Context, roundID string) ([]*domain.TransferReceipt, error) {
	query := `
		SELECT round_id, transfer_id, signature, lamports, executed_at_ms
		FROM transfer_receipts
		WHERE round_id = $1
		ORDER BY transfer_id ASC
	`

	rows, err := s.pool.Query(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("get receipts by round: %w", err)
	}
	defer rows.Close()

	var out []*domain.TransferReceipt
	for rows.Next() {
		var r domain.TransferReceipt
		var lamports int64
		if err := rows.Scan(&r.RoundID, &r.TransferID, &r.Signature, &lamports, &r.ExecutedAtMs); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		r.Lamports = uint64(lamports)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return out, nil
}

// BySignature retrieves a receipt by external signature.
func (s *ReceiptStore) BySignature(ctx context.Context, signature string) (*domain.TransferReceipt, error) {
	query := `
		SELECT round_id, transfer_id, signature, lamports, executed_at_ms
		FROM transfer_receipts
		WHERE signature = $1
	`

	var r domain.TransferReceipt
	var lamports int64
	err := s.pool.QueryRow(ctx, query, signature).Scan(&r.RoundID, &r.TransferID, &r.Signature, &lamports, &r.ExecutedAtMs)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get receipt by signature: %w", err)
	}
	r.Lamports = uint64(lamports)
	return &r, nil
}

func (s *ReceiptStore) get(ctx context.Context, roundID string, transferID int) (*domain.TransferReceipt, error) {
	query := `
		SELECT round_id, transfer_id, signature, lamports, executed_at_ms
		FROM transfer_receipts
		WHERE round_id = $1 AND transfer_id = $2
	`

	var r domain.TransferReceipt
	var lamports int64
	err := s.pool.QueryRow(ctx, query, roundID, transferID).Scan(&r.RoundID, &r.TransferID, &r.Signature, &lamports, &r.ExecutedAtMs)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	r.Lamports = uint64(lamports)
	return &r, nil
}
