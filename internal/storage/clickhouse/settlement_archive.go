package clickhouse

import (
	"context"
	"fmt"

	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/storage"
)

// SettlementArchive implements storage.SettlementArchive using ClickHouse.
// Rows are append-only analytics data; the archive is never consulted by
// the settlement engine itself.
type SettlementArchive struct {
	conn *Conn
}

// NewSettlementArchive creates a new SettlementArchive.
func NewSettlementArchive(conn *Conn) *SettlementArchive {
	return &SettlementArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.SettlementArchive = (*SettlementArchive)(nil)

// ArchiveRound writes one settled-round row.
func (s *SettlementArchive) ArchiveRound(ctx context.Context, r *domain.Round, p *domain.SettlementPlan) error {
	query := `
		INSERT INTO settled_rounds (
			round_id, market, start_ts, lock_ts, end_ts,
			mode, winner_side, start_price, end_price, expo,
			up_total, down_total, fee_lamports, distributable_lamports,
			transfer_count, settled_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		r.ID, r.Market, r.StartTS, r.LockTS, r.EndTS,
		p.Mode.String(), p.WinnerSide.String(), p.StartPrice, p.EndPrice, p.Expo,
		r.UpTotal, r.DownTotal, p.FeeLamports, p.Distributable,
		uint32(len(p.Transfers)), r.SettledAtMs,
	)
	if err != nil {
		return fmt.Errorf("archive settled round: %w", err)
	}
	return nil
}

// ArchiveReceipts writes executed-transfer rows in one batch.
func (s *SettlementArchive) ArchiveReceipts(ctx context.Context, receipts []*domain.TransferReceipt) error {
	if len(receipts) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO settlement_payouts (round_id, transfer_id, signature, lamports, executed_at_ms)
	`)
	if err != nil {
		return fmt.Errorf("prepare payout batch: %w", err)
	}

	for _, r := range receipts {
		if err := batch.Append(r.RoundID, int32(r.TransferID), r.Signature, r.Lamports, r.ExecutedAtMs); err != nil {
			return fmt.Errorf("append payout row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send payout batch: %w", err)
	}
	return nil
}
