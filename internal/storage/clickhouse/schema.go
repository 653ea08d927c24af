package clickhouse

import (
	"context"
	"fmt"
)

// EnsureSchema creates the archive tables if they do not exist.
// ClickHouse DDL is idempotent with IF NOT EXISTS; run on every startup.
func EnsureSchema(ctx context.Context, conn *Conn) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS settled_rounds (
			round_id               String,
			market                 String,
			start_ts               Int64,
			lock_ts                Int64,
			end_ts                 Int64,
			mode                   String,
			winner_side            String,
			start_price            Int64,
			end_price              Int64,
			expo                   Int32,
			up_total               UInt64,
			down_total             UInt64,
			fee_lamports           UInt64,
			distributable_lamports UInt64,
			transfer_count         UInt32,
			settled_at_ms          Int64
		) ENGINE = ReplacingMergeTree
		ORDER BY (market, start_ts, round_id)`,

		`CREATE TABLE IF NOT EXISTS settlement_payouts (
			round_id       String,
			transfer_id    Int32,
			signature      String,
			lamports       UInt64,
			executed_at_ms Int64
		) ENGINE = ReplacingMergeTree
		ORDER BY (round_id, transfer_id)`,
	}

	for _, stmt := range ddl {
		if err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure archive schema: %w", err)
		}
	}
	return nil
}
