package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/storage"
)

func TestPostgresStores(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("entries", func(t *testing.T) {
		s := NewEntryStore(pool)

		e := &domain.Entry{
			ID: "sig-a", RoundID: "SOL-1200-5m", Market: "SOL", Wallet: "alice",
			Side: domain.SideUp, StakeLamports: 50, StakeUSD: 5, JoinedAtMs: 1201_000, CreatedAtMs: 1201_001,
		}
		require.NoError(t, s.Insert(ctx, e))
		require.ErrorIs(t, s.Insert(ctx, e), storage.ErrDuplicateKey)

		require.NoError(t, s.Insert(ctx, &domain.Entry{
			ID: "sig-b", RoundID: "SOL-1200-5m", Market: "SOL", Wallet: "bob",
			Side: domain.SideDown, StakeLamports: 30, JoinedAtMs: 1200_500,
		}))

		has, err := s.Has(ctx, "sig-a")
		require.NoError(t, err)
		require.True(t, has)

		entries, err := s.GetByRound(ctx, "SOL-1200-5m")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, "sig-b", entries[0].ID, "joined_at ascending")

		up, down, err := s.Totals(ctx, "SOL-1200-5m")
		require.NoError(t, err)
		require.Equal(t, uint64(50), up)
		require.Equal(t, uint64(30), down)
	})

	t.Run("rounds", func(t *testing.T) {
		s := NewRoundStore(pool)

		r := &domain.Round{
			ID: "SOL-1200-5m", Market: "SOL", StartTS: 1200, LockTS: 1260, EndTS: 1560,
			Status: domain.RoundOpen, WinnerSide: domain.SideNone, CreatedAtMs: 1200_000,
		}
		created, err := s.Create(ctx, r)
		require.NoError(t, err)
		require.True(t, created)

		created, err = s.Create(ctx, r)
		require.NoError(t, err)
		require.False(t, created, "create is idempotent")

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		require.Equal(t, domain.RoundOpen, got.Status)
		require.Equal(t, domain.SideNone, got.WinnerSide)

		due, err := s.GetDue(ctx, 1561, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)

		locked, err := s.MarkLocked(ctx, r.ID, 100_000, -3, 50, 30, 1260_000)
		require.NoError(t, err)
		require.True(t, locked)
		locked, err = s.MarkLocked(ctx, r.ID, 999, -3, 0, 0, 1260_001)
		require.NoError(t, err)
		require.False(t, locked, "lock guard on status")

		settled, err := s.MarkSettled(ctx, r.ID, 101_000, domain.SideUp, 6, 99, 1561_000)
		require.NoError(t, err)
		require.True(t, settled)
		settled, err = s.MarkSettled(ctx, r.ID, 0, domain.SideDown, 0, 0, 1562_000)
		require.NoError(t, err)
		require.False(t, settled, "settled rounds never mutate")

		due, err = s.GetDue(ctx, 1561, 10)
		require.NoError(t, err)
		require.Empty(t, due)

		got, err = s.Get(ctx, r.ID)
		require.NoError(t, err)
		require.Equal(t, int64(100_000), got.StartPrice)
		require.Equal(t, int64(101_000), got.EndPrice)
		require.Equal(t, uint64(50), got.UpTotal)
		require.Equal(t, uint64(30), got.DownTotal)
	})

	t.Run("settlements", func(t *testing.T) {
		s := NewSettlementStore(pool)

		plan := &domain.SettlementPlan{
			RoundID:       "SOL-1200-5m",
			Mode:          domain.ModeWin,
			WinnerSide:    domain.SideUp,
			StartPrice:    100_000,
			EndPrice:      101_000,
			Expo:          -3,
			FeeLamports:   6,
			Distributable: 99,
			State:         domain.SettlementProcessing,
			CreatedAtMs:   1561_000,
			Transfers: []domain.PlannedTransfer{
				{TransferID: 0, Recipient: "alice", Lamports: 66, Kind: domain.TransferPayout},
				{TransferID: 1, Recipient: "bob", Lamports: 33, Kind: domain.TransferPayout},
				{TransferID: 2, Recipient: "treasury", Lamports: 6, Kind: domain.TransferFee},
			},
		}
		require.NoError(t, s.Add(ctx, plan))
		require.ErrorIs(t, s.Add(ctx, plan), storage.ErrDuplicateKey)

		got, err := s.Get(ctx, plan.RoundID)
		require.NoError(t, err)
		require.Equal(t, plan.Transfers, got.Transfers)
		require.Equal(t, domain.ModeWin, got.Mode)
		require.Equal(t, domain.SettlementProcessing, got.State)

		// Upsert before execution replaces the plan atomically.
		plan.Transfers = plan.Transfers[:2]
		require.NoError(t, s.Upsert(ctx, plan))
		got, err = s.Get(ctx, plan.RoundID)
		require.NoError(t, err)
		require.Len(t, got.Transfers, 2)

		require.NoError(t, s.MarkCompleted(ctx, plan.RoundID, 1562_000))
		got, err = s.Get(ctx, plan.RoundID)
		require.NoError(t, err)
		require.Equal(t, domain.SettlementCompleted, got.State)
	})

	t.Run("receipts", func(t *testing.T) {
		s := NewReceiptStore(pool)

		rc := &domain.TransferReceipt{
			RoundID: "SOL-1200-5m", TransferID: 0, Signature: "ext-sig-1", Lamports: 66, ExecutedAtMs: 1561_500,
		}
		created, err := s.Append(ctx, rc)
		require.NoError(t, err)
		require.True(t, created)

		created, err = s.Append(ctx, rc)
		require.NoError(t, err)
		require.False(t, created, "re-append is a silent no-op")

		_, err = s.Append(ctx, &domain.TransferReceipt{
			RoundID: "SOL-1200-5m", TransferID: 1, Signature: "ext-sig-1",
		})
		require.Error(t, err, "signatures are globally unique")

		_, err = s.Append(ctx, &domain.TransferReceipt{
			RoundID: "SOL-1200-5m", TransferID: 0, Signature: "ext-sig-other",
		})
		require.Error(t, err, "one receipt per (round, transfer)")

		found, err := s.BySignature(ctx, "ext-sig-1")
		require.NoError(t, err)
		require.Equal(t, 0, found.TransferID)

		_, err = s.BySignature(ctx, "missing")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("round locks", func(t *testing.T) {
		s := NewRoundLockStore(pool)
		ttl := 15 * time.Minute

		ok, err := s.TryAcquire(ctx, "SOL-1200-5m", "worker-1", ttl, 1_000_000)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.TryAcquire(ctx, "SOL-1200-5m", "worker-2", ttl, 1_000_100)
		require.NoError(t, err)
		require.False(t, ok, "fresh locks are exclusive")

		staleAt := 1_000_000 + ttl.Milliseconds() + 1
		ok, err = s.TryAcquire(ctx, "SOL-1200-5m", "worker-2", ttl, staleAt)
		require.NoError(t, err)
		require.True(t, ok, "stale locks are stealable")

		require.NoError(t, s.Release(ctx, "SOL-1200-5m", "worker-1"))
		ok, err = s.TryAcquire(ctx, "SOL-1200-5m", "worker-3", ttl, staleAt+1)
		require.NoError(t, err)
		require.False(t, ok, "stale holder's release does not free the lock")

		require.NoError(t, s.Release(ctx, "SOL-1200-5m", "worker-2"))
		ok, err = s.TryAcquire(ctx, "SOL-1200-5m", "worker-3", ttl, staleAt+2)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("positions", func(t *testing.T) {
		s := NewPositionStore(pool)

		p := &domain.Position{RoundID: "SOL-1200-5m", Wallet: "alice", Side: domain.SideUp, AmountLamports: 50}
		require.NoError(t, s.Upsert(ctx, p))
		require.NoError(t, s.Upsert(ctx, p))

		got, err := s.Get(ctx, "SOL-1200-5m", "alice", domain.SideUp)
		require.NoError(t, err)
		require.Equal(t, uint64(100), got.AmountLamports)

		claimed, err := s.MarkClaimed(ctx, "SOL-1200-5m", "alice", domain.SideUp)
		require.NoError(t, err)
		require.True(t, claimed)

		claimed, err = s.MarkClaimed(ctx, "SOL-1200-5m", "alice", domain.SideUp)
		require.NoError(t, err)
		require.False(t, claimed)
	})
}
