package claims

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pancho-pvp/internal/chain"
	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/round"
	"pancho-pvp/internal/solana"
	"pancho-pvp/internal/storage/memory"
)

const watcherWallet = "7kYq1sVbS9Y3sBvLtRmXCQkjnUWhotXBQxVJjV37XCeF"

func claimedLog(t *testing.T, roundKey, user string, side uint8, stake, payout uint64) string {
	t.Helper()

	roundRaw, err := chain.DecodeKey(roundKey)
	require.NoError(t, err)
	userRaw, err := chain.DecodeKey(user)
	require.NoError(t, err)

	disc := sha256.Sum256([]byte("event:Claimed"))
	payload := append([]byte(nil), disc[:8]...)
	payload = append(payload, roundRaw[:]...)
	payload = append(payload, userRaw[:]...)
	payload = append(payload, side)
	payload = binary.LittleEndian.AppendUint64(payload, stake)
	payload = binary.LittleEndian.AppendUint64(payload, payout)

	return "Program data: " + base64.StdEncoding.EncodeToString(payload)
}

func TestWatcher_MarksClaimedPosition(t *testing.T) {
	ctx := context.Background()

	registry, err := domain.NewMarketRegistry([]domain.Market{
		{Symbol: "SOL", Code: 0},
	})
	require.NoError(t, err)

	positions := memory.NewPositionStore()
	cfg := round.Config{OpenSeconds: 60, LockSeconds: 60, SettleSeconds: 300}

	// The round the event refers to: aligned start inside the cache window.
	now := time.Unix(1561, 0)
	startSec := domain.AlignedStart(now.Unix(), cfg.CycleSeconds()) // 1560
	roundID := domain.FormatRoundID("SOL", startSec)
	roundKey, _, err := chain.RoundAddress(0, startSec)
	require.NoError(t, err)

	require.NoError(t, positions.Upsert(ctx, &domain.Position{
		RoundID: roundID, Wallet: watcherWallet, Side: domain.SideUp, AmountLamports: 50,
	}))

	w := NewWatcher(Options{
		Positions: positions,
		Markets:   registry,
		Config:    cfg,
		Clock:     func() time.Time { return now },
	})

	w.process(ctx, solana.LogNotification{
		Signature: "tx-1",
		Logs: []string{
			"Program log: Instruction: Claim",
			claimedLog(t, roundKey, watcherWallet, 0, 50, 66),
		},
	})

	p, err := positions.Get(ctx, roundID, watcherWallet, domain.SideUp)
	require.NoError(t, err)
	require.True(t, p.Claimed)
}

func TestWatcher_UnknownRoundIsSkipped(t *testing.T) {
	registry, err := domain.NewMarketRegistry([]domain.Market{{Symbol: "SOL", Code: 0}})
	require.NoError(t, err)

	positions := memory.NewPositionStore()
	w := NewWatcher(Options{
		Positions: positions,
		Markets:   registry,
		Config:    round.Config{OpenSeconds: 60, LockSeconds: 60, SettleSeconds: 300},
		Clock:     func() time.Time { return time.Unix(1561, 0) },
	})

	// A round key far outside the cache window resolves to nothing.
	farKey, _, err := chain.RoundAddress(0, 99_999_960)
	require.NoError(t, err)

	require.NotPanics(t, func() {
		w.process(context.Background(), solana.LogNotification{
			Signature: "tx-2",
			Logs:      []string{claimedLog(t, farKey, watcherWallet, 0, 1, 1)},
		})
	})
}
