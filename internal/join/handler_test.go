package join

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pancho-pvp/internal/config"
	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/ratelimit"
	"pancho-pvp/internal/storage/memory"
)

// Base58-valid 32-byte wallet used across the tests.
const testWallet = "7kYq1sVbS9Y3sBvLtRmXCQkjnUWhotXBQxVJjV37XCeF"

type joinFixture struct {
	cfg     *config.Config
	entries *memory.EntryStore
	rounds  *memory.RoundStore
	handler *Handler
	now     time.Time
}

func newJoinFixture(t *testing.T) *joinFixture {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err)
	// Generous buckets so only the dedicated tests exercise limits.
	cfg.JoinIPBucket = config.RateBucket{Limit: 100, Window: time.Minute}
	cfg.JoinWalletBucket = config.RateBucket{Limit: 100, Window: time.Minute}

	fx := &joinFixture{
		cfg:     cfg,
		entries: memory.NewEntryStore(),
		rounds:  memory.NewRoundStore(),
		now:     time.Unix(1205, 0),
	}

	fx.handler = NewHandler(Options{
		Config:    cfg,
		Entries:   fx.entries,
		Rounds:    fx.rounds,
		RateStore: ratelimit.NewMemoryStore(),
		Clock:     func() time.Time { return fx.now },
	})
	return fx
}

// validRequest builds a submission for round SOL-1200-5m (open window
// [1200, 1260), end 1560).
func (fx *joinFixture) validRequest() *Request {
	market := fx.cfg.Markets.Get("SOL")
	return &Request{
		RoundID:       "SOL-1200-5m",
		Market:        "SOL",
		FeedID:        config.FeedIDHex(market),
		RoundStartMs:  1200_000,
		RoundEndMs:    1560_000,
		Wallet:        testWallet,
		Direction:     "up",
		StakeUSD:      5,
		StakeLamports: 50_000_000,
		Signature:     "deposit-sig-1",
	}
}

func TestHandle_CreatesEntry(t *testing.T) {
	fx := newJoinFixture(t)

	created, err := fx.handler.Handle(context.Background(), fx.validRequest(), "1.2.3.4")
	require.NoError(t, err)
	require.True(t, created)

	entries, err := fx.entries.GetByRound(context.Background(), "SOL-1200-5m")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "deposit-sig-1", entries[0].ID)
	require.Equal(t, domain.SideUp, entries[0].Side)
	require.Equal(t, fx.now.UnixMilli(), entries[0].JoinedAtMs, "joined_at is server time")
}

func TestHandle_LazilyCreatesRound(t *testing.T) {
	fx := newJoinFixture(t)

	_, err := fx.handler.Handle(context.Background(), fx.validRequest(), "1.2.3.4")
	require.NoError(t, err)

	r, err := fx.rounds.Get(context.Background(), "SOL-1200-5m")
	require.NoError(t, err)
	require.Equal(t, domain.RoundOpen, r.Status)
	require.Equal(t, int64(1260), r.LockTS)
	require.Equal(t, int64(1560), r.EndTS)
}

func TestHandle_ReplayIsNoOpSuccess(t *testing.T) {
	fx := newJoinFixture(t)
	ctx := context.Background()

	created, err := fx.handler.Handle(ctx, fx.validRequest(), "1.2.3.4")
	require.NoError(t, err)
	require.True(t, created)

	created, err = fx.handler.Handle(ctx, fx.validRequest(), "1.2.3.4")
	require.NoError(t, err)
	require.False(t, created, "duplicate identity is a no-op")

	entries, err := fx.entries.GetByRound(ctx, "SOL-1200-5m")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestHandle_LateJoinRejected(t *testing.T) {
	// Scenario F: now == lock_ts.
	fx := newJoinFixture(t)
	fx.now = time.Unix(1260, 0)

	var vErr *ValidationError
	_, err := fx.handler.Handle(context.Background(), fx.validRequest(), "1.2.3.4")
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Error(), "round not open")

	entries, err := fx.entries.GetByRound(context.Background(), "SOL-1200-5m")
	require.NoError(t, err)
	require.Empty(t, entries, "no ledger mutation on rejection")
}

func TestHandle_EarlyJoinRejected(t *testing.T) {
	fx := newJoinFixture(t)
	fx.now = time.Unix(1199, 0)

	var vErr *ValidationError
	_, err := fx.handler.Handle(context.Background(), fx.validRequest(), "1.2.3.4")
	require.ErrorAs(t, err, &vErr)
}

func TestHandle_PausedReturnsErrPaused(t *testing.T) {
	fx := newJoinFixture(t)
	fx.handler.joinsPaused = func() bool { return true }

	_, err := fx.handler.Handle(context.Background(), fx.validRequest(), "1.2.3.4")
	require.ErrorIs(t, err, ErrPaused)
}

func TestHandle_ValidationFailures(t *testing.T) {
	fx := newJoinFixture(t)

	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"unknown market", func(r *Request) { r.Market = "DOGE" }},
		{"wrong feed", func(r *Request) { r.FeedID = "deadbeef" }},
		{"bad direction", func(r *Request) { r.Direction = "sideways" }},
		{"stake not in tiers", func(r *Request) { r.StakeLamports = 123 }},
		{"zero stake", func(r *Request) { r.StakeLamports = 0 }},
		{"malformed round id", func(r *Request) { r.RoundID = "SOL-1200" }},
		{"round id market mismatch", func(r *Request) { r.RoundID = "BTC-1200-5m" }},
		{"misaligned start", func(r *Request) { r.RoundID = "SOL-1230-5m"; r.RoundStartMs = 1230_000; r.RoundEndMs = 1590_000 }},
		{"start ms mismatch", func(r *Request) { r.RoundStartMs = 1201_000 }},
		{"end ms mismatch", func(r *Request) { r.RoundEndMs = 1500_000 }},
		{"bad wallet", func(r *Request) { r.Wallet = "not-base58-!!" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := fx.validRequest()
			tc.mutate(req)

			var vErr *ValidationError
			_, err := fx.handler.Handle(context.Background(), req, "1.2.3.4")
			require.ErrorAs(t, err, &vErr, "expected validation error")
		})
	}
}

func TestHandle_WalletRateLimit(t *testing.T) {
	fx := newJoinFixture(t)
	fx.cfg.JoinWalletBucket = config.RateBucket{Limit: 2, Window: time.Minute}
	fx.handler = NewHandler(Options{
		Config:    fx.cfg,
		Entries:   fx.entries,
		Rounds:    fx.rounds,
		RateStore: ratelimit.NewMemoryStore(),
		Clock:     func() time.Time { return fx.now },
	})
	ctx := context.Background()

	// Wallet bucket allows 2 per minute; use distinct IPs to isolate it.
	for i, ip := range []string{"1.1.1.1", "2.2.2.2"} {
		req := fx.validRequest()
		req.Signature = req.Signature + string(rune('a'+i))
		_, err := fx.handler.Handle(ctx, req, ip)
		require.NoError(t, err)
	}

	var rlErr *RateLimitError
	_, err := fx.handler.Handle(ctx, fx.validRequest(), "3.3.3.3")
	require.ErrorAs(t, err, &rlErr)
	require.Equal(t, "wallet", rlErr.Scope)
	require.Greater(t, rlErr.RetryAfter, time.Duration(0))
}

func TestHandle_IPRateLimit(t *testing.T) {
	fx := newJoinFixture(t)
	fx.cfg.JoinIPBucket = config.RateBucket{Limit: 3, Window: time.Minute}
	fx.handler = NewHandler(Options{
		Config:    fx.cfg,
		Entries:   fx.entries,
		Rounds:    fx.rounds,
		RateStore: ratelimit.NewMemoryStore(),
		Clock:     func() time.Time { return fx.now },
	})
	ctx := context.Background()

	// IP bucket allows 3 per minute; invalid payloads still count.
	bad := fx.validRequest()
	bad.Market = "DOGE"
	for i := 0; i < 3; i++ {
		_, err := fx.handler.Handle(ctx, bad, "9.9.9.9")
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
	}

	var rlErr *RateLimitError
	_, err := fx.handler.Handle(ctx, bad, "9.9.9.9")
	require.ErrorAs(t, err, &rlErr)
	require.Equal(t, "ip", rlErr.Scope)
}

func TestHandle_RejectsJoinOnLockedRound(t *testing.T) {
	fx := newJoinFixture(t)
	ctx := context.Background()

	_, err := fx.rounds.Create(ctx, &domain.Round{
		ID: "SOL-1200-5m", Market: "SOL", StartTS: 1200, LockTS: 1260, EndTS: 1560,
		Status: domain.RoundOpen, WinnerSide: domain.SideNone,
	})
	require.NoError(t, err)
	locked, err := fx.rounds.MarkLocked(ctx, "SOL-1200-5m", 100, -3, 0, 0, 1)
	require.NoError(t, err)
	require.True(t, locked)

	var vErr *ValidationError
	_, err = fx.handler.Handle(ctx, fx.validRequest(), "1.2.3.4")
	require.ErrorAs(t, err, &vErr)
}

func TestHandle_EntrySignatureUniqueAcrossRounds(t *testing.T) {
	// An entry signature may appear in at most one round.
	fx := newJoinFixture(t)
	ctx := context.Background()

	_, err := fx.handler.Handle(ctx, fx.validRequest(), "1.2.3.4")
	require.NoError(t, err)

	// Same signature against the next round.
	fx.now = time.Unix(1325, 0)
	req := fx.validRequest()
	req.RoundID = "SOL-1320-5m"
	req.RoundStartMs = 1320_000
	req.RoundEndMs = 1680_000

	created, err := fx.handler.Handle(ctx, req, "5.5.5.5")
	require.NoError(t, err)
	require.False(t, created)

	entries, err := fx.entries.GetByRound(ctx, "SOL-1320-5m")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestHandle_SimulationModeAssignsID(t *testing.T) {
	fx := newJoinFixture(t)
	req := fx.validRequest()
	req.Signature = ""

	created, err := fx.handler.Handle(context.Background(), req, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, created)

	entries, err := fx.entries.GetByRound(context.Background(), "SOL-1200-5m")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotEmpty(t, entries[0].ID)
}

func TestHandle_SimulationRetryDedupes(t *testing.T) {
	fx := newJoinFixture(t)
	ctx := context.Background()

	req := fx.validRequest()
	req.Signature = ""
	req.JoinedAtMs = 1205_100 // client stamp → deterministic identity

	created, err := fx.handler.Handle(ctx, req, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, created)

	created, err = fx.handler.Handle(ctx, req, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, created, "retried simulation submission must dedupe")

	entries, err := fx.entries.GetByRound(ctx, "SOL-1200-5m")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestValidationErrorIsNotRateLimit(t *testing.T) {
	var vErr *ValidationError
	err := Validationf("bad thing")
	require.ErrorAs(t, err, &vErr)
	var rlErr *RateLimitError
	require.False(t, errors.As(err, &rlErr))
}
