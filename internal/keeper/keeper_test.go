package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/round"
	"pancho-pvp/internal/settlement"
	"pancho-pvp/internal/storage/memory"
)

var keeperMarkets = []domain.Market{
	{Symbol: "SOL", Code: 0, OracleOwner: "FsJ3A3u2vn5cTVofAjvy6y5kwABJAqYWpe4975bi2epH"},
	{Symbol: "BTC", Code: 1, OracleOwner: "FsJ3A3u2vn5cTVofAjvy6y5kwABJAqYWpe4975bi2epH"},
}

var keeperCfg = round.Config{
	OpenSeconds:      60,
	LockSeconds:      60,
	SettleSeconds:    300,
	MinCreationSlack: 5,
	LockGraceSeconds: 45,
	OracleMaxAgeSec:  120,
}

// scriptedOracle serves one live snapshot per market, optionally failing
// for selected symbols.
type scriptedOracle struct {
	mu     sync.Mutex
	price  int64
	failed map[string]bool
}

func (o *scriptedOracle) PriceAt(_ context.Context, m *domain.Market, ts int64) (*domain.OracleSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failed[m.Symbol] {
		return nil, fmt.Errorf("oracle down for %s", m.Symbol)
	}
	return &domain.OracleSnapshot{
		Price:       o.price,
		Expo:        -3,
		PublishTime: ts,
		Owner:       m.OracleOwner,
	}, nil
}

type keeperFixture struct {
	rounds  *memory.RoundStore
	entries *memory.EntryStore
	oracle  *scriptedOracle
	keeper  *Keeper
	now     time.Time
	nowMu   sync.Mutex
}

func newKeeperFixture(t *testing.T) *keeperFixture {
	t.Helper()

	registry, err := domain.NewMarketRegistry(keeperMarkets)
	require.NoError(t, err)

	fx := &keeperFixture{
		rounds:  memory.NewRoundStore(),
		entries: memory.NewEntryStore(),
		oracle:  &scriptedOracle{price: 100_000, failed: make(map[string]bool)},
		now:     time.Unix(1200, 0),
	}

	engine := settlement.NewEngine(settlement.Options{
		Rounds:         fx.rounds,
		Entries:        fx.entries,
		Settlements:    memory.NewSettlementStore(),
		Receipts:       memory.NewReceiptStore(),
		Locks:          memory.NewRoundLockStore(),
		Oracle:         fx.oracle,
		Facility:       settlement.NewSimFacility(),
		Markets:        registry,
		FeeBps:         600,
		TreasuryWallet: "treasury",
		RoundConfig:    keeperCfg,
		Clock:          fx.clock,
	})

	fx.keeper = New(Options{
		Rounds:      fx.rounds,
		Entries:     fx.entries,
		Oracle:      fx.oracle,
		Engine:      engine,
		Markets:     registry,
		RoundConfig: keeperCfg,
		Clock:       fx.clock,
	})
	return fx
}

func (fx *keeperFixture) clock() time.Time {
	fx.nowMu.Lock()
	defer fx.nowMu.Unlock()
	return fx.now
}

func (fx *keeperFixture) setNow(unix int64) {
	fx.nowMu.Lock()
	fx.now = time.Unix(unix, 0)
	fx.nowMu.Unlock()
}

func TestTick_CreatesCurrentAndNextRounds(t *testing.T) {
	fx := newKeeperFixture(t)
	fx.setNow(1205) // cycle 120 → current start 1200, next 1320

	fx.keeper.Tick(context.Background())

	for _, symbol := range []string{"SOL", "BTC"} {
		for _, start := range []int64{1200, 1320} {
			id := domain.FormatRoundID(symbol, start)
			r, err := fx.rounds.Get(context.Background(), id)
			require.NoError(t, err, "round %s must exist", id)
			require.Equal(t, domain.RoundOpen, r.Status)
			require.Equal(t, start+60, r.LockTS)
			require.Equal(t, start+360, r.EndTS)
		}
	}
}

func TestTick_CreationIsIdempotent(t *testing.T) {
	fx := newKeeperFixture(t)
	fx.setNow(1205)

	fx.keeper.Tick(context.Background())
	fx.keeper.Tick(context.Background())

	r, err := fx.rounds.Get(context.Background(), "SOL-1200-5m")
	require.NoError(t, err)
	require.Equal(t, domain.RoundOpen, r.Status)
}

func TestTick_LocksMaturedRound(t *testing.T) {
	fx := newKeeperFixture(t)
	fx.setNow(1205)
	fx.keeper.Tick(context.Background())

	ctx := context.Background()
	require.NoError(t, fx.entries.Insert(ctx, &domain.Entry{
		ID: "sig-a", RoundID: "SOL-1200-5m", Market: "SOL", Wallet: "alice",
		Side: domain.SideUp, StakeLamports: 50, JoinedAtMs: 1205_000,
	}))

	fx.setNow(1262) // past lock_ts 1260, inside grace
	fx.keeper.Tick(ctx)

	r, err := fx.rounds.Get(ctx, "SOL-1200-5m")
	require.NoError(t, err)
	require.Equal(t, domain.RoundLocked, r.Status)
	require.Equal(t, int64(100_000), r.StartPrice)
	require.Equal(t, uint64(50), r.UpTotal)
}

func TestTick_DoesNotLockBeforeLockTS(t *testing.T) {
	fx := newKeeperFixture(t)
	fx.setNow(1205)
	fx.keeper.Tick(context.Background())

	fx.setNow(1259)
	fx.keeper.Tick(context.Background())

	r, err := fx.rounds.Get(context.Background(), "SOL-1200-5m")
	require.NoError(t, err)
	require.Equal(t, domain.RoundOpen, r.Status)
}

func TestTick_OneMarketFailureDoesNotBlockOthers(t *testing.T) {
	fx := newKeeperFixture(t)
	fx.setNow(1205)
	fx.keeper.Tick(context.Background())

	fx.oracle.mu.Lock()
	fx.oracle.failed["SOL"] = true
	fx.oracle.mu.Unlock()

	fx.setNow(1262)
	fx.keeper.Tick(context.Background())

	ctx := context.Background()
	sol, err := fx.rounds.Get(ctx, "SOL-1200-5m")
	require.NoError(t, err)
	require.Equal(t, domain.RoundOpen, sol.Status, "SOL lock fails while its oracle is down")

	btc, err := fx.rounds.Get(ctx, "BTC-1200-5m")
	require.NoError(t, err)
	require.Equal(t, domain.RoundLocked, btc.Status, "BTC must still lock")
}

func TestTick_FullCycleThroughSettlement(t *testing.T) {
	fx := newKeeperFixture(t)
	ctx := context.Background()

	fx.setNow(1205)
	fx.keeper.Tick(ctx)

	require.NoError(t, fx.entries.Insert(ctx, &domain.Entry{
		ID: "sig-a", RoundID: "SOL-1200-5m", Market: "SOL", Wallet: "alice",
		Side: domain.SideUp, StakeLamports: 50, JoinedAtMs: 1205_000,
	}))
	require.NoError(t, fx.entries.Insert(ctx, &domain.Entry{
		ID: "sig-b", RoundID: "SOL-1200-5m", Market: "SOL", Wallet: "bob",
		Side: domain.SideDown, StakeLamports: 50, JoinedAtMs: 1206_000,
	}))

	fx.setNow(1262)
	fx.keeper.Tick(ctx)

	fx.oracle.mu.Lock()
	fx.oracle.price = 101_000 // price moves up after lock
	fx.oracle.mu.Unlock()

	fx.setNow(1561)
	fx.keeper.Tick(ctx)

	r, err := fx.rounds.Get(ctx, "SOL-1200-5m")
	require.NoError(t, err)
	require.Equal(t, domain.RoundSettled, r.Status)
	require.Equal(t, domain.SideUp, r.WinnerSide)
}

func TestTick_SettlePausedSkipsSettlement(t *testing.T) {
	fx := newKeeperFixture(t)
	fx.keeper.settlePaused = func() bool { return true }

	fx.setNow(1205)
	fx.keeper.Tick(context.Background())
	fx.setNow(1262)
	fx.keeper.Tick(context.Background())
	fx.setNow(1561)
	fx.keeper.Tick(context.Background())

	r, err := fx.rounds.Get(context.Background(), "SOL-1200-5m")
	require.NoError(t, err)
	require.NotEqual(t, domain.RoundSettled, r.Status)
}

func TestStep_ContainsPanics(t *testing.T) {
	fx := newKeeperFixture(t)

	require.NotPanics(t, func() {
		fx.keeper.step(context.Background(), "boom", func() error {
			panic("exploded")
		})
	})

	require.NotPanics(t, func() {
		fx.keeper.step(context.Background(), "err", func() error {
			return errors.New("step failed")
		})
	})
}
