// Package keeper drives rounds forward against wall-clock time: it creates
// upcoming rounds, locks matured ones and triggers settlement. Multiple
// replicas are safe: coordination happens entirely through the ledger's
// idempotent operations and the round processing lock.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"pancho-pvp/internal/audit"
	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/observability"
	"pancho-pvp/internal/oracle"
	"pancho-pvp/internal/round"
	"pancho-pvp/internal/settlement"
	"pancho-pvp/internal/storage"
)

// lockCandidateCycles is how many cycles back the keeper scans for OPEN
// rounds whose lock time has arrived.
const lockCandidateCycles = 3

// Keeper is the periodic round driver.
type Keeper struct {
	rounds  storage.RoundStore
	entries storage.EntryStore
	oracle  oracle.Port
	engine  *settlement.Engine
	markets *domain.MarketRegistry
	sink    audit.Sink

	cfg          round.Config
	interval     time.Duration
	settlePaused func() bool
	metrics      *observability.Metrics

	logger *log.Logger
	now    func() time.Time
}

// Options configures the Keeper.
type Options struct {
	Rounds  storage.RoundStore
	Entries storage.EntryStore
	Oracle  oracle.Port
	Engine  *settlement.Engine
	Markets *domain.MarketRegistry
	Sink    audit.Sink

	RoundConfig  round.Config
	Interval     time.Duration
	SettlePaused func() bool
	Metrics      *observability.Metrics

	Logger *log.Logger
	Clock  func() time.Time
}

// New creates a Keeper.
func New(opts Options) *Keeper {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = audit.Nop{}
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	interval := opts.Interval
	if interval == 0 {
		interval = 4 * time.Second
	}
	settlePaused := opts.SettlePaused
	if settlePaused == nil {
		settlePaused = func() bool { return false }
	}

	return &Keeper{
		rounds:       opts.Rounds,
		entries:      opts.Entries,
		oracle:       opts.Oracle,
		engine:       opts.Engine,
		markets:      opts.Markets,
		sink:         sink,
		cfg:          opts.RoundConfig,
		interval:     interval,
		settlePaused: settlePaused,
		metrics:      opts.Metrics,
		logger:       logger,
		now:          now,
	}
}

// Run ticks until the context is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.Printf("keeper started (interval %v)", k.interval)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.Tick(ctx)
		}
	}
}

// Tick runs one keeper pass. Failure in one step or market never prevents
// the other steps or markets from running.
func (k *Keeper) Tick(ctx context.Context) {
	now := k.now()
	if k.metrics != nil {
		k.metrics.KeeperTicks.Inc()
	}

	for _, symbol := range k.markets.Symbols() {
		market := k.markets.Get(symbol)
		k.step(ctx, "ensure_rounds:"+symbol, func() error {
			return k.ensureRounds(ctx, market, now)
		})
		k.step(ctx, "lock_rounds:"+symbol, func() error {
			return k.lockDueRounds(ctx, market, now)
		})
	}

	if !k.settlePaused() {
		k.step(ctx, "settle_due_rounds", func() error {
			_, err := k.engine.SettleDueRounds(ctx, now)
			return err
		})
	}
}

// step contains one keeper action: panics and errors are logged and
// audited, never propagated into the tick.
func (k *Keeper) step(ctx context.Context, name string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			k.logger.Printf("keeper step %s panicked: %v", name, rec)
			k.sink.Emit(ctx, audit.LevelError, "keeper_step_panic", map[string]any{
				"step": name, "panic": fmt.Sprint(rec),
			})
		}
	}()

	if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
		k.logger.Printf("keeper step %s: %v", name, err)
		if k.metrics != nil {
			k.metrics.KeeperStepErrors.WithLabelValues(name).Inc()
		}
	}
}

// ensureRounds creates the current and next entry-cycle rounds. Creation is
// idempotent: an existing round is not an error, and a round whose join
// window already closed is simply skipped.
func (k *Keeper) ensureRounds(ctx context.Context, market *domain.Market, now time.Time) error {
	cycle := k.cfg.CycleSeconds()
	current := domain.AlignedStart(now.Unix(), cycle)

	for _, startSec := range []int64{current, current + cycle} {
		r, err := round.New(market, startSec, now.Unix(), k.cfg, now.UnixMilli())
		if err != nil {
			if errors.Is(err, round.ErrTooLateToCreate) {
				continue
			}
			return err
		}

		created, err := k.rounds.Create(ctx, r)
		if err != nil {
			return fmt.Errorf("create %s: %w", r.ID, err)
		}
		if created {
			k.logger.Printf("created round %s (lock %d, end %d)", r.ID, r.LockTS, r.EndTS)
			if k.metrics != nil {
				k.metrics.RoundsCreated.Inc()
			}
		}
	}
	return nil
}

// lockDueRounds locks OPEN rounds whose lock time has arrived, freezing
// the start price and side totals. Candidates are the round ids of the
// last few cycles; the guarded MarkLocked keeps concurrent keepers safe.
func (k *Keeper) lockDueRounds(ctx context.Context, market *domain.Market, now time.Time) error {
	cycle := k.cfg.CycleSeconds()
	current := domain.AlignedStart(now.Unix(), cycle)

	var firstErr error
	for i := 0; i < lockCandidateCycles; i++ {
		startSec := current - int64(i)*cycle
		id := domain.FormatRoundID(market.Symbol, startSec)

		r, err := k.rounds.Get(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return err
		}

		if err := round.CanLock(r, now.Unix(), k.cfg); err != nil {
			if errors.Is(err, round.ErrLockWindowExpired) {
				// Never locked in time; settlement will force-refund.
				k.sink.Emit(ctx, audit.LevelWarn, "lock_window_expired", map[string]any{"round": r.ID})
			}
			continue
		}

		if err := k.lockRound(ctx, market, r, now); err != nil {
			k.logger.Printf("lock %s: %v", r.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (k *Keeper) lockRound(ctx context.Context, market *domain.Market, r *domain.Round, now time.Time) error {
	snap, err := k.oracle.PriceAt(ctx, market, r.LockTS)
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if err := round.ValidateSnapshot(market, snap, r.LockTS, k.cfg.OracleMaxAgeSec); err != nil {
		return err
	}

	up, down, err := k.entries.Totals(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("totals: %w", err)
	}

	locked, err := k.rounds.MarkLocked(ctx, r.ID, snap.Price, snap.Expo, up, down, now.UnixMilli())
	if err != nil {
		return err
	}
	if locked {
		k.logger.Printf("locked %s at price %d x10^%d (up=%d down=%d)",
			r.ID, snap.Price, snap.Expo, up, down)
		if k.metrics != nil {
			k.metrics.RoundsLocked.Inc()
		}
	}
	return nil
}
