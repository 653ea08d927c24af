// Package settlement orchestrates round settlement: lock acquisition, plan
// construction, idempotent transfer execution and finalization. At most one
// settlement attempt per round is in flight across the cluster, enforced by
// the durable round processing lock.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"pancho-pvp/internal/audit"
	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/idhash"
	"pancho-pvp/internal/observability"
	"pancho-pvp/internal/oracle"
	"pancho-pvp/internal/round"
	"pancho-pvp/internal/storage"
)

const (
	// dueBatchLimit bounds one sweep's round discovery.
	dueBatchLimit = 50

	// localRetries bounds in-tick retries of recoverable calls.
	localRetries = 3
	retryBackoff = 500 * time.Millisecond
)

// ErrTreasuryLock is fatal: the configured treasury differs from the
// expected one and the engine refuses to move funds.
var ErrTreasuryLock = errors.New("settlement: treasury lock mismatch")

// Engine drives due rounds to SETTLED.
type Engine struct {
	rounds      storage.RoundStore
	entries     storage.EntryStore
	settlements storage.SettlementStore
	receipts    storage.ReceiptStore
	locks       storage.RoundLockStore
	archive     storage.SettlementArchive // optional

	oracle   oracle.Port
	facility Facility
	markets  *domain.MarketRegistry
	sink     audit.Sink
	metrics  *observability.Metrics

	feeBps   uint16
	treasury string
	expected string
	lockTTL  time.Duration
	cfg      round.Config

	holder string
	logger *log.Logger
	now    func() time.Time
}

// Options configures the Engine.
type Options struct {
	Rounds      storage.RoundStore
	Entries     storage.EntryStore
	Settlements storage.SettlementStore
	Receipts    storage.ReceiptStore
	Locks       storage.RoundLockStore
	Archive     storage.SettlementArchive

	Oracle   oracle.Port
	Facility Facility
	Markets  *domain.MarketRegistry
	Sink     audit.Sink
	Metrics  *observability.Metrics

	FeeBps           uint16
	TreasuryWallet   string
	ExpectedTreasury string
	LockTTL          time.Duration
	RoundConfig      round.Config

	Logger *log.Logger
	Clock  func() time.Time
}

// NewEngine creates a settlement engine. Each engine instance carries a
// unique holder identity for the processing lock.
func NewEngine(opts Options) *Engine {
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
	lockTTL := opts.LockTTL
	if lockTTL == 0 {
		lockTTL = 15 * time.Minute
	}

	return &Engine{
		rounds:      opts.Rounds,
		entries:     opts.Entries,
		settlements: opts.Settlements,
		receipts:    opts.Receipts,
		locks:       opts.Locks,
		archive:     opts.Archive,
		oracle:      opts.Oracle,
		facility:    opts.Facility,
		markets:     opts.Markets,
		sink:        sink,
		metrics:     opts.Metrics,
		feeBps:      opts.FeeBps,
		treasury:    opts.TreasuryWallet,
		expected:    opts.ExpectedTreasury,
		lockTTL:     lockTTL,
		cfg:         opts.RoundConfig,
		holder:      "settler-" + uuid.New().String(),
		logger:      logger,
		now:         now,
	}
}

// SettleDueRounds discovers rounds with end_ts <= now that are not yet
// settled and drives each to completion. A failure on one round never
// blocks the others; settled round ids are returned.
func (e *Engine) SettleDueRounds(ctx context.Context, now time.Time) ([]string, error) {
	if e.expected != "" && e.treasury != e.expected {
		return nil, ErrTreasuryLock
	}

	due, err := e.rounds.GetDue(ctx, now.Unix(), dueBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("discover due rounds: %w", err)
	}

	sweepStart := time.Now()
	var settled []string
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		if err := e.settleOne(ctx, r, now); err != nil {
			e.logger.Printf("settle %s: %v", r.ID, err)
			e.sink.Emit(ctx, audit.LevelWarn, "settlement_deferred", map[string]any{
				"round": r.ID, "error": err.Error(),
			})
			if e.metrics != nil {
				e.metrics.SettlementDeferred.Inc()
			}
			continue
		}
		settled = append(settled, r.ID)
	}
	if e.metrics != nil {
		e.metrics.SettlementDuration.Observe(time.Since(sweepStart).Seconds())
	}
	return settled, nil
}

// settleOne runs one settlement attempt under the round processing lock.
// The lock is released on every exit path.
func (e *Engine) settleOne(ctx context.Context, stale *domain.Round, now time.Time) (err error) {
	nowMs := now.UnixMilli()

	acquired, err := e.locks.TryAcquire(ctx, stale.ID, e.holder, e.lockTTL, nowMs)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("round %s locked by another worker", stale.ID)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := e.locks.Release(releaseCtx, stale.ID, e.holder); relErr != nil {
			e.logger.Printf("release lock %s: %v", stale.ID, relErr)
		}
	}()

	// Re-read under the lock: another worker may have finished already.
	r, err := e.rounds.Get(ctx, stale.ID)
	if err != nil {
		return fmt.Errorf("reload round: %w", err)
	}
	if r.Status == domain.RoundSettled {
		// A crash between MarkSettled and MarkCompleted leaves a finished
		// plan in PROCESSING; close it out.
		e.reconcileCompleted(ctx, r.ID, nowMs)
		return nil
	}
	if err := round.CanSettle(r, now.Unix()); err != nil {
		return err
	}

	plan, err := e.loadOrBuildPlan(ctx, r, nowMs)
	if err != nil {
		return err
	}

	if err := e.executePlan(ctx, plan, nowMs); err != nil {
		return err
	}

	return e.finalize(ctx, r, plan, nowMs)
}

// loadOrBuildPlan returns the persisted plan or builds and persists one.
// A plan, once any transfer has executed, is never rebuilt.
func (e *Engine) loadOrBuildPlan(ctx context.Context, r *domain.Round, nowMs int64) (*domain.SettlementPlan, error) {
	existing, err := e.settlements.Get(ctx, r.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load plan: %w", err)
	}

	plan, err := e.buildPlan(ctx, r, nowMs)
	if err != nil {
		return nil, err
	}

	if err := e.settlements.Add(ctx, plan); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Lost the first-writer race (stolen lock recovered mid-build);
			// the persisted plan wins.
			return e.settlements.Get(ctx, r.ID)
		}
		return nil, fmt.Errorf("persist plan: %w", err)
	}
	return plan, nil
}

// buildPlan freezes the settlement decision for a round.
//
// Oracle policy: owner mismatch aborts the attempt (no state change, retried
// later, surfaced to operators); a snapshot that is stale after the
// nearest-timestamp search degrades the round to REFUND; an unreachable
// oracle is transient and retried next tick.
func (e *Engine) buildPlan(ctx context.Context, r *domain.Round, nowMs int64) (*domain.SettlementPlan, error) {
	market := e.markets.Get(r.Market)
	if market == nil {
		return nil, fmt.Errorf("unknown market %s", r.Market)
	}

	entries, err := e.entries.GetByRound(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	up, down := SideTotals(entries)

	var (
		mode       domain.SettleMode
		winner     = domain.SideNone
		startPrice = r.StartPrice
		endPrice   int64
		expo       = r.Expo
	)

	switch {
	case r.Status == domain.RoundOpen:
		// Lock was skipped: the start price was never frozen, so there is
		// no fair WIN decision. Forced refund.
		mode = domain.ModeRefund
		e.sink.Emit(ctx, audit.LevelWarn, "forced_refund_unlocked_round", map[string]any{"round": r.ID})

	default:
		endSnap, snapErr := e.snapshotAt(ctx, market, r.EndTS)
		switch {
		case snapErr == nil:
			endPrice = endSnap.Price
			expo = endSnap.Expo
			mode, winner = round.Decide(up, down, startPrice, endPrice)
		case errors.Is(snapErr, oracle.ErrOwnerMismatch):
			e.sink.Emit(ctx, audit.LevelError, "oracle_owner_mismatch", map[string]any{
				"round": r.ID, "market": r.Market,
			})
			return nil, snapErr
		case errors.Is(snapErr, oracle.ErrStale) || errors.Is(snapErr, oracle.ErrInvalidAccount):
			// Degraded outcome, not a transient failure: settle as REFUND
			// with the last-known prices (zeros if none).
			mode = domain.ModeRefund
			e.sink.Emit(ctx, audit.LevelWarn, "refund_on_stale_oracle", map[string]any{
				"round": r.ID, "market": r.Market, "error": snapErr.Error(),
			})
		default:
			return nil, snapErr
		}
	}

	return BuildPlan(r.ID, entries, mode, winner, startPrice, endPrice, expo,
		e.feeBps, e.treasury, nowMs)
}

// snapshotAt fetches and validates an oracle snapshot for an instant,
// retrying transient failures within the tick.
func (e *Engine) snapshotAt(ctx context.Context, market *domain.Market, ts int64) (*domain.OracleSnapshot, error) {
	var snap *domain.OracleSnapshot
	err := withRetry(ctx, localRetries, retryBackoff, func() error {
		var ferr error
		snap, ferr = e.oracle.PriceAt(ctx, market, ts)
		if ferr != nil && !errors.Is(ferr, oracle.ErrUnreachable) {
			return backoffAbort{ferr}
		}
		return ferr
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.OracleFetchErrors.WithLabelValues(classifyOracleErr(err)).Inc()
		}
		return nil, err
	}
	if verr := round.ValidateSnapshot(market, snap, ts, e.cfg.OracleMaxAgeSec); verr != nil {
		if errors.Is(verr, round.ErrOwnerMismatch) {
			return nil, fmt.Errorf("%w: %v", oracle.ErrOwnerMismatch, verr)
		}
		return nil, fmt.Errorf("%w: %v", oracle.ErrStale, verr)
	}
	return snap, nil
}

// executePlan drives every planned transfer to a receipt, in plan order.
// Progress is keyed by (round_id, transfer_id): completed transfers are
// skipped, and before any submission the external ledger is consulted for
// a transfer that was confirmed but never receipted (crash recovery).
func (e *Engine) executePlan(ctx context.Context, plan *domain.SettlementPlan, nowMs int64) error {
	have := make(map[int]bool)
	receipts, err := e.receipts.GetByRound(ctx, plan.RoundID)
	if err != nil {
		return fmt.Errorf("load receipts: %w", err)
	}
	for _, rc := range receipts {
		have[rc.TransferID] = true
	}

	for _, t := range plan.Transfers {
		if have[t.TransferID] {
			continue
		}

		intent := Intent{
			RoundID:    plan.RoundID,
			TransferID: t.TransferID,
			Recipient:  t.Recipient,
			Lamports:   t.Lamports,
			Memo:       idhash.TransferMemo(plan.RoundID, t.TransferID, string(t.Kind)),
		}

		sig, found, err := e.facility.FindExisting(ctx, intent)
		if err != nil {
			return fmt.Errorf("recover transfer %d: %w", t.TransferID, err)
		}
		if found {
			if e.metrics != nil {
				e.metrics.TransfersRecovered.Inc()
			}
		} else {
			sig, err = e.facility.Submit(ctx, intent)
			if err != nil {
				// A timed-out submission may still have confirmed, so it is
				// never retried blindly: the plan stays in PROCESSING and
				// the next tick re-consults the signature index first.
				return fmt.Errorf("submit transfer %d: %w", t.TransferID, err)
			}
			if e.metrics != nil {
				e.metrics.TransfersSubmitted.Inc()
			}
		}

		if _, err := e.receipts.Append(ctx, &domain.TransferReceipt{
			RoundID:      plan.RoundID,
			TransferID:   t.TransferID,
			Signature:    sig,
			Lamports:     t.Lamports,
			ExecutedAtMs: nowMs,
		}); err != nil {
			return fmt.Errorf("append receipt %d: %w", t.TransferID, err)
		}
	}

	return nil
}

// finalize marks the round SETTLED and the plan COMPLETED, then archives
// best-effort.
func (e *Engine) finalize(ctx context.Context, r *domain.Round, plan *domain.SettlementPlan, nowMs int64) error {
	if _, err := e.rounds.MarkSettled(ctx, r.ID, plan.EndPrice, plan.WinnerSide,
		plan.FeeLamports, plan.Distributable, nowMs); err != nil {
		return fmt.Errorf("mark round settled: %w", err)
	}
	if err := e.settlements.MarkCompleted(ctx, r.ID, nowMs); err != nil {
		return fmt.Errorf("mark settlement completed: %w", err)
	}

	e.logger.Printf("settled %s: mode=%s winner=%s fee=%d distributable=%d transfers=%d",
		r.ID, plan.Mode, plan.WinnerSide, plan.FeeLamports, plan.Distributable, len(plan.Transfers))
	if e.metrics != nil {
		e.metrics.RoundsSettled.WithLabelValues(plan.Mode.String()).Inc()
	}

	if e.archive != nil {
		archived, err := e.rounds.Get(ctx, r.ID)
		if err == nil {
			if aerr := e.archive.ArchiveRound(ctx, archived, plan); aerr != nil {
				e.logger.Printf("archive round %s: %v", r.ID, aerr)
			}
		}
		if receipts, err := e.receipts.GetByRound(ctx, r.ID); err == nil {
			if aerr := e.archive.ArchiveReceipts(ctx, receipts); aerr != nil {
				e.logger.Printf("archive receipts %s: %v", r.ID, aerr)
			}
		}
	}
	return nil
}

func classifyOracleErr(err error) string {
	switch {
	case errors.Is(err, oracle.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, oracle.ErrStale):
		return "stale"
	case errors.Is(err, oracle.ErrOwnerMismatch):
		return "owner_mismatch"
	case errors.Is(err, oracle.ErrInvalidAccount):
		return "invalid_account"
	default:
		return "other"
	}
}

// reconcileCompleted marks a plan COMPLETED when its round is already
// SETTLED and every planned transfer has a receipt.
func (e *Engine) reconcileCompleted(ctx context.Context, roundID string, nowMs int64) {
	plan, err := e.settlements.Get(ctx, roundID)
	if err != nil || plan.State == domain.SettlementCompleted {
		return
	}
	receipts, err := e.receipts.GetByRound(ctx, roundID)
	if err != nil || len(receipts) < len(plan.Transfers) {
		return
	}
	if err := e.settlements.MarkCompleted(ctx, roundID, nowMs); err != nil {
		e.logger.Printf("reconcile settlement %s: %v", roundID, err)
	}
}

// backoffAbort wraps an error that must not be retried.
type backoffAbort struct{ err error }

func (a backoffAbort) Error() string { return a.err.Error() }
func (a backoffAbort) Unwrap() error { return a.err }

// withRetry runs fn up to attempts times with linear backoff, stopping
// early on context cancellation or a backoffAbort.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * backoff):
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var abort backoffAbort
		if errors.As(lastErr, &abort) {
			return abort.err
		}
	}
	return lastErr
}
