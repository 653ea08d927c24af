// Package round implements the round lifecycle state machine:
// OPEN → LOCKED → SETTLED, with strict temporal gates on every transition.
// All functions here are pure; persistence and oracle I/O live in the
// settlement engine and keeper.
package round

import (
	"errors"
	"fmt"

	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/payout"
)

// Transition guard errors.
var (
	ErrBadSchedule       = errors.New("round: invalid schedule")
	ErrTooLateToCreate   = errors.New("round: too close to lock to create")
	ErrRoundNotOpen      = errors.New("round: not open")
	ErrTooEarlyToLock    = errors.New("round: too early to lock")
	ErrLockWindowExpired = errors.New("round: lock window expired")
	ErrTooEarlyToSettle  = errors.New("round: too early to settle")
	ErrAlreadySettled    = errors.New("round: already settled")
	ErrNotSettled        = errors.New("round: not settled")
	ErrAlreadyClaimed    = errors.New("round: position already claimed")
	ErrNothingToClaim    = errors.New("round: nothing to claim")
	ErrOwnerMismatch     = errors.New("round: oracle owner mismatch")
	ErrStaleSnapshot     = errors.New("round: oracle snapshot stale")
)

// Config carries the cycle timing parameters.
type Config struct {
	OpenSeconds      int64 // join window length
	LockSeconds      int64 // cycle tail after lock; alignment modulus is Open+Lock
	SettleSeconds    int64 // settlement delay from lock
	MinCreationSlack int64 // rounds must be created at least this long before lock
	LockGraceSeconds int64 // a round not locked within grace force-settles REFUND
	OracleMaxAgeSec  int64 // freshness tolerance for snapshots
}

// CycleSeconds is the round-start alignment modulus.
func (c Config) CycleSeconds() int64 {
	return c.OpenSeconds + c.LockSeconds
}

// New builds an OPEN round for a market starting at startSec.
// Guards: cycle alignment, schedule invariants, creation slack.
func New(m *domain.Market, startSec, nowSec int64, cfg Config, nowMs int64) (*domain.Round, error) {
	if cfg.OpenSeconds <= 0 || cfg.SettleSeconds < cfg.OpenSeconds {
		return nil, fmt.Errorf("%w: open=%ds settle=%ds", ErrBadSchedule, cfg.OpenSeconds, cfg.SettleSeconds)
	}
	if startSec%cfg.CycleSeconds() != 0 {
		return nil, fmt.Errorf("%w: start %d not aligned to %ds cycle", ErrBadSchedule, startSec, cfg.CycleSeconds())
	}

	lockTS := startSec + cfg.OpenSeconds
	endTS := lockTS + cfg.SettleSeconds
	if nowSec >= lockTS-cfg.MinCreationSlack {
		return nil, fmt.Errorf("%w: now=%d lock=%d", ErrTooLateToCreate, nowSec, lockTS)
	}

	return &domain.Round{
		ID:          domain.FormatRoundID(m.Symbol, startSec),
		Market:      m.Symbol,
		StartTS:     startSec,
		LockTS:      lockTS,
		EndTS:       endTS,
		Status:      domain.RoundOpen,
		WinnerSide:  domain.SideNone,
		CreatedAtMs: nowMs,
	}, nil
}

// CanLock checks the OPEN→LOCKED guards against wall clock.
func CanLock(r *domain.Round, nowSec int64, cfg Config) error {
	if r.Status != domain.RoundOpen {
		return ErrRoundNotOpen
	}
	if nowSec < r.LockTS {
		return ErrTooEarlyToLock
	}
	if cfg.LockGraceSeconds > 0 && nowSec > r.LockTS+cfg.LockGraceSeconds {
		return ErrLockWindowExpired
	}
	return nil
}

// CanSettle checks the settle-time guards. A round that is still OPEN past
// end_ts is settleable (forced refund: the start price was never frozen).
func CanSettle(r *domain.Round, nowSec int64) error {
	if r.Status == domain.RoundSettled {
		return ErrAlreadySettled
	}
	if nowSec < r.EndTS {
		return ErrTooEarlyToSettle
	}
	return nil
}

// ValidateSnapshot verifies oracle authenticity and freshness for a
// snapshot meant to represent the price at targetSec.
func ValidateSnapshot(m *domain.Market, snap *domain.OracleSnapshot, targetSec int64, maxAgeSec int64) error {
	if snap.Owner != m.OracleOwner {
		return fmt.Errorf("%w: got %s want %s", ErrOwnerMismatch, snap.Owner, m.OracleOwner)
	}
	age := targetSec - snap.PublishTime
	if age < 0 {
		age = -age
	}
	if age > maxAgeSec {
		return fmt.Errorf("%w: published %d, target %d, tolerance %ds", ErrStaleSnapshot, snap.PublishTime, targetSec, maxAgeSec)
	}
	return nil
}

// Decide computes the settlement mode and winner from pool totals and the
// two frozen prices. No other inputs influence the decision.
func Decide(upTotal, downTotal uint64, startPrice, endPrice int64) (domain.SettleMode, domain.Side) {
	if upTotal == 0 || downTotal == 0 {
		return domain.ModeRefund, domain.SideNone
	}
	switch {
	case endPrice > startPrice:
		return domain.ModeWin, domain.SideUp
	case endPrice < startPrice:
		return domain.ModeWin, domain.SideDown
	default:
		return domain.ModeRefund, domain.SideNone
	}
}

// ClaimPayout computes the lamports owed to a position of a settled round.
// REFUND rounds pay pro-rata over the combined pool; WIN rounds pay the
// winning side pro-rata over the winner total and losers zero.
func ClaimPayout(r *domain.Round, pos *domain.Position) (uint64, error) {
	if r.Status != domain.RoundSettled {
		return 0, ErrNotSettled
	}
	if pos.Claimed {
		return 0, ErrAlreadyClaimed
	}
	if pos.AmountLamports == 0 {
		return 0, ErrNothingToClaim
	}

	if r.WinnerSide == domain.SideNone {
		return payout.Proportion(pos.AmountLamports, r.Distributable, r.Total())
	}
	if pos.Side != r.WinnerSide {
		return 0, nil
	}

	winnerTotal := r.UpTotal
	if r.WinnerSide == domain.SideDown {
		winnerTotal = r.DownTotal
	}
	return payout.Proportion(pos.AmountLamports, r.Distributable, winnerTotal)
}
