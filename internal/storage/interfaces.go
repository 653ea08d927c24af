package storage

import (
	"context"
	"time"

	"pancho-pvp/internal/domain"
)

// EntryStore provides access to entries storage. Entries are append-only:
// inserted by the join handler, never mutated.
type EntryStore interface {
	// Insert adds a new entry. Returns ErrDuplicateKey if the identity exists.
	Insert(ctx context.Context, e *domain.Entry) error

	// Has reports whether an entry with the given identity exists.
	Has(ctx context.Context, id string) (bool, error)

	// GetByRound retrieves all entries of a round in canonical order:
	// joined_at ASC, entry id ASC.
	GetByRound(ctx context.Context, roundID string) ([]*domain.Entry, error)

	// Totals returns the summed stakes per side for a round.
	Totals(ctx context.Context, roundID string) (up, down uint64, err error)
}

// RoundStore provides access to rounds storage. Round rows are mutated only
// through the guarded Mark* operations; guards are enforced at row
// granularity so concurrent writers cannot skip states.
type RoundStore interface {
	// Create inserts a round if absent. Returns false if the round already
	// exists (not an error: round creation is idempotent).
	Create(ctx context.Context, r *domain.Round) (bool, error)

	// Get retrieves a round by wire identity. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*domain.Round, error)

	// GetDue retrieves rounds with end_ts <= now that are not SETTLED,
	// ordered by end_ts ASC, limited to limit rows.
	GetDue(ctx context.Context, now int64, limit int) ([]*domain.Round, error)

	// MarkLocked transitions OPEN→LOCKED, freezing the start price and side
	// totals. Returns false if the round was not OPEN.
	MarkLocked(ctx context.Context, id string, startPrice int64, expo int32, upTotal, downTotal uint64, lockedAtMs int64) (bool, error)

	// MarkSettled transitions to SETTLED, recording the outcome. Returns
	// false if the round was already SETTLED.
	MarkSettled(ctx context.Context, id string, endPrice int64, winner domain.Side, fee, distributable uint64, settledAtMs int64) (bool, error)
}

// SettlementStore provides access to settlement plans.
type SettlementStore interface {
	// Add persists a plan. First writer wins: returns ErrDuplicateKey if a
	// plan for the round already exists.
	Add(ctx context.Context, p *domain.SettlementPlan) error

	// Upsert replaces the plan for a round. Callers must only use this
	// before any transfer has been executed.
	Upsert(ctx context.Context, p *domain.SettlementPlan) error

	// Get retrieves the plan for a round. Returns ErrNotFound if absent.
	Get(ctx context.Context, roundID string) (*domain.SettlementPlan, error)

	// MarkCompleted sets the terminal COMPLETED state.
	MarkCompleted(ctx context.Context, roundID string, completedAtMs int64) error
}

// ReceiptStore provides access to executed-transfer receipts. Receipts are
// unique on (round_id, transfer_id) and on signature.
type ReceiptStore interface {
	// Append records a receipt. Re-appending the same receipt (same
	// round+transfer and same signature) returns (false, nil); the same
	// round+transfer with another signature, or a signature already used by
	// another transfer, is an error.
	Append(ctx context.Context, r *domain.TransferReceipt) (bool, error)

	// GetByRound retrieves all receipts of a round ordered by transfer_id ASC.
	GetByRound(ctx context.Context, roundID string) ([]*domain.TransferReceipt, error)

	// BySignature retrieves a receipt by external signature.
	// Returns ErrNotFound if absent.
	BySignature(ctx context.Context, signature string) (*domain.TransferReceipt, error)
}

// RoundLockStore provides the durable per-round processing lock.
// At most one holder exists at a time; a lock older than staleAfter is
// stealable so a crashed worker cannot wedge a round forever.
type RoundLockStore interface {
	// TryAcquire takes the lock for holder. Returns false when a fresh lock
	// is held by someone else.
	TryAcquire(ctx context.Context, roundID, holder string, staleAfter time.Duration, nowMs int64) (bool, error)

	// Release drops the lock if still held by holder. Releasing a lock that
	// was stolen or never taken is a no-op.
	Release(ctx context.Context, roundID, holder string) error
}

// PositionStore provides access to per-(round, wallet, side) positions in
// on-chain custody mode.
type PositionStore interface {
	// Upsert accumulates stake into the position. Creating and topping up
	// share the same call, mirroring the program's init_if_needed join.
	Upsert(ctx context.Context, p *domain.Position) error

	// Get retrieves a position. Returns ErrNotFound if absent.
	Get(ctx context.Context, roundID, wallet string, side domain.Side) (*domain.Position, error)

	// GetByRound retrieves all positions of a round.
	GetByRound(ctx context.Context, roundID string) ([]*domain.Position, error)

	// MarkClaimed flips claimed false→true. Returns false if already claimed.
	MarkClaimed(ctx context.Context, roundID, wallet string, side domain.Side) (bool, error)
}

// SettlementArchive receives settled rounds and their payouts for analytics.
// Writes are best-effort and never on the correctness path.
type SettlementArchive interface {
	ArchiveRound(ctx context.Context, r *domain.Round, p *domain.SettlementPlan) error
	ArchiveReceipts(ctx context.Context, receipts []*domain.TransferReceipt) error
}
