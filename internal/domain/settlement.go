package domain

// TransferKind classifies a planned transfer within a settlement plan.
type TransferKind string

const (
	TransferFee    TransferKind = "fee"
	TransferPayout TransferKind = "payout"
	TransferRefund TransferKind = "refund"
)

// SettlementState tracks plan execution across the crash boundary.
type SettlementState string

const (
	// SettlementProcessing means the plan is persisted but transfers may
	// still be outstanding. The engine resumes from receipts.
	SettlementProcessing SettlementState = "PROCESSING"
	// SettlementCompleted means every planned transfer has a receipt.
	SettlementCompleted SettlementState = "COMPLETED"
)

// PlannedTransfer is one transfer a settled round owes.
// TransferID is unique within the round and stable across replays.
type PlannedTransfer struct {
	TransferID int
	Recipient  string // wallet, or the treasury for fee transfers
	Lamports   uint64
	Kind       TransferKind
}

// SettlementPlan is the immutable description of the transfers a settled
// round owes. Produced exactly once per round; re-running settlement on a
// persisted plan must reproduce it byte-for-byte (determinism invariant).
type SettlementPlan struct {
	RoundID       string
	Mode          SettleMode
	WinnerSide    Side // SideNone for REFUND
	StartPrice    int64
	EndPrice      int64
	Expo          int32
	FeeLamports   uint64
	Distributable uint64
	Transfers     []PlannedTransfer
	State         SettlementState
	CreatedAtMs   int64
	CompletedAtMs int64
}

// PlannedTotal sums all planned transfer amounts, fee included.
func (p *SettlementPlan) PlannedTotal() uint64 {
	var sum uint64
	for _, t := range p.Transfers {
		sum += t.Lamports
	}
	return sum
}

// TransferReceipt records that a planned transfer has been executed.
// At most one receipt exists per (round_id, transfer_id); the external
// signature is globally unique.
type TransferReceipt struct {
	RoundID      string
	TransferID   int
	Signature    string
	Lamports     uint64
	ExecutedAtMs int64
}

// RoundProcessingLock is the durable mutual-exclusion token for a round.
// A lock older than the configured TTL is stealable.
type RoundProcessingLock struct {
	RoundID      string
	Holder       string
	AcquiredAtMs int64
}
