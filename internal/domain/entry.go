package domain

// Entry is one join by one wallet on one side of one round.
// Append-only: created by the join handler, never mutated, read by the
// settlement engine when building the plan.
type Entry struct {
	ID            string // deposit tx signature, or server-assigned UUID in simulation mode
	RoundID       string // FK to rounds
	Market        string
	Wallet        string
	Side          Side
	StakeLamports uint64
	StakeUSD      float64 // informational, as claimed at submission time
	JoinedAtMs    int64   // server-received time, authoritative
	CreatedAtMs   int64
}

// Position aggregates entries per (round, wallet, side) in on-chain custody
// mode. AmountLamports is frozen at lock; Claimed moves false→true once.
type Position struct {
	RoundID        string
	Wallet         string
	Side           Side
	AmountLamports uint64
	Claimed        bool
}
