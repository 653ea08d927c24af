package solana

// SignatureInfo from getSignaturesForAddress. The memo field carries the
// SPL memo attached to the transaction, prefixed by the RPC with its length
// (e.g. "[12] round-settle"); callers match on the suffix.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Memo      string
	Err       interface{}
}

// SignaturesOpts defines optional pagination parameters for
// getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64
	Owner      string
	Data       []byte // decoded account data
	Executable bool
	RentEpoch  uint64
}

// Transaction is the subset of a confirmed transaction the engine inspects:
// balance movements for deposit verification and logs for event decoding.
type Transaction struct {
	Signature    string
	Slot         int64
	BlockTime    int64
	Failed       bool
	LogMessages  []string
	AccountKeys  []string
	PreBalances  []uint64
	PostBalances []uint64
}

// BalanceDelta returns the lamport change of an account within the
// transaction, or (0, false) if the account is not referenced.
func (t *Transaction) BalanceDelta(account string) (int64, bool) {
	for i, key := range t.AccountKeys {
		if key != account {
			continue
		}
		if i >= len(t.PreBalances) || i >= len(t.PostBalances) {
			return 0, false
		}
		return int64(t.PostBalances[i]) - int64(t.PreBalances[i]), true
	}
	return 0, false
}

// LogsFilter selects which program logs to subscribe to.
type LogsFilter struct {
	// Mentions restricts notifications to transactions mentioning these
	// account keys (typically the program id).
	Mentions []string
}

// LogNotification is one logsNotification payload.
type LogNotification struct {
	Signature string
	Slot      int64
	Err       interface{}
	Logs      []string
}
