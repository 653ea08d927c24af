package settlement

import (
	"context"
	"fmt"
	"strings"

	"pancho-pvp/internal/solana"
)

// Intent describes one transfer the engine wants executed. The memo is the
// deterministic identity used to recover across the crash boundary.
type Intent struct {
	RoundID    string
	TransferID int
	Recipient  string
	Lamports   uint64
	Memo       string
}

// Facility executes transfers against the external ledger.
type Facility interface {
	// Submit signs and submits the transfer, returning its signature.
	Submit(ctx context.Context, intent Intent) (string, error)

	// FindExisting searches the external ledger for an already-confirmed
	// transfer carrying the intent's memo. Used before re-submitting after
	// a crash between submission and receipt append.
	FindExisting(ctx context.Context, intent Intent) (signature string, found bool, err error)
}

// Signer signs and submits a lamport transfer with an attached memo.
// The concrete signing client (key custody, fee payer) is external.
type Signer interface {
	SignAndSend(ctx context.Context, recipient string, lamports uint64, memo string) (string, error)
}

// SolanaFacility implements Facility over the RPC client and an external
// signing client.
type SolanaFacility struct {
	rpc    solana.RPCClient
	signer Signer

	// searchDepth bounds the signature scan during crash recovery.
	searchDepth int
}

// NewSolanaFacility creates a Facility backed by the Solana RPC client.
func NewSolanaFacility(rpc solana.RPCClient, signer Signer) *SolanaFacility {
	return &SolanaFacility{rpc: rpc, signer: signer, searchDepth: 100}
}

// Compile-time interface check.
var _ Facility = (*SolanaFacility)(nil)

// Submit signs and submits the transfer.
func (f *SolanaFacility) Submit(ctx context.Context, intent Intent) (string, error) {
	sig, err := f.signer.SignAndSend(ctx, intent.Recipient, intent.Lamports, intent.Memo)
	if err != nil {
		return "", fmt.Errorf("submit transfer %s/%d: %w", intent.RoundID, intent.TransferID, err)
	}
	return sig, nil
}

// FindExisting scans the recipient's recent signatures for a confirmed
// transaction carrying the intent memo. The RPC prefixes memos with their
// length ("[14] pvp:..."), so matching is on suffix.
func (f *SolanaFacility) FindExisting(ctx context.Context, intent Intent) (string, bool, error) {
	infos, err := f.rpc.GetSignaturesForAddress(ctx, intent.Recipient, &solana.SignaturesOpts{
		Limit: f.searchDepth,
	})
	if err != nil {
		return "", false, fmt.Errorf("search transfers for %s: %w", intent.Recipient, err)
	}

	for _, info := range infos {
		if info.Err != nil || info.Memo == "" {
			continue
		}
		if strings.HasSuffix(info.Memo, intent.Memo) {
			return info.Signature, true, nil
		}
	}
	return "", false, nil
}
