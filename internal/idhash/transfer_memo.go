// Package idhash derives the deterministic identities that make settlement
// execution replay-safe: transfer memos and simulation entry ids.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// TransferMemo renders the memo attached to every settlement transfer.
// The memo is the unit of crash recovery: before re-submitting, the engine
// searches the external ledger for a confirmed transaction carrying it.
// Formula: "pvp:{round_id}:{transfer_id}:{kind}"
func TransferMemo(roundID string, transferID int, kind string) string {
	return fmt.Sprintf("pvp:%s:%d:%s", roundID, transferID, kind)
}

// ComputeEntryID computes a deterministic entry identity for deposits that
// carry no wallet signature (simulation custody mode).
// Formula: SHA256(round_id|wallet|side|stake|joined_at_ms), hex-encoded.
func ComputeEntryID(roundID, wallet string, side uint8, stakeLamports uint64, joinedAtMs int64) string {
	data := fmt.Sprintf("%s|%s|%d|%d|%d", roundID, wallet, side, stakeLamports, joinedAtMs)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
