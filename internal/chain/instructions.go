package chain

import (
	"crypto/sha256"
	"encoding/binary"
)

// Anchor instruction data: an 8-byte discriminator derived from the method
// name followed by the borsh-encoded arguments in declaration order.

// discriminator computes sha256("global:<name>")[:8].
func discriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

// InitializeConfigData encodes the initialize_config instruction arguments.
func InitializeConfigData(feeBps uint16, oracleMaxAgeSec uint32, oracleProgram [32]byte) []byte {
	data := discriminator("initialize_config")
	data = binary.LittleEndian.AppendUint16(data, feeBps)
	data = binary.LittleEndian.AppendUint32(data, oracleMaxAgeSec)
	data = append(data, oracleProgram[:]...)
	return data
}

// CreateRoundData encodes the create_round instruction arguments.
func CreateRoundData(market uint8, roundID, lockTS, endTS int64, feedID [32]byte, oraclePriceAccount [32]byte) []byte {
	data := discriminator("create_round")
	data = append(data, market)
	data = binary.LittleEndian.AppendUint64(data, uint64(roundID))
	data = binary.LittleEndian.AppendUint64(data, uint64(lockTS))
	data = binary.LittleEndian.AppendUint64(data, uint64(endTS))
	data = append(data, feedID[:]...)
	data = append(data, oraclePriceAccount[:]...)
	return data
}

// JoinRoundData encodes the join_round instruction arguments.
func JoinRoundData(side uint8, lamports uint64) []byte {
	data := discriminator("join_round")
	data = append(data, side)
	data = binary.LittleEndian.AppendUint64(data, lamports)
	return data
}

// LockRoundData encodes the lock_round instruction (no arguments).
func LockRoundData() []byte {
	return discriminator("lock_round")
}

// SettleRoundData encodes the settle_round instruction (no arguments).
func SettleRoundData() []byte {
	return discriminator("settle_round")
}

// ClaimData encodes the claim instruction (no arguments).
func ClaimData() []byte {
	return discriminator("claim")
}
