// Package chain implements the settlement program's on-chain interface:
// PDA derivation, instruction data encoding and event decoding. It never
// talks to the network itself; callers pair it with the solana RPC client.
package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ProgramID is the deployed settlement program.
const ProgramID = "52nguesHaBuF4psFr2uybVnW4angLW2ZtsBRSRmdF8k3"

// pdaMarker is appended to the seed material when deriving program addresses.
const pdaMarker = "ProgramDerivedAddress"

// ErrNoBump is returned when no off-curve address exists for the seeds.
// Probability is negligible; surfacing it beats panicking.
var ErrNoBump = errors.New("chain: no valid bump for seeds")

// DecodeKey decodes a base58 pubkey into its 32 raw bytes.
func DecodeKey(key string) ([32]byte, error) {
	var out [32]byte
	raw, err := base58.Decode(key)
	if err != nil {
		return out, fmt.Errorf("decode key %q: %w", key, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("decode key %q: got %d bytes, want 32", key, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// FindProgramAddress derives the PDA and bump for the given seeds under the
// settlement program. A candidate address is valid only when it is not a
// point on the ed25519 curve.
func FindProgramAddress(seeds [][]byte) (string, uint8, error) {
	program, err := DecodeKey(ProgramID)
	if err != nil {
		return "", 0, err
	}

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{uint8(bump)})
		h.Write(program[:])
		h.Write([]byte(pdaMarker))
		candidate := h.Sum(nil)

		if !isOnCurve(candidate) {
			return base58.Encode(candidate), uint8(bump), nil
		}
	}

	return "", 0, ErrNoBump
}

// isOnCurve reports whether the 32 bytes decode to a valid curve point.
func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// ConfigAddress derives the global config PDA: seeds ("config").
func ConfigAddress() (string, uint8, error) {
	return FindProgramAddress([][]byte{[]byte("config")})
}

// RoundAddress derives a round PDA: seeds ("round", market_code, round_id LE).
func RoundAddress(marketCode uint8, roundID int64) (string, uint8, error) {
	var idLE [8]byte
	binary.LittleEndian.PutUint64(idLE[:], uint64(roundID))
	return FindProgramAddress([][]byte{
		[]byte("round"),
		{marketCode},
		idLE[:],
	})
}

// VaultAddress derives a side vault PDA: seeds ("vault", round, side).
func VaultAddress(roundKey string, side uint8) (string, uint8, error) {
	round, err := DecodeKey(roundKey)
	if err != nil {
		return "", 0, err
	}
	return FindProgramAddress([][]byte{
		[]byte("vault"),
		round[:],
		{side},
	})
}

// PositionAddress derives a position PDA: seeds ("position", round, user, side).
func PositionAddress(roundKey, userKey string, side uint8) (string, uint8, error) {
	round, err := DecodeKey(roundKey)
	if err != nil {
		return "", 0, err
	}
	user, err := DecodeKey(userKey)
	if err != nil {
		return "", 0, err
	}
	return FindProgramAddress([][]byte{
		[]byte("position"),
		round[:],
		user[:],
		{side},
	})
}
