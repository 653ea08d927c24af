package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// RoundIDSuffix is the fixed cycle tag carried in the wire round identity.
const RoundIDSuffix = "5m"

// Round is a time-boxed prediction interval over a single market.
// Corresponds to the rounds table in PostgreSQL and the Round account on-chain.
type Round struct {
	ID            string // wire identity "{MARKET}-{start_sec}-5m", primary key
	Market        string // market symbol
	StartTS       int64  // unix seconds, cycle-aligned
	LockTS        int64  // StartTS + OPEN_SECONDS
	EndTS         int64  // LockTS + SETTLE_SECONDS
	Status        RoundStatus
	StartPrice    int64 // oracle mantissa at lock; 0 until locked
	EndPrice      int64 // oracle mantissa at settle; 0 until settled
	Expo          int32 // oracle exponent shared by both prices
	WinnerSide    Side  // SideNone until settled, and for REFUND rounds
	UpTotal       uint64
	DownTotal     uint64
	FeeLamports   uint64
	Distributable uint64
	CreatedAtMs   int64
	LockedAtMs    int64
	SettledAtMs   int64
}

// Total returns the combined pool of both sides.
func (r *Round) Total() uint64 {
	return r.UpTotal + r.DownTotal
}

// FormatRoundID renders the bit-stable wire identity of a round.
func FormatRoundID(market string, startSec int64) string {
	return fmt.Sprintf("%s-%d-%s", market, startSec, RoundIDSuffix)
}

// ParseRoundID splits a wire round identity into market symbol and start
// second. The format is "{MARKET}-{start_sec}-5m"; market symbols never
// contain '-'.
func ParseRoundID(id string) (market string, startSec int64, err error) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 || parts[2] != RoundIDSuffix {
		return "", 0, fmt.Errorf("malformed round id %q", id)
	}
	start, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || start <= 0 {
		return "", 0, fmt.Errorf("malformed round id %q: bad start timestamp", id)
	}
	return parts[0], start, nil
}

// AlignedStart floors ts to the round cycle boundary.
func AlignedStart(ts int64, cycleSeconds int64) int64 {
	return ts - ts%cycleSeconds
}
