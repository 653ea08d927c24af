package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"strings"

	"github.com/mr-tron/base58"
)

// Anchor events arrive in transaction logs as "Program data: <base64>".
// The payload starts with sha256("event:<Name>")[:8] followed by the
// borsh-encoded fields in declaration order.

const programDataPrefix = "Program data: "

func eventDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("event:" + name))
	return sum[:8]
}

// RoundSettledEvent mirrors the program's RoundSettled event.
type RoundSettledEvent struct {
	Round         string
	WinnerSide    uint8
	StartPrice    int64
	EndPrice      int64
	FeeLamports   uint64
	Distributable uint64
	SettledAt     int64
}

// ClaimedEvent mirrors the program's Claimed event.
type ClaimedEvent struct {
	Round  string
	User   string
	Side   uint8
	Stake  uint64
	Payout uint64
}

// RoundLockedEvent mirrors the program's RoundLocked event.
type RoundLockedEvent struct {
	Round      string
	StartPrice int64
	Expo       int32
	LockedAt   int64
}

// DecodeEvents scans transaction logs for settlement program events.
// Unknown or malformed payloads are skipped.
func DecodeEvents(logs []string) (settled []RoundSettledEvent, claimed []ClaimedEvent, locked []RoundLockedEvent) {
	for _, line := range logs {
		if !strings.HasPrefix(line, programDataPrefix) {
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, programDataPrefix))
		if err != nil || len(payload) < 8 {
			continue
		}

		disc, body := payload[:8], payload[8:]
		switch {
		case bytes.Equal(disc, eventDiscriminator("RoundSettled")):
			if ev, ok := decodeRoundSettled(body); ok {
				settled = append(settled, ev)
			}
		case bytes.Equal(disc, eventDiscriminator("Claimed")):
			if ev, ok := decodeClaimed(body); ok {
				claimed = append(claimed, ev)
			}
		case bytes.Equal(disc, eventDiscriminator("RoundLocked")):
			if ev, ok := decodeRoundLocked(body); ok {
				locked = append(locked, ev)
			}
		}
	}
	return settled, claimed, locked
}

type eventReader struct {
	data []byte
	pos  int
	bad  bool
}

func (r *eventReader) bytes(n int) []byte {
	if r.bad || r.pos+n > len(r.data) {
		r.bad = true
		return nil
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *eventReader) pubkey() string {
	b := r.bytes(32)
	if r.bad {
		return ""
	}
	return base58.Encode(b)
}

func (r *eventReader) u8() uint8 {
	b := r.bytes(1)
	if r.bad {
		return 0
	}
	return b[0]
}

func (r *eventReader) u64() uint64 {
	b := r.bytes(8)
	if r.bad {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *eventReader) i64() int64 { return int64(r.u64()) }

func (r *eventReader) i32() int32 {
	b := r.bytes(4)
	if r.bad {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

func decodeRoundSettled(body []byte) (RoundSettledEvent, bool) {
	r := &eventReader{data: body}
	ev := RoundSettledEvent{
		Round:         r.pubkey(),
		WinnerSide:    r.u8(),
		StartPrice:    r.i64(),
		EndPrice:      r.i64(),
		FeeLamports:   r.u64(),
		Distributable: r.u64(),
		SettledAt:     r.i64(),
	}
	return ev, !r.bad
}

func decodeClaimed(body []byte) (ClaimedEvent, bool) {
	r := &eventReader{data: body}
	ev := ClaimedEvent{
		Round:  r.pubkey(),
		User:   r.pubkey(),
		Side:   r.u8(),
		Stake:  r.u64(),
		Payout: r.u64(),
	}
	return ev, !r.bad
}

func decodeRoundLocked(body []byte) (RoundLockedEvent, bool) {
	r := &eventReader{data: body}
	ev := RoundLockedEvent{
		Round:      r.pubkey(),
		StartPrice: r.i64(),
		Expo:       r.i32(),
		LockedAt:   r.i64(),
	}
	return ev, !r.bad
}
