// Package payout implements the pro-rata settlement arithmetic.
// All math is integer-only and deterministic: the same inputs, including
// recipient order, always produce the same allocations.
package payout

import (
	"errors"
	"math/bits"
)

// BPSDenominator converts basis points to a fraction.
const BPSDenominator = 10_000

// ErrOverflow is returned when a computation exceeds uint64 range.
var ErrOverflow = errors.New("payout: arithmetic overflow")

// Recipient is one payee with its allocation weight (the stake backing it).
type Recipient struct {
	Key    string
	Weight uint64
}

// Allocation is the computed share for one recipient.
type Allocation struct {
	Key    string
	Weight uint64
	Amount uint64
}

// Fee computes floor(total × feeBps / 10_000).
func Fee(total uint64, feeBps uint16) uint64 {
	hi, lo := bits.Mul64(total, uint64(feeBps))
	quo, _ := bits.Div64(hi, lo, BPSDenominator)
	return quo
}

// Allocate splits distributable across recipients proportionally to weight.
// Each share is floored; the rounding remainder goes to the first recipient
// in the input order, so the order must be the canonical one (joined_at ASC,
// entry id ASC) for replay stability.
//
// Degenerate inputs (zero distributable, no recipients, zero total weight)
// yield an empty allocation list and no error.
func Allocate(distributable uint64, recipients []Recipient) ([]Allocation, error) {
	if distributable == 0 || len(recipients) == 0 {
		return nil, nil
	}

	var weightTotal uint64
	for _, r := range recipients {
		sum, carry := bits.Add64(weightTotal, r.Weight, 0)
		if carry != 0 {
			return nil, ErrOverflow
		}
		weightTotal = sum
	}
	if weightTotal == 0 {
		return nil, nil
	}

	out := make([]Allocation, len(recipients))
	var paid uint64
	for i, r := range recipients {
		amount, err := Proportion(r.Weight, distributable, weightTotal)
		if err != nil {
			return nil, err
		}
		out[i] = Allocation{Key: r.Key, Weight: r.Weight, Amount: amount}
		paid += amount
	}

	// paid ≤ distributable by construction; the remainder is the sum of
	// all floored fractions and goes to the first recipient.
	out[0].Amount += distributable - paid
	return out, nil
}

// Proportion computes floor(amount × totalOut / totalIn) in 128-bit
// intermediate precision. Zero inputs yield zero, matching the on-chain
// claim formula.
func Proportion(amount, totalOut, totalIn uint64) (uint64, error) {
	if totalIn == 0 || totalOut == 0 || amount == 0 {
		return 0, nil
	}

	hi, lo := bits.Mul64(amount, totalOut)
	if hi >= totalIn {
		// Quotient would not fit in 64 bits.
		return 0, ErrOverflow
	}
	quo, _ := bits.Div64(hi, lo, totalIn)
	return quo, nil
}
