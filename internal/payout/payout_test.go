package payout

import (
	"math"
	"testing"
)

func TestFee_SixPercentOf105(t *testing.T) {
	// 105 × 600bps = 6.3 → floor 6
	if got := Fee(105, 600); got != 6 {
		t.Errorf("expected fee 6, got %d", got)
	}
}

func TestFee_ZeroTotal(t *testing.T) {
	if got := Fee(0, 600); got != 0 {
		t.Errorf("expected fee 0, got %d", got)
	}
}

func TestFee_LargeTotalNoOverflow(t *testing.T) {
	// 2^63 lamports at 1500bps would overflow a naive 64-bit multiply.
	total := uint64(1) << 63
	got := Fee(total, 1500)
	approx := float64(total) * 0.15
	if math.Abs(float64(got)-approx) > 1e4 {
		t.Errorf("fee %d far from expected ~%.0f", got, approx)
	}
}

func TestAllocate_TwoWinnersUpwardMove(t *testing.T) {
	// Scenario A: distributable=99, winner stakes 50 and 25.
	allocs, err := Allocate(99, []Recipient{
		{Key: "alice", Weight: 50},
		{Key: "bob", Weight: 25},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(allocs) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocs))
	}
	if allocs[0].Amount != 66 {
		t.Errorf("alice: expected 66, got %d", allocs[0].Amount)
	}
	if allocs[1].Amount != 33 {
		t.Errorf("bob: expected 33, got %d", allocs[1].Amount)
	}
}

func TestAllocate_RemainderToFirst(t *testing.T) {
	// Scenario D: weights [1,1,1], distributable=10 → [4,3,3].
	allocs, err := Allocate(10, []Recipient{
		{Key: "a", Weight: 1},
		{Key: "b", Weight: 1},
		{Key: "c", Weight: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []uint64{4, 3, 3}
	var sum uint64
	for i, a := range allocs {
		if a.Amount != want[i] {
			t.Errorf("allocation %d: expected %d, got %d", i, want[i], a.Amount)
		}
		sum += a.Amount
	}
	if sum != 10 {
		t.Errorf("conservation violated: sum %d != 10", sum)
	}
}

func TestAllocate_Conservation(t *testing.T) {
	cases := []struct {
		distributable uint64
		weights       []uint64
	}{
		{99, []uint64{50, 25}},
		{1, []uint64{3, 3, 3}},
		{1_000_000_007, []uint64{1, 2, 3, 5, 8, 13}},
		{40, []uint64{40}},
		{7, []uint64{1000000000000, 999999999999}},
	}

	for _, tc := range cases {
		recipients := make([]Recipient, len(tc.weights))
		for i, w := range tc.weights {
			recipients[i] = Recipient{Key: string(rune('a' + i)), Weight: w}
		}
		allocs, err := Allocate(tc.distributable, recipients)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var sum uint64
		for _, a := range allocs {
			sum += a.Amount
		}
		if sum != tc.distributable {
			t.Errorf("weights %v: sum %d != distributable %d", tc.weights, sum, tc.distributable)
		}
	}
}

func TestAllocate_Determinism(t *testing.T) {
	recipients := []Recipient{
		{Key: "x", Weight: 17},
		{Key: "y", Weight: 19},
		{Key: "z", Weight: 23},
	}

	first, err := Allocate(1234567, recipients)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Allocate(1234567, recipients)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("run %d: allocation %d differs: %v vs %v", i, j, first[j], again[j])
			}
		}
	}
}

func TestAllocate_DegenerateInputs(t *testing.T) {
	if allocs, err := Allocate(0, []Recipient{{Key: "a", Weight: 5}}); err != nil || len(allocs) != 0 {
		t.Errorf("zero distributable: expected empty, got %v err %v", allocs, err)
	}
	if allocs, err := Allocate(100, nil); err != nil || len(allocs) != 0 {
		t.Errorf("no recipients: expected empty, got %v err %v", allocs, err)
	}
	if allocs, err := Allocate(100, []Recipient{{Key: "a", Weight: 0}}); err != nil || len(allocs) != 0 {
		t.Errorf("zero weights: expected empty, got %v err %v", allocs, err)
	}
}

func TestProportion_MatchesClaimFormula(t *testing.T) {
	// position 50 of winner total 75, distributable 99 → 66
	got, err := Proportion(50, 99, 75)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 66 {
		t.Errorf("expected 66, got %d", got)
	}
}

func TestProportion_ZeroInputs(t *testing.T) {
	for _, tc := range [][3]uint64{{0, 99, 75}, {50, 0, 75}, {50, 99, 0}} {
		got, err := Proportion(tc[0], tc[1], tc[2])
		if err != nil || got != 0 {
			t.Errorf("Proportion(%v): expected 0, got %d err %v", tc, got, err)
		}
	}
}

func TestProportion_128BitIntermediate(t *testing.T) {
	// amount × totalOut overflows 64 bits but the quotient fits.
	amount := uint64(1) << 40
	totalOut := uint64(1) << 40
	totalIn := uint64(1) << 41
	got, err := Proportion(amount, totalOut, totalIn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := uint64(1) << 39
	if got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
}
