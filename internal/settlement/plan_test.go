package settlement

import (
	"testing"

	"pancho-pvp/internal/domain"
)

func entry(id, wallet string, side domain.Side, stake uint64, joinedMs int64) *domain.Entry {
	return &domain.Entry{
		ID:            id,
		RoundID:       "SOL-1200-5m",
		Market:        "SOL",
		Wallet:        wallet,
		Side:          side,
		StakeLamports: stake,
		JoinedAtMs:    joinedMs,
	}
}

func TestBuildPlan_TwoSidedWin(t *testing.T) {
	// Scenario A: alice UP 50, bob UP 25, carol DOWN 30; fee 600bps.
	entries := []*domain.Entry{
		entry("sig-a", "alice", domain.SideUp, 50, 1000),
		entry("sig-b", "bob", domain.SideUp, 25, 1001),
		entry("sig-c", "carol", domain.SideDown, 30, 1002),
	}

	plan, err := BuildPlan("SOL-1200-5m", entries, domain.ModeWin, domain.SideUp,
		100_000, 101_000, -3, 600, "treasury", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.FeeLamports != 6 {
		t.Errorf("fee: expected 6, got %d", plan.FeeLamports)
	}
	if plan.Distributable != 99 {
		t.Errorf("distributable: expected 99, got %d", plan.Distributable)
	}

	if len(plan.Transfers) != 3 {
		t.Fatalf("expected 3 transfers, got %d", len(plan.Transfers))
	}

	want := []struct {
		recipient string
		lamports  uint64
		kind      domain.TransferKind
	}{
		{"alice", 66, domain.TransferPayout},
		{"bob", 33, domain.TransferPayout},
		{"treasury", 6, domain.TransferFee},
	}
	for i, w := range want {
		got := plan.Transfers[i]
		if got.TransferID != i || got.Recipient != w.recipient || got.Lamports != w.lamports || got.Kind != w.kind {
			t.Errorf("transfer %d: got %+v, want %+v", i, got, w)
		}
	}

	if plan.PlannedTotal() != plan.FeeLamports+plan.Distributable {
		t.Errorf("conservation: planned %d != fee %d + distributable %d",
			plan.PlannedTotal(), plan.FeeLamports, plan.Distributable)
	}
}

func TestBuildPlan_OneSidedRefund(t *testing.T) {
	// Scenario B: alice UP 40 only.
	entries := []*domain.Entry{entry("sig-a", "alice", domain.SideUp, 40, 1000)}

	plan, err := BuildPlan("SOL-1200-5m", entries, domain.ModeRefund, domain.SideNone,
		0, 0, 0, 600, "treasury", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.FeeLamports != 0 {
		t.Errorf("refund fee: expected 0, got %d", plan.FeeLamports)
	}
	if plan.Distributable != 40 {
		t.Errorf("distributable: expected 40, got %d", plan.Distributable)
	}
	if len(plan.Transfers) != 1 || plan.Transfers[0].Recipient != "alice" ||
		plan.Transfers[0].Lamports != 40 || plan.Transfers[0].Kind != domain.TransferRefund {
		t.Errorf("unexpected transfers: %+v", plan.Transfers)
	}
}

func TestBuildPlan_TieRefundProRata(t *testing.T) {
	// Scenario C: two-sided, start == end, refunds across all stakes.
	entries := []*domain.Entry{
		entry("sig-a", "alice", domain.SideUp, 50, 1000),
		entry("sig-c", "carol", domain.SideDown, 30, 1001),
	}

	plan, err := BuildPlan("SOL-1200-5m", entries, domain.ModeRefund, domain.SideNone,
		50_000, 50_000, -3, 600, "treasury", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.FeeLamports != 0 || plan.Distributable != 80 {
		t.Errorf("refund pool: fee=%d distributable=%d", plan.FeeLamports, plan.Distributable)
	}
	if len(plan.Transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(plan.Transfers))
	}
	if plan.Transfers[0].Recipient != "alice" || plan.Transfers[0].Lamports != 50 {
		t.Errorf("alice refund: %+v", plan.Transfers[0])
	}
	if plan.Transfers[1].Recipient != "carol" || plan.Transfers[1].Lamports != 30 {
		t.Errorf("carol refund: %+v", plan.Transfers[1])
	}
}

func TestBuildPlan_CanonicalOrderSurvivesPermutation(t *testing.T) {
	// Permuting the input entry list must not change any allocation:
	// recipients are sorted by (joined_at, entry id) before the remainder
	// is assigned.
	base := []*domain.Entry{
		entry("sig-a", "w1", domain.SideUp, 1, 1000),
		entry("sig-b", "w2", domain.SideUp, 1, 1000),
		entry("sig-c", "w3", domain.SideUp, 1, 1001),
		entry("sig-d", "w4", domain.SideDown, 7, 1002),
	}
	permuted := []*domain.Entry{base[2], base[3], base[0], base[1]}

	p1, err := BuildPlan("SOL-1200-5m", base, domain.ModeWin, domain.SideUp,
		1, 2, 0, 600, "treasury", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, err := BuildPlan("SOL-1200-5m", permuted, domain.ModeWin, domain.SideUp,
		1, 2, 0, 600, "treasury", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(p1.Transfers) != len(p2.Transfers) {
		t.Fatalf("transfer counts differ: %d vs %d", len(p1.Transfers), len(p2.Transfers))
	}
	for i := range p1.Transfers {
		if p1.Transfers[i] != p2.Transfers[i] {
			t.Errorf("transfer %d differs: %+v vs %+v", i, p1.Transfers[i], p2.Transfers[i])
		}
	}
}

func TestBuildPlan_RoundingRemainderToEarliest(t *testing.T) {
	// Scenario D shape: three equal winners, distributable forces flooring.
	entries := []*domain.Entry{
		entry("sig-b", "w2", domain.SideUp, 1, 1001),
		entry("sig-a", "w1", domain.SideUp, 1, 1000), // earliest join
		entry("sig-c", "w3", domain.SideUp, 1, 1002),
		entry("sig-d", "loser", domain.SideDown, 97, 1003),
	}

	// total=100, fee=0bps → distributable 100; winner weights [1,1,1].
	plan, err := BuildPlan("SOL-1200-5m", entries, domain.ModeWin, domain.SideUp,
		1, 2, 0, 0, "treasury", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// floor(100/3)=33 each, remainder 1 → earliest join (w1) gets 34.
	if len(plan.Transfers) != 3 {
		t.Fatalf("expected 3 transfers, got %d", len(plan.Transfers))
	}
	if plan.Transfers[0].Recipient != "w1" || plan.Transfers[0].Lamports != 34 {
		t.Errorf("remainder recipient: %+v", plan.Transfers[0])
	}
	var sum uint64
	for _, tr := range plan.Transfers {
		sum += tr.Lamports
	}
	if sum != 100 {
		t.Errorf("conservation: sum %d != 100", sum)
	}
}

func TestSideTotals(t *testing.T) {
	up, down := SideTotals([]*domain.Entry{
		entry("a", "w1", domain.SideUp, 50, 0),
		entry("b", "w2", domain.SideUp, 25, 0),
		entry("c", "w3", domain.SideDown, 30, 0),
	})
	if up != 75 || down != 30 {
		t.Errorf("totals: up=%d down=%d", up, down)
	}
}
