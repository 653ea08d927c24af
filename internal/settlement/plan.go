package settlement

import (
	"fmt"
	"sort"

	"pancho-pvp/internal/domain"
	"pancho-pvp/internal/payout"
)

// SideTotals sums entry stakes per side. Settlement always recomputes
// totals from the append-only entries rather than trusting round-row
// counters: for a round that was never locked the counters were never
// frozen, and for a locked round the two are identical by construction.
func SideTotals(entries []*domain.Entry) (up, down uint64) {
	for _, e := range entries {
		switch e.Side {
		case domain.SideUp:
			up += e.StakeLamports
		case domain.SideDown:
			down += e.StakeLamports
		}
	}
	return up, down
}

// BuildPlan derives the settlement plan for a round from its entries and
// the two frozen prices. The plan is fully determined by its inputs: entry
// order is canonicalized, shares are floored, and the rounding remainder
// goes to the earliest-joined recipient.
//
// Zero-lamport transfers are omitted; the conservation invariant
// Σ transfers = fee + distributable still holds because omitted shares
// are exactly zero.
func BuildPlan(roundID string, entries []*domain.Entry, mode domain.SettleMode, winner domain.Side,
	startPrice, endPrice int64, expo int32, feeBps uint16, treasury string, nowMs int64) (*domain.SettlementPlan, error) {

	up, down := SideTotals(entries)
	total := up + down

	plan := &domain.SettlementPlan{
		RoundID:     roundID,
		Mode:        mode,
		WinnerSide:  winner,
		StartPrice:  startPrice,
		EndPrice:    endPrice,
		Expo:        expo,
		State:       domain.SettlementProcessing,
		CreatedAtMs: nowMs,
	}

	var fee uint64
	if mode == domain.ModeWin {
		fee = payout.Fee(total, feeBps)
	}
	distributable := total - fee
	plan.FeeLamports = fee
	plan.Distributable = distributable

	recipients := planRecipients(entries, mode, winner)
	allocs, err := payout.Allocate(distributable, recipients)
	if err != nil {
		return nil, fmt.Errorf("allocate round %s: %w", roundID, err)
	}

	kind := domain.TransferPayout
	if mode == domain.ModeRefund {
		kind = domain.TransferRefund
	}

	transferID := 0
	for _, a := range allocs {
		if a.Amount == 0 {
			continue
		}
		plan.Transfers = append(plan.Transfers, domain.PlannedTransfer{
			TransferID: transferID,
			Recipient:  a.Key,
			Lamports:   a.Amount,
			Kind:       kind,
		})
		transferID++
	}

	if fee > 0 {
		plan.Transfers = append(plan.Transfers, domain.PlannedTransfer{
			TransferID: transferID,
			Recipient:  treasury,
			Lamports:   fee,
			Kind:       domain.TransferFee,
		})
	}

	return plan, nil
}

// planRecipients selects and canonically orders the entries a plan pays:
// all entries for REFUND, winner-side entries for WIN. The canonical order
// is joined_at ASC, entry id ASC — stable across replays regardless of the
// order entries arrive in.
func planRecipients(entries []*domain.Entry, mode domain.SettleMode, winner domain.Side) []payout.Recipient {
	selected := make([]*domain.Entry, 0, len(entries))
	for _, e := range entries {
		if mode == domain.ModeWin && e.Side != winner {
			continue
		}
		selected = append(selected, e)
	}

	sort.Slice(selected, func(i, j int) bool {
		if selected[i].JoinedAtMs != selected[j].JoinedAtMs {
			return selected[i].JoinedAtMs < selected[j].JoinedAtMs
		}
		return selected[i].ID < selected[j].ID
	})

	out := make([]payout.Recipient, len(selected))
	for i, e := range selected {
		out[i] = payout.Recipient{Key: e.Wallet, Weight: e.StakeLamports}
	}
	return out
}
