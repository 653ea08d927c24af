package domain

import "testing"

func TestFormatRoundID(t *testing.T) {
	if got := FormatRoundID("SOL", 1730000000); got != "SOL-1730000000-5m" {
		t.Errorf("got %s", got)
	}
}

func TestParseRoundID_RoundTrip(t *testing.T) {
	market, start, err := ParseRoundID("BTC-1730000000-5m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if market != "BTC" || start != 1730000000 {
		t.Errorf("got %s %d", market, start)
	}
}

func TestParseRoundID_Rejections(t *testing.T) {
	for _, id := range []string{
		"",
		"SOL",
		"SOL-1730000000",
		"SOL-1730000000-1m",
		"SOL-abc-5m",
		"SOL-0-5m",
		"SOL-1730000000-5m-extra",
	} {
		if _, _, err := ParseRoundID(id); err == nil {
			t.Errorf("expected error for %q", id)
		}
	}
}

func TestAlignedStart(t *testing.T) {
	if got := AlignedStart(1205, 120); got != 1200 {
		t.Errorf("got %d", got)
	}
	if got := AlignedStart(1200, 120); got != 1200 {
		t.Errorf("exact boundary: got %d", got)
	}
}

func TestParseSide(t *testing.T) {
	if s, err := ParseSide("up"); err != nil || s != SideUp {
		t.Errorf("up: %v %v", s, err)
	}
	if s, err := ParseSide("down"); err != nil || s != SideDown {
		t.Errorf("down: %v %v", s, err)
	}
	if _, err := ParseSide("none"); err == nil {
		t.Error("NONE must not parse from client input")
	}
}

func TestValidateWallet(t *testing.T) {
	if err := ValidateWallet("7kYq1sVbS9Y3sBvLtRmXCQkjnUWhotXBQxVJjV37XCeF"); err != nil {
		t.Errorf("valid wallet rejected: %v", err)
	}
	for _, w := range []string{"", "short", "!!!!", "0OIl"} {
		if err := ValidateWallet(w); err == nil {
			t.Errorf("expected rejection for %q", w)
		}
	}
}

func TestOracleSnapshot_DisplayPrice(t *testing.T) {
	snap := &OracleSnapshot{Price: 101_500, Expo: -3}
	if got := snap.DisplayPrice(); got != "101.5" {
		t.Errorf("got %s", got)
	}
}
