package idhash

import "testing"

func TestTransferMemo(t *testing.T) {
	memo := TransferMemo("SOL-1200-5m", 2, "fee")
	if memo != "pvp:SOL-1200-5m:2:fee" {
		t.Errorf("got %s", memo)
	}
}

func TestComputeEntryID_DeterministicAndDistinct(t *testing.T) {
	a := ComputeEntryID("SOL-1200-5m", "alice", 0, 50, 1205_000)
	b := ComputeEntryID("SOL-1200-5m", "alice", 0, 50, 1205_000)
	if a != b {
		t.Error("same inputs must hash identically")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}

	c := ComputeEntryID("SOL-1200-5m", "alice", 1, 50, 1205_000)
	if a == c {
		t.Error("different side must hash differently")
	}
}
