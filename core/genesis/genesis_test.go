package genesis

import (
	"math/big"
	"testing"

	"proofofwork/core/state"
	"proofofwork/crypto"
	"proofofwork/native/bank"
	"proofofwork/storage"
)

func TestParseAllocationsMergesAndSorts(t *testing.T) {
	a := crypto.FromRaw([20]byte{0x09}).String()
	b := crypto.FromRaw([20]byte{0x01}).String()
	allocs, err := ParseAllocations([]AllocSpec{
		{Address: a, Balance: "100"},
		{Address: b, Balance: "7"},
		{Address: " " + a + " ", Balance: "5"},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(allocs) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocs))
	}
	if allocs[0].Address != ([20]byte{0x01}) || allocs[0].Balance.Int64() != 7 {
		t.Fatalf("unexpected first allocation %+v", allocs[0])
	}
	if allocs[1].Balance.Int64() != 105 {
		t.Fatalf("merged balance = %s, want 105", allocs[1].Balance)
	}
}

func TestParseAllocationsRejectsBadInput(t *testing.T) {
	valid := crypto.FromRaw([20]byte{0x01}).String()
	cases := []AllocSpec{
		{Address: "eth1notours", Balance: "1"},
		{Address: valid, Balance: "0"},
		{Address: valid, Balance: "-3"},
		{Address: valid, Balance: "1.5"},
	}
	for _, spec := range cases {
		if _, err := ParseAllocations([]AllocSpec{spec}); err == nil {
			t.Fatalf("expected error for %+v", spec)
		}
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	db := storage.NewMemDB()
	manager := state.NewManager(db)
	ledger := bank.NewLedger(manager)
	allocs := []Allocation{{Address: [20]byte{0x01}, Balance: big.NewInt(50)}}

	applied, err := Apply(manager, ledger, allocs)
	if err != nil || !applied {
		t.Fatalf("first apply: applied=%v err=%v", applied, err)
	}
	if err := manager.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	applied, err = Apply(manager, ledger, allocs)
	if err != nil || applied {
		t.Fatalf("second apply: applied=%v err=%v", applied, err)
	}
	balance, err := ledger.Balance([20]byte{0x01})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 50 {
		t.Fatalf("balance = %s, want 50", balance)
	}
}
