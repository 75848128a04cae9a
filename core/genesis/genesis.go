package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"proofofwork/crypto"
)

// AllocSpec is a genesis balance as written in configuration.
type AllocSpec struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

// Allocation is a parsed genesis balance.
type Allocation struct {
	Address [20]byte
	Balance *big.Int
}

type genesisState interface {
	GenesisApplied() (bool, error)
	MarkGenesisApplied()
}

// Crediter mints genesis balances.
type Crediter interface {
	Credit(addr [20]byte, amount *big.Int) error
}

// ParseAllocations validates the configured allocations and returns them
// sorted by address. Repeated addresses are summed.
func ParseAllocations(specs []AllocSpec) ([]Allocation, error) {
	merged := make(map[[20]byte]*big.Int, len(specs))
	for i, spec := range specs {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(spec.Address))
		if err != nil {
			return nil, fmt.Errorf("genesis alloc %d: %w", i, err)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(spec.Balance), 10)
		if !ok || balance.Sign() <= 0 {
			return nil, fmt.Errorf("genesis alloc %d: balance %q must be a positive integer", i, spec.Balance)
		}
		key := addr.Raw()
		if existing, ok := merged[key]; ok {
			existing.Add(existing, balance)
			continue
		}
		merged[key] = balance
	}
	out := make([]Allocation, 0, len(merged))
	for addr, balance := range merged {
		out = append(out, Allocation{Address: addr, Balance: balance})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out, nil
}

// Apply credits every allocation once. It returns false when the state already
// carries the genesis marker. The caller commits the state afterwards.
func Apply(state genesisState, bank Crediter, allocs []Allocation) (bool, error) {
	if state == nil || bank == nil {
		return false, fmt.Errorf("genesis: state and bank required")
	}
	applied, err := state.GenesisApplied()
	if err != nil {
		return false, err
	}
	if applied {
		return false, nil
	}
	for _, alloc := range allocs {
		if err := bank.Credit(alloc.Address, alloc.Balance); err != nil {
			return false, fmt.Errorf("genesis credit %s: %w", crypto.FromRaw(alloc.Address), err)
		}
	}
	state.MarkGenesisApplied()
	return true, nil
}
