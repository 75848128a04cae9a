package state

import (
	"fmt"
	"math/big"

	"proofofwork/core/types"
)

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// GetAccount returns the account stored under addr. Unknown addresses yield a
// zero-balance account.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	var stored storedAccount
	ok, err := m.getRLP(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	account := &types.Account{Balance: big.NewInt(0)}
	if ok {
		account.Nonce = stored.Nonce
		if stored.Balance != nil {
			account.Balance.Set(stored.Balance)
		}
	}
	return account, nil
}

// PutAccount persists the provided account state under the supplied address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("nil account")
	}
	balance := big.NewInt(0)
	if account.Balance != nil {
		if account.Balance.Sign() < 0 {
			return fmt.Errorf("negative balance for account %x", addr)
		}
		balance.Set(account.Balance)
	}
	return m.putRLP(accountKey(addr), &storedAccount{Nonce: account.Nonce, Balance: balance})
}

// GenesisApplied reports whether the genesis allocations were already written.
func (m *Manager) GenesisApplied() (bool, error) {
	_, ok, err := m.get(genesisKey)
	return ok, err
}

// MarkGenesisApplied records that genesis allocations were written. The marker
// lands with the next Commit.
func (m *Manager) MarkGenesisApplied() {
	m.set(genesisKey, []byte{1})
}
