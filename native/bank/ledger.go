package bank

import (
	"errors"
	"fmt"
	"math/big"

	"proofofwork/core/types"
)

var (
	// ErrInsufficientBalance is returned when the sender cannot cover a
	// transfer.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	// ErrInvalidAmount rejects nil, zero and negative amounts.
	ErrInvalidAmount = errors.New("bank: amount must be positive")
)

type accountState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Ledger is the in-process value transfer service. It keeps spendable balances
// in the node state so they share the escrow records' commit.
type Ledger struct {
	state accountState
}

// NewLedger binds a ledger to the account state.
func NewLedger(state accountState) *Ledger {
	return &Ledger{state: state}
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Balance returns the spendable balance of addr.
func (l *Ledger) Balance(addr [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("bank: state not configured")
	}
	account, err := l.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(account.Balance), nil
}

// Credit mints amount into addr. It is used for genesis allocations.
func (l *Ledger) Credit(addr [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return fmt.Errorf("bank: state not configured")
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	account, err := l.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return l.state.PutAccount(addr[:], account)
}

// Transfer moves amount from one account to another. Either both balances
// change or neither does.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return fmt.Errorf("bank: state not configured")
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	sender, err := l.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	if sender.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, sender.Balance, amount)
	}
	if from == to {
		return nil
	}
	recipient, err := l.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	sender.Balance = new(big.Int).Sub(sender.Balance, amount)
	sender.Nonce++
	recipient.Balance = new(big.Int).Add(recipient.Balance, amount)
	if err := l.state.PutAccount(from[:], sender); err != nil {
		return err
	}
	return l.state.PutAccount(to[:], recipient)
}
