// Package ledger is an in-memory fungible-token ledger whose mutations only
// happen inside transactions. A transaction that returns an error (or panics)
// is rolled back by replaying its journal, so callers observe either every
// effect or none.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrBalanceOverflow       = errors.New("balance overflow")
	ErrInvalidSnapshot       = errors.New("invalid snapshot id")
	ErrTxClosed              = errors.New("transaction closed")
)

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// Ledger holds token balances and allowances keyed by token address
type Ledger struct {
	mu         sync.Mutex
	balances   map[common.Address]map[common.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	logger     *zap.Logger
}

// New creates an empty ledger
func New(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		balances:   make(map[common.Address]map[common.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		logger:     logger,
	}
}

// BalanceOf returns a copy of account's balance of token
func (l *Ledger) BalanceOf(token, account common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceOf(token, account)
}

// Mint credits amount of token to account in its own transaction
func (l *Ledger) Mint(token, to common.Address, amount *uint256.Int) error {
	return l.Execute(context.Background(), func(tx *Tx) error {
		return tx.Mint(token, to, amount)
	})
}

// Execute runs fn as one atomic transaction. Transactions are serialized and
// run to completion; fn must not call Execute on the same ledger.
func (l *Ledger) Execute(ctx context.Context, fn func(tx *Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{ledger: l}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ledger: transaction panicked: %v", r)
		}
		if err != nil {
			tx.revertTo(0)
			l.logger.Debug("Transaction reverted",
				zap.Int("journal_entries", tx.dirty),
				zap.Error(err))
		}
		tx.closed = true
	}()

	return fn(tx)
}

func (l *Ledger) balanceOf(token, account common.Address) *uint256.Int {
	if accounts, ok := l.balances[token]; ok {
		if bal, ok := accounts[account]; ok {
			return new(uint256.Int).Set(bal)
		}
	}
	return new(uint256.Int)
}

func (l *Ledger) setBalance(token, account common.Address, amount *uint256.Int) {
	accounts, ok := l.balances[token]
	if !ok {
		accounts = make(map[common.Address]*uint256.Int)
		l.balances[token] = accounts
	}
	if amount == nil {
		delete(accounts, account)
		return
	}
	accounts[account] = amount
}

func (l *Ledger) allowance(key allowanceKey) *uint256.Int {
	if a, ok := l.allowances[key]; ok {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int)
}

func (l *Ledger) setAllowance(key allowanceKey, amount *uint256.Int) {
	if amount == nil {
		delete(l.allowances, key)
		return
	}
	l.allowances[key] = amount
}
