package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// journalEntry undoes one mutation
type journalEntry interface {
	revert(l *Ledger)
}

type balanceChange struct {
	token   common.Address
	account common.Address
	prev    *uint256.Int // nil if the account had no entry
}

func (c balanceChange) revert(l *Ledger) {
	l.setBalance(c.token, c.account, c.prev)
}

type allowanceChange struct {
	key  allowanceKey
	prev *uint256.Int
}

func (c allowanceChange) revert(l *Ledger) {
	l.setAllowance(c.key, c.prev)
}

// Tx is a handle to an open ledger transaction. It is only valid inside the
// function passed to Ledger.Execute.
type Tx struct {
	ledger  *Ledger
	journal []journalEntry
	dirty   int
	closed  bool
}

// BalanceOf returns the current balance, including this transaction's writes
func (tx *Tx) BalanceOf(token, account common.Address) *uint256.Int {
	return tx.ledger.balanceOf(token, account)
}

// Allowance returns how much spender may move from owner's token balance
func (tx *Tx) Allowance(token, owner, spender common.Address) *uint256.Int {
	return tx.ledger.allowance(allowanceKey{token: token, owner: owner, spender: spender})
}

// Transfer moves amount of token from one account to another
func (tx *Tx) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	if err := tx.check(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return nil
	}

	fromBal := tx.ledger.balanceOf(token, from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: token=%s account=%s have=%s want=%s",
			ErrInsufficientBalance, token.Hex(), from.Hex(), fromBal.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}

	toBal := tx.ledger.balanceOf(token, to)
	newTo, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return fmt.Errorf("%w: token=%s account=%s", ErrBalanceOverflow, token.Hex(), to.Hex())
	}

	tx.writeBalance(token, from, new(uint256.Int).Sub(fromBal, amount))
	tx.writeBalance(token, to, newTo)
	return nil
}

// Approve sets spender's allowance over owner's token balance
func (tx *Tx) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	if err := tx.check(); err != nil {
		return err
	}
	key := allowanceKey{token: token, owner: owner, spender: spender}
	tx.record(allowanceChange{key: key, prev: tx.existingAllowance(key)})
	if amount == nil || amount.IsZero() {
		tx.ledger.setAllowance(key, nil)
		return nil
	}
	tx.ledger.setAllowance(key, new(uint256.Int).Set(amount))
	return nil
}

// TransferFrom moves tokens on behalf of owner, consuming spender's allowance
func (tx *Tx) TransferFrom(token, spender, from, to common.Address, amount *uint256.Int) error {
	if err := tx.check(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return nil
	}

	key := allowanceKey{token: token, owner: from, spender: spender}
	allowed := tx.ledger.allowance(key)
	if allowed.Lt(amount) {
		return fmt.Errorf("%w: token=%s owner=%s spender=%s have=%s want=%s",
			ErrInsufficientAllowance, token.Hex(), from.Hex(), spender.Hex(), allowed.Dec(), amount.Dec())
	}
	if err := tx.Transfer(token, from, to, amount); err != nil {
		return err
	}
	return tx.Approve(token, from, spender, new(uint256.Int).Sub(allowed, amount))
}

// Mint credits new tokens to an account
func (tx *Tx) Mint(token, to common.Address, amount *uint256.Int) error {
	if err := tx.check(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	newBal, overflow := new(uint256.Int).AddOverflow(tx.ledger.balanceOf(token, to), amount)
	if overflow {
		return fmt.Errorf("%w: token=%s account=%s", ErrBalanceOverflow, token.Hex(), to.Hex())
	}
	tx.writeBalance(token, to, newBal)
	return nil
}

// Snapshot returns an identifier for the current journal position
func (tx *Tx) Snapshot() int {
	return len(tx.journal)
}

// RevertToSnapshot undoes every mutation made after the snapshot was taken
func (tx *Tx) RevertToSnapshot(id int) error {
	if err := tx.check(); err != nil {
		return err
	}
	if id < 0 || id > len(tx.journal) {
		return fmt.Errorf("%w: %d", ErrInvalidSnapshot, id)
	}
	tx.revertTo(id)
	return nil
}

func (tx *Tx) check() error {
	if tx.closed {
		return ErrTxClosed
	}
	return nil
}

func (tx *Tx) writeBalance(token, account common.Address, amount *uint256.Int) {
	tx.record(balanceChange{token: token, account: account, prev: tx.existingBalance(token, account)})
	tx.ledger.setBalance(token, account, amount)
}

func (tx *Tx) existingBalance(token, account common.Address) *uint256.Int {
	if accounts, ok := tx.ledger.balances[token]; ok {
		if bal, ok := accounts[account]; ok {
			return bal
		}
	}
	return nil
}

func (tx *Tx) existingAllowance(key allowanceKey) *uint256.Int {
	if a, ok := tx.ledger.allowances[key]; ok {
		return a
	}
	return nil
}

func (tx *Tx) record(entry journalEntry) {
	tx.journal = append(tx.journal, entry)
	tx.dirty++
}

func (tx *Tx) revertTo(id int) {
	for i := len(tx.journal) - 1; i >= id; i-- {
		tx.journal[i].revert(tx.ledger)
	}
	tx.journal = tx.journal[:id]
}
