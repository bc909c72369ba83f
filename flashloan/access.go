package flashloan

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/ledger"
)

func (e *Engine) onlyOwner(caller common.Address) error {
	if caller != e.owner {
		return fmt.Errorf("%w: %s", ErrUnauthorizedCaller, caller.Hex())
	}
	return nil
}

// guard rejects non-owners and any call made while a loan is in flight
func (e *Engine) guard(caller common.Address) error {
	if err := e.onlyOwner(caller); err != nil {
		return err
	}
	if e.inflight.Load() != nil {
		return ErrReentrantCall
	}
	return nil
}

// WithdrawStuckFunds sends the engine's whole balance of token to the owner
func (e *Engine) WithdrawStuckFunds(ctx context.Context, caller, token common.Address) (*uint256.Int, error) {
	err := e.guard(caller)
	var amount *uint256.Int
	if err == nil {
		err = e.ledger.Execute(ctx, func(tx *ledger.Tx) error {
			var err error
			amount, err = e.WithdrawStuckFundsTx(ctx, tx, caller, token)
			return err
		})
	}
	if err != nil {
		e.metrics.Withdrawals.WithLabelValues("failure").Inc()
		e.metrics.Reverts.WithLabelValues(Reason(err)).Inc()
		e.logger.Warn("Withdrawal reverted", zap.String("token", token.Hex()), zap.Error(err))
		return nil, err
	}
	e.metrics.Withdrawals.WithLabelValues("success").Inc()
	return amount, nil
}

// WithdrawStuckFundsTx is WithdrawStuckFunds inside an already open transaction
func (e *Engine) WithdrawStuckFundsTx(ctx context.Context, tx *ledger.Tx, caller, token common.Address) (*uint256.Int, error) {
	if err := e.guard(caller); err != nil {
		return nil, err
	}

	balance := tx.BalanceOf(token, e.address)
	if balance.IsZero() {
		return nil, fmt.Errorf("%w: token %s", ErrNothingToRecover, token.Hex())
	}
	if err := tx.Transfer(token, e.address, e.owner, balance); err != nil {
		return nil, err
	}

	e.logger.Info("Recovered stuck funds",
		zap.String("token", token.Hex()),
		zap.String("amount", balance.Dec()))
	return balance, nil
}
