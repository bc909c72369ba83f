package flashloan

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/flashloan/lender"
	"github.com/michaelpento.lv/flasharb/ledger"
	"github.com/michaelpento.lv/flasharb/types"
)

var (
	_ lender.PancakeV3FlashCallback = (*Engine)(nil)
	_ lender.UniswapV3FlashCallback = (*Engine)(nil)
)

// PancakeV3FlashCallback is invoked by a PancakeSwap V3 pool after it has
// transferred the borrowed amounts
func (e *Engine) PancakeV3FlashCallback(ctx context.Context, tx *ledger.Tx, caller common.Address, fee0, fee1 *uint256.Int, data types.CallbackContext) error {
	return e.onFlash(ctx, tx, caller, fee0, fee1, data)
}

// UniswapV3FlashCallback is the same entry point under the Uniswap V3 name
func (e *Engine) UniswapV3FlashCallback(ctx context.Context, tx *ledger.Tx, caller common.Address, fee0, fee1 *uint256.Int, data types.CallbackContext) error {
	return e.onFlash(ctx, tx, caller, fee0, fee1, data)
}

func (e *Engine) onFlash(ctx context.Context, tx *ledger.Tx, caller common.Address, fee0, fee1 *uint256.Int, data types.CallbackContext) error {
	st, err := e.authenticate(caller, data)
	if err != nil {
		e.logger.Warn("Rejected flash callback", zap.String("caller", caller.Hex()), zap.Error(err))
		return err
	}

	legs, err := e.router.Route(ctx, tx, e.pair, st.data)
	if err != nil {
		return err
	}
	st.legs = legs

	settlement, err := e.repay.Settle(tx, st.data.Amount0, st.data.Amount1, fee0, fee1)
	if err != nil {
		return err
	}
	st.settlement = settlement
	return nil
}

// authenticate accepts exactly one callback, from the derived pool, for the
// loan currently in flight
func (e *Engine) authenticate(caller common.Address, data types.CallbackContext) (*loanState, error) {
	if caller != e.poolAddr {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorizedCallback, caller.Hex())
	}

	st := e.inflight.Load()
	if st == nil {
		return nil, fmt.Errorf("%w: no loan in flight", ErrUnexpectedCallback)
	}
	if st.called {
		return nil, fmt.Errorf("%w: loan already called back", ErrUnexpectedCallback)
	}
	if !sameContext(st.data, data) {
		return nil, fmt.Errorf("%w: context does not match request", ErrUnexpectedCallback)
	}
	st.called = true
	return st, nil
}

func sameContext(a, b types.CallbackContext) bool {
	return a.Initiator == b.Initiator &&
		types.Clone(a.Amount0).Eq(types.Clone(b.Amount0)) &&
		types.Clone(a.Amount1).Eq(types.Clone(b.Amount1)) &&
		sameInstruction(a.Swap1, b.Swap1) &&
		sameInstruction(a.Swap2, b.Swap2)
}

func sameInstruction(a, b types.SwapInstruction) bool {
	return a.TokenIn == b.TokenIn &&
		a.TokenOut == b.TokenOut &&
		a.FeeTier == b.FeeTier &&
		a.Venue == b.Venue &&
		a.MinOut().Eq(b.MinOut())
}
