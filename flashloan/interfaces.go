package flashloan

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/michaelpento.lv/flasharb/flashloan/lender"
	"github.com/michaelpento.lv/flasharb/ledger"
	"github.com/michaelpento.lv/flasharb/types"
)

// LendingPool is the flash lender the engine borrows from
type LendingPool interface {
	Address() common.Address
	Token0() common.Address
	Token1() common.Address
	Fee() uint32

	// Flash transfers the amounts to borrower, invokes its flash callback and
	// fails unless it was repaid with fee
	Flash(ctx context.Context, tx *ledger.Tx, borrower lender.Borrower, amount0, amount1 *uint256.Int, data types.CallbackContext) error
}

var _ LendingPool = (*lender.Pool)(nil)
