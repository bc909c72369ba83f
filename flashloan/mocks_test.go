package flashloan

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/flashloan/lender"
	"github.com/michaelpento.lv/flasharb/ledger"
	"github.com/michaelpento.lv/flasharb/types"
)

// fakePool sits at the derived pool address but runs whatever flash does
type fakePool struct {
	addr   common.Address
	token0 common.Address
	token1 common.Address
	fee    uint32
	flash  func(ctx context.Context, tx *ledger.Tx, p *fakePool, b lender.Borrower, a0, a1 *uint256.Int, data types.CallbackContext) error
}

func (p *fakePool) Address() common.Address { return p.addr }
func (p *fakePool) Token0() common.Address { return p.token0 }
func (p *fakePool) Token1() common.Address { return p.token1 }
func (p *fakePool) Fee() uint32 { return p.fee }

func (p *fakePool) Flash(ctx context.Context, tx *ledger.Tx, b lender.Borrower, a0, a1 *uint256.Int, data types.CallbackContext) error {
	if p.flash == nil {
		return errors.New("fakePool: no flash behaviour")
	}
	return p.flash(ctx, tx, p, b, a0, a1, data)
}

// scriptedVenue is a dex.Venue whose swap is supplied by the test
type scriptedVenue struct {
	name    string
	spender common.Address
	swap    func(ctx context.Context, tx *ledger.Tx, v *scriptedVenue, p dex.SwapParams) (*uint256.Int, error)
}

func (v *scriptedVenue) Name() string { return v.name }
func (v *scriptedVenue) Spender() common.Address { return v.spender }

func (v *scriptedVenue) Swap(ctx context.Context, tx *ledger.Tx, p dex.SwapParams) (*uint256.Int, error) {
	if v.swap == nil {
		return nil, errors.New("scriptedVenue: no swap behaviour")
	}
	return v.swap(ctx, tx, v, p)
}
