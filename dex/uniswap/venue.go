package uniswap

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/ledger"
)

// Venue exposes a SwapRouter02 as a dex.Venue
type Venue struct {
	router ISwapRouter02
}

var _ dex.Venue = (*Venue)(nil)

func NewVenue(router ISwapRouter02) *Venue {
	return &Venue{router: router}
}

func (v *Venue) Name() string {
	return "UniswapV3"
}

func (v *Venue) Spender() common.Address {
	return v.router.GetRouterAddress()
}

func (v *Venue) Swap(ctx context.Context, tx *ledger.Tx, params dex.SwapParams) (*uint256.Int, error) {
	return v.router.ExactInputSingle(ctx, tx, params.Sender, ExactInputSingleParams{
		TokenIn:          params.TokenIn,
		TokenOut:         params.TokenOut,
		Fee:              params.Fee,
		Recipient:        params.Recipient,
		AmountIn:         params.AmountIn,
		AmountOutMinimum: params.AmountOutMinimum,
	})
}
