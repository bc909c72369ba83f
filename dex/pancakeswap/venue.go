package pancakeswap

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/ledger"
)

// DeadlineWindow is how far past the current time a venue swap's deadline is set
const DeadlineWindow = time.Minute

// Venue adapts SwapRouterV3 to dex.Venue
type Venue struct {
	router *SwapRouterV3
}

var _ dex.Venue = (*Venue)(nil)

// NewVenue wraps router
func NewVenue(router *SwapRouterV3) *Venue {
	return &Venue{router: router}
}

// Name returns the exchange name
func (v *Venue) Name() string {
	return "PancakeSwapV3"
}

// Spender returns the router address, which pulls the input tokens
func (v *Venue) Spender() common.Address {
	return v.router.GetRouterAddress()
}

// Swap routes params through exactInputSingle
func (v *Venue) Swap(ctx context.Context, tx *ledger.Tx, params dex.SwapParams) (*uint256.Int, error) {
	return v.router.ExactInputSingle(ctx, tx, params.Sender, ExactInputSingleParams{
		TokenIn:          params.TokenIn,
		TokenOut:         params.TokenOut,
		Fee:              params.Fee,
		Recipient:        params.Recipient,
		Deadline:         uint64(v.router.now().Add(DeadlineWindow).Unix()),
		AmountIn:         params.AmountIn,
		AmountOutMinimum: params.AmountOutMinimum,
	})
}
