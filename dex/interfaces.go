package dex

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/michaelpento.lv/flasharb/ledger"
)

// Venue is a swap venue the engine can route a single exact-input swap through
type Venue interface {
	// Name returns the venue name used in logs and metrics
	Name() string

	// Spender returns the address that pulls input tokens from the sender
	Spender() common.Address

	// Swap pulls AmountIn of TokenIn from Sender and pays TokenOut to Recipient.
	// The returned amount is informational; callers re-read balances.
	Swap(ctx context.Context, tx *ledger.Tx, params SwapParams) (*uint256.Int, error)
}

// SwapParams is the venue-independent shape of an exact-input single swap
type SwapParams struct {
	Sender           common.Address
	Recipient        common.Address
	TokenIn          common.Address
	TokenOut         common.Address
	Fee              uint32
	AmountIn         *uint256.Int
	AmountOutMinimum *uint256.Int
}

// Reserves represents pool reserves in token0/token1 order
type Reserves struct {
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int
}
