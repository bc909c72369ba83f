package uniswap

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/michaelpento.lv/flasharb/ledger"
)

// ISwapRouter02 represents the exact-input surface of the Uniswap SwapRouter02 contract
type ISwapRouter02 interface {
	ExactInputSingle(ctx context.Context, tx *ledger.Tx, sender common.Address, params ExactInputSingleParams) (*uint256.Int, error)
	EncodeExactInputSingle(params ExactInputSingleParams) ([]byte, error)
	GetRouterAddress() common.Address
}

// ExactInputSingleParams mirrors IV3SwapRouter.ExactInputSingleParams.
// SwapRouter02 dropped the deadline field; callers wrap it in multicall instead.
type ExactInputSingleParams struct {
	TokenIn          common.Address
	TokenOut         common.Address
	Fee              uint32
	Recipient        common.Address
	AmountIn         *uint256.Int
	AmountOutMinimum *uint256.Int
}
