package uniswap

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/ledger"
)

// Contract addresses on BNB Chain
var (
	MainnetRouter  = common.HexToAddress("0xB971eF87ede563556b2ED4b1C0b0019111Dd85d2")
	MainnetFactory = common.HexToAddress("0xdB1d10011AD0Ff90774D0C6Bb92e5C5c8b4461F7")
)

// SwapRouter02 ABI, exactInputSingle only
const routerABIJson = `[{
	"inputs": [{
		"components": [
			{"internalType": "address", "name": "tokenIn", "type": "address"},
			{"internalType": "address", "name": "tokenOut", "type": "address"},
			{"internalType": "uint24", "name": "fee", "type": "uint24"},
			{"internalType": "address", "name": "recipient", "type": "address"},
			{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"internalType": "uint256", "name": "amountOutMinimum", "type": "uint256"},
			{"internalType": "uint160", "name": "sqrtPriceLimitX96", "type": "uint160"}
		],
		"internalType": "struct IV3SwapRouter.ExactInputSingleParams",
		"name": "params",
		"type": "tuple"
	}],
	"name": "exactInputSingle",
	"outputs": [{"internalType": "uint256", "name": "amountOut", "type": "uint256"}],
	"stateMutability": "payable",
	"type": "function"
}]`

type exactInputSingleTuple struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// SwapRouter02 implements ISwapRouter02 over the pools of one factory
type SwapRouter02 struct {
	address common.Address
	pools   *dex.PoolRegistry
	logger  *zap.Logger
	abi     abi.ABI
}

var _ ISwapRouter02 = (*SwapRouter02)(nil)

// NewSwapRouter02 creates a new Uniswap router
func NewSwapRouter02(address common.Address, pools *dex.PoolRegistry, logger *zap.Logger) (*SwapRouter02, error) {
	if pools == nil {
		return nil, fmt.Errorf("pool registry cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parsedABI, err := abi.JSON(strings.NewReader(routerABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}

	return &SwapRouter02{
		address: address,
		pools:   pools,
		logger:  logger.With(zap.String("router", "UniswapV3")),
		abi:     parsedABI,
	}, nil
}

// GetRouterAddress returns the router contract address
func (u *SwapRouter02) GetRouterAddress() common.Address {
	return u.address
}

// Pools returns the registry the router resolves pools from
func (u *SwapRouter02) Pools() *dex.PoolRegistry {
	return u.pools
}

// ExactInputSingle swaps AmountIn of TokenIn for TokenOut, pulling the input
// from sender through the router's allowance
func (u *SwapRouter02) ExactInputSingle(ctx context.Context, tx *ledger.Tx, sender common.Address, params ExactInputSingleParams) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pool, err := u.pools.Get(params.TokenIn, params.TokenOut, params.Fee)
	if err != nil {
		return nil, err
	}

	amountOut, err := pool.Swap(tx, u.address, sender, params.Recipient, params.TokenIn, params.AmountIn, params.AmountOutMinimum)
	if err != nil {
		return nil, err
	}

	if ce := u.logger.Check(zap.DebugLevel, "Swap executed"); ce != nil {
		fields := []zap.Field{
			zap.String("pool", pool.Address.Hex()),
			zap.String("amount_in", params.AmountIn.Dec()),
			zap.String("amount_out", amountOut.Dec()),
		}
		if calldata, err := u.EncodeExactInputSingle(params); err == nil {
			fields = append(fields, zap.String("calldata", hexutil.Encode(calldata)))
		}
		ce.Write(fields...)
	}
	return amountOut, nil
}

// EncodeExactInputSingle returns the router calldata for params
func (u *SwapRouter02) EncodeExactInputSingle(params ExactInputSingleParams) ([]byte, error) {
	amountIn, amountOutMin := new(big.Int), new(big.Int)
	if params.AmountIn != nil {
		amountIn = params.AmountIn.ToBig()
	}
	if params.AmountOutMinimum != nil {
		amountOutMin = params.AmountOutMinimum.ToBig()
	}

	data, err := u.abi.Pack("exactInputSingle", exactInputSingleTuple{
		TokenIn:           params.TokenIn,
		TokenOut:          params.TokenOut,
		Fee:               big.NewInt(int64(params.Fee)),
		Recipient:         params.Recipient,
		AmountIn:          amountIn,
		AmountOutMinimum:  amountOutMin,
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pack exactInputSingle: %w", err)
	}
	return data, nil
}
