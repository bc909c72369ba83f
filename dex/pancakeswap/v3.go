package pancakeswap

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

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
	MainnetRouter = common.HexToAddress("0x1b81D678ffb9C0263b24A97847620C99d213eB14")
)

// V3 SwapRouter ABI, exactInputSingle only
const routerABIJson = `[{
	"inputs": [{
		"components": [
			{"internalType": "address", "name": "tokenIn", "type": "address"},
			{"internalType": "address", "name": "tokenOut", "type": "address"},
			{"internalType": "uint24", "name": "fee", "type": "uint24"},
			{"internalType": "address", "name": "recipient", "type": "address"},
			{"internalType": "uint256", "name": "deadline", "type": "uint256"},
			{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"internalType": "uint256", "name": "amountOutMinimum", "type": "uint256"},
			{"internalType": "uint160", "name": "sqrtPriceLimitX96", "type": "uint160"}
		],
		"internalType": "struct ISwapRouter.ExactInputSingleParams",
		"name": "params",
		"type": "tuple"
	}],
	"name": "exactInputSingle",
	"outputs": [{"internalType": "uint256", "name": "amountOut", "type": "uint256"}],
	"stateMutability": "payable",
	"type": "function"
}]`

// ExactInputSingleParams mirrors ISwapRouter.ExactInputSingleParams
type ExactInputSingleParams struct {
	TokenIn          common.Address
	TokenOut         common.Address
	Fee              uint32
	Recipient        common.Address
	Deadline         uint64
	AmountIn         *uint256.Int
	AmountOutMinimum *uint256.Int
}

// abi tuple shape; field names follow the ABI component names
type exactInputSingleTuple struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// SwapRouterV3 executes exact-input swaps against PancakeSwap V3 pools
type SwapRouterV3 struct {
	address common.Address
	pools   *dex.PoolRegistry
	now     func() time.Time
	logger  *zap.Logger
	abi     abi.ABI
}

// NewSwapRouterV3 creates a router over the pools in registry
func NewSwapRouterV3(address common.Address, pools *dex.PoolRegistry, logger *zap.Logger) (*SwapRouterV3, error) {
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

	return &SwapRouterV3{
		address: address,
		pools:   pools,
		now:     time.Now,
		logger:  logger.With(zap.String("router", "PancakeSwapV3")),
		abi:     parsedABI,
	}, nil
}

// SetClock replaces the clock deadlines are checked against
func (r *SwapRouterV3) SetClock(now func() time.Time) {
	r.now = now
}

// GetRouterAddress returns the router contract address
func (r *SwapRouterV3) GetRouterAddress() common.Address {
	return r.address
}

// Pools returns the registry the router resolves pools from
func (r *SwapRouterV3) Pools() *dex.PoolRegistry {
	return r.pools
}

// ExactInputSingle swaps AmountIn of TokenIn for as much TokenOut as possible.
// sender must have approved the router for AmountIn.
func (r *SwapRouterV3) ExactInputSingle(ctx context.Context, tx *ledger.Tx, sender common.Address, params ExactInputSingleParams) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if now := r.now().Unix(); now < 0 || uint64(now) > params.Deadline {
		return nil, fmt.Errorf("%w: deadline %d", dex.ErrTransactionTooOld, params.Deadline)
	}

	pool, err := r.pools.Get(params.TokenIn, params.TokenOut, params.Fee)
	if err != nil {
		return nil, err
	}

	amountOut, err := pool.Swap(tx, r.address, sender, params.Recipient, params.TokenIn, params.AmountIn, params.AmountOutMinimum)
	if err != nil {
		return nil, err
	}

	if ce := r.logger.Check(zap.DebugLevel, "Swap executed"); ce != nil {
		fields := []zap.Field{
			zap.String("pool", pool.Address.Hex()),
			zap.String("amount_in", params.AmountIn.Dec()),
			zap.String("amount_out", amountOut.Dec()),
		}
		if calldata, err := r.EncodeExactInputSingle(params); err == nil {
			fields = append(fields, zap.String("calldata", hexutil.Encode(calldata)))
		}
		ce.Write(fields...)
	}
	return amountOut, nil
}

// EncodeExactInputSingle returns the router calldata for params
func (r *SwapRouterV3) EncodeExactInputSingle(params ExactInputSingleParams) ([]byte, error) {
	data, err := r.abi.Pack("exactInputSingle", exactInputSingleTuple{
		TokenIn:           params.TokenIn,
		TokenOut:          params.TokenOut,
		Fee:               new(big.Int).SetUint64(uint64(params.Fee)),
		Recipient:         params.Recipient,
		Deadline:          new(big.Int).SetUint64(params.Deadline),
		AmountIn:          toBig(params.AmountIn),
		AmountOutMinimum:  toBig(params.AmountOutMinimum),
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pack exactInputSingle: %w", err)
	}
	return data, nil
}

func toBig(x *uint256.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x.ToBig()
}
