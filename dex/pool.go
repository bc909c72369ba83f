package dex

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/michaelpento.lv/flasharb/ledger"
	"github.com/michaelpento.lv/flasharb/types"
)

var (
	ErrPoolNotFound          = errors.New("pool not found")
	ErrPoolExists            = errors.New("pool already exists")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrTooLittleReceived     = errors.New("too little received")
	ErrTransactionTooOld     = errors.New("transaction too old")
	ErrMathOverflow          = errors.New("math overflow")
)

// Deployer identifies the contract that CREATE2-deploys a family of V3 pools
type Deployer struct {
	Address      common.Address
	InitCodeHash common.Hash
}

// Known pool deployers
var (
	PancakeSwapV3Deployer = Deployer{
		Address:      common.HexToAddress("0x41ff9AA7e16B8B1a8a8dc4f0eFacd93D02d071c9"),
		InitCodeHash: common.HexToHash("0x6ce8eb472fa82df5469c6ab6d485f17c3ad13c8cd7af59b3d4a8026c5ce0f7e2"),
	}
	UniswapV3Factory = Deployer{
		Address:      common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"),
		InitCodeHash: common.HexToHash("0xe34f199b19b2b4f47f68442619d555527d244f78a3297ea89325f843f87b8b54"),
	}
)

var poolKeyArgs abi.Arguments

func init() {
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(fmt.Sprintf("dex: address abi type: %v", err))
	}
	uint24Ty, err := abi.NewType("uint24", "", nil)
	if err != nil {
		panic(fmt.Sprintf("dex: uint24 abi type: %v", err))
	}
	poolKeyArgs = abi.Arguments{{Type: addressTy}, {Type: addressTy}, {Type: uint24Ty}}
}

// ComputePoolAddress derives the pool address for a token pair and fee tier:
// keccak256(0xff ++ deployer ++ keccak256(abi.encode(token0, token1, fee)) ++ initCodeHash)
func ComputePoolAddress(deployer Deployer, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	if tokenA == tokenB {
		return common.Address{}, types.ErrIdenticalAssets
	}
	token0, token1 := types.SortTokens(tokenA, tokenB)

	key, err := poolKeyArgs.Pack(token0, token1, new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to encode pool key: %w", err)
	}
	salt := crypto.Keccak256(key)

	return common.BytesToAddress(crypto.Keccak256([]byte{
		0xff,
	}, deployer.Address.Bytes(), salt, deployer.InitCodeHash.Bytes())), nil
}

// Pool is a constant-product pool whose reserves are its ledger balances
type Pool struct {
	Address common.Address
	Token0  common.Address
	Token1  common.Address
	Fee     uint32
}

// GetReserves reads the pool's balances inside the transaction
func (p *Pool) GetReserves(tx *ledger.Tx) *Reserves {
	return &Reserves{
		Reserve0: tx.BalanceOf(p.Token0, p.Address),
		Reserve1: tx.BalanceOf(p.Token1, p.Address),
	}
}

// Quote returns the output for amountIn of tokenIn at current reserves
func (p *Pool) Quote(tx *ledger.Tx, tokenIn common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	if _, err := p.other(tokenIn); err != nil {
		return nil, err
	}
	r := p.GetReserves(tx)
	if tokenIn == p.Token1 {
		return GetAmountOut(amountIn, r.Reserve1, r.Reserve0, p.Fee)
	}
	return GetAmountOut(amountIn, r.Reserve0, r.Reserve1, p.Fee)
}

// Swap collects amountIn of tokenIn from payer through spender's allowance and
// sends the output to recipient.
func (p *Pool) Swap(tx *ledger.Tx, spender, payer, recipient, tokenIn common.Address, amountIn, minOut *uint256.Int) (*uint256.Int, error) {
	tokenOut, err := p.other(tokenIn)
	if err != nil {
		return nil, err
	}

	amountOut, err := p.Quote(tx, tokenIn, amountIn)
	if err != nil {
		return nil, err
	}
	if minOut != nil && amountOut.Lt(minOut) {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrTooLittleReceived, amountOut.Dec(), minOut.Dec())
	}

	if err := tx.TransferFrom(tokenIn, spender, payer, p.Address, amountIn); err != nil {
		return nil, fmt.Errorf("failed to collect input: %w", err)
	}
	if err := tx.Transfer(tokenOut, p.Address, recipient, amountOut); err != nil {
		return nil, fmt.Errorf("failed to pay output: %w", err)
	}
	return amountOut, nil
}

func (p *Pool) other(token common.Address) (common.Address, error) {
	switch token {
	case p.Token0:
		return p.Token1, nil
	case p.Token1:
		return p.Token0, nil
	}
	return common.Address{}, fmt.Errorf("%w: token %s not in pool %s", ErrPoolNotFound, token.Hex(), p.Address.Hex())
}

var feeDenominator = uint256.NewInt(uint64(types.FeeDenominator))

// GetAmountOut calculates output amount for an input amount, with fee in
// hundredths of a bip
func GetAmountOut(amountIn, reserveIn, reserveOut *uint256.Int, fee uint32) (*uint256.Int, error) {
	if amountIn == nil || amountIn.IsZero() {
		return new(uint256.Int), nil
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	if fee >= types.FeeDenominator {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidFeeTier, fee)
	}

	amountInWithFee, overflow := new(uint256.Int).MulOverflow(amountIn, uint256.NewInt(uint64(types.FeeDenominator-fee)))
	if overflow {
		return nil, ErrMathOverflow
	}
	numerator, overflow := new(uint256.Int).MulOverflow(amountInWithFee, reserveOut)
	if overflow {
		return nil, ErrMathOverflow
	}
	scaledReserve, overflow := new(uint256.Int).MulOverflow(reserveIn, feeDenominator)
	if overflow {
		return nil, ErrMathOverflow
	}
	denominator, overflow := new(uint256.Int).AddOverflow(scaledReserve, amountInWithFee)
	if overflow {
		return nil, ErrMathOverflow
	}
	return new(uint256.Int).Div(numerator, denominator), nil
}

// FlashFee returns ceil(amount * fee / 1e6), the V3 flash fee
func FlashFee(amount *uint256.Int, fee uint32) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return new(uint256.Int), nil
	}
	product, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(uint64(fee)))
	if overflow {
		return nil, ErrMathOverflow
	}
	quo, rem := new(uint256.Int).DivMod(product, feeDenominator, new(uint256.Int))
	if !rem.IsZero() {
		quo.AddUint64(quo, 1)
	}
	return quo, nil
}
