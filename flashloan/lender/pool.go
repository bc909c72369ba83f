// Package lender implements a V3-style lending pool: it transfers the
// requested amounts to a borrower, invokes the borrower's flash callback, and
// requires its balances to have grown by the flash fee when the callback
// returns.
package lender

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/ledger"
	"github.com/michaelpento.lv/flasharb/types"
)

var (
	ErrPoolLocked             = errors.New("pool locked")
	ErrFlashNotPaid           = errors.New("flash loan not repaid")
	ErrCallbackNotImplemented = errors.New("borrower does not implement flash callback")
	ErrInsufficientLiquidity  = errors.New("insufficient pool liquidity")
	ErrInvalidConvention      = errors.New("invalid callback convention")
)

// Convention selects which flash callback the pool invokes on the borrower
type Convention uint8

const (
	ConventionPancakeV3 Convention = iota
	ConventionUniswapV3
)

func (c Convention) String() string {
	switch c {
	case ConventionPancakeV3:
		return "pancakev3"
	case ConventionUniswapV3:
		return "uniswapv3"
	}
	return fmt.Sprintf("Convention(%d)", uint8(c))
}

// ParseConvention accepts "pancakev3" or "uniswapv3"
func ParseConvention(s string) (Convention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pancakev3", "pancakeswap", "pancake":
		return ConventionPancakeV3, nil
	case "uniswapv3", "uniswap":
		return ConventionUniswapV3, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidConvention, s)
}

// Borrower is anything with a ledger account the pool can lend to
type Borrower interface {
	Address() common.Address
}

// PancakeV3FlashCallback is implemented by borrowers of PancakeSwap V3 pools
type PancakeV3FlashCallback interface {
	PancakeV3FlashCallback(ctx context.Context, tx *ledger.Tx, caller common.Address, fee0, fee1 *uint256.Int, data types.CallbackContext) error
}

// UniswapV3FlashCallback is implemented by borrowers of Uniswap V3 pools
type UniswapV3FlashCallback interface {
	UniswapV3FlashCallback(ctx context.Context, tx *ledger.Tx, caller common.Address, fee0, fee1 *uint256.Int, data types.CallbackContext) error
}

// Pool is a flash lender for one token pair and fee tier
type Pool struct {
	address    common.Address
	token0     common.Address
	token1     common.Address
	fee        uint32
	convention Convention

	lock   sync.Mutex
	logger *zap.Logger
}

// NewPool creates the lender for pair at the address deployer would assign it
func NewPool(deployer dex.Deployer, pair types.AssetPair, convention Convention, logger *zap.Logger) (*Pool, error) {
	if convention != ConventionPancakeV3 && convention != ConventionUniswapV3 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConvention, convention)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	addr, err := dex.ComputePoolAddress(deployer, pair.Asset0, pair.Asset1, pair.FeeTier)
	if err != nil {
		return nil, fmt.Errorf("failed to derive pool address: %w", err)
	}

	return &Pool{
		address:    addr,
		token0:     pair.Asset0,
		token1:     pair.Asset1,
		fee:        pair.FeeTier,
		convention: convention,
		logger:     logger.With(zap.String("pool", addr.Hex())),
	}, nil
}

func (p *Pool) Address() common.Address { return p.address }
func (p *Pool) Token0() common.Address { return p.token0 }
func (p *Pool) Token1() common.Address { return p.token1 }
func (p *Pool) Fee() uint32 { return p.fee }
func (p *Pool) Convention() Convention { return p.convention }

// GetLiquidity returns the pool's balance of token
func (p *Pool) GetLiquidity(tx *ledger.Tx, token common.Address) *uint256.Int {
	return tx.BalanceOf(token, p.address)
}

// GetFlashLoanFee returns the fee charged for borrowing amount
func (p *Pool) GetFlashLoanFee(amount *uint256.Int) (*uint256.Int, error) {
	return dex.FlashFee(amount, p.fee)
}

// Flash lends amount0 of token0 and amount1 of token1 to borrower, invokes
// its callback with the fees owed, and verifies repayment.
func (p *Pool) Flash(ctx context.Context, tx *ledger.Tx, borrower Borrower, amount0, amount1 *uint256.Int, data types.CallbackContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.lock.TryLock() {
		return ErrPoolLocked
	}
	defer p.lock.Unlock()

	amount0, amount1 = types.Clone(amount0), types.Clone(amount1)

	fee0, err := p.GetFlashLoanFee(amount0)
	if err != nil {
		return fmt.Errorf("failed to compute fee0: %w", err)
	}
	fee1, err := p.GetFlashLoanFee(amount1)
	if err != nil {
		return fmt.Errorf("failed to compute fee1: %w", err)
	}

	balance0Before := p.GetLiquidity(tx, p.token0)
	balance1Before := p.GetLiquidity(tx, p.token1)
	if balance0Before.Lt(amount0) || balance1Before.Lt(amount1) {
		return fmt.Errorf("%w: have %s/%s, want %s/%s", ErrInsufficientLiquidity,
			balance0Before.Dec(), balance1Before.Dec(), amount0.Dec(), amount1.Dec())
	}

	recipient := borrower.Address()
	if err := tx.Transfer(p.token0, p.address, recipient, amount0); err != nil {
		return err
	}
	if err := tx.Transfer(p.token1, p.address, recipient, amount1); err != nil {
		return err
	}

	if err := p.callback(ctx, tx, borrower, fee0, fee1, data); err != nil {
		return err
	}

	if err := p.checkPaid(tx, p.token0, balance0Before, fee0); err != nil {
		return err
	}
	if err := p.checkPaid(tx, p.token1, balance1Before, fee1); err != nil {
		return err
	}

	p.logger.Debug("Flash loan repaid",
		zap.String("amount0", amount0.Dec()),
		zap.String("amount1", amount1.Dec()),
		zap.String("fee0", fee0.Dec()),
		zap.String("fee1", fee1.Dec()))
	return nil
}

func (p *Pool) callback(ctx context.Context, tx *ledger.Tx, borrower Borrower, fee0, fee1 *uint256.Int, data types.CallbackContext) error {
	switch p.convention {
	case ConventionPancakeV3:
		cb, ok := borrower.(PancakeV3FlashCallback)
		if !ok {
			return fmt.Errorf("%w: pancakeV3FlashCallback", ErrCallbackNotImplemented)
		}
		return cb.PancakeV3FlashCallback(ctx, tx, p.address, fee0, fee1, data)
	case ConventionUniswapV3:
		cb, ok := borrower.(UniswapV3FlashCallback)
		if !ok {
			return fmt.Errorf("%w: uniswapV3FlashCallback", ErrCallbackNotImplemented)
		}
		return cb.UniswapV3FlashCallback(ctx, tx, p.address, fee0, fee1, data)
	}
	return fmt.Errorf("%w: %s", ErrInvalidConvention, p.convention)
}

func (p *Pool) checkPaid(tx *ledger.Tx, token common.Address, before, fee *uint256.Int) error {
	want, overflow := new(uint256.Int).AddOverflow(before, fee)
	if overflow {
		return fmt.Errorf("%w: token=%s", dex.ErrMathOverflow, token.Hex())
	}
	if after := p.GetLiquidity(tx, token); after.Lt(want) {
		return fmt.Errorf("%w: token=%s have=%s want=%s", ErrFlashNotPaid, token.Hex(), after.Dec(), want.Dec())
	}
	return nil
}
