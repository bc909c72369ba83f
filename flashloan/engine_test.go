package flashloan

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/dex/pancakeswap"
	"github.com/michaelpento.lv/flasharb/dex/uniswap"
	"github.com/michaelpento.lv/flasharb/flashloan/lender"
	"github.com/michaelpento.lv/flasharb/ledger"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

var (
	usdt     = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	wbnb     = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	cake     = common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82")
	owner    = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	stranger = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type world struct {
	l      *ledger.Ledger
	engine *Engine
	lender *lender.Pool
	poolA  *dex.Pool
	poolB  *dex.Pool
	venueA dex.Venue
	venueB dex.Venue
	reg    *metrics.Registry
	pair   types.AssetPair
}

// newWorld deploys the engine against a PancakeSwap V3 lender with venue A
// pricing WBNB at 500 USDT and venue B at 550 USDT. Non-nil venues replace
// the default adapters.
func newWorld(t testing.TB, venueA, venueB dex.Venue) *world {
	t.Helper()
	logger := zaptest.NewLogger(t)
	w := &world{l: ledger.New(logger)}

	pair, err := types.NewAssetPair(wbnb, usdt, types.FeeTier001)
	require.NoError(t, err)
	w.pair = pair

	w.lender, err = lender.NewPool(dex.PancakeSwapV3Deployer, pair, lender.ConventionPancakeV3, logger)
	require.NoError(t, err)
	require.NoError(t, w.l.Mint(usdt, w.lender.Address(), u(10_000_000_000)))
	require.NoError(t, w.l.Mint(wbnb, w.lender.Address(), u(10_000_000)))

	regA, err := dex.NewPoolRegistry(dex.PancakeSwapV3Deployer, 16)
	require.NoError(t, err)
	w.poolA, err = regA.Create(usdt, wbnb, types.FeeTier005)
	require.NoError(t, err)
	require.NoError(t, w.l.Mint(usdt, w.poolA.Address, u(1_000_000_000)))
	require.NoError(t, w.l.Mint(wbnb, w.poolA.Address, u(2_000_000)))

	regB, err := dex.NewPoolRegistry(dex.UniswapV3Factory, 16)
	require.NoError(t, err)
	w.poolB, err = regB.Create(usdt, wbnb, types.FeeTier005)
	require.NoError(t, err)
	require.NoError(t, w.l.Mint(usdt, w.poolB.Address, u(1_100_000_000)))
	require.NoError(t, w.l.Mint(wbnb, w.poolB.Address, u(2_000_000)))

	if venueA == nil {
		router, err := pancakeswap.NewSwapRouterV3(pancakeswap.MainnetRouter, regA, logger)
		require.NoError(t, err)
		venueA = pancakeswap.NewVenue(router)
	}
	if venueB == nil {
		router, err := uniswap.NewSwapRouter02(uniswap.MainnetRouter, regB, logger)
		require.NoError(t, err)
		venueB = uniswap.NewVenue(router)
	}
	w.venueA, w.venueB = venueA, venueB

	w.reg = metrics.NewRegistry(metrics.MetricsConfig{}, logger)
	w.engine, err = New(EngineConfig{
		Pair:     pair,
		Owner:    owner,
		Deployer: dex.PancakeSwapV3Deployer,
	}, w.lender, w.l, venueA, venueB,
		WithLogger(logger),
		WithMetrics(metrics.NewEngineMetrics(w.reg, w.reg.Namespace())))
	require.NoError(t, err)
	return w
}

// balances captures every account the tests touch
func (w *world) balances() map[string]string {
	accounts := []common.Address{
		w.engine.Address(), owner, stranger, w.lender.Address(),
		w.poolA.Address, w.poolB.Address, w.venueA.Spender(), w.venueB.Spender(),
	}
	out := make(map[string]string)
	for _, token := range []common.Address{usdt, wbnb, cake} {
		for _, acct := range accounts {
			out[token.Hex()+"/"+acct.Hex()] = w.l.BalanceOf(token, acct).Dec()
		}
	}
	return out
}

func swapAtoB(min1, min2 uint64) (types.SwapInstruction, types.SwapInstruction) {
	return types.SwapInstruction{TokenIn: usdt, TokenOut: wbnb, FeeTier: types.FeeTier005, Venue: types.VenueA, MinAmountOut: u(min1)},
		types.SwapInstruction{TokenIn: wbnb, TokenOut: usdt, FeeTier: types.FeeTier005, Venue: types.VenueB, MinAmountOut: u(min2)}
}

func expectedRoundTrip(t *testing.T, amountIn uint64) (out1, out2 *uint256.Int) {
	t.Helper()
	out1, err := dex.GetAmountOut(u(amountIn), u(1_000_000_000), u(2_000_000), types.FeeTier005)
	require.NoError(t, err)
	out2, err = dex.GetAmountOut(out1, u(2_000_000), u(1_100_000_000), types.FeeTier005)
	require.NoError(t, err)
	return out1, out2
}

func TestNew(t *testing.T) {
	w := newWorld(t, nil, nil)

	assert.Equal(t, owner, w.engine.Owner())
	assert.Equal(t, w.lender.Address(), w.engine.Pool())
	assert.Equal(t, w.pair, w.engine.Pair())
	assert.NotEqual(t, common.Address{}, w.engine.Address())

	tests := []struct {
		name          string
		cfg           EngineConfig
		pool          LendingPool
		errorContains string
	}{
		{
			name:          "zero owner",
			cfg:           EngineConfig{Pair: w.pair, Deployer: dex.PancakeSwapV3Deployer},
			pool:          w.lender,
			errorContains: "owner",
		},
		{
			name:          "unsorted pair",
			cfg:           EngineConfig{Pair: types.AssetPair{Asset0: wbnb, Asset1: usdt, FeeTier: types.FeeTier001}, Owner: owner, Deployer: dex.PancakeSwapV3Deployer},
			pool:          w.lender,
			errorContains: "sorted",
		},
		{
			name:          "pool from another deployer",
			cfg:           EngineConfig{Pair: w.pair, Owner: owner, Deployer: dex.UniswapV3Factory},
			pool:          w.lender,
			errorContains: "not the derived pool",
		},
		{
			name: "pool for another pair",
			cfg:  EngineConfig{Pair: w.pair, Owner: owner, Deployer: dex.PancakeSwapV3Deployer},
			pool: &fakePool{
				addr: w.lender.Address(), token0: usdt, token1: cake, fee: types.FeeTier001,
			},
			errorContains: "does not serve",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.pool, w.l, w.venueA, w.venueB)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}

	t.Run("explicit address", func(t *testing.T) {
		addr := common.HexToAddress("0x1A60dAD933F0459b7439C91f97eaAf963C0B4544")
		e, err := New(EngineConfig{Pair: w.pair, Owner: owner, Deployer: dex.PancakeSwapV3Deployer},
			w.lender, w.l, w.venueA, w.venueB, WithAddress(addr))
		require.NoError(t, err)
		assert.Equal(t, addr, e.Address())
	})
}

func TestRequestLoanProfitable(t *testing.T) {
	w := newWorld(t, nil, nil)
	ctx := context.Background()

	out1, out2 := expectedRoundTrip(t, 1_000_000)
	fee, err := dex.FlashFee(u(1_000_000), types.FeeTier001)
	require.NoError(t, err)
	owed := new(uint256.Int).Add(u(1_000_000), fee)
	require.True(t, out2.Gt(owed), "fixture must be profitable")

	swap1, swap2 := swapAtoB(1, 1)
	receipt, err := w.engine.RequestLoan(ctx, owner, types.LoanRequest{Amount0: u(1_000_000), Swap1: swap1, Swap2: swap2})
	require.NoError(t, err)
	require.True(t, receipt.Success)
	assert.Empty(t, receipt.Reason)

	require.Len(t, receipt.Legs, 2)
	assert.Equal(t, types.VenueA, receipt.Legs[0].Venue)
	assert.Equal(t, u(1_000_000), receipt.Legs[0].AmountIn)
	assert.Equal(t, out1, receipt.Legs[0].AmountOut)
	assert.Equal(t, out1, receipt.Legs[1].AmountIn)
	assert.Equal(t, out2, receipt.Legs[1].AmountOut)

	surplus := new(uint256.Int).Sub(out2, owed)
	require.NotNil(t, receipt.Settlement)
	assert.Equal(t, owed, receipt.Settlement.Owed0)
	assert.True(t, receipt.Settlement.Owed1.IsZero())
	assert.Equal(t, surplus, receipt.Settlement.Surplus0)

	assert.Equal(t, surplus, w.l.BalanceOf(usdt, w.engine.Address()))
	assert.True(t, w.l.BalanceOf(wbnb, w.engine.Address()).IsZero())
	assert.Equal(t, new(uint256.Int).Add(u(10_000_000_000), fee), w.l.BalanceOf(usdt, w.lender.Address()))

	// no approval outlives the swap it was granted for
	err = w.l.Execute(ctx, func(tx *ledger.Tx) error {
		assert.True(t, tx.Allowance(usdt, w.engine.Address(), w.venueA.Spender()).IsZero())
		assert.True(t, tx.Allowance(wbnb, w.engine.Address(), w.venueB.Spender()).IsZero())
		return nil
	})
	require.NoError(t, err)

	counters, err := w.reg.Counters()
	require.NoError(t, err)
	assert.Equal(t, float64(1), counters["flasharb_loan_requests_total{outcome=success}"])
}

func TestRequestLoanInsufficientOutputReverts(t *testing.T) {
	w := newWorld(t, nil, nil)
	before := w.balances()

	// buy WBNB where it is expensive and sell where it is cheap
	req := types.LoanRequest{
		Amount0: u(1000),
		Swap1:   types.SwapInstruction{TokenIn: usdt, TokenOut: wbnb, FeeTier: types.FeeTier005, Venue: types.VenueB, MinAmountOut: u(0)},
		Swap2:   types.SwapInstruction{TokenIn: wbnb, TokenOut: usdt, FeeTier: types.FeeTier005, Venue: types.VenueA, MinAmountOut: u(0)},
	}
	receipt, err := w.engine.RequestLoan(context.Background(), owner, req)
	require.ErrorIs(t, err, ErrRepaymentShortfall)
	require.ErrorIs(t, err, ErrLoanFailed)
	assert.False(t, receipt.Success)
	assert.Equal(t, ReasonRepaymentShortfall, receipt.Reason)
	assert.Equal(t, before, w.balances())

	counters, err := w.reg.Counters()
	require.NoError(t, err)
	assert.Equal(t, float64(1), counters["flasharb_reverts_total{reason=repayment-shortfall}"])
}

func TestRequestLoanSlippage(t *testing.T) {
	_, out2 := expectedRoundTrip(t, 1_000_000)

	t.Run("venue enforces minimum", func(t *testing.T) {
		w := newWorld(t, nil, nil)
		before := w.balances()

		swap1, swap2 := swapAtoB(1, out2.Uint64()+1)
		receipt, err := w.engine.RequestLoan(context.Background(), owner,
			types.LoanRequest{Amount0: u(1_000_000), Swap1: swap1, Swap2: swap2})
		require.ErrorIs(t, err, ErrSlippageExceeded)
		assert.Equal(t, ReasonSlippageExceeded, receipt.Reason)
		assert.Equal(t, before, w.balances())
	})

	t.Run("engine measures realized output", func(t *testing.T) {
		// venue A keeps the input and reports a large output it never pays
		liar := &scriptedVenue{
			name:    "liar",
			spender: common.HexToAddress("0x00000000000000000000000000000000000a11ce"),
			swap: func(ctx context.Context, tx *ledger.Tx, v *scriptedVenue, p dex.SwapParams) (*uint256.Int, error) {
				if err := tx.TransferFrom(p.TokenIn, v.spender, p.Sender, v.spender, p.AmountIn); err != nil {
					return nil, err
				}
				return u(1 << 40), nil
			},
		}
		w := newWorld(t, liar, nil)
		before := w.balances()

		swap1, swap2 := swapAtoB(1, 1)
		receipt, err := w.engine.RequestLoan(context.Background(), owner,
			types.LoanRequest{Amount0: u(1_000_000), Swap1: swap1, Swap2: swap2})
		require.ErrorIs(t, err, ErrSlippageExceeded)
		assert.Equal(t, ReasonSlippageExceeded, receipt.Reason)
		assert.Equal(t, before, w.balances())
	})
}

func TestRequestLoanAuthorization(t *testing.T) {
	w := newWorld(t, nil, nil)
	before := w.balances()
	swap1, swap2 := swapAtoB(1, 1)
	req := types.LoanRequest{Amount0: u(1_000_000), Swap1: swap1, Swap2: swap2}

	receipt, err := w.engine.RequestLoan(context.Background(), stranger, req)
	require.ErrorIs(t, err, ErrUnauthorizedCaller)
	assert.Equal(t, ReasonUnauthorizedCaller, receipt.Reason)
	assert.Equal(t, before, w.balances())

	t.Run("invalid request", func(t *testing.T) {
		receipt, err := w.engine.RequestLoan(context.Background(), owner, types.LoanRequest{Swap1: swap1, Swap2: swap2})
		require.ErrorIs(t, err, ErrInvalidRequest)
		require.ErrorIs(t, err, types.ErrEmptyLoan)
		assert.Equal(t, ReasonInvalidRequest, receipt.Reason)
	})

	t.Run("unknown venue", func(t *testing.T) {
		bad := swap2
		bad.Venue = types.Venue(7)
		receipt, err := w.engine.RequestLoan(context.Background(), owner, types.LoanRequest{Amount0: u(1000), Swap1: swap1, Swap2: bad})
		require.ErrorIs(t, err, ErrInvalidRequest)
		require.ErrorIs(t, err, types.ErrInvalidVenue)
		assert.Equal(t, ReasonUnknownVenue, receipt.Reason)
		assert.Equal(t, before, w.balances())
	})

	t.Run("missing minimum", func(t *testing.T) {
		bad := swap1
		bad.MinAmountOut = nil
		receipt, err := w.engine.RequestLoan(context.Background(), owner, types.LoanRequest{Amount0: u(1000), Swap1: bad, Swap2: swap2})
		require.ErrorIs(t, err, types.ErrNoMinimum)
		assert.Equal(t, ReasonInvalidRequest, receipt.Reason)
	})

	t.Run("owner check precedes validation", func(t *testing.T) {
		_, err := w.engine.RequestLoan(context.Background(), stranger, types.LoanRequest{})
		require.ErrorIs(t, err, ErrUnauthorizedCaller)
	})
}

func TestRequestLoanRoutes(t *testing.T) {
	ctx := context.Background()

	t.Run("leg 1 input not borrowed", func(t *testing.T) {
		w := newWorld(t, nil, nil)
		before := w.balances()
		swap1, swap2 := swapAtoB(1, 1)
		receipt, err := w.engine.RequestLoan(ctx, owner, types.LoanRequest{Amount1: u(10), Swap1: swap1, Swap2: swap2})
		require.ErrorIs(t, err, ErrInvalidRoute)
		assert.Equal(t, ReasonInvalidRoute, receipt.Reason)
		assert.Equal(t, before, w.balances())
	})

	t.Run("leg 2 from a token outside the pair", func(t *testing.T) {
		w := newWorld(t, nil, nil)
		swap1, _ := swapAtoB(1, 1)
		swap2 := types.SwapInstruction{TokenIn: cake, TokenOut: usdt, FeeTier: types.FeeTier005, Venue: types.VenueB, MinAmountOut: u(1)}
		_, err := w.engine.RequestLoan(ctx, owner, types.LoanRequest{Amount0: u(1000), Swap1: swap1, Swap2: swap2})
		require.ErrorIs(t, err, ErrInvalidRoute)
	})

	t.Run("both assets borrowed", func(t *testing.T) {
		w := newWorld(t, nil, nil)
		// leg 2 chains from leg 1, so the borrowed WBNB is never spent and
		// one stray WBNB covers its fee
		require.NoError(t, w.l.Mint(wbnb, w.engine.Address(), u(1)))
		swap1, swap2 := swapAtoB(1, 1)
		receipt, err := w.engine.RequestLoan(ctx, owner, types.LoanRequest{Amount0: u(1_000_000), Amount1: u(1000), Swap1: swap1, Swap2: swap2})
		require.NoError(t, err)
		assert.Equal(t, u(1001), receipt.Settlement.Owed1)
		assert.True(t, receipt.Settlement.Surplus1.IsZero())
	})
}

func TestRouterUnknownVenue(t *testing.T) {
	w := newWorld(t, nil, nil)
	err := w.l.Execute(context.Background(), func(tx *ledger.Tx) error {
		_, err := w.engine.router.Execute(context.Background(), tx, 1, types.SwapInstruction{
			TokenIn: usdt, TokenOut: wbnb, FeeTier: types.FeeTier005, Venue: types.Venue(7),
		}, u(1))
		return err
	})
	require.ErrorIs(t, err, ErrUnknownVenue)
	assert.Equal(t, ReasonUnknownVenue, Reason(err))
}

func TestCallbackAuthentication(t *testing.T) {
	w := newWorld(t, nil, nil)
	ctx := context.Background()
	swap1, swap2 := swapAtoB(1, 1)
	data := types.NewCallbackContext(owner, types.LoanRequest{Amount0: u(1000), Swap1: swap1, Swap2: swap2})
	require.NoError(t, w.l.Mint(usdt, w.engine.Address(), u(5000)))
	before := w.balances()

	t.Run("caller is not the pool", func(t *testing.T) {
		err := w.l.Execute(ctx, func(tx *ledger.Tx) error {
			return w.engine.PancakeV3FlashCallback(ctx, tx, stranger, u(1), u(0), data)
		})
		require.ErrorIs(t, err, ErrUnauthorizedCallback)
		assert.Equal(t, ReasonUnauthorizedCallback, Reason(err))
		assert.Equal(t, before, w.balances())
	})

	t.Run("pool address without a loan in flight", func(t *testing.T) {
		err := w.l.Execute(ctx, func(tx *ledger.Tx) error {
			return w.engine.UniswapV3FlashCallback(ctx, tx, w.engine.Pool(), u(1), u(0), data)
		})
		require.ErrorIs(t, err, ErrUnexpectedCallback)
		assert.Equal(t, before, w.balances())
	})
}

func TestLendingPoolMisbehaviour(t *testing.T) {
	ctx := context.Background()
	swap1, swap2 := swapAtoB(1, 1)
	req := types.LoanRequest{Amount0: u(1_000_000), Swap1: swap1, Swap2: swap2}

	cases := []struct {
		name   string
		flash  func(ctx context.Context, tx *ledger.Tx, p *fakePool, b lender.Borrower, a0, a1 *uint256.Int, data types.CallbackContext) error
		reason string
	}{
		{
			name: "never calls back",
			flash: func(ctx context.Context, tx *ledger.Tx, p *fakePool, b lender.Borrower, a0, a1 *uint256.Int, data types.CallbackContext) error {
				return nil
			},
			reason: ReasonLoanFailed,
		},
		{
			name: "tampered context",
			flash: func(ctx context.Context, tx *ledger.Tx, p *fakePool, b lender.Borrower, a0, a1 *uint256.Int, data types.CallbackContext) error {
				data.Amount0 = u(2_000_000)
				return b.(lender.PancakeV3FlashCallback).PancakeV3FlashCallback(ctx, tx, p.addr, u(0), u(0), data)
			},
			reason: ReasonUnexpectedCallback,
		},
		{
			name: "calls back twice",
			flash: func(ctx context.Context, tx *ledger.Tx, p *fakePool, b lender.Borrower, a0, a1 *uint256.Int, data types.CallbackContext) error {
				cb := b.(lender.PancakeV3FlashCallback)
				if err := tx.Transfer(usdt, p.addr, b.Address(), a0); err != nil {
					return err
				}
				if err := cb.PancakeV3FlashCallback(ctx, tx, p.addr, u(0), u(0), data); err != nil {
					return err
				}
				return cb.PancakeV3FlashCallback(ctx, tx, p.addr, u(0), u(0), data)
			},
			reason: ReasonUnexpectedCallback,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := newWorld(t, nil, nil)
			fp := &fakePool{
				addr: w.lender.Address(), token0: usdt, token1: wbnb, fee: types.FeeTier001, flash: tc.flash,
			}
			e, err := New(EngineConfig{Pair: w.pair, Owner: owner, Deployer: dex.PancakeSwapV3Deployer},
				fp, w.l, w.venueA, w.venueB, WithAddress(w.engine.Address()))
			require.NoError(t, err)
			before := w.balances()

			receipt, err := e.RequestLoan(ctx, owner, req)
			require.Error(t, err)
			assert.Equal(t, tc.reason, receipt.Reason)
			assert.False(t, receipt.Success)
			assert.Equal(t, before, w.balances())
		})
	}
}

func TestReentrantVenue(t *testing.T) {
	ctx := context.Background()
	var engine *Engine
	var reentry []error

	hostile := &scriptedVenue{
		name:    "hostile",
		spender: common.HexToAddress("0x00000000000000000000000000000000000bad00"),
	}
	w := newWorld(t, hostile, nil)
	engine = w.engine
	swap1, swap2 := swapAtoB(1, 1)
	req := types.LoanRequest{Amount0: u(1_000_000), Swap1: swap1, Swap2: swap2}
	data := types.NewCallbackContext(owner, req)

	hostile.swap = func(ctx context.Context, tx *ledger.Tx, v *scriptedVenue, p dex.SwapParams) (*uint256.Int, error) {
		_, err := engine.RequestLoanTx(ctx, tx, owner, req)
		reentry = append(reentry, err)
		_, err = engine.WithdrawStuckFundsTx(ctx, tx, owner, usdt)
		reentry = append(reentry, err)
		reentry = append(reentry, engine.PancakeV3FlashCallback(ctx, tx, engine.Pool(), u(0), u(0), data))

		// then trade honestly through the real pool
		amountOut, err := w.poolA.Quote(tx, p.TokenIn, p.AmountIn)
		if err != nil {
			return nil, err
		}
		if err := tx.TransferFrom(p.TokenIn, v.spender, p.Sender, w.poolA.Address, p.AmountIn); err != nil {
			return nil, err
		}
		return amountOut, tx.Transfer(p.TokenOut, w.poolA.Address, p.Recipient, amountOut)
	}

	receipt, err := engine.RequestLoan(ctx, owner, req)
	require.NoError(t, err)
	assert.True(t, receipt.Success)

	require.Len(t, reentry, 3)
	assert.ErrorIs(t, reentry[0], ErrReentrantCall)
	assert.ErrorIs(t, reentry[1], ErrReentrantCall)
	assert.ErrorIs(t, reentry[2], ErrUnexpectedCallback)
}

func TestReentrantVenuePublicEntryPoints(t *testing.T) {
	ctx := context.Background()
	var engine *Engine
	var reentry []error

	hostile := &scriptedVenue{
		name:    "hostile",
		spender: common.HexToAddress("0x00000000000000000000000000000000000bad00"),
	}
	w := newWorld(t, hostile, nil)
	engine = w.engine
	swap1, swap2 := swapAtoB(1, 1)
	req := types.LoanRequest{Amount0: u(1_000_000), Swap1: swap1, Swap2: swap2}

	hostile.swap = func(ctx context.Context, tx *ledger.Tx, v *scriptedVenue, p dex.SwapParams) (*uint256.Int, error) {
		_, err := engine.WithdrawStuckFunds(ctx, stranger, usdt)
		reentry = append(reentry, err)
		_, err = engine.WithdrawStuckFunds(ctx, owner, usdt)
		reentry = append(reentry, err)
		receipt, err := engine.RequestLoan(ctx, owner, req)
		reentry = append(reentry, err)
		if receipt == nil || receipt.Reason != ReasonReentrantCall {
			return nil, assert.AnError
		}

		amountOut, err := w.poolA.Quote(tx, p.TokenIn, p.AmountIn)
		if err != nil {
			return nil, err
		}
		if err := tx.TransferFrom(p.TokenIn, v.spender, p.Sender, w.poolA.Address, p.AmountIn); err != nil {
			return nil, err
		}
		return amountOut, tx.Transfer(p.TokenOut, w.poolA.Address, p.Recipient, amountOut)
	}

	done := make(chan struct{})
	var receipt *types.Receipt
	var err error
	go func() {
		defer close(done)
		receipt, err = engine.RequestLoan(ctx, owner, req)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RequestLoan blocked on a reentrant venue")
	}

	require.NoError(t, err)
	assert.True(t, receipt.Success)

	require.Len(t, reentry, 3)
	assert.ErrorIs(t, reentry[0], ErrUnauthorizedCaller)
	assert.ErrorIs(t, reentry[1], ErrReentrantCall)
	assert.ErrorIs(t, reentry[2], ErrReentrantCall)

	// the ledger lock was released
	assert.Equal(t, receipt.Settlement.Surplus0, w.l.BalanceOf(usdt, engine.Address()))
}

func TestUniswapConventionLender(t *testing.T) {
	w := newWorld(t, nil, nil)
	logger := zaptest.NewLogger(t)

	uniLender, err := lender.NewPool(dex.UniswapV3Factory, w.pair, lender.ConventionUniswapV3, logger)
	require.NoError(t, err)
	require.NoError(t, w.l.Mint(usdt, uniLender.Address(), u(5_000_000)))

	e, err := New(EngineConfig{Pair: w.pair, Owner: owner, Deployer: dex.UniswapV3Factory},
		uniLender, w.l, w.venueA, w.venueB, WithLogger(logger),
		WithAddress(common.HexToAddress("0x00000000000000000000000000000000000e0e0e")))
	require.NoError(t, err)

	swap1, swap2 := swapAtoB(1, 1)
	receipt, err := e.RequestLoan(context.Background(), owner, types.LoanRequest{Amount0: u(1_000_000), Swap1: swap1, Swap2: swap2})
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.True(t, receipt.Settlement.Surplus0.Sign() > 0)
}

func BenchmarkRequestLoan(b *testing.B) {
	w := newWorld(b, nil, nil)
	ctx := context.Background()
	swap1, swap2 := swapAtoB(1, 1)
	req := types.LoanRequest{Amount0: u(1000), Swap1: swap1, Swap2: swap2}

	for i := 0; i < b.N; i++ {
		_, _ = w.engine.RequestLoan(ctx, owner, req)
	}
}
