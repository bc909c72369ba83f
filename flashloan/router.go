package flashloan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/ledger"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// SwapRouter dispatches swap legs to the venue each instruction names
type SwapRouter struct {
	self    common.Address
	venueA  dex.Venue
	venueB  dex.Venue
	metrics *metrics.EngineMetrics
	logger  *zap.Logger
}

// NewSwapRouter creates a router that trades from self's balances
func NewSwapRouter(self common.Address, venueA, venueB dex.Venue, m *metrics.EngineMetrics, logger *zap.Logger) *SwapRouter {
	if m == nil {
		m = metrics.NewEngineMetrics(nil, metrics.DefaultNamespace)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SwapRouter{
		self:    self,
		venueA:  venueA,
		venueB:  venueB,
		metrics: m,
		logger:  logger,
	}
}

func (r *SwapRouter) venue(v types.Venue) (dex.Venue, error) {
	switch v {
	case types.VenueA:
		return r.venueA, nil
	case types.VenueB:
		return r.venueB, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, v)
	}
}

// Route executes both legs of the loan in order. Leg 1 spends the borrowed
// principal of its input token. Leg 2 spends leg 1's output when it chains
// from it, and otherwise the borrowed principal of its own input token.
func (r *SwapRouter) Route(ctx context.Context, tx *ledger.Tx, pair types.AssetPair, data types.CallbackContext) ([]types.LegResult, error) {
	borrowed := func(token common.Address) *uint256.Int {
		switch token {
		case pair.Asset0:
			return types.Clone(data.Amount0)
		case pair.Asset1:
			return types.Clone(data.Amount1)
		}
		return new(uint256.Int)
	}

	leg1, err := r.Execute(ctx, tx, 1, data.Swap1, borrowed(data.Swap1.TokenIn))
	if err != nil {
		return nil, err
	}

	in2 := borrowed(data.Swap2.TokenIn)
	if data.Swap2.TokenIn == data.Swap1.TokenOut {
		in2 = types.Clone(leg1.AmountOut)
	}
	leg2, err := r.Execute(ctx, tx, 2, data.Swap2, in2)
	if err != nil {
		return nil, err
	}

	return []types.LegResult{*leg1, *leg2}, nil
}

// Execute runs one swap leg and returns its realized output, measured as the
// change in the router's balance of the output token
func (r *SwapRouter) Execute(ctx context.Context, tx *ledger.Tx, leg int, ins types.SwapInstruction, amountIn *uint256.Int) (*types.LegResult, error) {
	venue, err := r.venue(ins.Venue)
	if err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.IsZero() {
		return nil, fmt.Errorf("%w: leg %d spends no %s", ErrInvalidRoute, leg, ins.TokenIn.Hex())
	}

	start := time.Now()
	defer func() {
		r.metrics.LegLatency.WithLabelValues(ins.Venue.String()).Observe(time.Since(start).Seconds())
	}()

	spender := venue.Spender()
	before := tx.BalanceOf(ins.TokenOut, r.self)

	if err := tx.Approve(ins.TokenIn, r.self, spender, amountIn); err != nil {
		return nil, err
	}
	_, err = venue.Swap(ctx, tx, dex.SwapParams{
		Sender:           r.self,
		Recipient:        r.self,
		TokenIn:          ins.TokenIn,
		TokenOut:         ins.TokenOut,
		Fee:              ins.FeeTier,
		AmountIn:         amountIn,
		AmountOutMinimum: ins.MinOut(),
	})
	if err != nil {
		if errors.Is(err, dex.ErrTooLittleReceived) {
			return nil, fmt.Errorf("%w: leg %d on %s: %w", ErrSlippageExceeded, leg, venue.Name(), err)
		}
		return nil, fmt.Errorf("leg %d on %s: %w", leg, venue.Name(), err)
	}
	if err := tx.Approve(ins.TokenIn, r.self, spender, nil); err != nil {
		return nil, err
	}

	after := tx.BalanceOf(ins.TokenOut, r.self)
	out := new(uint256.Int)
	if after.Gt(before) {
		out.Sub(after, before)
	}
	if out.Lt(ins.MinOut()) {
		return nil, fmt.Errorf("%w: leg %d on %s received %s, want at least %s",
			ErrSlippageExceeded, leg, venue.Name(), out.Dec(), ins.MinOut().Dec())
	}

	r.logger.Debug("Swap leg settled",
		zap.Int("leg", leg),
		zap.String("venue", venue.Name()),
		zap.String("token_in", ins.TokenIn.Hex()),
		zap.String("token_out", ins.TokenOut.Hex()),
		zap.String("amount_in", amountIn.Dec()),
		zap.String("amount_out", out.Dec()))

	return &types.LegResult{
		Leg:       leg,
		Venue:     ins.Venue,
		TokenIn:   ins.TokenIn,
		TokenOut:  ins.TokenOut,
		AmountIn:  types.Clone(amountIn),
		AmountOut: out,
	}, nil
}
