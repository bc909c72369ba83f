package flashloan

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/ledger"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// Engine borrows both assets of its pair from one lending pool, routes the
// funds through two swaps and repays the pool in the same ledger transaction.
// Only the pair, the pool address and the owner persist between calls.
type Engine struct {
	address  common.Address
	owner    common.Address
	pair     types.AssetPair
	pool     LendingPool
	poolAddr common.Address

	ledger  *ledger.Ledger
	router  *SwapRouter
	repay   *RepaymentEngine
	logger  *zap.Logger
	metrics *metrics.EngineMetrics

	// set for the duration of RequestLoanTx
	inflight atomic.Pointer[loanState]
}

// New deploys an engine for cfg.Pair. The lending pool must sit at the
// address derived from the pair and cfg.Deployer.
func New(cfg EngineConfig, pool LendingPool, l *ledger.Ledger, venueA, venueB dex.Venue, opts ...Option) (*Engine, error) {
	if cfg.Owner == (common.Address{}) {
		return nil, fmt.Errorf("owner cannot be zero")
	}
	if pool == nil {
		return nil, fmt.Errorf("lending pool cannot be nil")
	}
	if l == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if venueA == nil || venueB == nil {
		return nil, fmt.Errorf("both venues are required")
	}

	pair, err := types.NewAssetPair(cfg.Pair.Asset0, cfg.Pair.Asset1, cfg.Pair.FeeTier)
	if err != nil {
		return nil, fmt.Errorf("invalid pair: %w", err)
	}
	if pair != cfg.Pair {
		return nil, fmt.Errorf("invalid pair: assets must be sorted")
	}

	poolAddr, err := dex.ComputePoolAddress(cfg.Deployer, pair.Asset0, pair.Asset1, pair.FeeTier)
	if err != nil {
		return nil, fmt.Errorf("failed to derive pool address: %w", err)
	}
	if pool.Address() != poolAddr {
		return nil, fmt.Errorf("lending pool %s is not the derived pool %s", pool.Address().Hex(), poolAddr.Hex())
	}
	if pool.Token0() != pair.Asset0 || pool.Token1() != pair.Asset1 || pool.Fee() != pair.FeeTier {
		return nil, fmt.Errorf("lending pool %s does not serve pair %s", poolAddr.Hex(), pair)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = metrics.NewEngineMetrics(nil, metrics.DefaultNamespace)
	}
	if o.address == (common.Address{}) {
		o.address = crypto.CreateAddress(cfg.Owner, 0)
	}

	logger := o.logger.With(zap.String("engine", o.address.Hex()))
	e := &Engine{
		address:  o.address,
		owner:    cfg.Owner,
		pair:     pair,
		pool:     pool,
		poolAddr: poolAddr,
		ledger:   l,
		logger:   logger,
		metrics:  o.metrics,
	}
	e.router = NewSwapRouter(o.address, venueA, venueB, o.metrics, logger)
	e.repay = NewRepaymentEngine(o.address, poolAddr, pair, logger)

	logger.Info("Engine deployed",
		zap.String("owner", cfg.Owner.Hex()),
		zap.String("pool", poolAddr.Hex()),
		zap.String("pair", pair.String()),
		zap.String("venue_a", venueA.Name()),
		zap.String("venue_b", venueB.Name()))
	return e, nil
}

// Address returns the engine's ledger account
func (e *Engine) Address() common.Address { return e.address }

// Owner returns the only account allowed to request loans and withdraw funds
func (e *Engine) Owner() common.Address { return e.owner }

// Pool returns the derived lending pool address
func (e *Engine) Pool() common.Address { return e.poolAddr }

func (e *Engine) Pair() types.AssetPair { return e.pair }

// RequestLoan runs one borrow, route and repay cycle in its own ledger
// transaction. On any failure every balance is left as it was and the
// receipt carries the revert reason.
func (e *Engine) RequestLoan(ctx context.Context, caller common.Address, req types.LoanRequest) (*types.Receipt, error) {
	// checked outside Execute: a venue re-entering here would block on the ledger
	if err := e.guard(caller); err != nil {
		return e.failed(err), err
	}

	var receipt *types.Receipt
	err := e.ledger.Execute(ctx, func(tx *ledger.Tx) error {
		var err error
		receipt, err = e.RequestLoanTx(ctx, tx, caller, req)
		return err
	})
	if err != nil {
		return e.failed(err), err
	}
	return receipt, nil
}

// RequestLoanTx is RequestLoan inside an already open transaction. The caller
// must roll the transaction back when it returns an error.
func (e *Engine) RequestLoanTx(ctx context.Context, tx *ledger.Tx, caller common.Address, req types.LoanRequest) (*types.Receipt, error) {
	if err := e.guard(caller); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	start := time.Now()
	data := types.NewCallbackContext(caller, req)
	st := &loanState{data: data}
	e.inflight.Store(st)
	e.metrics.ActiveLoans.Inc()
	defer func() {
		e.inflight.Store(nil)
		e.metrics.ActiveLoans.Dec()
	}()

	e.logger.Debug("Requesting flash loan",
		zap.String("amount0", data.Amount0.Dec()),
		zap.String("amount1", data.Amount1.Dec()),
		zap.Stringer("venue1", req.Swap1.Venue),
		zap.Stringer("venue2", req.Swap2.Venue))

	if err := e.pool.Flash(ctx, tx, e, data.Amount0, data.Amount1, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoanFailed, err)
	}
	if !st.called || st.settlement == nil {
		return nil, fmt.Errorf("%w: pool returned without calling back", ErrLoanFailed)
	}

	e.metrics.LoanRequests.WithLabelValues("success").Inc()
	e.logger.Info("Flash loan executed",
		zap.String("surplus0", st.settlement.Surplus0.Dec()),
		zap.String("surplus1", st.settlement.Surplus1.Dec()),
		zap.Duration("elapsed", time.Since(start)))

	return &types.Receipt{
		Success:    true,
		Legs:       st.legs,
		Settlement: st.settlement,
	}, nil
}

func (e *Engine) failed(err error) *types.Receipt {
	reason := Reason(err)
	e.metrics.LoanRequests.WithLabelValues("failure").Inc()
	e.metrics.Reverts.WithLabelValues(reason).Inc()
	e.logger.Warn("Flash loan reverted", zap.String("reason", reason), zap.Error(err))
	return &types.Receipt{Reason: reason, Err: err}
}
