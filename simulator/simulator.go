package simulator

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/dex/pancakeswap"
	"github.com/michaelpento.lv/flasharb/dex/uniswap"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/flashloan/lender"
	"github.com/michaelpento.lv/flasharb/ledger"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// Stranger is the account scenarios use for a caller that is not the owner
var Stranger = common.HexToAddress("0x0000000000000000000000000000000000000bad")

// StepResult represents the outcome of one scenario step
type StepResult struct {
	Index     int
	Name      string
	Action    string
	Caller    common.Address
	Success   bool
	Reason    string
	Receipt   *types.Receipt // loan steps
	Withdrawn *uint256.Int   // successful withdraw steps
	Expected  string
	Matched   bool
	Duration  time.Duration
	Err       error
}

// Balance is an account's holding of both assets after the run
type Balance struct {
	Account string
	Address common.Address
	Asset0  *uint256.Int
	Asset1  *uint256.Int
}

// SimulationResult represents the result of a scenario run
type SimulationResult struct {
	Scenario string
	Engine   common.Address
	Lender   common.Address
	Steps    []StepResult
	Balances []Balance
	Counters map[string]float64
}

// Mismatches returns the steps whose outcome differed from the expectation
func (r *SimulationResult) Mismatches() []StepResult {
	var out []StepResult
	for _, st := range r.Steps {
		if !st.Matched {
			out = append(out, st)
		}
	}
	return out
}

// Simulator runs a scenario against an in-memory deployment
type Simulator struct {
	cfg      *config.Config
	scenario *config.Scenario
	logger   *zap.Logger
	registry *metrics.Registry
	metrics  *metrics.SimulatorMetrics

	ledger *ledger.Ledger
	pair   types.AssetPair
	lender *lender.Pool
	engine *flashloan.Engine
	poolsA *dex.PoolRegistry
	poolsB *dex.PoolRegistry
	names  map[string]common.Address
}

// NewSimulator deploys the lender, both venues and the engine described by cfg
// and seeds them with the scenario's liquidity
func NewSimulator(cfg *config.Config, sc *config.Scenario, logger *zap.Logger) (*Simulator, error) {
	if cfg == nil || sc == nil {
		return nil, fmt.Errorf("config and scenario are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pair, err := cfg.Pair()
	if err != nil {
		return nil, err
	}
	convention, err := cfg.Convention()
	if err != nil {
		return nil, err
	}

	reg := metrics.NewRegistry(cfg.Metrics, logger)
	s := &Simulator{
		cfg:      cfg,
		scenario: sc,
		logger:   logger.With(zap.String("scenario", sc.Name)),
		registry: reg,
		metrics:  metrics.NewSimulatorMetrics(reg, reg.Namespace()),
		ledger:   ledger.New(logger),
		pair:     pair,
	}

	s.lender, err = lender.NewPool(cfg.Lender.Deployer, pair, convention, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create lending pool: %w", err)
	}

	venueA, venueB, err := s.venues()
	if err != nil {
		return nil, err
	}

	opts := []flashloan.Option{
		flashloan.WithLogger(logger),
		flashloan.WithMetrics(metrics.NewEngineMetrics(reg, reg.Namespace())),
	}
	if cfg.Engine != (common.Address{}) {
		opts = append(opts, flashloan.WithAddress(cfg.Engine))
	}
	s.engine, err = flashloan.New(flashloan.EngineConfig{
		Pair:     pair,
		Owner:    cfg.Owner,
		Deployer: cfg.Lender.Deployer,
	}, s.lender, s.ledger, venueA, venueB, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy engine: %w", err)
	}

	s.names = map[string]common.Address{
		"asset0":   pair.Asset0,
		"asset1":   pair.Asset1,
		"owner":    cfg.Owner,
		"engine":   s.engine.Address(),
		"lender":   s.lender.Address(),
		"stranger": Stranger,
		"router_a": cfg.VenueA.Router,
		"router_b": cfg.VenueB.Router,
	}

	if err := s.seed(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Simulator) venues() (dex.Venue, dex.Venue, error) {
	var err error
	s.poolsA, err = dex.NewPoolRegistry(s.cfg.VenueA.Deployer, s.cfg.AddressCacheSize)
	if err != nil {
		return nil, nil, err
	}
	s.poolsB, err = dex.NewPoolRegistry(s.cfg.VenueB.Deployer, s.cfg.AddressCacheSize)
	if err != nil {
		return nil, nil, err
	}

	routerA, err := pancakeswap.NewSwapRouterV3(s.cfg.VenueA.Router, s.poolsA, s.logger)
	if err != nil {
		return nil, nil, err
	}
	if s.scenario.Clock != 0 {
		fixed := time.Unix(s.scenario.Clock, 0)
		routerA.SetClock(func() time.Time { return fixed })
	}
	routerB, err := uniswap.NewSwapRouter02(s.cfg.VenueB.Router, s.poolsB, s.logger)
	if err != nil {
		return nil, nil, err
	}
	return pancakeswap.NewVenue(routerA), uniswap.NewVenue(routerB), nil
}

// seed mints every reserve and deposit in one transaction
func (s *Simulator) seed() error {
	type mint struct {
		token, to common.Address
		amount    *uint256.Int
	}
	var mints []mint
	addLiquidity := func(to common.Address, liq config.Liquidity) error {
		r0, err := config.ParseAmount(liq.Reserve0)
		if err != nil {
			return err
		}
		r1, err := config.ParseAmount(liq.Reserve1)
		if err != nil {
			return err
		}
		mints = append(mints, mint{s.pair.Asset0, to, r0}, mint{s.pair.Asset1, to, r1})
		return nil
	}

	if err := addLiquidity(s.lender.Address(), s.scenario.Lender); err != nil {
		return fmt.Errorf("lender: %w", err)
	}
	for _, v := range []struct {
		name  string
		pools *dex.PoolRegistry
		liq   []config.PoolLiquidity
	}{
		{"venue_a", s.poolsA, s.scenario.VenueA},
		{"venue_b", s.poolsB, s.scenario.VenueB},
	} {
		for _, pl := range v.liq {
			pool, err := v.pools.Create(s.pair.Asset0, s.pair.Asset1, pl.Fee)
			if err != nil {
				return fmt.Errorf("%s: %w", v.name, err)
			}
			if err := addLiquidity(pool.Address, pl.Liquidity); err != nil {
				return fmt.Errorf("%s: %w", v.name, err)
			}
		}
	}
	for i, d := range s.scenario.Deposits {
		token, err := config.Resolve(d.Token, s.names)
		if err != nil {
			return fmt.Errorf("deposits[%d]: %w", i, err)
		}
		to, err := config.Resolve(d.To, s.names)
		if err != nil {
			return fmt.Errorf("deposits[%d]: %w", i, err)
		}
		amount, err := config.ParseAmount(d.Amount)
		if err != nil {
			return fmt.Errorf("deposits[%d]: %w", i, err)
		}
		mints = append(mints, mint{token, to, amount})
	}

	return s.ledger.Execute(context.Background(), func(tx *ledger.Tx) error {
		for _, m := range mints {
			if err := tx.Mint(m.token, m.to, m.amount); err != nil {
				return err
			}
		}
		return nil
	})
}

// Engine returns the deployed engine
func (s *Simulator) Engine() *flashloan.Engine {
	return s.engine
}

// Ledger returns the simulated token ledger
func (s *Simulator) Ledger() *ledger.Ledger {
	return s.ledger
}

// Registry returns the metrics registry every component reports to
func (s *Simulator) Registry() *metrics.Registry {
	return s.registry
}

// Run executes every step in order. A step that reverts is recorded, not
// returned; only a cancelled context or a malformed step stops the run.
func (s *Simulator) Run(ctx context.Context) (*SimulationResult, error) {
	result := &SimulationResult{
		Scenario: s.scenario.Name,
		Engine:   s.engine.Address(),
		Lender:   s.lender.Address(),
	}

	for i, step := range s.scenario.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.runStep(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.Label(i), err)
		}
		result.Steps = append(result.Steps, *res)
	}

	result.Balances = s.balances()
	counters, err := s.registry.Counters()
	if err != nil {
		return nil, err
	}
	result.Counters = counters
	if s.cfg.Metrics.LogMetrics {
		s.registry.LogCounters()
	}
	return result, nil
}

func (s *Simulator) runStep(ctx context.Context, i int, step config.Step) (*StepResult, error) {
	callerRef := step.Caller
	if callerRef == "" {
		callerRef = "owner"
	}
	caller, err := config.Resolve(callerRef, s.names)
	if err != nil {
		return nil, err
	}

	res := &StepResult{
		Index:    i,
		Name:     step.Label(i),
		Action:   step.Action,
		Caller:   caller,
		Expected: step.Expect,
	}

	start := time.Now()
	switch step.Action {
	case config.ActionLoan:
		req, err := step.Request(s.names)
		if err != nil {
			return nil, err
		}
		receipt, err := s.engine.RequestLoan(ctx, caller, req)
		res.Receipt = receipt
		res.Err = err
	case config.ActionWithdraw:
		token, err := config.Resolve(step.Token, s.names)
		if err != nil {
			return nil, err
		}
		res.Withdrawn, res.Err = s.engine.WithdrawStuckFunds(ctx, caller, token)
	default:
		return nil, fmt.Errorf("unknown action %q", step.Action)
	}
	res.Duration = time.Since(start)
	res.Success = res.Err == nil
	res.Reason = flashloan.Reason(res.Err)
	res.Matched = matches(step.Expect, res)

	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	s.metrics.Steps.WithLabelValues(step.Action, outcome).Inc()
	s.metrics.StepTime.Observe(res.Duration.Seconds())

	fields := []zap.Field{
		zap.Int("step", i),
		zap.String("name", res.Name),
		zap.String("action", res.Action),
		zap.Bool("success", res.Success),
		zap.Duration("elapsed", res.Duration),
	}
	if res.Reason != "" {
		fields = append(fields, zap.String("reason", res.Reason))
	}
	if res.Receipt != nil && res.Receipt.Settlement != nil {
		fields = append(fields,
			zap.String("surplus0", res.Receipt.Settlement.Surplus0.Dec()),
			zap.String("surplus1", res.Receipt.Settlement.Surplus1.Dec()))
	}
	if res.Withdrawn != nil {
		fields = append(fields, zap.String("withdrawn", res.Withdrawn.Dec()))
	}
	if res.Matched {
		s.logger.Info("Step executed", fields...)
	} else {
		s.logger.Warn("Step outcome differs from expectation", append(fields, zap.String("expected", res.Expected))...)
	}
	return res, nil
}

func matches(expect string, res *StepResult) bool {
	switch expect {
	case "":
		return true
	case config.ExpectSuccess:
		return res.Success
	}
	return !res.Success && res.Reason == expect
}

func (s *Simulator) balances() []Balance {
	accounts := []string{"owner", "engine", "lender", "stranger"}
	out := make([]Balance, 0, len(accounts))
	for _, name := range accounts {
		addr := s.names[name]
		out = append(out, Balance{
			Account: name,
			Address: addr,
			Asset0:  s.ledger.BalanceOf(s.pair.Asset0, addr),
			Asset1:  s.ledger.BalanceOf(s.pair.Asset1, addr),
		})
	}
	return out
}
