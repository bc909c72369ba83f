package flashloan

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// EngineConfig is fixed when the engine is deployed
type EngineConfig struct {
	Pair     types.AssetPair
	Owner    common.Address
	Deployer dex.Deployer // deploys the lending pool; used to derive its address
}

// Option configures an Engine
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *metrics.EngineMetrics
	address common.Address
}

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the collectors the engine reports to
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithAddress sets the engine's ledger account. By default it is the
// CREATE address of the owner's first deployment.
func WithAddress(addr common.Address) Option {
	return func(o *options) {
		o.address = addr
	}
}

// loanState lives only while a RequestLoan is in flight
type loanState struct {
	data       types.CallbackContext
	called     bool
	legs       []types.LegResult
	settlement *types.Settlement
}
