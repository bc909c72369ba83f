package flashloan

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/ledger"
	"github.com/michaelpento.lv/flasharb/types"
)

// RepaymentEngine returns principal plus fee to the lending pool
type RepaymentEngine struct {
	self   common.Address
	pool   common.Address
	pair   types.AssetPair
	logger *zap.Logger
}

func NewRepaymentEngine(self, pool common.Address, pair types.AssetPair, logger *zap.Logger) *RepaymentEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RepaymentEngine{self: self, pool: pool, pair: pair, logger: logger}
}

// Settle pays borrowed+fee of each asset back to the pool. Holdings are read
// from the ledger, so a short position fails before anything moves. Whatever
// exceeds the owed amounts stays with the engine.
func (r *RepaymentEngine) Settle(tx *ledger.Tx, borrowed0, borrowed1, fee0, fee1 *uint256.Int) (*types.Settlement, error) {
	owed0, err := owed(borrowed0, fee0)
	if err != nil {
		return nil, err
	}
	owed1, err := owed(borrowed1, fee1)
	if err != nil {
		return nil, err
	}

	held0 := tx.BalanceOf(r.pair.Asset0, r.self)
	held1 := tx.BalanceOf(r.pair.Asset1, r.self)
	if held0.Lt(owed0) {
		return nil, fmt.Errorf("%w: asset0 %s holds %s, owes %s",
			ErrRepaymentShortfall, r.pair.Asset0.Hex(), held0.Dec(), owed0.Dec())
	}
	if held1.Lt(owed1) {
		return nil, fmt.Errorf("%w: asset1 %s holds %s, owes %s",
			ErrRepaymentShortfall, r.pair.Asset1.Hex(), held1.Dec(), owed1.Dec())
	}

	if err := tx.Transfer(r.pair.Asset0, r.self, r.pool, owed0); err != nil {
		return nil, err
	}
	if err := tx.Transfer(r.pair.Asset1, r.self, r.pool, owed1); err != nil {
		return nil, err
	}

	s := &types.Settlement{
		Owed0:    owed0,
		Owed1:    owed1,
		Surplus0: new(uint256.Int).Sub(held0, owed0),
		Surplus1: new(uint256.Int).Sub(held1, owed1),
	}
	r.logger.Debug("Loan repaid",
		zap.String("owed0", owed0.Dec()),
		zap.String("owed1", owed1.Dec()),
		zap.String("surplus0", s.Surplus0.Dec()),
		zap.String("surplus1", s.Surplus1.Dec()))
	return s, nil
}

func owed(borrowed, fee *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(types.Clone(borrowed), types.Clone(fee))
	if overflow {
		return nil, fmt.Errorf("%w: owed amount overflows", ErrRepaymentShortfall)
	}
	return sum, nil
}
