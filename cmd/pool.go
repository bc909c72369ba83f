package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/types"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Print the lending pool and venue pool addresses of the configured pair",
	RunE:  runPool,
}

func init() {
	poolCmd.Flags().Uint32("venue-fee", types.FeeTier005, "fee tier of the venue pools to derive")
}

func runPool(cmd *cobra.Command, _ []string) error {
	venueFee, err := cmd.Flags().GetUint32("venue-fee")
	if err != nil {
		return err
	}
	pair, err := cfg.Pair()
	if err != nil {
		return err
	}

	lenderPool, err := dex.ComputePoolAddress(cfg.Lender.Deployer, pair.Asset0, pair.Asset1, pair.FeeTier)
	if err != nil {
		return err
	}
	engine := cfg.Engine
	if engine == (common.Address{}) {
		engine = crypto.CreateAddress(cfg.Owner, 0)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pair     %s\n", pair)
	fmt.Fprintf(out, "lender   %s (%s)\n", lenderPool.Hex(), cfg.Lender.Convention)
	fmt.Fprintf(out, "engine   %s\n", engine.Hex())
	for _, v := range []struct {
		name string
		cfg  config.VenueConfig
	}{
		{"venue A", cfg.VenueA},
		{"venue B", cfg.VenueB},
	} {
		addr, err := dex.ComputePoolAddress(v.cfg.Deployer, pair.Asset0, pair.Asset1, venueFee)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s  %s router %s fee %d\n", v.name, addr.Hex(), v.cfg.Router.Hex(), venueFee)
	}
	return nil
}
