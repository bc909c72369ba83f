package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/simulator"
	"github.com/michaelpento.lv/flasharb/utils"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a scenario against an in-memory deployment",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().String("scenario", "", "scenario YAML file")
	_ = simulateCmd.MarkFlagRequired("scenario")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	path, err := cmd.Flags().GetString("scenario")
	if err != nil {
		return err
	}
	sc, err := config.LoadScenario(path)
	if err != nil {
		return err
	}

	sim, err := simulator.NewSimulator(cfg, sc, log)
	if err != nil {
		return err
	}
	defer utils.CleanupLogger()

	res, err := sim.Run(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "scenario %q: engine %s, lender %s\n", res.Scenario, res.Engine.Hex(), res.Lender.Hex())
	for _, st := range res.Steps {
		status := "ok"
		if !st.Success {
			status = "reverted: " + st.Reason
		}
		mark := ""
		if !st.Matched {
			mark = fmt.Sprintf(" (expected %s)", st.Expected)
		}
		fmt.Fprintf(out, "  [%d] %-24s %-8s %s%s\n", st.Index, st.Name, st.Action, status, mark)
	}
	for _, b := range res.Balances {
		fmt.Fprintf(out, "  %-8s %s asset0=%s asset1=%s\n", b.Account, b.Address.Hex(), b.Asset0.Dec(), b.Asset1.Dec())
	}

	if mismatches := res.Mismatches(); len(mismatches) > 0 {
		log.Warn("Scenario expectations not met", zap.Int("steps", len(mismatches)))
		return fmt.Errorf("%d of %d steps did not match their expectation", len(mismatches), len(res.Steps))
	}
	return nil
}
