package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/utils"
)

var (
	cfgFile string
	debug   bool

	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "flasharb",
	Short: "Atomic cross-venue flash-loan arbitrage engine",
	Long: `flasharb borrows from a V3 lending pool, routes the loan through two swaps
on PancakeSwap V3 and Uniswap V3 and repays principal plus fee in one atomic
transaction. Runs are simulated against an in-memory token ledger.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./flasharb.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	config.Flags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(poolCmd)
}

func initConfig(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	level := cfg.Level()
	if debug {
		level = zapcore.DebugLevel
	}
	log = utils.InitLogger(level)
	return nil
}
