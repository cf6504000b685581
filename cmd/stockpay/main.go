package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/atmx/stockpay/internal/config"
	"github.com/atmx/stockpay/internal/logger"
)

var cfg *config.Config

// rootCmd is the base command for the stockpay CLI
var rootCmd = &cobra.Command{
	Use:   "stockpay",
	Short: "Pay cash amounts by liquidating held assets",
	Long: `stockpay covers a cash payment by selling part of a multi-asset portfolio.
Plans are proposed first and settle only when confirmed.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger.SetGlobalLogger(logger.New(logger.Config{
			Level:  cfg.LogLevel,
			Pretty: cfg.LogPretty,
			Output: cmd.ErrOrStderr(),
		}))
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
