package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/atmx/stockpay/internal/pricing"
	"github.com/atmx/stockpay/internal/receipt"
	"github.com/atmx/stockpay/internal/symbol"
)

var pricesCmd = &cobra.Command{
	Use:   "prices SYMBOL...",
	Short: "Show current prices from the configured source",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPrices,
}

func init() {
	rootCmd.AddCommand(pricesCmd)
}

func runPrices(cmd *cobra.Command, args []string) error {
	syms, err := symbol.ParseList(args)
	if err != nil {
		return err
	}
	src, err := newPriceSource(cfg)
	if err != nil {
		return err
	}
	r, err := receipt.NewRenderer(cfg.Currency)
	if err != nil {
		return err
	}

	quotes := pricing.Snapshot(cmd.Context(), src, syms)

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tPRICE")
	for _, sym := range syms {
		if price, ok := quotes.Price(sym); ok {
			fmt.Fprintf(tw, "%s\t%s\n", sym, r.Amount(price))
		} else {
			fmt.Fprintf(tw, "%s\tunavailable\n", sym)
		}
	}
	return tw.Flush()
}
