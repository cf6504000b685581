package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/atmx/stockpay/internal/allocation"
	"github.com/atmx/stockpay/internal/model"
	"github.com/atmx/stockpay/internal/receipt"
	"github.com/atmx/stockpay/internal/session"
	"github.com/atmx/stockpay/internal/store"
)

var (
	planHoldingsPath string
	planAmount       string
	planManual       []string
	planConfirm      bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Propose, and optionally settle, one payment",
	Long: `Load holdings from a YAML file and compute a settlement plan for one
payment. Without --manual the most expensive assets are sold first.

Example usage:
  stockpay plan --holdings portfolio.yaml --amount 150
  stockpay plan --holdings portfolio.yaml --amount 150 --manual AAPL=100 --manual TSLA=50
  stockpay plan --holdings portfolio.yaml --amount 150 --confirm

Holdings file format:
  holdings:
    - symbol: AAPL
      quantity: "2"`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVar(&planHoldingsPath, "holdings", "", "Path to YAML holdings file")
	planCmd.Flags().StringVar(&planAmount, "amount", "", "Cash amount to pay")
	planCmd.Flags().StringArrayVar(&planManual, "manual", nil, "Manual allocation SYMBOL=AMOUNT (repeatable)")
	planCmd.Flags().BoolVar(&planConfirm, "confirm", false, "Settle the plan and print a receipt")
	planCmd.MarkFlagRequired("holdings")
	planCmd.MarkFlagRequired("amount")
}

type holdingsFile struct {
	Holdings []struct {
		Symbol   string `yaml:"symbol"`
		Quantity string `yaml:"quantity"`
	} `yaml:"holdings"`
}

func loadHoldings(path string) (model.Holdings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holdings: %w", err)
	}
	var hf holdingsFile
	if err := yaml.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("parse holdings %s: %w", path, err)
	}

	out := make(model.Holdings, 0, len(hf.Holdings))
	for _, h := range hf.Holdings {
		qty, err := decimal.NewFromString(h.Quantity)
		if err != nil {
			return nil, fmt.Errorf("quantity for %s: %w", h.Symbol, err)
		}
		out = append(out, model.Holding{Symbol: h.Symbol, Quantity: qty})
	}
	return out, nil
}

// parseManual turns SYMBOL=AMOUNT pairs into spends, keeping entry order.
func parseManual(pairs []string) ([]allocation.Spend, error) {
	spends := make([]allocation.Spend, 0, len(pairs))
	for _, p := range pairs {
		sym, amt, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("manual allocation %q: want SYMBOL=AMOUNT", p)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(amt))
		if err != nil {
			return nil, fmt.Errorf("manual allocation %q: %w", p, err)
		}
		spends = append(spends, allocation.Spend{Symbol: sym, Amount: amount})
	}
	return spends, nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	holdings, err := loadHoldings(planHoldingsPath)
	if err != nil {
		return err
	}
	target, err := decimal.NewFromString(planAmount)
	if err != nil {
		return fmt.Errorf("invalid --amount: %w", err)
	}
	spends, err := parseManual(planManual)
	if err != nil {
		return err
	}

	req := session.Request{Mode: model.ModeAutomatic, Target: target}
	if len(spends) > 0 {
		req.Mode = model.ModeManual
		req.Spends = spends
	}

	prices, err := newPriceSource(cfg)
	if err != nil {
		return err
	}
	receipts, err := receipt.NewRenderer(cfg.Currency)
	if err != nil {
		return err
	}

	mgr := session.NewManager(store.NewMemoryStore(), prices, nil)
	sess, err := mgr.Open(ctx, holdings)
	if err != nil {
		return err
	}

	plan, err := sess.ComputePlan(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printPlan(out, receipts, plan)

	if !planConfirm {
		fmt.Fprintln(out, "\nNothing settled. Re-run with --confirm to pay.")
		return nil
	}

	record, err := sess.Confirm(ctx, plan.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	if err := receipts.Render(out, record); err != nil {
		return err
	}

	after, err := sess.Holdings(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nRemaining holdings:")
	for _, h := range after {
		fmt.Fprintf(out, "  %-8s %s\n", h.Symbol, receipt.Quantity(h.Quantity))
	}
	return nil
}

func printPlan(w io.Writer, r *receipt.Renderer, plan *model.Plan) {
	fmt.Fprintf(w, "Plan %s (%s) for %s\n\n", plan.ID, plan.Mode, r.Amount(plan.Target))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Asset\tUnits\tPrice\tAmount\t")
	for _, leg := range plan.Legs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", leg.Symbol, receipt.Quantity(leg.Quantity), r.Amount(leg.Price), r.Amount(leg.Amount))
	}
	tw.Flush()
}
