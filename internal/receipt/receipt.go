// Package receipt renders committed settlements for people to read.
// Rounding happens here and only here; records keep exact values.
package receipt

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/atmx/stockpay/internal/model"
)

// QuantityPlaces is the number of decimal places shown for unit quantities.
const QuantityPlaces = 4

// Renderer formats records in one currency.
type Renderer struct {
	currency *money.Currency
}

// NewRenderer returns a renderer for an ISO 4217 currency code.
func NewRenderer(code string) (*Renderer, error) {
	cur := money.GetCurrency(strings.ToUpper(code))
	if cur == nil {
		return nil, fmt.Errorf("receipt: unknown currency %q", code)
	}
	return &Renderer{currency: cur}, nil
}

// Amount formats a cash value rounded to the currency's minor unit.
func (r *Renderer) Amount(v decimal.Decimal) string {
	minor := v.Shift(int32(r.currency.Fraction)).Round(0)
	return r.currency.Formatter().Format(minor.IntPart())
}

// Quantity formats a unit quantity for display.
func Quantity(q decimal.Decimal) string {
	return q.StringFixed(QuantityPlaces)
}

// Render writes a plain-text receipt for rec.
func (r *Renderer) Render(w io.Writer, rec *model.TransactionRecord) error {
	fmt.Fprintf(w, "Payment receipt %s\n", rec.ID)
	fmt.Fprintf(w, "Date:  %s\n", rec.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Mode:  %s\n\n", rec.Mode)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Asset\tUnits\tPrice\tAmount\t")
	for _, leg := range rec.Legs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", leg.Symbol, Quantity(leg.Quantity), r.Amount(leg.Price), r.Amount(leg.Amount))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nTotal paid: %s\n", r.Amount(rec.Total))
	return err
}

// String renders rec to a string.
func (r *Renderer) String(rec *model.TransactionRecord) string {
	var b strings.Builder
	_ = r.Render(&b, rec)
	return b.String()
}
