// Package model defines the core domain types shared across the settlement engine.
// All monetary values and unit quantities use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects the allocation strategy used to build a plan.
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeManual    Mode = "manual"
)

// Valid reports whether m is a known allocation mode.
func (m Mode) Valid() bool {
	return m == ModeAutomatic || m == ModeManual
}

// Holding is the quantity of one asset held in a portfolio.
// Fractional units are permitted; Quantity is never negative.
type Holding struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Holdings is an ordered collection of holdings with unique symbols.
// The slice order is the enumeration order used for allocation tie-breaks.
type Holdings []Holding

// Quantity returns the held quantity of symbol, zero if absent.
func (h Holdings) Quantity(symbol string) decimal.Decimal {
	for _, x := range h {
		if x.Symbol == symbol {
			return x.Quantity
		}
	}
	return decimal.Zero
}

// Symbols returns the held symbols in enumeration order.
func (h Holdings) Symbols() []string {
	out := make([]string, 0, len(h))
	for _, x := range h {
		out = append(out, x.Symbol)
	}
	return out
}

// Clone returns a copy that shares no backing array with h.
func (h Holdings) Clone() Holdings {
	if h == nil {
		return nil
	}
	out := make(Holdings, len(h))
	copy(out, h)
	return out
}

// Value returns Σ quantity × price over assets with an available quote.
func (h Holdings) Value(q Quotes) decimal.Decimal {
	total := decimal.Zero
	for _, x := range h {
		if p, ok := q.Price(x.Symbol); ok {
			total = total.Add(x.Quantity.Mul(p))
		}
	}
	return total
}

// Quote is the current per-unit price of one asset. A quote that is not
// Available must never be used for allocation, not even as price zero.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
}

// Quotes is a price snapshot keyed by symbol.
type Quotes map[string]Quote

// Price returns the unit price of symbol and whether it can be used.
// Missing, unavailable and non-positive quotes all report false.
func (q Quotes) Price(symbol string) (decimal.Decimal, bool) {
	quote, ok := q[symbol]
	if !ok || !quote.Available || !quote.Price.IsPositive() {
		return decimal.Zero, false
	}
	return quote.Price, true
}

// Leg is the liquidation of one asset inside a plan or a record.
type Leg struct {
	Symbol   string          `json:"symbol"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"` // exact units to sell, never rounded
	Amount   decimal.Decimal `json:"amount"`   // cash covered by this leg
}

// Plan is a proposed, unexecuted settlement. Plans are built by the
// allocation engine and consumed at most once by the settlement applier.
type Plan struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id,omitempty"`
	Mode      Mode            `json:"mode"`
	Target    decimal.Decimal `json:"target"`
	Legs      []Leg           `json:"legs"`
	Covered   decimal.Decimal `json:"covered"`
	Shortfall decimal.Decimal `json:"shortfall"`
	CreatedAt time.Time       `json:"created_at"`

	consumed bool
}

// Consumed reports whether the plan has already been committed.
func (p *Plan) Consumed() bool { return p.consumed }

// MarkConsumed flags the plan as committed. Callers must hold whatever lock
// serialises commits for the plan's session.
func (p *Plan) MarkConsumed() { p.consumed = true }

// TransactionRecord is an immutable record of a committed settlement.
// Once created, these are never modified or deleted.
type TransactionRecord struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	PlanID    string          `json:"plan_id"`
	Mode      Mode            `json:"mode"`
	Legs      []Leg           `json:"legs"`
	Total     decimal.Decimal `json:"total"`
	Timestamp time.Time       `json:"timestamp"`
}
