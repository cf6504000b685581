// Package allocation implements the payment-allocation engine: it decides
// which held assets, and how many units of each, to liquidate to cover a
// cash target.
//
// The engine is pure. It reads holdings and a price snapshot and returns a
// plan or a typed error; it never mutates holdings. Quantities are exact
// decimal quotients; rounding is a display concern only.
package allocation

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/stockpay/internal/model"
)

// Epsilon is the tolerance used when comparing manual sums against the target
// and required quantities against held quantities.
var Epsilon = decimal.New(1, -9)

// Spend is a user-entered cash amount to cover with one asset.
type Spend struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

// Cap is the largest amount the user may assign to Symbol at its turn.
type Cap struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Held   decimal.Decimal `json:"held"`
	Max    decimal.Decimal `json:"max"`
}

type candidate struct {
	symbol string
	held   decimal.Decimal
	price  decimal.Decimal
}

// PlanAutomatic covers target greedily, most expensive asset first.
//
// Only assets with a usable quote and a positive quantity are considered.
// Ties in price keep the holdings enumeration order. If an asset's full
// value covers what remains, exactly remaining/price units are taken and the
// walk stops; otherwise the whole holding is taken. When every candidate is
// exhausted the remaining amount is reported as a *ShortfallError.
func PlanAutomatic(target decimal.Decimal, holdings model.Holdings, quotes model.Quotes) (*model.Plan, error) {
	if !target.IsPositive() {
		return nil, fmt.Errorf("%w: target must be positive, got %s", ErrInvalidAmount, target)
	}

	candidates := make([]candidate, 0, len(holdings))
	for _, h := range holdings {
		if !h.Quantity.IsPositive() {
			continue
		}
		price, ok := quotes.Price(h.Symbol)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{symbol: h.Symbol, held: h.Quantity, price: price})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].price.GreaterThan(candidates[j].price)
	})

	remaining := target
	var legs []model.Leg
	for _, c := range candidates {
		value := c.held.Mul(c.price)
		if value.GreaterThanOrEqual(remaining) {
			qty := remaining.Div(c.price)
			if qty.GreaterThan(c.held) {
				qty = c.held
			}
			legs = append(legs, model.Leg{Symbol: c.symbol, Price: c.price, Quantity: qty, Amount: remaining})
			remaining = decimal.Zero
			break
		}
		legs = append(legs, model.Leg{Symbol: c.symbol, Price: c.price, Quantity: c.held, Amount: value})
		remaining = remaining.Sub(value)
	}

	if remaining.IsPositive() {
		return nil, &ShortfallError{Deficit: remaining}
	}
	return newPlan(model.ModeAutomatic, target, legs), nil
}

// PlanManual validates user-directed amounts and turns them into a plan.
//
// Spends are processed in entry order; repeated symbols are merged. Zero
// amounts are ignored. The amounts must sum to target within Epsilon and
// every asset must be held in sufficient quantity right now, regardless of
// any caps enforced when the amounts were entered.
func PlanManual(target decimal.Decimal, holdings model.Holdings, quotes model.Quotes, spends []Spend) (*model.Plan, error) {
	if !target.IsPositive() {
		return nil, fmt.Errorf("%w: target must be positive, got %s", ErrInvalidAmount, target)
	}

	order := make([]string, 0, len(spends))
	merged := make(map[string]decimal.Decimal, len(spends))
	sum := decimal.Zero
	for _, s := range spends {
		if s.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: negative amount %s for %s", ErrInvalidAmount, s.Amount, s.Symbol)
		}
		if s.Amount.IsZero() {
			continue
		}
		if _, ok := quotes.Price(s.Symbol); !ok {
			return nil, &UnavailablePriceError{Symbol: s.Symbol}
		}
		if _, seen := merged[s.Symbol]; !seen {
			order = append(order, s.Symbol)
		}
		merged[s.Symbol] = merged[s.Symbol].Add(s.Amount)
		sum = sum.Add(s.Amount)
	}

	diff := target.Sub(sum)
	if diff.GreaterThan(Epsilon) {
		return nil, &IncompleteError{Remaining: diff}
	}
	if diff.Neg().GreaterThan(Epsilon) {
		return nil, &ExcessError{Excess: diff.Neg()}
	}

	legs := make([]model.Leg, 0, len(order))
	for _, sym := range order {
		price, _ := quotes.Price(sym)
		amount := merged[sym]
		held := holdings.Quantity(sym)
		qty, err := requiredQuantity(sym, amount, price, held)
		if err != nil {
			return nil, err
		}
		legs = append(legs, model.Leg{Symbol: sym, Price: price, Quantity: qty, Amount: amount})
	}
	return newPlan(model.ModeManual, target, legs), nil
}

// Caps returns the per-asset limits to present to the user, one asset at a
// time in holdings order. Each cap is min(held × price, remaining) where
// remaining is target minus what was entered for earlier assets, so caps
// tighten as earlier assets are funded. Assets without a usable price or
// with nothing held are omitted.
func Caps(target decimal.Decimal, holdings model.Holdings, quotes model.Quotes, spends []Spend) []Cap {
	entered := make(map[string]decimal.Decimal, len(spends))
	for _, s := range spends {
		if s.Amount.IsPositive() {
			entered[s.Symbol] = entered[s.Symbol].Add(s.Amount)
		}
	}

	remaining := target
	caps := make([]Cap, 0, len(holdings))
	for _, h := range holdings {
		price, ok := quotes.Price(h.Symbol)
		if !ok || !h.Quantity.IsPositive() {
			continue
		}
		limit := h.Quantity.Mul(price)
		if remaining.LessThan(limit) {
			limit = remaining
		}
		if limit.IsNegative() {
			limit = decimal.Zero
		}
		caps = append(caps, Cap{Symbol: h.Symbol, Price: price, Held: h.Quantity, Max: limit})
		remaining = remaining.Sub(entered[h.Symbol])
	}
	return caps
}

// requiredQuantity converts a cash amount into units and checks it against
// the held quantity. Overshoots worth at most Epsilon in cash, produced by
// decimal division, are clamped to the held quantity.
func requiredQuantity(sym string, amount, price, held decimal.Decimal) (decimal.Decimal, error) {
	qty := amount.Div(price)
	if qty.LessThanOrEqual(held) {
		return qty, nil
	}
	deficit := amount.Sub(held.Mul(price))
	if deficit.LessThanOrEqual(Epsilon) {
		return held, nil
	}
	return decimal.Zero, &InfeasibleError{Symbol: sym, Deficit: deficit}
}

// CheckLeg re-validates one leg against a current holding.
func CheckLeg(leg model.Leg, held decimal.Decimal) error {
	if leg.Quantity.LessThanOrEqual(held) {
		return nil
	}
	return &InfeasibleError{Symbol: leg.Symbol, Deficit: leg.Quantity.Sub(held).Mul(leg.Price)}
}

func newPlan(mode model.Mode, target decimal.Decimal, legs []model.Leg) *model.Plan {
	covered := decimal.Zero
	for _, l := range legs {
		covered = covered.Add(l.Amount)
	}
	return &model.Plan{
		ID:        uuid.New().String(),
		Mode:      mode,
		Target:    target,
		Legs:      legs,
		Covered:   covered,
		Shortfall: decimal.Zero,
		CreatedAt: time.Now().UTC(),
	}
}
