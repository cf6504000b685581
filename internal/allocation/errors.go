package allocation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrShortfall is returned in automatic mode when the eligible holdings
	// are worth less than the target.
	ErrShortfall = errors.New("allocation: holdings do not cover the target amount")

	// ErrIncomplete is returned in manual mode when the entered amounts sum
	// to less than the target.
	ErrIncomplete = errors.New("allocation: manual amounts do not cover the target amount")

	// ErrExcess is returned in manual mode when the entered amounts sum to
	// more than the target.
	ErrExcess = errors.New("allocation: manual amounts exceed the target amount")

	// ErrInfeasible is returned when a plan needs more of an asset than is held.
	ErrInfeasible = errors.New("allocation: insufficient quantity held")

	// ErrUnavailablePrice is returned when a manual entry names an asset
	// without a usable price.
	ErrUnavailablePrice = errors.New("allocation: price unavailable")

	// ErrInvalidAmount is returned for non-positive targets and negative spends.
	ErrInvalidAmount = errors.New("allocation: invalid amount")
)

// ShortfallError reports the exact cash deficit of an automatic allocation.
type ShortfallError struct {
	Deficit decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("%s: short by %s", ErrShortfall, e.Deficit)
}

func (e *ShortfallError) Unwrap() error { return ErrShortfall }

// IncompleteError reports the uncovered remainder of a manual allocation.
type IncompleteError struct {
	Remaining decimal.Decimal
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s: %s remaining", ErrIncomplete, e.Remaining)
}

func (e *IncompleteError) Unwrap() error { return ErrIncomplete }

// ExcessError reports by how much manual amounts overshoot the target.
type ExcessError struct {
	Excess decimal.Decimal
}

func (e *ExcessError) Error() string {
	return fmt.Sprintf("%s: over by %s", ErrExcess, e.Excess)
}

func (e *ExcessError) Unwrap() error { return ErrExcess }

// InfeasibleError names the asset that is short and the deficit in
// currency terms.
type InfeasibleError struct {
	Symbol  string
	Deficit decimal.Decimal
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("%s: %s short by %s", ErrInfeasible, e.Symbol, e.Deficit)
}

func (e *InfeasibleError) Unwrap() error { return ErrInfeasible }

// UnavailablePriceError names the manually selected asset that has no price.
type UnavailablePriceError struct {
	Symbol string
}

func (e *UnavailablePriceError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnavailablePrice, e.Symbol)
}

func (e *UnavailablePriceError) Unwrap() error { return ErrUnavailablePrice }
