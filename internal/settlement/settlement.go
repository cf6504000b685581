// Package settlement commits approved plans: it re-validates a plan against
// the holdings as they are at commit time, debits them and appends the
// transaction record, all or nothing.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/atmx/stockpay/internal/allocation"
	"github.com/atmx/stockpay/internal/metrics"
	"github.com/atmx/stockpay/internal/model"
	"github.com/atmx/stockpay/internal/store"
)

var (
	// ErrPlanConsumed is returned when a plan that was already committed is
	// committed again. Nothing is debited.
	ErrPlanConsumed = errors.New("settlement: plan already committed")

	// ErrInvalidPlan is returned for plans that cannot be committed at all:
	// nil, with a shortfall, or with no legs.
	ErrInvalidPlan = errors.New("settlement: plan cannot be committed")
)

// Applier is the sole writer of holdings. Commits are serialised so the
// consumed check and the store write cannot interleave for the same plan.
type Applier struct {
	store store.Store
	now   func() time.Time
	mu    sync.Mutex
}

// NewApplier creates an applier writing to st.
func NewApplier(st store.Store) *Applier {
	return &Applier{
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Commit applies plan to its session's holdings and returns the new record.
//
// Every leg is checked against the current holdings inside the store's
// atomic section. If any asset is now short the commit fails with an
// *allocation.InfeasibleError and no asset is touched.
func (a *Applier) Commit(ctx context.Context, plan *model.Plan) (*model.TransactionRecord, error) {
	if err := validatePlan(plan); err != nil {
		metrics.SettlementRejections.WithLabelValues("invalid").Inc()
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if plan.Consumed() {
		metrics.SettlementRejections.WithLabelValues("consumed").Inc()
		return nil, fmt.Errorf("%w: %s", ErrPlanConsumed, plan.ID)
	}

	record, err := a.store.Settle(ctx, plan.SessionID, func(current model.Holdings) (model.Holdings, *model.TransactionRecord, error) {
		return apply(plan, current, a.now())
	})
	if err != nil {
		var infeasible *allocation.InfeasibleError
		if errors.As(err, &infeasible) {
			metrics.SettlementRejections.WithLabelValues("infeasible").Inc()
			log.Warn().
				Str("session", plan.SessionID).
				Str("plan", plan.ID).
				Str("symbol", infeasible.Symbol).
				Str("deficit", infeasible.Deficit.String()).
				Msg("settlement rejected, holdings changed since planning")
		}
		return nil, err
	}
	plan.MarkConsumed()

	metrics.SettlementsTotal.WithLabelValues(string(record.Mode)).Inc()
	metrics.SettledAmount.Add(record.Total.InexactFloat64())
	for _, leg := range record.Legs {
		metrics.UnitsLiquidated.WithLabelValues(leg.Symbol).Add(leg.Quantity.InexactFloat64())
	}

	log.Info().
		Str("tx_id", record.ID).
		Str("session", record.SessionID).
		Str("plan", plan.ID).
		Str("mode", string(record.Mode)).
		Str("total", record.Total.String()).
		Int("legs", len(record.Legs)).
		Msg("settlement committed")

	return record, nil
}

func validatePlan(plan *model.Plan) error {
	switch {
	case plan == nil:
		return fmt.Errorf("%w: nil plan", ErrInvalidPlan)
	case plan.Shortfall.IsPositive():
		return fmt.Errorf("%w: plan %s has a shortfall of %s", ErrInvalidPlan, plan.ID, plan.Shortfall)
	case len(plan.Legs) == 0:
		return fmt.Errorf("%w: plan %s has no legs", ErrInvalidPlan, plan.ID)
	}
	for _, leg := range plan.Legs {
		if !leg.Quantity.IsPositive() {
			return fmt.Errorf("%w: plan %s has a non-positive quantity for %s", ErrInvalidPlan, plan.ID, leg.Symbol)
		}
	}
	return nil
}

// apply re-validates and debits every leg on a private copy of the holdings.
func apply(plan *model.Plan, current model.Holdings, now time.Time) (model.Holdings, *model.TransactionRecord, error) {
	debits := make(map[string]decimal.Decimal, len(plan.Legs))
	for _, leg := range plan.Legs {
		debits[leg.Symbol] = debits[leg.Symbol].Add(leg.Quantity)
	}
	for _, leg := range plan.Legs {
		total := model.Leg{Symbol: leg.Symbol, Price: leg.Price, Quantity: debits[leg.Symbol]}
		if err := allocation.CheckLeg(total, current.Quantity(leg.Symbol)); err != nil {
			return nil, nil, err
		}
	}

	for i := range current {
		if qty, ok := debits[current[i].Symbol]; ok {
			current[i].Quantity = current[i].Quantity.Sub(qty)
		}
	}

	legs := make([]model.Leg, len(plan.Legs))
	copy(legs, plan.Legs)
	total := decimal.Zero
	for _, leg := range legs {
		total = total.Add(leg.Amount)
	}

	return current, &model.TransactionRecord{
		ID:        uuid.New().String(),
		SessionID: plan.SessionID,
		PlanID:    plan.ID,
		Mode:      plan.Mode,
		Legs:      legs,
		Total:     total,
		Timestamp: now,
	}, nil
}
