// Package session drives one interactive payment session through
//
//	Idle → PlanProposed → Confirmed → Committed → Idle
//
// A session owns at most one proposed plan at a time. Plans are computed
// against one price snapshot and the current holdings; confirming commits
// the plan through the settlement applier.
package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/atmx/stockpay/internal/allocation"
	"github.com/atmx/stockpay/internal/ledger"
	"github.com/atmx/stockpay/internal/metrics"
	"github.com/atmx/stockpay/internal/model"
	"github.com/atmx/stockpay/internal/pricing"
	"github.com/atmx/stockpay/internal/settlement"
	"github.com/atmx/stockpay/internal/symbol"
)

// State is the position of a session in its plan lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StatePlanProposed State = "plan_proposed"
	StateConfirmed    State = "confirmed"
	StateCommitted    State = "committed"
)

var (
	ErrNotFound       = errors.New("session: not found")
	ErrNoPendingPlan  = errors.New("session: no plan awaiting confirmation")
	ErrPlanMismatch   = errors.New("session: plan is not the one awaiting confirmation")
	ErrInvalidMode    = errors.New("session: unknown allocation mode")
	ErrInvalidHolding = errors.New("session: invalid holding")
)

// Request is one allocation attempt.
type Request struct {
	Mode   model.Mode
	Target decimal.Decimal
	Spends []allocation.Spend // manual mode only, in entry order
}

// Session is one user's interactive payment session.
type Session struct {
	id string
	m  *Manager

	mu       sync.Mutex
	state    State
	pending  *model.Plan
	consumed map[string]struct{} // IDs of committed plans
}

func newSession(id string, m *Manager) *Session {
	return &Session{
		id:       id,
		m:        m,
		state:    StateIdle,
		consumed: make(map[string]struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the plan awaiting confirmation, if any.
func (s *Session) Pending() *model.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Holdings returns the session's current holdings.
func (s *Session) Holdings(ctx context.Context) (model.Holdings, error) {
	h, err := s.m.store.GetHoldings(ctx, s.id)
	if err != nil {
		return nil, s.m.expired(s.id, err)
	}
	return h, nil
}

// Valuation returns the current holdings with one fresh price snapshot.
func (s *Session) Valuation(ctx context.Context) (model.Holdings, model.Quotes, error) {
	h, err := s.Holdings(ctx)
	if err != nil {
		return nil, nil, err
	}
	return h, pricing.Snapshot(ctx, s.m.prices, h.Symbols()), nil
}

// ComputePlan runs one allocation attempt. A successful attempt replaces any
// earlier proposal; a failed one leaves the session idle with no proposal.
func (s *Session) ComputePlan(ctx context.Context, req Request) (*model.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.discardLocked()

	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	spends, err := normaliseSpends(req.Spends)
	if err != nil {
		return nil, err
	}

	holdings, err := s.m.store.GetHoldings(ctx, s.id)
	if err != nil {
		return nil, s.m.expired(s.id, err)
	}
	quotes := pricing.Snapshot(ctx, s.m.prices, quoteSymbols(holdings, spends))

	var plan *model.Plan
	switch req.Mode {
	case model.ModeAutomatic:
		plan, err = allocation.PlanAutomatic(req.Target, holdings, quotes)
	case model.ModeManual:
		plan, err = allocation.PlanManual(req.Target, holdings, quotes, spends)
	}
	metrics.PlansTotal.WithLabelValues(string(req.Mode), outcome(err)).Inc()
	if err != nil {
		log.Info().
			Str("session", s.id).
			Str("mode", string(req.Mode)).
			Str("target", req.Target.String()).
			Err(err).
			Msg("allocation rejected")
		return nil, err
	}

	plan.SessionID = s.id
	s.pending = plan
	s.state = StatePlanProposed

	log.Info().
		Str("session", s.id).
		Str("plan", plan.ID).
		Str("mode", string(plan.Mode)).
		Str("target", plan.Target.String()).
		Int("legs", len(plan.Legs)).
		Msg("plan proposed")
	s.m.notify(Event{Type: EventPlanProposed, SessionID: s.id, State: s.state, PlanID: plan.ID})

	return plan, nil
}

// Caps returns the manual-entry limits for target given the amounts already
// entered, using a fresh price snapshot.
func (s *Session) Caps(ctx context.Context, target decimal.Decimal, spends []allocation.Spend) ([]allocation.Cap, error) {
	if !target.IsPositive() {
		return nil, fmt.Errorf("%w: target must be positive, got %s", allocation.ErrInvalidAmount, target)
	}
	spends, err := normaliseSpends(spends)
	if err != nil {
		return nil, err
	}
	holdings, err := s.m.store.GetHoldings(ctx, s.id)
	if err != nil {
		return nil, s.m.expired(s.id, err)
	}
	quotes := pricing.Snapshot(ctx, s.m.prices, holdings.Symbols())
	return allocation.Caps(target, holdings, quotes, spends), nil
}

// Confirm commits the proposed plan with the given ID. Confirming a plan that
// was already committed fails with settlement.ErrPlanConsumed. Any failure
// discards the proposal; the user must compute a new plan.
func (s *Session) Confirm(ctx context.Context, planID string) (*model.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.consumed[planID]; ok {
		metrics.SettlementRejections.WithLabelValues("consumed").Inc()
		return nil, fmt.Errorf("%w: %s", settlement.ErrPlanConsumed, planID)
	}
	if s.pending == nil {
		return nil, ErrNoPendingPlan
	}
	if s.pending.ID != planID {
		return nil, fmt.Errorf("%w: %s", ErrPlanMismatch, planID)
	}

	plan := s.pending
	s.state = StateConfirmed

	record, err := s.m.applier.Commit(ctx, plan)
	if err != nil {
		s.discardLocked()
		return nil, s.m.expired(s.id, err)
	}

	s.consumed[plan.ID] = struct{}{}
	s.pending = nil
	s.state = StateCommitted
	s.m.notify(Event{Type: EventSettlementCommitted, SessionID: s.id, State: s.state, PlanID: plan.ID, Record: record})
	s.state = StateIdle

	return record, nil
}

// Discard drops the proposed plan, if any, and returns to idle.
func (s *Session) Discard(planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return ErrNoPendingPlan
	}
	if planID != "" && s.pending.ID != planID {
		return fmt.Errorf("%w: %s", ErrPlanMismatch, planID)
	}
	id := s.pending.ID
	s.discardLocked()
	s.m.notify(Event{Type: EventPlanDiscarded, SessionID: s.id, State: s.state, PlanID: id})
	return nil
}

// Transactions returns the ledger newest first.
func (s *Session) Transactions(ctx context.Context) (iter.Seq[model.TransactionRecord], error) {
	records, err := s.m.store.ListTransactions(ctx, s.id)
	if err != nil {
		return nil, s.m.expired(s.id, err)
	}
	return ledger.New(records...).NewestFirst(), nil
}

// Transaction returns one committed record.
func (s *Session) Transaction(ctx context.Context, txID string) (*model.TransactionRecord, error) {
	r, err := s.m.store.GetTransaction(ctx, s.id, txID)
	if err != nil {
		return nil, s.m.expired(s.id, err)
	}
	return r, nil
}

func (s *Session) discardLocked() {
	s.pending = nil
	s.state = StateIdle
}

func normaliseSpends(spends []allocation.Spend) ([]allocation.Spend, error) {
	out := make([]allocation.Spend, 0, len(spends))
	for _, sp := range spends {
		sym, err := symbol.Parse(sp.Symbol)
		if err != nil {
			return nil, err
		}
		out = append(out, allocation.Spend{Symbol: sym, Amount: sp.Amount})
	}
	return out, nil
}

// quoteSymbols lists held symbols plus any manually named ones not held.
func quoteSymbols(h model.Holdings, spends []allocation.Spend) []string {
	syms := h.Symbols()
	seen := make(map[string]bool, len(syms))
	for _, sym := range syms {
		seen[sym] = true
	}
	for _, sp := range spends {
		if !seen[sp.Symbol] {
			seen[sp.Symbol] = true
			syms = append(syms, sp.Symbol)
		}
	}
	return syms
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "proposed"
	case errors.Is(err, allocation.ErrShortfall):
		return "shortfall"
	case errors.Is(err, allocation.ErrIncomplete):
		return "incomplete"
	case errors.Is(err, allocation.ErrExcess):
		return "excess"
	case errors.Is(err, allocation.ErrInfeasible):
		return "infeasible"
	case errors.Is(err, allocation.ErrUnavailablePrice):
		return "unavailable_price"
	default:
		return "invalid"
	}
}
