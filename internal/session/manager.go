package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/atmx/stockpay/internal/metrics"
	"github.com/atmx/stockpay/internal/model"
	"github.com/atmx/stockpay/internal/pricing"
	"github.com/atmx/stockpay/internal/settlement"
	"github.com/atmx/stockpay/internal/store"
	"github.com/atmx/stockpay/internal/symbol"
)

// Event types published to the Notifier.
const (
	EventPlanProposed        = "plan_proposed"
	EventPlanDiscarded       = "plan_discarded"
	EventSettlementCommitted = "settlement_committed"
)

// Event describes a session state change for the presentation layer.
type Event struct {
	Type      string                   `json:"type"`
	SessionID string                   `json:"session_id"`
	State     State                    `json:"state"`
	PlanID    string                   `json:"plan_id,omitempty"`
	Record    *model.TransactionRecord `json:"record,omitempty"`
}

// Notifier receives session events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// Manager owns the open sessions and the collaborators they share.
type Manager struct {
	store    store.Store
	prices   pricing.Source
	applier  *settlement.Applier
	notifier Notifier // optional

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. Pass nil for notifier if events are
// not needed.
func NewManager(st store.Store, prices pricing.Source, notifier Notifier) *Manager {
	return &Manager{
		store:    st,
		prices:   prices,
		applier:  settlement.NewApplier(st),
		notifier: notifier,
		sessions: make(map[string]*Session),
	}
}

// Open validates the starting holdings and creates a new session.
// Symbols are normalised; duplicates and negative quantities are rejected.
func (m *Manager) Open(ctx context.Context, holdings model.Holdings) (*Session, error) {
	clean := make(model.Holdings, 0, len(holdings))
	seen := make(map[string]bool, len(holdings))
	for _, h := range holdings {
		sym, err := symbol.Parse(h.Symbol)
		if err != nil {
			return nil, err
		}
		if seen[sym] {
			return nil, fmt.Errorf("%w: %s", symbol.ErrDuplicateSymbol, sym)
		}
		if h.Quantity.IsNegative() {
			return nil, fmt.Errorf("%w: negative quantity %s for %s", ErrInvalidHolding, h.Quantity, sym)
		}
		seen[sym] = true
		clean = append(clean, model.Holding{Symbol: sym, Quantity: h.Quantity})
	}

	id := uuid.New().String()
	if err := m.store.CreateSession(ctx, id, clean); err != nil {
		return nil, err
	}

	s := newSession(id, m)
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	metrics.ActiveSessions.Inc()

	log.Info().Str("session", id).Int("holdings", len(clean)).Msg("session opened")
	return s, nil
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Close ends a session and drops its state.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	metrics.ActiveSessions.Dec()
	log.Info().Str("session", id).Msg("session closed")

	// Stored state may already have expired.
	if err := m.store.DeleteSession(ctx, id); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return err
	}
	return nil
}

// expired forgets a session whose stored state is gone, as happens when
// Redis keys reach their TTL. It returns err unchanged.
func (m *Manager) expired(id string, err error) error {
	if !errors.Is(err, store.ErrSessionNotFound) {
		return err
	}
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		metrics.ActiveSessions.Dec()
		log.Info().Str("session", id).Msg("session expired")
	}
	return err
}

func (m *Manager) notify(ev Event) {
	if m.notifier != nil {
		m.notifier.Notify(ev)
	}
}
