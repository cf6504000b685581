package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/stockpay/internal/allocation"
	"github.com/atmx/stockpay/internal/metrics"
	"github.com/atmx/stockpay/internal/model"
	"github.com/atmx/stockpay/internal/pricing"
	"github.com/atmx/stockpay/internal/settlement"
	"github.com/atmx/stockpay/internal/store"
	"github.com/atmx/stockpay/internal/symbol"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestSession(t *testing.T) (*Session, *store.MemoryStore, *pricing.StaticSource, *recorder) {
	t.Helper()
	ms := store.NewMemoryStore()
	prices := pricing.NewStaticSource(map[string]decimal.Decimal{"AAA": d(100), "BBB": d(10)})
	rec := &recorder{}
	m := NewManager(ms, prices, rec)

	s, err := m.Open(context.Background(), model.Holdings{
		{Symbol: "aaa", Quantity: d(2)},
		{Symbol: "BBB", Quantity: d(10)},
	})
	require.NoError(t, err)
	return s, ms, prices, rec
}

func TestOpen_NormalisesAndValidates(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	h, err := s.Holdings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, h.Symbols())
	assert.Equal(t, StateIdle, s.State())

	m := NewManager(store.NewMemoryStore(), pricing.NewStaticSource(nil), nil)
	_, err = m.Open(context.Background(), model.Holdings{{Symbol: "AAA", Quantity: d(1)}, {Symbol: "aaa", Quantity: d(1)}})
	assert.ErrorIs(t, err, symbol.ErrDuplicateSymbol)
	_, err = m.Open(context.Background(), model.Holdings{{Symbol: "AAA", Quantity: d(-1)}})
	assert.ErrorIs(t, err, ErrInvalidHolding)
	_, err = m.Open(context.Background(), model.Holdings{{Symbol: "??", Quantity: d(1)}})
	assert.ErrorIs(t, err, symbol.ErrInvalidSymbol)
}

func TestLifecycle_ProposeConfirm(t *testing.T) {
	s, _, _, rec := newTestSession(t)
	ctx := context.Background()

	plan, err := s.ComputePlan(ctx, Request{Mode: model.ModeAutomatic, Target: d(150)})
	require.NoError(t, err)
	assert.Equal(t, StatePlanProposed, s.State())
	assert.Equal(t, s.ID(), plan.SessionID)
	assert.Same(t, plan, s.Pending())

	record, err := s.Confirm(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, s.Pending())
	assert.True(t, record.Total.Equal(d(150)))

	h, _ := s.Holdings(ctx)
	assert.Equal(t, "0.5", h.Quantity("AAA").String())

	assert.Equal(t, []string{EventPlanProposed, EventSettlementCommitted}, rec.types())
	assert.Equal(t, StateCommitted, rec.events[1].State)
	assert.Equal(t, record.ID, rec.events[1].Record.ID)
}

func TestConfirm_Twice(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	ctx := context.Background()

	plan, err := s.ComputePlan(ctx, Request{Mode: model.ModeAutomatic, Target: d(50)})
	require.NoError(t, err)
	_, err = s.Confirm(ctx, plan.ID)
	require.NoError(t, err)

	_, err = s.Confirm(ctx, plan.ID)
	assert.ErrorIs(t, err, settlement.ErrPlanConsumed)
	assert.Equal(t, map[string]struct{}{plan.ID: {}}, s.consumed)

	h, _ := s.Holdings(ctx)
	assert.Equal(t, "1.5", h.Quantity("AAA").String())
	seq, err := s.Transactions(ctx)
	require.NoError(t, err)
	n := 0
	for range seq {
		n++
	}
	assert.Equal(t, 1, n)
}

func TestConfirm_WithoutProposal(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	_, err := s.Confirm(context.Background(), "whatever")
	assert.ErrorIs(t, err, ErrNoPendingPlan)
}

func TestConfirm_SupersededPlan(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	ctx := context.Background()

	first, err := s.ComputePlan(ctx, Request{Mode: model.ModeAutomatic, Target: d(10)})
	require.NoError(t, err)
	second, err := s.ComputePlan(ctx, Request{Mode: model.ModeAutomatic, Target: d(20)})
	require.NoError(t, err)

	_, err = s.Confirm(ctx, first.ID)
	assert.ErrorIs(t, err, ErrPlanMismatch)

	_, err = s.Confirm(ctx, second.ID)
	assert.NoError(t, err)
}

func TestComputePlan_ShortfallLeavesIdle(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	ctx := context.Background()

	_, err := s.ComputePlan(ctx, Request{Mode: model.ModeAutomatic, Target: d(10)})
	require.NoError(t, err)

	_, err = s.ComputePlan(ctx, Request{Mode: model.ModeAutomatic, Target: d(500)})
	var se *allocation.ShortfallError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "200", se.Deficit.String())
	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, s.Pending())

	h, _ := s.Holdings(ctx)
	assert.True(t, h.Quantity("AAA").Equal(d(2)))
}

func TestComputePlan_ManualIncomplete(t *testing.T) {
	ms := store.NewMemoryStore()
	m := NewManager(ms, pricing.NewStaticSource(map[string]decimal.Decimal{"AAA": d(10)}), nil)
	s, err := m.Open(context.Background(), model.Holdings{{Symbol: "AAA", Quantity: d(5)}})
	require.NoError(t, err)

	_, err = s.ComputePlan(context.Background(), Request{
		Mode:   model.ModeManual,
		Target: d(40),
		Spends: []allocation.Spend{{Symbol: "aaa", Amount: d(30)}},
	})
	var ie *allocation.IncompleteError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "10", ie.Remaining.String())

	txs, _ := ms.ListTransactions(context.Background(), s.ID())
	assert.Empty(t, txs)
}

func TestComputePlan_ManualUnavailablePrice(t *testing.T) {
	s, _, prices, _ := newTestSession(t)
	prices.Remove("AAA")

	_, err := s.ComputePlan(context.Background(), Request{
		Mode:   model.ModeManual,
		Target: d(50),
		Spends: []allocation.Spend{{Symbol: "AAA", Amount: d(50)}},
	})
	var ue *allocation.UnavailablePriceError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "AAA", ue.Symbol)
}

func TestComputePlan_AutomaticSkipsUnavailable(t *testing.T) {
	s, _, prices, _ := newTestSession(t)
	prices.Remove("AAA")

	plan, err := s.ComputePlan(context.Background(), Request{Mode: model.ModeAutomatic, Target: d(50)})
	require.NoError(t, err)
	require.Len(t, plan.Legs, 1)
	assert.Equal(t, "BBB", plan.Legs[0].Symbol)
}

func TestComputePlan_InvalidInputs(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	ctx := context.Background()

	_, err := s.ComputePlan(ctx, Request{Mode: "barter", Target: d(1)})
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, err = s.ComputePlan(ctx, Request{Mode: model.ModeManual, Target: d(1), Spends: []allocation.Spend{{Symbol: "", Amount: d(1)}}})
	assert.ErrorIs(t, err, symbol.ErrInvalidSymbol)
}

func TestConfirm_HoldingsChangedSincePlanning(t *testing.T) {
	s, ms, _, _ := newTestSession(t)
	ctx := context.Background()

	plan, err := s.ComputePlan(ctx, Request{Mode: model.ModeAutomatic, Target: d(150)})
	require.NoError(t, err)

	// Another writer drains AAA between planning and confirmation.
	_, err = ms.Settle(ctx, s.ID(), func(h model.Holdings) (model.Holdings, *model.TransactionRecord, error) {
		h[0].Quantity = d(1)
		return h, &model.TransactionRecord{ID: "external"}, nil
	})
	require.NoError(t, err)

	_, err = s.Confirm(ctx, plan.ID)
	var ie *allocation.InfeasibleError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "AAA", ie.Symbol)
	assert.True(t, ie.Deficit.Equal(d(50)))
	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, s.Pending())

	h, _ := s.Holdings(ctx)
	assert.True(t, h.Quantity("AAA").Equal(d(1)))
}

func TestDiscard(t *testing.T) {
	s, _, _, rec := newTestSession(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Discard(""), ErrNoPendingPlan)

	plan, err := s.ComputePlan(ctx, Request{Mode: model.ModeAutomatic, Target: d(10)})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Discard("other"), ErrPlanMismatch)
	require.NoError(t, s.Discard(plan.ID))
	assert.Equal(t, StateIdle, s.State())

	_, err = s.Confirm(ctx, plan.ID)
	assert.ErrorIs(t, err, ErrNoPendingPlan)
	assert.Contains(t, rec.types(), EventPlanDiscarded)
}

func TestCaps(t *testing.T) {
	s, _, _, _ := newTestSession(t)

	caps, err := s.Caps(context.Background(), d(150), []allocation.Spend{{Symbol: "aaa", Amount: d(120)}})
	require.NoError(t, err)
	require.Len(t, caps, 2)
	assert.Equal(t, "150", caps[0].Max.String())
	assert.Equal(t, "30", caps[1].Max.String())

	_, err = s.Caps(context.Background(), decimal.Zero, nil)
	assert.ErrorIs(t, err, allocation.ErrInvalidAmount)
}

func TestTransactions_NewestFirst(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	ctx := context.Background()

	var ids []string
	for _, target := range []float64{10, 20, 30} {
		plan, err := s.ComputePlan(ctx, Request{Mode: model.ModeAutomatic, Target: d(target)})
		require.NoError(t, err)
		rec, err := s.Confirm(ctx, plan.ID)
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	seq, err := s.Transactions(ctx)
	require.NoError(t, err)
	var got []string
	for r := range seq {
		got = append(got, r.ID)
	}
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, got)

	one, err := s.Transaction(ctx, ids[1])
	require.NoError(t, err)
	assert.True(t, one.Total.Equal(d(20)))
}

func TestManager_GetAndClose(t *testing.T) {
	ms := store.NewMemoryStore()
	m := NewManager(ms, pricing.NewStaticSource(nil), nil)
	ctx := context.Background()

	s, err := m.Open(ctx, nil)
	require.NoError(t, err)

	got, err := m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, m.Close(ctx, s.ID()))
	_, err = m.Get(s.ID())
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.ErrorIs(t, m.Close(ctx, s.ID()), ErrNotFound)
}

func TestComputePlan_InvalidRequestDiscardsProposal(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	ctx := context.Background()

	plan, err := s.ComputePlan(ctx, Request{Mode: model.ModeAutomatic, Target: d(10)})
	require.NoError(t, err)

	_, err = s.ComputePlan(ctx, Request{Mode: "bogus", Target: d(10)})
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, s.Pending())

	_, err = s.Confirm(ctx, plan.ID)
	assert.ErrorIs(t, err, ErrNoPendingPlan)

	plan, err = s.ComputePlan(ctx, Request{Mode: model.ModeAutomatic, Target: d(10)})
	require.NoError(t, err)
	_, err = s.ComputePlan(ctx, Request{Mode: model.ModeManual, Target: d(10), Spends: []allocation.Spend{{Symbol: "!!", Amount: d(10)}}})
	assert.ErrorIs(t, err, symbol.ErrInvalidSymbol)
	assert.Nil(t, s.Pending())
}

func TestManager_ForgetsExpiredSession(t *testing.T) {
	ms := store.NewMemoryStore()
	m := NewManager(ms, pricing.NewStaticSource(nil), nil)
	ctx := context.Background()

	s, err := m.Open(ctx, model.Holdings{{Symbol: "AAA", Quantity: d(1)}})
	require.NoError(t, err)
	before := testutil.ToFloat64(metrics.ActiveSessions)

	// Stored state vanishes underneath the manager, as with a Redis TTL.
	require.NoError(t, ms.DeleteSession(ctx, s.ID()))

	_, err = s.Holdings(ctx)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, before-1, testutil.ToFloat64(metrics.ActiveSessions))

	// A second failing call does not decrement again.
	_, err = s.Transactions(ctx)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
	assert.Equal(t, before-1, testutil.ToFloat64(metrics.ActiveSessions))
}

func TestManager_CloseAfterExpiry(t *testing.T) {
	ms := store.NewMemoryStore()
	m := NewManager(ms, pricing.NewStaticSource(nil), nil)
	ctx := context.Background()

	s, err := m.Open(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, ms.DeleteSession(ctx, s.ID()))

	assert.NoError(t, m.Close(ctx, s.ID()))
}
