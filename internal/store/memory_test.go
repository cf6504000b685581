package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/stockpay/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seed(t *testing.T) *MemoryStore {
	t.Helper()
	ms := NewMemoryStore()
	err := ms.CreateSession(context.Background(), "s1", model.Holdings{
		{Symbol: "AAPL", Quantity: d(2)},
		{Symbol: "TSLA", Quantity: d(1.5)},
	})
	require.NoError(t, err)
	return ms
}

func debit(symbol string, qty decimal.Decimal) SettleFunc {
	return func(current model.Holdings) (model.Holdings, *model.TransactionRecord, error) {
		for i := range current {
			if current[i].Symbol == symbol {
				current[i].Quantity = current[i].Quantity.Sub(qty)
			}
		}
		return current, &model.TransactionRecord{
			ID:        "tx-" + symbol,
			SessionID: "s1",
			Legs:      []model.Leg{{Symbol: symbol, Quantity: qty}},
			Timestamp: time.Now().UTC(),
		}, nil
	}
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	ms := seed(t)
	err := ms.CreateSession(context.Background(), "s1", nil)
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestMemoryStore_CreateRejectsNegative(t *testing.T) {
	ms := NewMemoryStore()
	err := ms.CreateSession(context.Background(), "neg", model.Holdings{{Symbol: "AAPL", Quantity: d(-1)}})
	assert.ErrorIs(t, err, ErrNegativeHolding)
}

func TestMemoryStore_GetHoldingsReturnsCopy(t *testing.T) {
	ms := seed(t)
	ctx := context.Background()

	h, err := ms.GetHoldings(ctx, "s1")
	require.NoError(t, err)
	h[0].Quantity = d(100)

	again, _ := ms.GetHoldings(ctx, "s1")
	assert.True(t, again.Quantity("AAPL").Equal(d(2)))
	assert.Equal(t, []string{"AAPL", "TSLA"}, again.Symbols())
}

func TestMemoryStore_SettleAppliesAndAppends(t *testing.T) {
	ms := seed(t)
	ctx := context.Background()

	rec, err := ms.Settle(ctx, "s1", debit("AAPL", d(0.5)))
	require.NoError(t, err)
	assert.Equal(t, "tx-AAPL", rec.ID)

	h, _ := ms.GetHoldings(ctx, "s1")
	assert.True(t, h.Quantity("AAPL").Equal(d(1.5)))
	assert.True(t, h.Quantity("TSLA").Equal(d(1.5)))

	txs, err := ms.ListTransactions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, txs, 1)

	got, err := ms.GetTransaction(ctx, "s1", "tx-AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got.Legs[0].Symbol)
}

func TestMemoryStore_SettleAbortWritesNothing(t *testing.T) {
	ms := seed(t)
	ctx := context.Background()
	boom := errors.New("re-validation failed")

	_, err := ms.Settle(ctx, "s1", func(current model.Holdings) (model.Holdings, *model.TransactionRecord, error) {
		current[0].Quantity = decimal.Zero // mutation of the private copy
		return nil, nil, boom
	})
	assert.ErrorIs(t, err, boom)

	h, _ := ms.GetHoldings(ctx, "s1")
	assert.True(t, h.Quantity("AAPL").Equal(d(2)))
	txs, _ := ms.ListTransactions(ctx, "s1")
	assert.Empty(t, txs)
}

func TestMemoryStore_SettleRejectsNegative(t *testing.T) {
	ms := seed(t)
	ctx := context.Background()

	_, err := ms.Settle(ctx, "s1", debit("TSLA", d(2)))
	assert.ErrorIs(t, err, ErrNegativeHolding)

	h, _ := ms.GetHoldings(ctx, "s1")
	assert.True(t, h.Quantity("TSLA").Equal(d(1.5)))
}

func TestMemoryStore_UnknownSession(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	_, err := ms.GetHoldings(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = ms.Settle(ctx, "nope", debit("AAPL", d(1)))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = ms.ListTransactions(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, ms.DeleteSession(ctx, "nope"), ErrSessionNotFound)
}

func TestMemoryStore_GetTransactionMissing(t *testing.T) {
	ms := seed(t)
	_, err := ms.GetTransaction(context.Background(), "s1", "missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestMemoryStore_Delete(t *testing.T) {
	ms := seed(t)
	ctx := context.Background()

	require.NoError(t, ms.DeleteSession(ctx, "s1"))
	_, err := ms.GetHoldings(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCodec_KeepsFullPrecision(t *testing.T) {
	qty := decimal.RequireFromString("0.5555555555555556")
	rec := &model.TransactionRecord{
		ID:        "tx",
		Mode:      model.ModeAutomatic,
		Legs:      []model.Leg{{Symbol: "AAPL", Price: d(180), Quantity: qty, Amount: d(100)}},
		Total:     d(100),
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := encodeRecord(rec)
	require.NoError(t, err)
	got, err := decodeRecord(data)
	require.NoError(t, err)
	assert.True(t, got.Legs[0].Quantity.Equal(qty))
	assert.True(t, got.Timestamp.Equal(rec.Timestamp))

	hData, err := encodeHoldings(model.Holdings{{Symbol: "AAPL", Quantity: qty}})
	require.NoError(t, err)
	h, err := decodeHoldings(hData)
	require.NoError(t, err)
	assert.True(t, h.Quantity("AAPL").Equal(qty))
}
