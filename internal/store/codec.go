package store

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/atmx/stockpay/internal/model"
)

// Redis values are msgpack-encoded. Decimals travel as strings to keep
// full precision.

type wireHolding struct {
	Symbol   string `msgpack:"s"`
	Quantity string `msgpack:"q"`
}

type wireLeg struct {
	Symbol   string `msgpack:"s"`
	Price    string `msgpack:"p"`
	Quantity string `msgpack:"q"`
	Amount   string `msgpack:"a"`
}

type wireRecord struct {
	ID        string    `msgpack:"id"`
	SessionID string    `msgpack:"sid"`
	PlanID    string    `msgpack:"pid"`
	Mode      string    `msgpack:"m"`
	Legs      []wireLeg `msgpack:"l"`
	Total     string    `msgpack:"t"`
	Timestamp time.Time `msgpack:"ts"`
}

func encodeHoldings(h model.Holdings) ([]byte, error) {
	wire := make([]wireHolding, len(h))
	for i, x := range h {
		wire[i] = wireHolding{Symbol: x.Symbol, Quantity: x.Quantity.String()}
	}
	return msgpack.Marshal(wire)
}

func decodeHoldings(data []byte) (model.Holdings, error) {
	var wire []wireHolding
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode holdings: %w", err)
	}
	h := make(model.Holdings, len(wire))
	for i, w := range wire {
		q, err := decimal.NewFromString(w.Quantity)
		if err != nil {
			return nil, fmt.Errorf("decode holding %s: %w", w.Symbol, err)
		}
		h[i] = model.Holding{Symbol: w.Symbol, Quantity: q}
	}
	return h, nil
}

func encodeRecord(r *model.TransactionRecord) ([]byte, error) {
	legs := make([]wireLeg, len(r.Legs))
	for i, l := range r.Legs {
		legs[i] = wireLeg{
			Symbol:   l.Symbol,
			Price:    l.Price.String(),
			Quantity: l.Quantity.String(),
			Amount:   l.Amount.String(),
		}
	}
	return msgpack.Marshal(wireRecord{
		ID:        r.ID,
		SessionID: r.SessionID,
		PlanID:    r.PlanID,
		Mode:      string(r.Mode),
		Legs:      legs,
		Total:     r.Total.String(),
		Timestamp: r.Timestamp,
	})
}

func decodeRecord(data []byte) (model.TransactionRecord, error) {
	var w wireRecord
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return model.TransactionRecord{}, fmt.Errorf("decode record: %w", err)
	}

	legs := make([]model.Leg, len(w.Legs))
	for i, l := range w.Legs {
		var err error
		legs[i].Symbol = l.Symbol
		if legs[i].Price, err = decimal.NewFromString(l.Price); err != nil {
			return model.TransactionRecord{}, fmt.Errorf("decode record %s: %w", w.ID, err)
		}
		if legs[i].Quantity, err = decimal.NewFromString(l.Quantity); err != nil {
			return model.TransactionRecord{}, fmt.Errorf("decode record %s: %w", w.ID, err)
		}
		if legs[i].Amount, err = decimal.NewFromString(l.Amount); err != nil {
			return model.TransactionRecord{}, fmt.Errorf("decode record %s: %w", w.ID, err)
		}
	}
	total, err := decimal.NewFromString(w.Total)
	if err != nil {
		return model.TransactionRecord{}, fmt.Errorf("decode record %s: %w", w.ID, err)
	}

	return model.TransactionRecord{
		ID:        w.ID,
		SessionID: w.SessionID,
		PlanID:    w.PlanID,
		Mode:      model.Mode(w.Mode),
		Legs:      legs,
		Total:     total,
		Timestamp: w.Timestamp,
	}, nil
}
