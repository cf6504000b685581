// Package ledger holds the append-only sequence of committed settlements.
package ledger

import (
	"iter"
	"sync"

	"github.com/atmx/stockpay/internal/model"
)

// Ledger is an append-only list of transaction records in commit order.
// Records are copied on the way in and on the way out, so no caller can
// change a stored record.
type Ledger struct {
	mu      sync.RWMutex
	records []model.TransactionRecord
}

// New returns a ledger seeded with records, oldest first.
func New(records ...model.TransactionRecord) *Ledger {
	l := &Ledger{}
	for _, r := range records {
		l.Append(r)
	}
	return l
}

// Append stores a copy of r after every existing record.
func (l *Ledger) Append(r model.TransactionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, cloneRecord(r))
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Records returns a copy of every record in commit order.
func (l *Ledger) Records() []model.TransactionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.TransactionRecord, len(l.records))
	for i, r := range l.records {
		out[i] = cloneRecord(r)
	}
	return out
}

// NewestFirst yields records from the most recent commit back to the first.
// The sequence covers the records present when iteration starts and can be
// ranged over any number of times.
func (l *Ledger) NewestFirst() iter.Seq[model.TransactionRecord] {
	return func(yield func(model.TransactionRecord) bool) {
		l.mu.RLock()
		n := len(l.records)
		snapshot := l.records[:n:n]
		l.mu.RUnlock()

		for i := n - 1; i >= 0; i-- {
			if !yield(cloneRecord(snapshot[i])) {
				return
			}
		}
	}
}

// Find returns the record with the given ID.
func (l *Ledger) Find(id string) (model.TransactionRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, r := range l.records {
		if r.ID == id {
			return cloneRecord(r), true
		}
	}
	return model.TransactionRecord{}, false
}

func cloneRecord(r model.TransactionRecord) model.TransactionRecord {
	legs := make([]model.Leg, len(r.Legs))
	copy(legs, r.Legs)
	r.Legs = legs
	return r
}
