// Package store defines the session state persistence interface for the
// settlement engine: one holdings collection and one transaction ledger per
// session. Implementations include in-memory (default, and for testing) and
// Redis (session-scoped keys that expire with the session).
package store

import (
	"context"
	"errors"

	"github.com/atmx/stockpay/internal/model"
)

var (
	ErrSessionNotFound     = errors.New("store: session not found")
	ErrSessionExists       = errors.New("store: session already exists")
	ErrTransactionNotFound = errors.New("store: transaction not found")
	ErrNegativeHolding     = errors.New("store: holding quantity would be negative")
)

// SettleFunc receives a private copy of the session's current holdings and
// returns the holdings to store plus the record to append. Returning an
// error aborts the settlement with nothing written.
type SettleFunc func(current model.Holdings) (model.Holdings, *model.TransactionRecord, error)

// Store is the persistence interface. Settle is the only write path after a
// session is created.
type Store interface {
	// --- Session lifecycle ---

	// CreateSession seeds a new session with its starting holdings.
	CreateSession(ctx context.Context, sessionID string, holdings model.Holdings) error

	// DeleteSession drops a session's holdings and ledger.
	DeleteSession(ctx context.Context, sessionID string) error

	// --- Holdings ---

	// GetHoldings returns a copy of the session's holdings in enumeration order.
	GetHoldings(ctx context.Context, sessionID string) (model.Holdings, error)

	// Settle atomically replaces holdings and appends one ledger record.
	// fn sees the holdings as they are at commit time, never a cached view.
	Settle(ctx context.Context, sessionID string, fn SettleFunc) (*model.TransactionRecord, error)

	// --- Immutable ledger ---

	// ListTransactions returns every record of the session in commit order.
	ListTransactions(ctx context.Context, sessionID string) ([]model.TransactionRecord, error)

	// GetTransaction returns one record by ID.
	GetTransaction(ctx context.Context, sessionID, txID string) (*model.TransactionRecord, error)
}

// checkHoldings enforces the non-negative quantity invariant.
func checkHoldings(h model.Holdings) error {
	for _, x := range h {
		if x.Quantity.IsNegative() {
			return ErrNegativeHolding
		}
	}
	return nil
}
