package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/atmx/stockpay/internal/ledger"
	"github.com/atmx/stockpay/internal/model"
)

type memSession struct {
	holdings model.Holdings
	ledger   *ledger.Ledger
}

// MemoryStore implements Store with in-memory maps. State lives only as long
// as the process, which matches the session-scoped lifetime of a portfolio.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memSession),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, sessionID string, holdings model.Holdings) error {
	if err := checkHoldings(holdings); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	// Store a copy to avoid external mutation.
	s.sessions[sessionID] = &memSession{
		holdings: holdings.Clone(),
		ledger:   ledger.New(),
	}
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) GetHoldings(_ context.Context, sessionID string) (model.Holdings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess.holdings.Clone(), nil
}

// Settle runs fn and applies its result under the store's write lock, so
// no other settlement can interleave between re-validation and the write.
func (s *MemoryStore) Settle(_ context.Context, sessionID string, fn SettleFunc) (*model.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	next, record, err := fn(sess.holdings.Clone())
	if err != nil {
		return nil, err
	}
	if err := checkHoldings(next); err != nil {
		return nil, err
	}

	sess.holdings = next.Clone()
	sess.ledger.Append(*record)
	out := *record
	return &out, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, sessionID string) ([]model.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess.ledger.Records(), nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, sessionID, txID string) (*model.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	r, ok := sess.ledger.Find(txID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
	}
	return &r, nil
}
