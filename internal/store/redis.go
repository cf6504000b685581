package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/atmx/stockpay/internal/model"
)

const maxSettleRetries = 5

// RedisStore keeps session state in Redis. Every key carries the session TTL,
// refreshed on each write, so state disappears with the session instead of
// outliving it. Settlements use WATCH/MULTI: the holdings key is watched
// while fn re-validates, and the write is retried if another client changed
// it in between.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) CreateSession(ctx context.Context, sessionID string, holdings model.Holdings) error {
	if err := checkHoldings(holdings); err != nil {
		return err
	}
	data, err := encodeHoldings(holdings)
	if err != nil {
		return err
	}

	ok, err := s.rdb.SetNX(ctx, holdingsKey(sessionID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create session %s: %w", sessionID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	return nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	n, err := s.rdb.Del(ctx, holdingsKey(sessionID), ledgerKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

func (s *RedisStore) GetHoldings(ctx context.Context, sessionID string) (model.Holdings, error) {
	return s.readHoldings(ctx, s.rdb, sessionID)
}

func (s *RedisStore) Settle(ctx context.Context, sessionID string, fn SettleFunc) (*model.TransactionRecord, error) {
	hKey, lKey := holdingsKey(sessionID), ledgerKey(sessionID)

	for attempt := 0; attempt < maxSettleRetries; attempt++ {
		var record *model.TransactionRecord

		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			current, err := s.readHoldings(ctx, tx, sessionID)
			if err != nil {
				return err
			}

			next, rec, err := fn(current)
			if err != nil {
				return err
			}
			if err := checkHoldings(next); err != nil {
				return err
			}

			hData, err := encodeHoldings(next)
			if err != nil {
				return err
			}
			rData, err := encodeRecord(rec)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, hKey, hData, s.ttl)
				pipe.RPush(ctx, lKey, rData)
				pipe.Expire(ctx, lKey, s.ttl)
				return nil
			})
			if err == nil {
				record = rec
			}
			return err
		}, hKey)

		if errors.Is(err, redis.TxFailedErr) {
			log.Debug().Str("session", sessionID).Int("attempt", attempt+1).Msg("settlement conflict, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return record, nil
	}
	return nil, fmt.Errorf("settle session %s: too many concurrent modifications", sessionID)
}

func (s *RedisStore) ListTransactions(ctx context.Context, sessionID string) ([]model.TransactionRecord, error) {
	if err := s.exists(ctx, sessionID); err != nil {
		return nil, err
	}

	items, err := s.rdb.LRange(ctx, ledgerKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", sessionID, err)
	}

	records := make([]model.TransactionRecord, 0, len(items))
	for _, item := range items {
		r, err := decodeRecord([]byte(item))
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *RedisStore) GetTransaction(ctx context.Context, sessionID, txID string) (*model.TransactionRecord, error) {
	records, err := s.ListTransactions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == txID {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
}

func (s *RedisStore) exists(ctx context.Context, sessionID string) error {
	n, err := s.rdb.Exists(ctx, holdingsKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("lookup session %s: %w", sessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// getter is the part of *redis.Client and *redis.Tx that readHoldings needs.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) readHoldings(ctx context.Context, c getter, sessionID string) (model.Holdings, error) {
	data, err := c.Get(ctx, holdingsKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get holdings %s: %w", sessionID, err)
	}
	return decodeHoldings(data)
}

// --- Key helpers ---

func holdingsKey(id string) string { return fmt.Sprintf("session:%s:holdings", id) }
func ledgerKey(id string) string   { return fmt.Sprintf("session:%s:ledger", id) }
