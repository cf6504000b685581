package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/atmx/stockpay/internal/config"
	"github.com/atmx/stockpay/internal/pricing"
	"github.com/atmx/stockpay/internal/store"
)

// newPriceSource picks the live feed when configured, then a YAML price
// table, then the built-in demo table.
func newPriceSource(c *config.Config) (pricing.Source, error) {
	switch {
	case c.PriceFeedURL != "":
		log.Info().Str("url", c.PriceFeedURL).Float64("rps", c.PriceFeedRPS).Msg("using live price feed")
		return pricing.NewFeedSource(pricing.FeedConfig{
			BaseURL:        c.PriceFeedURL,
			RequestsPerSec: c.PriceFeedRPS,
			Timeout:        c.PriceFeedTimeout,
		}), nil
	case c.PricesFile != "":
		src, err := pricing.LoadStaticFile(c.PricesFile)
		if err != nil {
			return nil, err
		}
		log.Info().Str("file", c.PricesFile).Msg("using static price table")
		return src, nil
	default:
		log.Warn().Msg("no price source configured, using demo price table")
		return pricing.NewStaticSource(pricing.DefaultTable), nil
	}
}

// newStore returns the Redis store when REDIS_URL is set, otherwise the
// in-memory store. The returned cleanup func is never nil.
func newStore(ctx context.Context, c *config.Config) (store.Store, func(), error) {
	if c.RedisURL == "" {
		log.Info().Msg("REDIS_URL not set, using in-memory session store")
		return store.NewMemoryStore(), func() {}, nil
	}

	opt, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis unreachable: %w", err)
	}

	log.Info().Str("addr", opt.Addr).Dur("ttl", c.SessionTTL).Msg("using Redis session store")
	return store.NewRedisStore(rdb, c.SessionTTL), func() { rdb.Close() }, nil
}
