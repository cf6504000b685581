// Package pricing supplies per-unit asset prices to the allocation engine.
//
// A Source may be a static table or a live feed. Callers take one Snapshot
// per interaction and run every computation against it. Failures never turn
// into stale or zero prices: the affected symbols are simply unavailable.
package pricing

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/atmx/stockpay/internal/metrics"
	"github.com/atmx/stockpay/internal/model"
)

// Source returns current quotes for the requested symbols. Symbols the
// source cannot price must be absent or marked unavailable.
type Source interface {
	Prices(ctx context.Context, symbols []string) (model.Quotes, error)
}

// Snapshot fetches quotes for symbols and never fails. If the source errors,
// every symbol is reported unavailable for this attempt.
func Snapshot(ctx context.Context, src Source, symbols []string) model.Quotes {
	out := make(model.Quotes, len(symbols))
	for _, sym := range symbols {
		out[sym] = model.Quote{Symbol: sym}
	}
	if len(symbols) == 0 {
		return out
	}

	quotes, err := src.Prices(ctx, symbols)
	if err != nil {
		metrics.PriceSourceErrors.Inc()
		log.Warn().Err(err).Strs("symbols", symbols).Msg("price source unavailable")
		return out
	}

	for _, sym := range symbols {
		q, ok := quotes[sym]
		if !ok {
			continue
		}
		if !q.Price.IsPositive() {
			q.Available = false
		}
		q.Symbol = sym
		out[sym] = q
		if !q.Available {
			metrics.UnavailableQuotes.Inc()
		}
	}
	return out
}
