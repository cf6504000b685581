package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/atmx/stockpay/internal/model"
)

var ErrFeedStatus = errors.New("pricing: unexpected feed status")

// FeedConfig configures a live market-data feed.
type FeedConfig struct {
	BaseURL        string
	RequestsPerSec float64
	Timeout        time.Duration
	Client         *http.Client // optional; defaults to a client with Timeout
}

// FeedSource fetches quotes from a JSON HTTP feed:
//
//	GET {base}/quotes?symbols=AAPL,TSLA
//	{"quotes":[{"symbol":"AAPL","price":"180.00"}, ...]}
//
// Calls are rate limited and go through a circuit breaker so a failing feed
// is not hammered; while the breaker is open every call fails fast and the
// snapshot marks all symbols unavailable.
type FeedSource struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

type feedQuote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

type feedResponse struct {
	Quotes []feedQuote `json:"quotes"`
}

// NewFeedSource creates a feed client.
func NewFeedSource(cfg FeedConfig) *FeedSource {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}

	st := gobreaker.Settings{Name: "price-feed"}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}

	return &FeedSource{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

func (f *FeedSource) Prices(ctx context.Context, symbols []string) (model.Quotes, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("price feed rate limit: %w", err)
	}

	res, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetch(ctx, symbols)
	})
	if err != nil {
		return nil, err
	}
	return res.(model.Quotes), nil
}

func (f *FeedSource) fetch(ctx context.Context, symbols []string) (model.Quotes, error) {
	u := f.base + "/quotes?symbols=" + url.QueryEscape(strings.Join(symbols, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrFeedStatus, resp.Status)
	}

	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode price feed: %w", err)
	}

	out := make(model.Quotes, len(body.Quotes))
	for _, q := range body.Quotes {
		out[q.Symbol] = model.Quote{Symbol: q.Symbol, Price: q.Price, Available: q.Price.IsPositive()}
	}
	return out, nil
}
