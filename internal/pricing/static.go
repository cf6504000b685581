package pricing

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/stockpay/internal/model"
	"github.com/atmx/stockpay/internal/symbol"
)

// DefaultTable is the demo price table used when no feed is configured.
var DefaultTable = map[string]decimal.Decimal{
	"AAPL":  decimal.RequireFromString("180.00"),
	"GOOGL": decimal.RequireFromString("135.50"),
	"TSLA":  decimal.RequireFromString("220.20"),
	"AMZN":  decimal.RequireFromString("127.80"),
}

// StaticSource serves prices from a fixed in-memory table.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticSource copies table into a new source.
func NewStaticSource(table map[string]decimal.Decimal) *StaticSource {
	prices := make(map[string]decimal.Decimal, len(table))
	for sym, p := range table {
		prices[sym] = p
	}
	return &StaticSource{prices: prices}
}

// Set replaces the price of one symbol.
func (s *StaticSource) Set(sym string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[sym] = price
}

// Remove makes sym unavailable.
func (s *StaticSource) Remove(sym string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, sym)
}

func (s *StaticSource) Prices(_ context.Context, symbols []string) (model.Quotes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(model.Quotes, len(symbols))
	for _, sym := range symbols {
		p, ok := s.prices[sym]
		out[sym] = model.Quote{Symbol: sym, Price: p, Available: ok && p.IsPositive()}
	}
	return out, nil
}

// priceFile is the YAML layout of a static price table:
//
//	prices:
//	  AAPL: "180.00"
//	  TSLA: "220.20"
type priceFile struct {
	Prices map[string]string `yaml:"prices"`
}

// LoadStaticFile reads a YAML price table.
func LoadStaticFile(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price table: %w", err)
	}
	var pf priceFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse price table %s: %w", path, err)
	}

	table := make(map[string]decimal.Decimal, len(pf.Prices))
	for raw, ps := range pf.Prices {
		sym, err := symbol.Parse(raw)
		if err != nil {
			return nil, err
		}
		p, err := decimal.NewFromString(ps)
		if err != nil {
			return nil, fmt.Errorf("price for %s: %w", sym, err)
		}
		if !p.IsPositive() {
			return nil, fmt.Errorf("price for %s must be positive, got %s", sym, p)
		}
		table[sym] = p
	}
	return NewStaticSource(table), nil
}
