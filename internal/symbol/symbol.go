// Package symbol handles asset symbol parsing and validation.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches exchange tickers with an optional share-class suffix.
// Examples: AAPL, GOOGL, BRK.B, RDS-A
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,9}(?:[.-][A-Z0-9]{1,4})?$`)

var (
	ErrInvalidSymbol   = errors.New("symbol: invalid asset symbol")
	ErrDuplicateSymbol = errors.New("symbol: duplicate asset symbol")
)

// Parse normalises s (trims, upper-cases) and validates the result.
func Parse(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if !symbolRegex.MatchString(sym) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return sym, nil
}

// ParseList parses every symbol in list, preserving order and rejecting
// duplicates after normalisation.
func ParseList(list []string) ([]string, error) {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		sym, err := Parse(s)
		if err != nil {
			return nil, err
		}
		if seen[sym] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSymbol, sym)
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out, nil
}

// Split parses a comma-separated symbol list such as "AAPL,tsla".
// Empty items are ignored.
func Split(csv string) ([]string, error) {
	var raw []string
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) != "" {
			raw = append(raw, part)
		}
	}
	return ParseList(raw)
}
