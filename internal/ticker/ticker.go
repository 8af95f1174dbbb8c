// Package ticker handles stock ticker normalization and validation.
package ticker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxLength is the longest ticker the store accepts.
const MaxLength = 10

// tickerRegex matches: {root}[.{class}] or {root}[-{class}]
// Examples: AAPL, BRK.B, RDS-A
var tickerRegex = regexp.MustCompile(`^([A-Z][A-Z0-9]{0,5})(?:[.\-]([A-Z0-9]{1,3}))?$`)

var (
	ErrEmpty         = errors.New("ticker: must be a non-empty string")
	ErrInvalidTicker = errors.New("ticker: invalid ticker format")
)

// Symbol is a parsed ticker.
type Symbol struct {
	Ticker string `json:"ticker"`
	Root   string `json:"root"`
	Class  string `json:"class,omitempty"` // share class, e.g. "B" in BRK.B
}

// Normalize trims surrounding whitespace and upper-cases raw.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Parse normalizes and validates a ticker string.
func Parse(raw string) (*Symbol, error) {
	t := Normalize(raw)
	if t == "" {
		return nil, ErrEmpty
	}
	if len(t) > MaxLength {
		return nil, fmt.Errorf("%w: %s (longer than %d characters)", ErrInvalidTicker, t, MaxLength)
	}

	matches := tickerRegex.FindStringSubmatch(t)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTicker, t)
	}

	return &Symbol{
		Ticker: t,
		Root:   matches[1],
		Class:  matches[2],
	}, nil
}

// Canonical returns the normalized ticker, or an error if it is invalid.
func Canonical(raw string) (string, error) {
	s, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return s.Ticker, nil
}
