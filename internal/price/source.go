// Package price resolves current market prices for tickers.
package price

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
)

var (
	// ErrNotFound means the provider has no quote for the ticker.
	ErrNotFound = errors.New("price: ticker not found")

	// ErrRateLimited means the provider refused the request for quota reasons.
	ErrRateLimited = errors.New("price: rate limited")
)

// Source returns the current quote for a ticker.
type Source interface {
	CurrentPrice(ctx context.Context, ticker string) (*model.Quote, error)
}

// UnavailableError wraps any failure to obtain a price. Callers must not
// fall back to a zero price when they see it.
type UnavailableError struct {
	Ticker string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("price unavailable for %s: %v", e.Ticker, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Lookup calls src and wraps every failure in *UnavailableError.
func Lookup(ctx context.Context, src Source, ticker string) (*model.Quote, error) {
	if src == nil {
		return nil, &UnavailableError{Ticker: ticker, Err: errors.New("no price source configured")}
	}
	q, err := src.CurrentPrice(ctx, ticker)
	if err != nil {
		var ue *UnavailableError
		if errors.As(err, &ue) {
			return nil, err
		}
		return nil, &UnavailableError{Ticker: ticker, Err: err}
	}
	if q == nil || !q.Price.IsPositive() {
		return nil, &UnavailableError{Ticker: ticker, Err: ErrNotFound}
	}
	return q, nil
}

// StaticSource serves fixed prices. Unknown tickers return ErrNotFound.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	err    error
}

// NewStaticSource creates a source serving the given prices.
func NewStaticSource(prices map[string]decimal.Decimal) *StaticSource {
	s := &StaticSource{prices: make(map[string]decimal.Decimal, len(prices))}
	for t, p := range prices {
		s.prices[t] = p
	}
	return s
}

// Set replaces the price of ticker.
func (s *StaticSource) Set(ticker string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[ticker] = price
}

// Fail makes every subsequent lookup return err. Pass nil to recover.
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticSource) CurrentPrice(_ context.Context, ticker string) (*model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.prices[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ticker)
	}
	return &model.Quote{
		Ticker:    ticker,
		Price:     p,
		Timestamp: time.Now().UTC(),
		Source:    "static",
	}, nil
}
