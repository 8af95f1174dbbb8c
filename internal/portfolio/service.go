// Package portfolio provides the HTTP handlers and business logic for
// managing portfolios, recording transactions, and reporting FIFO cost
// basis and realized profit.
//
// All quantities and money use shopspring/decimal. Never float64.
package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/atmx/portfolio-engine/internal/cache"
	"github.com/atmx/portfolio-engine/internal/fifo"
	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/price"
	"github.com/atmx/portfolio-engine/internal/store"
	"github.com/atmx/portfolio-engine/internal/ticker"
)

// Service handles portfolio operations. Writes to one portfolio are
// serialized with a per-portfolio mutex so the over-sell check and the
// commit see the same history (single-instance). Reads are lock-free.
type Service struct {
	store   store.Store
	results *cache.ResultCache // optional
	prices  price.Source       // optional; implicit-price transactions fail without it
	wsHub   *WSHub             // optional WebSocket hub for change notifications
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*portfolioLock
}

// portfolioLock is a write lock shared by the requests currently holding
// or waiting on one portfolio. The entry is dropped when refs reaches zero.
type portfolioLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates a new portfolio service.
// Pass nil for results to recompute on every read, and nil for hub if
// WebSocket broadcasting is not needed.
func NewService(st store.Store, results *cache.ResultCache, prices price.Source, hub *WSHub) *Service {
	return &Service{
		store:   st,
		results: results,
		prices:  prices,
		wsHub:   hub,
		now:     func() time.Time { return time.Now().UTC() },
		locks:   make(map[string]*portfolioLock),
	}
}

// lock acquires the write lock of one portfolio and returns its release.
func (s *Service) lock(portfolioID string) func() {
	s.mu.Lock()
	l, ok := s.locks[portfolioID]
	if !ok {
		l = &portfolioLock{}
		s.locks[portfolioID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, portfolioID)
		}
		s.mu.Unlock()
	}
}

// Computation is a FIFO result with the version it was computed at.
type Computation struct {
	Result  *model.Result
	Version int64
	Outcome cache.Outcome
}

// Compute returns the FIFO result of one portfolio, restricted to symbol
// when it is non-empty. The result always reflects one consistent
// snapshot of the transaction history.
func (s *Service) Compute(ctx context.Context, portfolioID, symbol string) (*Computation, error) {
	compute := func(ctx context.Context) (*cache.Entry, error) {
		set, err := s.store.ListTransactions(ctx, portfolioID, symbol)
		if err != nil {
			return nil, err
		}
		result, err := replay(set)
		if err != nil {
			return nil, err
		}
		return &cache.Entry{Version: set.Version, Result: result}, nil
	}

	if s.results == nil {
		e, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return &Computation{Result: e.Result, Version: e.Version, Outcome: cache.Miss}, nil
	}

	version, err := s.store.PortfolioVersion(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	scope := symbol
	if scope == "" {
		scope = cache.AllTickers
	}
	e, outcome, err := s.results.GetOrCompute(ctx, cache.Key{
		PortfolioID: portfolioID,
		Ticker:      scope,
		Version:     version,
	}, compute)
	if err != nil {
		return nil, err
	}
	return &Computation{Result: e.Result, Version: e.Version, Outcome: outcome}, nil
}

// replay runs the engine over one snapshot and records metrics.
func replay(set *model.TransactionSet) (*model.Result, error) {
	scope := "portfolio"
	if set.Ticker != "" {
		scope = "ticker"
	}
	start := time.Now()
	defer func() {
		metrics.Recomputations.WithLabelValues(scope).Inc()
		metrics.ComputeLatency.WithLabelValues(scope).Observe(time.Since(start).Seconds())
	}()

	if set.Ticker != "" {
		return fifo.ComputeTicker(set.Ticker, set.Transactions)
	}
	return fifo.Compute(set.Transactions)
}

func (s *Service) invalidate(ctx context.Context, portfolioID string, tickers ...string) {
	if s.results == nil {
		return
	}
	if err := s.results.Invalidate(ctx, portfolioID, tickers...); err != nil {
		slog.Warn("result cache invalidation failed", "portfolio", portfolioID, "err", err)
	}
}

// --- Error mapping ---

// errorStatus maps a domain error to an HTTP status code.
func errorStatus(err error) int {
	var (
		validation   *fifo.ValidationError
		insufficient *fifo.InsufficientSharesError
		unavailable  *price.UnavailableError
	)
	switch {
	case errors.As(err, &validation),
		errors.Is(err, ticker.ErrEmpty),
		errors.Is(err, ticker.ErrInvalidTicker):
		return http.StatusBadRequest
	case errors.As(err, &insufficient):
		return http.StatusConflict
	case errors.As(err, &unavailable):
		if errors.Is(err, price.ErrNotFound) {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError maps err to a status and writes it. Internal errors
// are logged and hidden from the client.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error(fallback, "err", err)
		writeError(w, fallback, status)
		return
	}
	writeError(w, err.Error(), status)
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
