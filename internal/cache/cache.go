// Package cache memoizes FIFO results per (portfolio, ticker) scope.
//
// Every entry carries the portfolio version it was computed at. A read
// whose expected version differs from the stored one is stale and is
// treated as a miss, so an edit to any historical transaction can never
// be served an outdated result. Concurrent computations for the same
// (portfolio, ticker, version) collapse into one.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/model"
)

// AllTickers is the ticker component of the whole-portfolio scope.
const AllTickers = "*"

// DefaultTTL bounds how long an entry may live even when nothing changes.
const DefaultTTL = 10 * time.Minute

// Outcome reports how a lookup was served.
type Outcome string

const (
	Hit   Outcome = "hit"
	Miss  Outcome = "miss"
	Stale Outcome = "stale"
)

// Key identifies one cached computation.
type Key struct {
	PortfolioID string
	Ticker      string // AllTickers for the whole portfolio
	Version     int64
}

func (k Key) scope() string {
	t := k.Ticker
	if t == "" {
		t = AllTickers
	}
	return fmt.Sprintf("fifo:%s:%s", k.PortfolioID, t)
}

func (k Key) flight() string {
	return fmt.Sprintf("%s@%d", k.scope(), k.Version)
}

// StaleCacheError reports an entry computed at a different version than
// the one the caller holds.
type StaleCacheError struct {
	Scope   string
	Cached  int64
	Current int64
}

func (e *StaleCacheError) Error() string {
	return fmt.Sprintf("cache: stale entry %s (cached version %d, current %d)", e.Scope, e.Cached, e.Current)
}

// ErrMiss is returned by a Backend when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Backend stores opaque entries with a TTL.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Entry is a result together with the portfolio version it reflects.
type Entry struct {
	Version int64         `json:"version"`
	Result  *model.Result `json:"result"`
}

// ComputeFunc produces a fresh entry. It is invoked at most once per
// concurrent burst of identical keys. The returned version may be newer
// than the key's when the portfolio moved while computing.
type ComputeFunc func(ctx context.Context) (*Entry, error)

// ResultCache is a version-checked, single-flight memo of FIFO results.
type ResultCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
}

// New creates a result cache over backend. A non-positive ttl selects DefaultTTL.
func New(backend Backend, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResultCache{backend: backend, ttl: ttl}
}

// Lookup returns the cached result for key. It returns ErrMiss when nothing
// is cached and a *StaleCacheError when the entry is for another version.
func (c *ResultCache) Lookup(ctx context.Context, key Key) (*Entry, error) {
	data, err := c.backend.Get(ctx, key.scope())
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil || e.Result == nil {
		return nil, ErrMiss
	}
	if e.Version != key.Version {
		return nil, &StaleCacheError{Scope: key.scope(), Cached: e.Version, Current: key.Version}
	}
	return &e, nil
}

// Store records e under the scope of key. The entry keeps its own version.
func (c *ResultCache) Store(ctx context.Context, key Key, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}
	return c.backend.Set(ctx, key.scope(), data, c.ttl)
}

// GetOrCompute serves key from the cache, or runs compute and stores its
// result. Backend failures degrade to recomputation.
func (c *ResultCache) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) (*Entry, Outcome, error) {
	e, err := c.Lookup(ctx, key)
	if err == nil {
		metrics.CacheLookups.WithLabelValues(string(Hit)).Inc()
		return e, Hit, nil
	}

	outcome := Miss
	var stale *StaleCacheError
	switch {
	case errors.As(err, &stale):
		outcome = Stale
		slog.Debug("stale fifo result", "scope", stale.Scope, "cached", stale.Cached, "current", stale.Current)
	case !errors.Is(err, ErrMiss):
		slog.Warn("result cache read failed", "key", key.scope(), "err", err)
	}
	metrics.CacheLookups.WithLabelValues(string(outcome)).Inc()

	// The flight outlives any single caller: a cancelled request stops
	// waiting but does not fail the callers collapsed onto it.
	ch := c.group.DoChan(key.flight(), func() (any, error) {
		fresh, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if err := c.Store(context.WithoutCancel(ctx), key, fresh); err != nil {
			slog.Warn("result cache write failed", "key", key.scope(), "err", err)
		}
		return fresh, nil
	})

	select {
	case <-ctx.Done():
		return nil, outcome, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, outcome, res.Err
		}
		return res.Val.(*Entry), outcome, nil
	}
}

// Invalidate drops the entries for the given tickers and the
// whole-portfolio entry.
func (c *ResultCache) Invalidate(ctx context.Context, portfolioID string, tickers ...string) error {
	keys := []string{Key{PortfolioID: portfolioID, Ticker: AllTickers}.scope()}
	for _, t := range tickers {
		keys = append(keys, Key{PortfolioID: portfolioID, Ticker: t}.scope())
	}
	return c.backend.Delete(ctx, keys...)
}
