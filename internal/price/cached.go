package price

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/model"
)

// DefaultQuoteTTL is how long a fetched quote is served without refetching.
const DefaultQuoteTTL = 20 * time.Minute

// errQuoteMiss is returned by a QuoteCache when nothing usable is stored.
var errQuoteMiss = errors.New("price: quote cache miss")

// QuoteCache stores recent quotes.
type QuoteCache interface {
	GetQuote(ctx context.Context, ticker string) (*model.Quote, error)
	PutQuote(ctx context.Context, q *model.Quote, ttl time.Duration) error
}

// CachedSource serves quotes from a QuoteCache and falls back to an
// upstream Source on a miss.
type CachedSource struct {
	upstream Source
	cache    QuoteCache
	ttl      time.Duration
}

// NewCachedSource wraps upstream with cache. A non-positive ttl selects DefaultQuoteTTL.
func NewCachedSource(upstream Source, cache QuoteCache, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	return &CachedSource{upstream: upstream, cache: cache, ttl: ttl}
}

func (s *CachedSource) CurrentPrice(ctx context.Context, ticker string) (*model.Quote, error) {
	q, err := s.cache.GetQuote(ctx, ticker)
	if err == nil {
		metrics.PriceLookups.WithLabelValues("cache", "hit").Inc()
		return q, nil
	}
	if !errors.Is(err, errQuoteMiss) {
		slog.Warn("quote cache read failed", "ticker", ticker, "err", err)
	}

	q, err = s.upstream.CurrentPrice(ctx, ticker)
	if err != nil {
		metrics.PriceLookups.WithLabelValues("upstream", outcomeOf(err)).Inc()
		return nil, err
	}
	metrics.PriceLookups.WithLabelValues("upstream", "ok").Inc()

	if err := s.cache.PutQuote(ctx, q, s.ttl); err != nil {
		slog.Warn("quote cache write failed", "ticker", ticker, "err", err)
	}
	slog.Info("fetched price", "ticker", ticker, "price", q.Price.String(), "source", q.Source)
	return q, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}

// MemoryQuoteCache keeps quotes in process.
type MemoryQuoteCache struct {
	mu      sync.RWMutex
	entries map[string]memoryQuote
	now     func() time.Time
}

type memoryQuote struct {
	quote     model.Quote
	expiresAt time.Time
}

// NewMemoryQuoteCache creates an empty in-process quote cache.
func NewMemoryQuoteCache() *MemoryQuoteCache {
	return &MemoryQuoteCache{entries: make(map[string]memoryQuote), now: time.Now}
}

func (c *MemoryQuoteCache) GetQuote(_ context.Context, ticker string) (*model.Quote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[ticker]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, errQuoteMiss
	}
	q := e.quote
	return &q, nil
}

func (c *MemoryQuoteCache) PutQuote(_ context.Context, q *model.Quote, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[q.Ticker] = memoryQuote{quote: *q, expiresAt: c.now().Add(ttl)}
	return nil
}

// RedisQuoteCache stores each quote as a Redis hash with an expiry.
type RedisQuoteCache struct {
	rdb *redis.Client
}

// NewRedisQuoteCache creates a Redis-backed quote cache.
func NewRedisQuoteCache(rdb *redis.Client) *RedisQuoteCache {
	return &RedisQuoteCache{rdb: rdb}
}

func quoteKey(ticker string) string { return fmt.Sprintf("stock_price:%s", ticker) }

func (c *RedisQuoteCache) GetQuote(ctx context.Context, ticker string) (*model.Quote, error) {
	fields, err := c.rdb.HGetAll(ctx, quoteKey(ticker)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errQuoteMiss
	}

	q := &model.Quote{Ticker: ticker, Source: fields["source"]}
	for name, dst := range map[string]*decimal.Decimal{
		"price":          &q.Price,
		"change":         &q.Change,
		"percent_change": &q.PercentChange,
		"high":           &q.High,
		"low":            &q.Low,
		"open":           &q.Open,
		"previous_close": &q.PreviousClose,
	} {
		v, err := decimal.NewFromString(fields[name])
		if err != nil {
			return nil, errQuoteMiss
		}
		*dst = v
	}
	if ts, err := strconv.ParseInt(fields["timestamp"], 10, 64); err == nil {
		q.Timestamp = time.Unix(ts, 0).UTC()
	}
	return q, nil
}

func (c *RedisQuoteCache) PutQuote(ctx context.Context, q *model.Quote, ttl time.Duration) error {
	key := quoteKey(q.Ticker)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"price":          q.Price.String(),
			"change":         q.Change.String(),
			"percent_change": q.PercentChange.String(),
			"high":           q.High.String(),
			"low":            q.Low.String(),
			"open":           q.Open.String(),
			"previous_close": q.PreviousClose.String(),
			"timestamp":      strconv.FormatInt(q.Timestamp.Unix(), 10),
			"source":         q.Source,
		})
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

var (
	_ Source     = (*FinnhubClient)(nil)
	_ Source     = (*CachedSource)(nil)
	_ Source     = (*StaticSource)(nil)
	_ QuoteCache = (*MemoryQuoteCache)(nil)
	_ QuoteCache = (*RedisQuoteCache)(nil)
)
