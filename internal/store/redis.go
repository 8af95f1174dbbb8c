package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for portfolios and stocks. Writes go to the primary store and
// invalidate the cache. Transaction snapshots and versions are never
// cached here: they must always reflect the primary's committed state.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	if err := s.primary.CreatePortfolio(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, portfolioListKey(p.OwnerID), portfolioListKey(""))
	return nil
}

func (s *CachedStore) UpdatePortfolio(ctx context.Context, p *model.Portfolio) error {
	if err := s.primary.UpdatePortfolio(ctx, p); err != nil {
		return err
	}
	s.invalidatePortfolio(ctx, p.ID)
	return nil
}

func (s *CachedStore) DeletePortfolio(ctx context.Context, id string) error {
	s.invalidatePortfolio(ctx, id)
	return s.primary.DeletePortfolio(ctx, id)
}

// Transaction writes bump the portfolio version, so the cached portfolio
// row is stale afterwards.

func (s *CachedStore) AppendTransaction(ctx context.Context, tx *model.Transaction) error {
	if err := s.primary.AppendTransaction(ctx, tx); err != nil {
		return err
	}
	s.rdb.Del(ctx, portfolioKey(tx.PortfolioID))
	return nil
}

func (s *CachedStore) UpdateTransaction(ctx context.Context, tx *model.Transaction) error {
	if err := s.primary.UpdateTransaction(ctx, tx); err != nil {
		return err
	}
	s.rdb.Del(ctx, portfolioKey(tx.PortfolioID))
	return nil
}

func (s *CachedStore) DeleteTransaction(ctx context.Context, portfolioID, id string) error {
	if err := s.primary.DeleteTransaction(ctx, portfolioID, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, portfolioKey(portfolioID))
	return nil
}

func (s *CachedStore) UpsertStock(ctx context.Context, st *model.Stock) error {
	if err := s.primary.UpsertStock(ctx, st); err != nil {
		return err
	}
	s.rdb.Del(ctx, stockKey(st.Ticker), stockListKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	var p model.Portfolio
	if s.get(ctx, portfolioKey(id), &p) {
		return &p, nil
	}

	// Cache miss: read from primary.
	fresh, err := s.primary.GetPortfolio(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, portfolioKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) ListPortfolios(ctx context.Context, ownerID string) ([]model.Portfolio, error) {
	var portfolios []model.Portfolio
	if s.get(ctx, portfolioListKey(ownerID), &portfolios) {
		return portfolios, nil
	}

	portfolios, err := s.primary.ListPortfolios(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, portfolioListKey(ownerID), portfolios)
	return portfolios, nil
}

func (s *CachedStore) GetStock(ctx context.Context, ticker string) (*model.Stock, error) {
	var st model.Stock
	if s.get(ctx, stockKey(ticker), &st) {
		return &st, nil
	}

	fresh, err := s.primary.GetStock(ctx, ticker)
	if err != nil {
		return nil, err
	}
	s.set(ctx, stockKey(ticker), fresh)
	return fresh, nil
}

func (s *CachedStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	var stocks []model.Stock
	if s.get(ctx, stockListKey, &stocks) {
		return stocks, nil
	}

	stocks, err := s.primary.ListStocks(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, stockListKey, stocks)
	return stocks, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetTransaction(ctx context.Context, portfolioID, id string) (*model.Transaction, error) {
	return s.primary.GetTransaction(ctx, portfolioID, id)
}

func (s *CachedStore) ListTransactions(ctx context.Context, portfolioID, ticker string) (*model.TransactionSet, error) {
	return s.primary.ListTransactions(ctx, portfolioID, ticker)
}

func (s *CachedStore) PortfolioVersion(ctx context.Context, portfolioID string) (int64, error) {
	return s.primary.PortfolioVersion(ctx, portfolioID)
}

func (s *CachedStore) RecordPrice(ctx context.Context, ticker string, price decimal.Decimal, at time.Time) error {
	return s.primary.RecordPrice(ctx, ticker, price, at)
}

func (s *CachedStore) ListPriceHistory(ctx context.Context, ticker string) ([]model.PricePoint, error) {
	return s.primary.ListPriceHistory(ctx, ticker)
}

// --- Cache helpers ---

// get decodes the cached value at key into dst and reports whether it did.
func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) invalidatePortfolio(ctx context.Context, id string) {
	keys := []string{portfolioKey(id), portfolioListKey("")}
	if p, err := s.primary.GetPortfolio(ctx, id); err == nil {
		keys = append(keys, portfolioListKey(p.OwnerID))
	}
	s.rdb.Del(ctx, keys...)
}

const stockListKey = "stocks"

func portfolioKey(id string) string { return fmt.Sprintf("portfolio:%s", id) }

func portfolioListKey(owner string) string { return fmt.Sprintf("portfolios:%s", owner) }

func stockKey(ticker string) string { return fmt.Sprintf("stock:%s", ticker) }

// Compile-time interface checks.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)
