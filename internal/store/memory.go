package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/fifo"
	"github.com/atmx/portfolio-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	portfolios   map[string]*model.Portfolio
	transactions map[string][]model.Transaction // portfolioID → rows
	stocks       map[string]*model.Stock
	prices       map[string]map[time.Time]decimal.Decimal
	seq          int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios:   make(map[string]*model.Portfolio),
		transactions: make(map[string][]model.Transaction),
		stocks:       make(map[string]*model.Stock),
		prices:       make(map[string]map[time.Time]decimal.Decimal),
	}
}

// --- Portfolios ---

func (s *MemoryStore) CreatePortfolio(_ context.Context, p *model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.portfolios[p.ID]; ok {
		return fmt.Errorf("%w: portfolio %s already exists", ErrConflict, p.ID)
	}
	if s.nameTaken(p.OwnerID, p.Name, "") {
		return fmt.Errorf("%w: portfolio named %q already exists", ErrConflict, p.Name)
	}

	// Store a copy to avoid external mutation.
	copy := *p
	s.portfolios[p.ID] = &copy
	return nil
}

func (s *MemoryStore) GetPortfolio(_ context.Context, id string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[id]
	if !ok {
		return nil, fmt.Errorf("%w: portfolio %s", ErrNotFound, id)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPortfolios(_ context.Context, ownerID string) ([]model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	portfolios := make([]model.Portfolio, 0, len(s.portfolios))
	for _, p := range s.portfolios {
		if ownerID == "" || p.OwnerID == ownerID {
			portfolios = append(portfolios, *p)
		}
	}
	sort.Slice(portfolios, func(i, j int) bool {
		if !portfolios[i].CreatedAt.Equal(portfolios[j].CreatedAt) {
			return portfolios[i].CreatedAt.Before(portfolios[j].CreatedAt)
		}
		return portfolios[i].ID < portfolios[j].ID
	})
	return portfolios, nil
}

func (s *MemoryStore) UpdatePortfolio(_ context.Context, p *model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.portfolios[p.ID]
	if !ok {
		return fmt.Errorf("%w: portfolio %s", ErrNotFound, p.ID)
	}
	if s.nameTaken(existing.OwnerID, p.Name, p.ID) {
		return fmt.Errorf("%w: portfolio named %q already exists", ErrConflict, p.Name)
	}
	existing.Name = p.Name
	existing.Description = p.Description
	existing.UpdatedAt = p.UpdatedAt
	return nil
}

func (s *MemoryStore) DeletePortfolio(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.portfolios[id]; !ok {
		return fmt.Errorf("%w: portfolio %s", ErrNotFound, id)
	}
	delete(s.portfolios, id)
	delete(s.transactions, id)
	return nil
}

// nameTaken must be called with mu held.
func (s *MemoryStore) nameTaken(ownerID, name, exceptID string) bool {
	for _, existing := range s.portfolios {
		if existing.ID != exceptID && existing.OwnerID == ownerID && existing.Name == name {
			return true
		}
	}
	return false
}

// --- Transactions ---

func (s *MemoryStore) AppendTransaction(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.portfolios[tx.PortfolioID]
	if !ok {
		return fmt.Errorf("%w: portfolio %s", ErrNotFound, tx.PortfolioID)
	}
	for _, existing := range s.transactions[tx.PortfolioID] {
		if existing.ID == tx.ID {
			return fmt.Errorf("%w: transaction %s already exists", ErrConflict, tx.ID)
		}
	}

	s.seq++
	tx.Sequence = s.seq
	s.transactions[tx.PortfolioID] = append(s.transactions[tx.PortfolioID], *tx)
	p.Version++
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, portfolioID, id string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.transactions[portfolioID] {
		if tx.ID == id {
			copy := tx
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
}

func (s *MemoryStore) UpdateTransaction(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.transactions[tx.PortfolioID]
	for i := range rows {
		if rows[i].ID == tx.ID {
			tx.Sequence = rows[i].Sequence
			tx.CreatedAt = rows[i].CreatedAt
			rows[i] = *tx
			s.portfolios[tx.PortfolioID].Version++
			return nil
		}
	}
	return fmt.Errorf("%w: transaction %s", ErrNotFound, tx.ID)
}

func (s *MemoryStore) DeleteTransaction(_ context.Context, portfolioID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.transactions[portfolioID]
	for i := range rows {
		if rows[i].ID == id {
			s.transactions[portfolioID] = append(rows[:i:i], rows[i+1:]...)
			s.portfolios[portfolioID].Version++
			return nil
		}
	}
	return fmt.Errorf("%w: transaction %s", ErrNotFound, id)
}

// ListTransactions copies rows and version under one read lock, so the
// snapshot never observes a half-applied mutation.
func (s *MemoryStore) ListTransactions(_ context.Context, portfolioID, ticker string) (*model.TransactionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[portfolioID]
	if !ok {
		return nil, fmt.Errorf("%w: portfolio %s", ErrNotFound, portfolioID)
	}

	set := &model.TransactionSet{
		PortfolioID:  portfolioID,
		Ticker:       ticker,
		Version:      p.Version,
		Transactions: []model.Transaction{},
	}
	for _, tx := range s.transactions[portfolioID] {
		if ticker == "" || tx.Ticker == ticker {
			set.Transactions = append(set.Transactions, tx)
		}
	}
	fifo.SortTransactions(set.Transactions)
	return set, nil
}

func (s *MemoryStore) PortfolioVersion(_ context.Context, portfolioID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[portfolioID]
	if !ok {
		return 0, fmt.Errorf("%w: portfolio %s", ErrNotFound, portfolioID)
	}
	return p.Version, nil
}

// --- Stocks ---

func (s *MemoryStore) UpsertStock(_ context.Context, st *model.Stock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.stocks[st.Ticker]
	if !ok {
		copy := *st
		s.stocks[st.Ticker] = &copy
		return nil
	}
	mergeStock(existing, st)
	return nil
}

func (s *MemoryStore) GetStock(_ context.Context, ticker string) (*model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stocks[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: stock %s", ErrNotFound, ticker)
	}
	copy := *st
	return &copy, nil
}

func (s *MemoryStore) ListStocks(_ context.Context) ([]model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stocks := make([]model.Stock, 0, len(s.stocks))
	for _, st := range s.stocks {
		stocks = append(stocks, *st)
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].Ticker < stocks[j].Ticker })
	return stocks, nil
}

func (s *MemoryStore) RecordPrice(_ context.Context, ticker string, price decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prices[ticker]; !ok {
		s.prices[ticker] = make(map[time.Time]decimal.Decimal)
	}
	s.prices[ticker][day(at)] = price
	return nil
}

func (s *MemoryStore) ListPriceHistory(_ context.Context, ticker string) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := make([]model.PricePoint, 0, len(s.prices[ticker]))
	for date, price := range s.prices[ticker] {
		points = append(points, model.PricePoint{Ticker: ticker, Price: price, Date: date})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

// mergeStock copies the non-empty fields of src onto dst.
func mergeStock(dst, src *model.Stock) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Sector != "" {
		dst.Sector = src.Sector
	}
	if src.Industry != "" {
		dst.Industry = src.Industry
	}
	if src.CurrentPrice.Valid {
		dst.CurrentPrice = src.CurrentPrice
	}
	if !src.LastUpdated.IsZero() {
		dst.LastUpdated = src.LastUpdated
	}
}
