// Package store defines the persistence interface for the portfolio engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a write violates a uniqueness rule.
	ErrConflict = errors.New("store: conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// Every transaction mutation bumps the owning portfolio's version. The
// version is the fingerprint consumed by the result cache.
type Store interface {
	// --- Portfolios ---

	// CreatePortfolio persists a new portfolio. Names are unique per owner.
	CreatePortfolio(ctx context.Context, p *model.Portfolio) error

	// GetPortfolio retrieves a portfolio by its ID.
	GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error)

	// ListPortfolios returns the portfolios of one owner, or all when ownerID is empty.
	ListPortfolios(ctx context.Context, ownerID string) ([]model.Portfolio, error)

	// UpdatePortfolio replaces name and description.
	UpdatePortfolio(ctx context.Context, p *model.Portfolio) error

	// DeletePortfolio removes a portfolio and all of its transactions.
	DeletePortfolio(ctx context.Context, id string) error

	// --- Transactions ---

	// AppendTransaction stores a new transaction, assigning its Sequence.
	AppendTransaction(ctx context.Context, tx *model.Transaction) error

	// GetTransaction retrieves one transaction of a portfolio.
	GetTransaction(ctx context.Context, portfolioID, id string) (*model.Transaction, error)

	// UpdateTransaction replaces an existing transaction. Sequence is kept.
	UpdateTransaction(ctx context.Context, tx *model.Transaction) error

	// DeleteTransaction removes one transaction of a portfolio.
	DeleteTransaction(ctx context.Context, portfolioID, id string) error

	// ListTransactions returns a consistent snapshot of a portfolio's
	// transactions ordered by (timestamp, sequence). An empty ticker
	// selects every ticker.
	ListTransactions(ctx context.Context, portfolioID, ticker string) (*model.TransactionSet, error)

	// PortfolioVersion returns the current fingerprint of a portfolio.
	PortfolioVersion(ctx context.Context, portfolioID string) (int64, error)

	// --- Stocks ---

	// UpsertStock creates the stock or refreshes its non-empty fields.
	UpsertStock(ctx context.Context, s *model.Stock) error

	// GetStock retrieves a stock by ticker.
	GetStock(ctx context.Context, ticker string) (*model.Stock, error)

	// ListStocks returns every known stock ordered by ticker.
	ListStocks(ctx context.Context) ([]model.Stock, error)

	// RecordPrice stores the price of a ticker for the calendar day of at.
	// A second record on the same day overwrites the first.
	RecordPrice(ctx context.Context, ticker string, price decimal.Decimal, at time.Time) error

	// ListPriceHistory returns recorded prices for a ticker, oldest first.
	ListPriceHistory(ctx context.Context, ticker string) ([]model.PricePoint, error)
}

// day truncates t to its UTC calendar day.
func day(t time.Time) time.Time {
	y, m, dd := t.UTC().Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}
