// Package model defines the core domain types shared across the portfolio engine.
// All quantities and monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a transaction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Transaction is a single buy or sell of one ticker inside a portfolio.
// Sequence is assigned by the store and breaks ties between transactions
// sharing the same timestamp.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	PortfolioID string          `json:"portfolio_id" db:"portfolio_id"`
	Ticker      string          `json:"ticker" db:"ticker"`
	Side        Side            `json:"side" db:"side"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	Sequence    int64           `json:"sequence" db:"sequence"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// TransactionSet is a consistent snapshot of a portfolio's transactions.
// Version is the portfolio fingerprint at the moment the rows were read.
type TransactionSet struct {
	PortfolioID  string        `json:"portfolio_id"`
	Ticker       string        `json:"ticker,omitempty"` // empty = all tickers
	Version      int64         `json:"version"`
	Transactions []Transaction `json:"transactions"`
}

// Lot is a block of shares acquired by one BUY and not yet fully sold.
// RemainingQuantity only ever decreases.
type Lot struct {
	Ticker              string          `json:"ticker"`
	OriginalQuantity    decimal.Decimal `json:"original_quantity"`
	RemainingQuantity   decimal.Decimal `json:"remaining_quantity"`
	UnitCost            decimal.Decimal `json:"unit_cost"`
	OpenedAt            time.Time       `json:"opened_at"`
	Sequence            int64           `json:"sequence"`
	OriginTransactionID string          `json:"origin_transaction_id"`
}

// RealizedMatch records a slice of a SELL matched against one buy lot.
type RealizedMatch struct {
	Ticker            string          `json:"ticker"`
	MatchedQuantity   decimal.Decimal `json:"matched_quantity"`
	BuyUnitCost       decimal.Decimal `json:"buy_unit_cost"`
	SellUnitPrice     decimal.Decimal `json:"sell_unit_price"`
	BuyLotOriginID    string          `json:"buy_lot_origin_id"`
	SellTransactionID string          `json:"sell_transaction_id"`
	RealizedGain      decimal.Decimal `json:"realized_gain"` // matched * (sell - cost)
	SoldAt            time.Time       `json:"sold_at"`
}

// Position is one surviving open lot as reported to callers.
// Positions at different costs are never averaged together.
type Position struct {
	Ticker              string          `json:"ticker"`
	RemainingQuantity   decimal.Decimal `json:"remaining_quantity"`
	UnitCost            decimal.Decimal `json:"unit_cost"`
	OpenedAt            time.Time       `json:"opened_at"`
	OriginTransactionID string          `json:"origin_transaction_id"`
}

// Holding is the single-figure view of a ticker derived from its positions.
type Holding struct {
	Ticker            string          `json:"ticker"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	AverageCost       decimal.Decimal `json:"average_cost"` // quantity-weighted
	CostBasis         decimal.Decimal `json:"cost_basis"`   // Σ remaining * unit cost
	OpenLots          int             `json:"open_lots"`
	RealizedProfit    decimal.Decimal `json:"realized_profit"`
}

// Result is the output of one FIFO computation.
type Result struct {
	TotalRealizedProfit decimal.Decimal `json:"total_realized_profit"` // rounded to cents
	RealizedExact       decimal.Decimal `json:"realized_exact"`        // full precision
	Positions           []Position      `json:"positions"`
	Holdings            []Holding       `json:"holdings"`
	Matches             []RealizedMatch `json:"matches"`
}

// Portfolio is a named collection of transactions owned by one user.
type Portfolio struct {
	ID          string    `json:"id" db:"id"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Version     int64     `json:"version" db:"version"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Stock is reference data for a ticker. Rows are upserted the first time
// a ticker is traded and whenever a fresh quote is fetched.
type Stock struct {
	Ticker       string              `json:"ticker" db:"ticker"`
	Name         string              `json:"name" db:"name"`
	Sector       string              `json:"sector" db:"sector"`
	Industry     string              `json:"industry" db:"industry"`
	CurrentPrice decimal.NullDecimal `json:"current_price" db:"current_price"`
	LastUpdated  time.Time           `json:"last_updated" db:"last_updated"`
}

// PricePoint is the recorded price of a ticker on one calendar day.
type PricePoint struct {
	Ticker string          `json:"ticker" db:"ticker"`
	Price  decimal.Decimal `json:"price" db:"price"`
	Date   time.Time       `json:"date" db:"date"`
}

// Quote is a current market price as returned by a price source.
type Quote struct {
	Ticker        string          `json:"ticker"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	PercentChange decimal.Decimal `json:"percent_change"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Open          decimal.Decimal `json:"open"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
}
