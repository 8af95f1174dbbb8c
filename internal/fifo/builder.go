// Package fifo implements First-In-First-Out cost-basis accounting.
//
// The engine is a pure function of transaction history: BuildEvents orders
// a history into an event stream, Apply/Replay fold that stream through an
// explicit open-lot Queue, and Aggregate turns the final queues and realized
// matches into a model.Result. Nothing in this package performs I/O or reads
// the wall clock, so replaying the same history always yields the same result.
//
// All arithmetic uses shopspring/decimal, never float64.
package fifo

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
)

const (
	// QuantityPlaces is the maximum number of fractional digits in a quantity.
	QuantityPlaces int32 = 6

	// PricePlaces is the maximum number of fractional digits in a unit price.
	PricePlaces int32 = 6

	// MoneyPlaces is the presentation precision for realized profit.
	MoneyPlaces int32 = 2
)

// Event is one step of the chronological stream consumed by the matcher.
type Event struct {
	TransactionID string
	Ticker        string
	Side          model.Side
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Transaction   model.Transaction
}

// Validate checks a single transaction against the engine's input rules.
func Validate(tx model.Transaction) error {
	invalid := func(field, reason string) error {
		return &ValidationError{TransactionID: tx.ID, Field: field, Reason: reason}
	}

	switch {
	case tx.Ticker == "":
		return invalid("ticker", "is required")
	case !tx.Side.Valid():
		return invalid("side", "must be BUY or SELL")
	case !tx.Quantity.IsPositive():
		return invalid("quantity", "must be positive")
	case !tx.Quantity.Equal(tx.Quantity.Truncate(QuantityPlaces)):
		return invalid("quantity", "supports at most 6 fractional digits")
	case tx.Price.IsNegative():
		return invalid("price", "must not be negative")
	case !tx.Price.Equal(tx.Price.Truncate(PricePlaces)):
		return invalid("price", "supports at most 6 fractional digits")
	case tx.Timestamp.IsZero():
		return invalid("timestamp", "is required")
	}
	return nil
}

// BuildEvents validates txs and returns them as an event stream ordered by
// (timestamp, sequence) ascending. The input slice is not modified. The
// first invalid transaction aborts the build.
func BuildEvents(txs []model.Transaction) ([]Event, error) {
	ordered := make([]model.Transaction, len(txs))
	copy(ordered, txs)

	for _, tx := range ordered {
		if err := Validate(tx); err != nil {
			return nil, err
		}
	}

	SortTransactions(ordered)

	events := make([]Event, len(ordered))
	for i, tx := range ordered {
		events[i] = Event{
			TransactionID: tx.ID,
			Ticker:        tx.Ticker,
			Side:          tx.Side,
			Quantity:      tx.Quantity,
			Price:         tx.Price,
			Transaction:   tx,
		}
	}
	return events, nil
}

// SortTransactions orders txs in place by (timestamp, sequence) ascending.
// Transaction ID is a last-resort key so the order is total even when a
// caller hands in rows without sequences.
func SortTransactions(txs []model.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return a.ID < b.ID
	})
}
