package fifo

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError reports a malformed transaction. It is never retried.
type ValidationError struct {
	TransactionID string
	Field         string
	Reason        string
}

func (e *ValidationError) Error() string {
	if e.TransactionID != "" {
		return fmt.Sprintf("fifo: invalid transaction %s: %s %s", e.TransactionID, e.Field, e.Reason)
	}
	return fmt.Sprintf("fifo: invalid transaction: %s %s", e.Field, e.Reason)
}

// InsufficientSharesError is returned when a SELL asks for more shares than
// the open lots of its ticker hold. The sell is rejected as a whole.
type InsufficientSharesError struct {
	Ticker            string
	SellTransactionID string
	Requested         decimal.Decimal
	Available         decimal.Decimal
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("fifo: insufficient shares of %s: requested %s, available %s",
		e.Ticker, e.Requested.String(), e.Available.String())
}
