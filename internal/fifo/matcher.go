package fifo

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
)

// Queue is the open-lot queue of one ticker, oldest lot first.
// It is a value: Apply never modifies the queue it is given.
type Queue struct {
	Ticker string
	Lots   []model.Lot
}

// NewQueue returns an empty queue for ticker.
func NewQueue(ticker string) Queue {
	return Queue{Ticker: ticker}
}

// Available is the total remaining quantity across open lots.
func (q Queue) Available() decimal.Decimal {
	total := decimal.Zero
	for _, l := range q.Lots {
		total = total.Add(l.RemainingQuantity)
	}
	return total
}

// Len returns the number of open lots.
func (q Queue) Len() int {
	return len(q.Lots)
}

// clone returns a queue whose lot slice does not alias q's.
func (q Queue) clone() Queue {
	lots := make([]model.Lot, len(q.Lots))
	copy(lots, q.Lots)
	return Queue{Ticker: q.Ticker, Lots: lots}
}

// Apply is the matcher's transition function. A BUY appends a lot to the
// tail. A SELL consumes lots from the head until it is satisfied, emitting
// one RealizedMatch per lot touched. A SELL the queue cannot fully cover
// fails with *InsufficientSharesError and q is returned unchanged.
func Apply(q Queue, ev Event) (Queue, []model.RealizedMatch, error) {
	if q.Ticker == "" {
		q.Ticker = ev.Ticker
	}
	if ev.Ticker != q.Ticker {
		return q, nil, &ValidationError{
			TransactionID: ev.TransactionID,
			Field:         "ticker",
			Reason:        fmt.Sprintf("%s does not belong to queue %s", ev.Ticker, q.Ticker),
		}
	}

	switch ev.Side {
	case model.SideBuy:
		next := q.clone()
		next.Lots = append(next.Lots, model.Lot{
			Ticker:              ev.Ticker,
			OriginalQuantity:    ev.Quantity,
			RemainingQuantity:   ev.Quantity,
			UnitCost:            ev.Price,
			OpenedAt:            ev.Transaction.Timestamp,
			Sequence:            ev.Transaction.Sequence,
			OriginTransactionID: ev.TransactionID,
		})
		return next, nil, nil

	case model.SideSell:
		return sell(q, ev)

	default:
		return q, nil, &ValidationError{TransactionID: ev.TransactionID, Field: "side", Reason: "must be BUY or SELL"}
	}
}

func sell(q Queue, ev Event) (Queue, []model.RealizedMatch, error) {
	// Check coverage up front so a failing sell never touches the queue.
	available := q.Available()
	if available.LessThan(ev.Quantity) {
		return q, nil, &InsufficientSharesError{
			Ticker:            q.Ticker,
			SellTransactionID: ev.TransactionID,
			Requested:         ev.Quantity,
			Available:         available,
		}
	}

	next := q.clone()
	need := ev.Quantity
	var matches []model.RealizedMatch

	for need.IsPositive() {
		head := &next.Lots[0]

		matched := need
		if head.RemainingQuantity.LessThanOrEqual(need) {
			matched = head.RemainingQuantity
		}

		matches = append(matches, model.RealizedMatch{
			Ticker:            q.Ticker,
			MatchedQuantity:   matched,
			BuyUnitCost:       head.UnitCost,
			SellUnitPrice:     ev.Price,
			BuyLotOriginID:    head.OriginTransactionID,
			SellTransactionID: ev.TransactionID,
			RealizedGain:      matched.Mul(ev.Price.Sub(head.UnitCost)),
			SoldAt:            ev.Transaction.Timestamp,
		})

		head.RemainingQuantity = head.RemainingQuantity.Sub(matched)
		need = need.Sub(matched)

		if head.RemainingQuantity.IsZero() {
			next.Lots = next.Lots[1:]
		}
	}

	return next, matches, nil
}

// Replay folds events through an empty queue for ticker and returns the
// residual queue together with every realized match in emission order.
func Replay(ticker string, events []Event) (Queue, []model.RealizedMatch, error) {
	q := NewQueue(ticker)
	var all []model.RealizedMatch

	for _, ev := range events {
		next, matches, err := Apply(q, ev)
		if err != nil {
			return q, all, err
		}
		q = next
		all = append(all, matches...)
	}
	return q, all, nil
}
