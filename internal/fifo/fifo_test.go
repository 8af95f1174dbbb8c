package fifo

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/portfolio-engine/internal/model"
)

// d is a test helper for creating decimals from literal strings.
func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var t0 = time.Date(2025, 1, 2, 15, 30, 0, 0, time.UTC)

func at(day int) time.Time {
	return t0.AddDate(0, 0, day)
}

func tx(id string, seq int64, side model.Side, qty, price string, ts time.Time) model.Transaction {
	return model.Transaction{
		ID:          id,
		PortfolioID: "p1",
		Ticker:      "AAPL",
		Side:        side,
		Quantity:    d(qty),
		Price:       d(price),
		Timestamp:   ts,
		Sequence:    seq,
	}
}

// documentedScenario is BUY 100@50, BUY 50@55, SELL 80@60, SELL 40@65.
func documentedScenario() []model.Transaction {
	return []model.Transaction{
		tx("b1", 1, model.SideBuy, "100", "50", at(0)),
		tx("b2", 2, model.SideBuy, "50", "55", at(1)),
		tx("s1", 3, model.SideSell, "80", "60", at(2)),
		tx("s2", 4, model.SideSell, "40", "65", at(3)),
	}
}

// --- Builder ---

func TestBuildEvents_OrdersByTimestampThenSequence(t *testing.T) {
	txs := []model.Transaction{
		tx("c", 3, model.SideSell, "1", "10", at(1)),
		tx("b", 2, model.SideBuy, "1", "10", at(0)),
		tx("a", 1, model.SideBuy, "1", "10", at(0)),
	}

	events, err := BuildEvents(txs)
	require.NoError(t, err)

	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.TransactionID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, "c", txs[0].ID, "input slice must not be reordered")
}

func TestBuildEvents_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*model.Transaction)
		field string
	}{
		{"zero quantity", func(x *model.Transaction) { x.Quantity = decimal.Zero }, "quantity"},
		{"negative quantity", func(x *model.Transaction) { x.Quantity = d("-1") }, "quantity"},
		{"negative price", func(x *model.Transaction) { x.Price = d("-0.01") }, "price"},
		{"too precise quantity", func(x *model.Transaction) { x.Quantity = d("0.0000001") }, "quantity"},
		{"missing ticker", func(x *model.Transaction) { x.Ticker = "" }, "ticker"},
		{"bad side", func(x *model.Transaction) { x.Side = "HOLD" }, "side"},
		{"missing timestamp", func(x *model.Transaction) { x.Timestamp = time.Time{} }, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := tx("x", 1, model.SideBuy, "10", "5", at(0))
			tt.mut(&x)

			_, err := BuildEvents([]model.Transaction{x})
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestBuildEvents_AllowsZeroPriceAndFractionalShares(t *testing.T) {
	_, err := BuildEvents([]model.Transaction{
		tx("gift", 1, model.SideBuy, "0.123456", "0", at(0)),
	})
	assert.NoError(t, err)
}

// --- Matcher ---

func TestApply_BuyAppendsLot(t *testing.T) {
	q := NewQueue("AAPL")
	ev := Event{TransactionID: "b1", Ticker: "AAPL", Side: model.SideBuy, Quantity: d("10"), Price: d("100")}

	next, matches, err := Apply(q, ev)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, 0, q.Len(), "input queue must not change")
	require.Equal(t, 1, next.Len())
	assert.True(t, next.Lots[0].RemainingQuantity.Equal(d("10")))
	assert.True(t, next.Lots[0].OriginalQuantity.Equal(d("10")))
	assert.Equal(t, "b1", next.Lots[0].OriginTransactionID)
}

func TestApply_PartialConsumptionLeavesHead(t *testing.T) {
	q, _, err := Replay("AAPL", mustEvents(t, []model.Transaction{
		tx("b1", 1, model.SideBuy, "100", "50", at(0)),
	}))
	require.NoError(t, err)

	next, matches, err := Apply(q, Event{TransactionID: "s1", Ticker: "AAPL", Side: model.SideSell, Quantity: d("30"), Price: d("60")})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].MatchedQuantity.Equal(d("30")))
	assert.True(t, matches[0].RealizedGain.Equal(d("300")))
	assert.True(t, next.Lots[0].RemainingQuantity.Equal(d("70")))
	assert.True(t, q.Lots[0].RemainingQuantity.Equal(d("100")), "input queue must not change")
}

func TestApply_OversellIsAtomic(t *testing.T) {
	q, _, err := Replay("AAPL", mustEvents(t, []model.Transaction{
		tx("b1", 1, model.SideBuy, "10", "50", at(0)),
		tx("b2", 2, model.SideBuy, "5", "55", at(1)),
	}))
	require.NoError(t, err)

	next, matches, err := Apply(q, Event{TransactionID: "s1", Ticker: "AAPL", Side: model.SideSell, Quantity: d("16"), Price: d("60")})

	var ierr *InsufficientSharesError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "AAPL", ierr.Ticker)
	assert.True(t, ierr.Requested.Equal(d("16")))
	assert.True(t, ierr.Available.Equal(d("15")))
	assert.Empty(t, matches)
	require.Equal(t, 2, next.Len())
	assert.True(t, next.Lots[0].RemainingQuantity.Equal(d("10")))
	assert.True(t, next.Lots[1].RemainingQuantity.Equal(d("5")))
}

func TestApply_SellOnEmptyQueue(t *testing.T) {
	_, _, err := Apply(NewQueue("AAPL"), Event{TransactionID: "s1", Ticker: "AAPL", Side: model.SideSell, Quantity: d("1"), Price: d("1")})

	var ierr *InsufficientSharesError
	require.ErrorAs(t, err, &ierr)
	assert.True(t, ierr.Available.IsZero())
}

func TestApply_RejectsForeignTicker(t *testing.T) {
	_, _, err := Apply(NewQueue("AAPL"), Event{TransactionID: "x", Ticker: "MSFT", Side: model.SideBuy, Quantity: d("1"), Price: d("1")})

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestApply_ExactConsumptionPopsLot(t *testing.T) {
	q, matches, err := Replay("AAPL", mustEvents(t, []model.Transaction{
		tx("b1", 1, model.SideBuy, "0.333333", "10", at(0)),
		tx("b2", 2, model.SideBuy, "0.666667", "10", at(0)),
		tx("s1", 3, model.SideSell, "1", "12", at(1)),
	}))
	require.NoError(t, err)
	assert.Equal(t, 0, q.Len())
	assert.Len(t, matches, 2)
}

// --- Documented scenario and properties ---

func TestCompute_DocumentedScenario(t *testing.T) {
	res, err := Compute(documentedScenario())
	require.NoError(t, err)

	assert.Equal(t, "1300.00", res.TotalRealizedProfit.StringFixed(MoneyPlaces))
	require.Len(t, res.Positions, 1)
	p := res.Positions[0]
	assert.Equal(t, "AAPL", p.Ticker)
	assert.Equal(t, "30.000000", p.RemainingQuantity.StringFixed(QuantityPlaces))
	assert.Equal(t, "55.00", p.UnitCost.StringFixed(MoneyPlaces))

	require.Len(t, res.Matches, 3)
	assert.True(t, res.Matches[0].RealizedGain.Equal(d("800")))  // 80 x (60-50)
	assert.True(t, res.Matches[1].RealizedGain.Equal(d("300")))  // 20 x (65-50)
	assert.True(t, res.Matches[2].RealizedGain.Equal(d("200")))  // 20 x (65-55)
	assert.Equal(t, "b2", res.Matches[2].BuyLotOriginID)
}

func TestCompute_Conservation(t *testing.T) {
	histories := [][]model.Transaction{
		documentedScenario(),
		{
			tx("b1", 1, model.SideBuy, "1.5", "10", at(0)),
			tx("b2", 2, model.SideBuy, "2.25", "11", at(0)),
			tx("s1", 3, model.SideSell, "0.75", "12", at(1)),
			tx("b3", 4, model.SideBuy, "3", "9", at(2)),
			tx("s2", 5, model.SideSell, "4.000001", "13", at(3)),
		},
	}

	for i, h := range histories {
		t.Run(fmt.Sprintf("history-%d", i), func(t *testing.T) {
			res, err := Compute(h)
			require.NoError(t, err)

			bought := decimal.Zero
			for _, x := range h {
				if x.Side == model.SideBuy {
					bought = bought.Add(x.Quantity)
				}
			}
			held := decimal.Zero
			for _, p := range res.Positions {
				held = held.Add(p.RemainingQuantity)
			}
			matched := decimal.Zero
			for _, m := range res.Matches {
				matched = matched.Add(m.MatchedQuantity)
			}
			assert.True(t, held.Add(matched).Equal(bought), "held %s + matched %s != bought %s", held, matched, bought)
		})
	}
}

func TestCompute_PerLotConservation(t *testing.T) {
	h := documentedScenario()
	res, err := Compute(h)
	require.NoError(t, err)

	for _, x := range h {
		if x.Side != model.SideBuy {
			continue
		}
		total := decimal.Zero
		for _, p := range res.Positions {
			if p.OriginTransactionID == x.ID {
				total = total.Add(p.RemainingQuantity)
			}
		}
		for _, m := range res.Matches {
			if m.BuyLotOriginID == x.ID {
				total = total.Add(m.MatchedQuantity)
			}
		}
		assert.True(t, total.Equal(x.Quantity), "lot %s: %s != %s", x.ID, total, x.Quantity)
	}
}

func TestCompute_OversellFails(t *testing.T) {
	h := append(documentedScenario(), tx("s3", 5, model.SideSell, "31", "70", at(4)))

	_, err := Compute(h)
	var ierr *InsufficientSharesError
	require.True(t, errors.As(err, &ierr))
	assert.True(t, ierr.Available.Equal(d("30")))
	assert.Equal(t, "s3", ierr.SellTransactionID)
}

func TestCompute_SellBeforeBuyIsOversell(t *testing.T) {
	// Chronology, not insertion order, decides availability.
	_, err := Compute([]model.Transaction{
		tx("b1", 1, model.SideBuy, "10", "10", at(2)),
		tx("s1", 2, model.SideSell, "5", "12", at(1)),
	})
	var ierr *InsufficientSharesError
	assert.ErrorAs(t, err, &ierr)
}

func TestCompute_Deterministic(t *testing.T) {
	h := documentedScenario()
	first, err := Compute(h)
	require.NoError(t, err)
	want, err := json.Marshal(first)
	require.NoError(t, err)

	// Reverse the input; ordering must come from (timestamp, sequence).
	rev := make([]model.Transaction, len(h))
	for i := range h {
		rev[len(h)-1-i] = h[i]
	}

	for i := 0; i < 20; i++ {
		in := h
		if i%2 == 1 {
			in = rev
		}
		res, err := Compute(in)
		require.NoError(t, err)
		got, err := json.Marshal(res)
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got))
	}
}

func TestCompute_TieBreakBySequence(t *testing.T) {
	h := []model.Transaction{
		tx("late-seq", 7, model.SideBuy, "10", "20", at(0)),
		tx("early-seq", 3, model.SideBuy, "10", "10", at(0)),
		tx("s1", 9, model.SideSell, "10", "15", at(1)),
	}

	res, err := Compute(h)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "early-seq", res.Matches[0].BuyLotOriginID)
	assert.True(t, res.TotalRealizedProfit.Equal(d("50")))
	require.Len(t, res.Positions, 1)
	assert.Equal(t, "late-seq", res.Positions[0].OriginTransactionID)
}

func TestCompute_EditedBuyPriceChangesEveryMatch(t *testing.T) {
	h := documentedScenario()
	before, err := Compute(h)
	require.NoError(t, err)

	h[0].Price = d("40")
	after, err := Compute(h)
	require.NoError(t, err)

	// Lot b1 fed 80 units into s1 and 20 into s2: each match gains 10/unit more.
	assert.True(t, after.Matches[0].RealizedGain.Sub(before.Matches[0].RealizedGain).Equal(d("800")))
	assert.True(t, after.Matches[1].RealizedGain.Sub(before.Matches[1].RealizedGain).Equal(d("200")))
	assert.True(t, after.Matches[2].RealizedGain.Equal(before.Matches[2].RealizedGain))
	assert.Equal(t, "2300.00", after.TotalRealizedProfit.StringFixed(MoneyPlaces))
}

func TestCompute_RoundsOnceAtBoundary(t *testing.T) {
	// 1000 sells of 0.5 shares each at a 0.01 gain per share realize 0.005
	// apiece. Per-step rounding would report 10.00 (or 0.00 with banker's
	// rounding); the exact sum is 5.00.
	h := []model.Transaction{tx("b1", 1, model.SideBuy, "500", "10.00", at(0))}
	for i := 0; i < 1000; i++ {
		h = append(h, tx(fmt.Sprintf("s%04d", i), int64(i+2), model.SideSell, "0.5", "10.01", at(1)))
	}

	res, err := Compute(h)
	require.NoError(t, err)
	assert.True(t, res.RealizedExact.Equal(d("5")))
	assert.Equal(t, "5.00", res.TotalRealizedProfit.StringFixed(MoneyPlaces))
	assert.Empty(t, res.Positions)
}

func TestCompute_MultipleTickersStayIndependent(t *testing.T) {
	msft := tx("m1", 10, model.SideBuy, "5", "300", at(0))
	msft.Ticker = "MSFT"
	h := append(documentedScenario(), msft)

	res, err := Compute(h)
	require.NoError(t, err)
	require.Len(t, res.Positions, 2)
	assert.Equal(t, "AAPL", res.Positions[0].Ticker)
	assert.Equal(t, "MSFT", res.Positions[1].Ticker)
	require.Len(t, res.Holdings, 2)
	assert.True(t, res.Holdings[0].RealizedProfit.Equal(d("1300")))
	assert.True(t, res.Holdings[1].RealizedProfit.IsZero())
}

func TestCompute_FullySoldTickerKeepsRealized(t *testing.T) {
	res, err := ComputeTicker("AAPL", []model.Transaction{
		tx("b1", 1, model.SideBuy, "10", "10", at(0)),
		tx("s1", 2, model.SideSell, "10", "8", at(1)),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Positions)
	require.Len(t, res.Holdings, 1)
	assert.True(t, res.Holdings[0].RealizedProfit.Equal(d("-20")))
	assert.Equal(t, "-20.00", res.TotalRealizedProfit.StringFixed(MoneyPlaces))
}

// --- Aggregator views ---

func TestWeightedAverageCost_KeepsLotsSeparate(t *testing.T) {
	res, err := Compute([]model.Transaction{
		tx("b1", 1, model.SideBuy, "10", "10", at(0)),
		tx("b2", 2, model.SideBuy, "30", "20", at(1)),
	})
	require.NoError(t, err)

	require.Len(t, res.Positions, 2, "lots at different costs must not be merged")
	assert.True(t, WeightedAverageCost(res.Positions).Equal(d("17.5")))
	assert.True(t, res.Holdings[0].CostBasis.Equal(d("700")))
	assert.Equal(t, 2, res.Holdings[0].OpenLots)
}

func TestWeightedAverageCost_Empty(t *testing.T) {
	assert.True(t, WeightedAverageCost(nil).IsZero())
}

func mustEvents(t *testing.T, txs []model.Transaction) []Event {
	t.Helper()
	events, err := BuildEvents(txs)
	require.NoError(t, err)
	return events
}
