package fifo

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
)

// Aggregate turns residual queues and realized matches into a Result.
// Gains are summed at full precision and rounded once, to MoneyPlaces.
// Positions keep one entry per open lot in FIFO order; queues are reported
// in ticker order.
func Aggregate(queues []Queue, matches []model.RealizedMatch) *model.Result {
	sorted := make([]Queue, len(queues))
	copy(sorted, queues)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ticker < sorted[j].Ticker })

	realizedByTicker := make(map[string]decimal.Decimal)
	exact := decimal.Zero
	for _, m := range matches {
		exact = exact.Add(m.RealizedGain)
		realizedByTicker[m.Ticker] = realizedByTicker[m.Ticker].Add(m.RealizedGain)
	}

	res := &model.Result{
		TotalRealizedProfit: exact.Round(MoneyPlaces),
		RealizedExact:       exact,
		Positions:           []model.Position{},
		Holdings:            []model.Holding{},
		Matches:             append([]model.RealizedMatch{}, matches...),
	}

	seen := make(map[string]bool)
	for _, q := range sorted {
		seen[q.Ticker] = true
		positions := positionsOf(q)
		res.Positions = append(res.Positions, positions...)

		h := Summarize(q.Ticker, positions)
		h.RealizedProfit = realizedByTicker[q.Ticker]
		res.Holdings = append(res.Holdings, h)
	}

	// Tickers that were fully sold still report their realized profit.
	var closed []string
	for ticker := range realizedByTicker {
		if !seen[ticker] {
			closed = append(closed, ticker)
		}
	}
	sort.Strings(closed)
	for _, ticker := range closed {
		res.Holdings = append(res.Holdings, model.Holding{
			Ticker:            ticker,
			RemainingQuantity: decimal.Zero,
			AverageCost:       decimal.Zero,
			CostBasis:         decimal.Zero,
			RealizedProfit:    realizedByTicker[ticker],
		})
	}
	sort.SliceStable(res.Holdings, func(i, j int) bool { return res.Holdings[i].Ticker < res.Holdings[j].Ticker })

	return res
}

func positionsOf(q Queue) []model.Position {
	positions := make([]model.Position, 0, len(q.Lots))
	for _, l := range q.Lots {
		positions = append(positions, model.Position{
			Ticker:              l.Ticker,
			RemainingQuantity:   l.RemainingQuantity,
			UnitCost:            l.UnitCost,
			OpenedAt:            l.OpenedAt,
			OriginTransactionID: l.OriginTransactionID,
		})
	}
	return positions
}

// Summarize collapses the positions of one ticker into a Holding. The
// average is a view for display only; the underlying lots are untouched.
func Summarize(ticker string, positions []model.Position) model.Holding {
	h := model.Holding{
		Ticker:            ticker,
		RemainingQuantity: decimal.Zero,
		CostBasis:         decimal.Zero,
		AverageCost:       WeightedAverageCost(positions),
		RealizedProfit:    decimal.Zero,
	}
	for _, p := range positions {
		h.RemainingQuantity = h.RemainingQuantity.Add(p.RemainingQuantity)
		h.CostBasis = h.CostBasis.Add(p.RemainingQuantity.Mul(p.UnitCost))
		h.OpenLots++
	}
	return h
}

// WeightedAverageCost returns Σ(qty·cost)/Σqty over positions, or zero when
// nothing is held.
func WeightedAverageCost(positions []model.Position) decimal.Decimal {
	qty := decimal.Zero
	cost := decimal.Zero
	for _, p := range positions {
		qty = qty.Add(p.RemainingQuantity)
		cost = cost.Add(p.RemainingQuantity.Mul(p.UnitCost))
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return cost.Div(qty)
}

// ComputeTicker runs the full pipeline for the transactions of one ticker.
func ComputeTicker(ticker string, txs []model.Transaction) (*model.Result, error) {
	events, err := BuildEvents(txs)
	if err != nil {
		return nil, err
	}
	q, matches, err := Replay(ticker, events)
	if err != nil {
		return nil, err
	}
	var queues []Queue
	if q.Len() > 0 {
		queues = append(queues, q)
	}
	return Aggregate(queues, matches), nil
}

// Compute runs the pipeline over a mixed-ticker history. Transactions are
// grouped by ticker and each group is replayed independently, in ticker
// order, so the output is identical for any permutation of the input.
func Compute(txs []model.Transaction) (*model.Result, error) {
	byTicker := make(map[string][]model.Transaction)
	for _, tx := range txs {
		byTicker[tx.Ticker] = append(byTicker[tx.Ticker], tx)
	}

	tickers := make([]string, 0, len(byTicker))
	for t := range byTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	var queues []Queue
	var matches []model.RealizedMatch
	for _, ticker := range tickers {
		events, err := BuildEvents(byTicker[ticker])
		if err != nil {
			return nil, err
		}
		q, m, err := Replay(ticker, events)
		if err != nil {
			return nil, err
		}
		if q.Len() > 0 {
			queues = append(queues, q)
		}
		matches = append(matches, m...)
	}
	return Aggregate(queues, matches), nil
}
