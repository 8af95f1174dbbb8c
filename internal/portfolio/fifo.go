package portfolio

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/fifo"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/price"
	"github.com/atmx/portfolio-engine/internal/ticker"
)

// Response decimals are rendered as fixed-point strings: quantities at
// fifo.QuantityPlaces, money and unit prices at fifo.MoneyPlaces.

// PositionView is one open lot.
type PositionView struct {
	Ticker              string    `json:"ticker"`
	RemainingQuantity   string    `json:"remaining_quantity"`
	UnitCost            string    `json:"unit_cost"`
	OpenedAt            time.Time `json:"opened_at"`
	OriginTransactionID string    `json:"origin_transaction_id"`
}

// HoldingView is the per-ticker summary of open lots.
type HoldingView struct {
	Ticker            string `json:"ticker"`
	RemainingQuantity string `json:"remaining_quantity"`
	AverageCost       string `json:"average_cost"`
	CostBasis         string `json:"cost_basis"`
	OpenLots          int    `json:"open_lots"`
	RealizedProfit    string `json:"realized_profit"`
}

// MatchView is one realized match of a SELL against a lot.
type MatchView struct {
	Ticker            string    `json:"ticker"`
	MatchedQuantity   string    `json:"matched_quantity"`
	BuyUnitCost       string    `json:"buy_unit_cost"`
	SellUnitPrice     string    `json:"sell_unit_price"`
	BuyLotOriginID    string    `json:"buy_lot_origin_id"`
	SellTransactionID string    `json:"sell_transaction_id"`
	RealizedGain      string    `json:"realized_gain"`
	SoldAt            time.Time `json:"sold_at"`
}

// FIFOResponse is the JSON body of GET /portfolios/{id}/fifo.
type FIFOResponse struct {
	PortfolioID         string         `json:"portfolio_id"`
	Ticker              string         `json:"ticker,omitempty"`
	TotalRealizedProfit string         `json:"total_realized_profit"`
	Positions           []PositionView `json:"positions"`
	Holdings            []HoldingView  `json:"holdings"`
	Version             int64          `json:"version"`
}

// StockPositionResponse is the JSON body of GET /portfolios/{id}/stocks/{ticker}.
type StockPositionResponse struct {
	PortfolioID       string         `json:"portfolio_id"`
	Ticker            string         `json:"ticker"`
	RemainingQuantity string         `json:"remaining_quantity"`
	AverageCost       string         `json:"average_cost"`
	CostBasis         string         `json:"cost_basis"`
	RealizedProfit    string         `json:"realized_profit"`
	CurrentPrice      *string        `json:"current_price"`
	MarketValue       *string        `json:"market_value"`
	UnrealizedProfit  *string        `json:"unrealized_profit"`
	Lots              []PositionView `json:"lots"`
	Matches           []MatchView    `json:"matches"`
	Version           int64          `json:"version"`
}

func money(d decimal.Decimal) string    { return d.StringFixed(fifo.MoneyPlaces) }
func quantity(d decimal.Decimal) string { return d.StringFixed(fifo.QuantityPlaces) }

func positionViews(positions []model.Position) []PositionView {
	out := make([]PositionView, len(positions))
	for i, p := range positions {
		out[i] = PositionView{
			Ticker:              p.Ticker,
			RemainingQuantity:   quantity(p.RemainingQuantity),
			UnitCost:            money(p.UnitCost),
			OpenedAt:            p.OpenedAt,
			OriginTransactionID: p.OriginTransactionID,
		}
	}
	return out
}

func holdingViews(holdings []model.Holding) []HoldingView {
	out := make([]HoldingView, len(holdings))
	for i, h := range holdings {
		out[i] = HoldingView{
			Ticker:            h.Ticker,
			RemainingQuantity: quantity(h.RemainingQuantity),
			AverageCost:       money(h.AverageCost),
			CostBasis:         money(h.CostBasis),
			OpenLots:          h.OpenLots,
			RealizedProfit:    money(h.RealizedProfit),
		}
	}
	return out
}

func matchViews(matches []model.RealizedMatch) []MatchView {
	out := make([]MatchView, len(matches))
	for i, m := range matches {
		out[i] = MatchView{
			Ticker:            m.Ticker,
			MatchedQuantity:   quantity(m.MatchedQuantity),
			BuyUnitCost:       money(m.BuyUnitCost),
			SellUnitPrice:     money(m.SellUnitPrice),
			BuyLotOriginID:    m.BuyLotOriginID,
			SellTransactionID: m.SellTransactionID,
			RealizedGain:      money(m.RealizedGain),
			SoldAt:            m.SoldAt,
		}
	}
	return out
}

// GetFIFO handles GET /api/v1/portfolios/{portfolioID}/fifo
// Returns total realized profit and the open FIFO lots, optionally
// restricted with ?ticker=<symbol>.
func (s *Service) GetFIFO(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")
	symbol := r.URL.Query().Get("ticker")
	if symbol != "" {
		canonical, err := ticker.Canonical(symbol)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		symbol = canonical
	}

	c, err := s.Compute(r.Context(), portfolioID, symbol)
	if err != nil {
		writeDomainError(w, err, "failed to compute fifo")
		return
	}

	writeJSON(w, http.StatusOK, FIFOResponse{
		PortfolioID:         portfolioID,
		Ticker:              symbol,
		TotalRealizedProfit: money(c.Result.TotalRealizedProfit),
		Positions:           positionViews(c.Result.Positions),
		Holdings:            holdingViews(c.Result.Holdings),
		Version:             c.Version,
	})
}

// GetPortfolioStock handles GET /api/v1/portfolios/{portfolioID}/stocks/{ticker}
// Reports lots, matches, and realized profit for one ticker. Unrealized
// profit is included when a current price can be resolved; a price
// failure leaves it null.
func (s *Service) GetPortfolioStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	portfolioID := chi.URLParam(r, "portfolioID")
	symbol, err := ticker.Canonical(chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := s.Compute(ctx, portfolioID, symbol)
	if err != nil {
		writeDomainError(w, err, "failed to compute fifo")
		return
	}

	holding := fifo.Summarize(symbol, c.Result.Positions)
	resp := StockPositionResponse{
		PortfolioID:       portfolioID,
		Ticker:            symbol,
		RemainingQuantity: quantity(holding.RemainingQuantity),
		AverageCost:       money(holding.AverageCost),
		CostBasis:         money(holding.CostBasis),
		RealizedProfit:    money(c.Result.TotalRealizedProfit),
		Lots:              positionViews(c.Result.Positions),
		Matches:           matchViews(c.Result.Matches),
		Version:           c.Version,
	}

	if holding.RemainingQuantity.IsPositive() && s.prices != nil {
		quote, err := price.Lookup(ctx, s.prices, symbol)
		if err != nil {
			slog.Warn("unrealized profit unavailable", "ticker", symbol, "err", err)
		} else {
			value := holding.RemainingQuantity.Mul(quote.Price)
			current, market, unrealized := money(quote.Price), money(value), money(value.Sub(holding.CostBasis))
			resp.CurrentPrice = &current
			resp.MarketValue = &market
			resp.UnrealizedProfit = &unrealized
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
