package portfolio

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/price"
	"github.com/atmx/portfolio-engine/internal/ticker"
)

// resolvePrice fetches the current quote for symbol and records it. Every
// lookup failure is returned as *price.UnavailableError.
func (s *Service) resolvePrice(ctx context.Context, symbol string) (*model.Quote, error) {
	quote, err := price.Lookup(ctx, s.prices, symbol)
	if err != nil {
		return nil, err
	}
	if err := s.recordQuote(ctx, symbol, quote); err != nil {
		return nil, err
	}
	return quote, nil
}

// recordQuote stores quote as the stock's current price and as the price
// point of its day. The stock row is written first; price history
// references it.
func (s *Service) recordQuote(ctx context.Context, symbol string, quote *model.Quote) error {
	at := quote.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	if err := s.store.UpsertStock(ctx, &model.Stock{
		Ticker:       symbol,
		CurrentPrice: decimal.NewNullDecimal(quote.Price),
		LastUpdated:  s.now(),
	}); err != nil {
		return err
	}
	return s.store.RecordPrice(ctx, symbol, quote.Price, at)
}

// ListStocks handles GET /api/v1/stocks
func (s *Service) ListStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := s.store.ListStocks(r.Context())
	if err != nil {
		writeDomainError(w, err, "failed to list stocks")
		return
	}
	if stocks == nil {
		stocks = []model.Stock{}
	}
	writeJSON(w, http.StatusOK, stocks)
}

// GetStock handles GET /api/v1/stocks/{ticker}
func (s *Service) GetStock(w http.ResponseWriter, r *http.Request) {
	symbol, err := ticker.Canonical(chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, err := s.store.GetStock(r.Context(), symbol)
	if err != nil {
		writeDomainError(w, err, "failed to load stock")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetStockPrice handles GET /api/v1/stocks/{ticker}/price
// Returns the current quote from the price source.
func (s *Service) GetStockPrice(w http.ResponseWriter, r *http.Request) {
	symbol, err := ticker.Canonical(chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	quote, err := s.resolvePrice(r.Context(), symbol)
	if err != nil {
		writeDomainError(w, err, "failed to retrieve price")
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// GetPriceHistory handles GET /api/v1/stocks/{ticker}/price-history
func (s *Service) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	symbol, err := ticker.Canonical(chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	points, err := s.store.ListPriceHistory(r.Context(), symbol)
	if err != nil {
		writeDomainError(w, err, "failed to load price history")
		return
	}
	if points == nil {
		points = []model.PricePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// GetPricePoint handles GET /api/v1/stocks/{ticker}/price-history/{date}
// date is YYYY-MM-DD.
func (s *Service) GetPricePoint(w http.ResponseWriter, r *http.Request) {
	symbol, err := ticker.Canonical(chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	date, err := time.Parse(time.DateOnly, chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	points, err := s.store.ListPriceHistory(r.Context(), symbol)
	if err != nil {
		writeDomainError(w, err, "failed to load price history")
		return
	}
	for _, p := range points {
		if p.Date.UTC().Format(time.DateOnly) == date.Format(time.DateOnly) {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	writeError(w, "no price recorded for "+symbol+" on "+date.Format(time.DateOnly), http.StatusNotFound)
}
