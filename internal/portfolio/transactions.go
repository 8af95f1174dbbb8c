package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/fifo"
	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/price"
	"github.com/atmx/portfolio-engine/internal/store"
	"github.com/atmx/portfolio-engine/internal/ticker"
)

// CreateTransactionRequest is the JSON body for POST /transactions.
type CreateTransactionRequest struct {
	Ticker    string              `json:"ticker"`
	Side      string              `json:"side"` // "BUY" or "SELL"
	Quantity  decimal.Decimal     `json:"quantity"`
	Price     decimal.NullDecimal `json:"price"`     // omitted → current market price
	Timestamp *time.Time          `json:"timestamp"` // omitted → now
}

// UpdateTransactionRequest is the JSON body for PUT /transactions/{id}.
// Nil fields keep their stored value.
type UpdateTransactionRequest struct {
	Ticker    *string          `json:"ticker"`
	Side      *string          `json:"side"`
	Quantity  *decimal.Decimal `json:"quantity"`
	Price     *decimal.Decimal `json:"price"`
	Timestamp *time.Time       `json:"timestamp"`
}

// TransactionResponse is returned from transaction writes.
type TransactionResponse struct {
	Transaction model.Transaction `json:"transaction"`
	Version     int64             `json:"version"`
}

// ListTransactions handles GET /api/v1/portfolios/{portfolioID}/transactions
// Optionally filtered by ?ticker=<symbol>.
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("ticker")
	if symbol != "" {
		canonical, err := ticker.Canonical(symbol)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		symbol = canonical
	}

	set, err := s.store.ListTransactions(r.Context(), chi.URLParam(r, "portfolioID"), symbol)
	if err != nil {
		writeDomainError(w, err, "failed to list transactions")
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// GetTransaction handles GET /api/v1/portfolios/{portfolioID}/transactions/{transactionID}
func (s *Service) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.store.GetTransaction(r.Context(), chi.URLParam(r, "portfolioID"), chi.URLParam(r, "transactionID"))
	if err != nil {
		writeDomainError(w, err, "failed to load transaction")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// CreateTransaction handles POST /api/v1/portfolios/{portfolioID}/transactions
// A missing price is resolved from the price source before anything is
// stored. The write is rejected if any SELL in the resulting history
// would exceed the shares held at that point.
func (s *Service) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	symbol, err := ticker.Canonical(req.Ticker)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	side := model.Side(strings.ToUpper(strings.TrimSpace(req.Side)))
	if !side.Valid() {
		writeError(w, "side must be BUY or SELL", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	portfolioID := chi.URLParam(r, "portfolioID")
	if _, err := s.store.GetPortfolio(ctx, portfolioID); err != nil {
		writeDomainError(w, err, "failed to load portfolio")
		return
	}

	now := s.now()
	tx := model.Transaction{
		ID:          uuid.New().String(),
		PortfolioID: portfolioID,
		Ticker:      symbol,
		Side:        side,
		Quantity:    req.Quantity,
		Timestamp:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Timestamp != nil {
		tx.Timestamp = req.Timestamp.UTC()
	}

	// Validate the shape before spending a price lookup on it.
	if req.Price.Valid {
		tx.Price = req.Price.Decimal
	}
	if err := fifo.Validate(tx); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The quote is only recorded once the transaction is accepted.
	var quote *model.Quote
	if !req.Price.Valid {
		quote, err = price.Lookup(ctx, s.prices, symbol)
		if err != nil {
			slog.Warn("price resolution failed", "ticker", symbol, "err", err)
			writeDomainError(w, err, "failed to resolve price")
			return
		}
		tx.Price = quote.Price.Round(fifo.PricePlaces)
	}

	unlock := s.lock(portfolioID)
	defer unlock()

	pending := tx
	pending.Sequence = math.MaxInt64 // the store assigns a larger sequence than any existing row
	if err := s.checkHistory(ctx, portfolioID, symbol, func(txs []model.Transaction) []model.Transaction {
		return append(txs, pending)
	}); err != nil {
		writeDomainError(w, err, "failed to validate transaction")
		return
	}

	if quote != nil {
		err = s.recordQuote(ctx, symbol, quote)
	} else {
		err = s.ensureStock(ctx, symbol)
	}
	if err != nil {
		writeDomainError(w, err, "failed to register stock")
		return
	}
	if err := s.store.AppendTransaction(ctx, &tx); err != nil {
		writeDomainError(w, err, "failed to record transaction")
		return
	}

	version := s.afterWrite(ctx, "create", &tx, symbol)
	writeJSON(w, http.StatusCreated, TransactionResponse{Transaction: tx, Version: version})
}

// UpdateTransaction handles PUT /api/v1/portfolios/{portfolioID}/transactions/{transactionID}
// The edited history is replayed from scratch; an edit that would leave
// any SELL uncovered is rejected.
func (s *Service) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req UpdateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	portfolioID := chi.URLParam(r, "portfolioID")
	id := chi.URLParam(r, "transactionID")

	unlock := s.lock(portfolioID)
	defer unlock()

	existing, err := s.store.GetTransaction(ctx, portfolioID, id)
	if err != nil {
		writeDomainError(w, err, "failed to load transaction")
		return
	}

	edited := *existing
	if req.Ticker != nil {
		symbol, err := ticker.Canonical(*req.Ticker)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		edited.Ticker = symbol
	}
	if req.Side != nil {
		edited.Side = model.Side(strings.ToUpper(strings.TrimSpace(*req.Side)))
	}
	if req.Quantity != nil {
		edited.Quantity = *req.Quantity
	}
	if req.Price != nil {
		edited.Price = *req.Price
	}
	if req.Timestamp != nil {
		edited.Timestamp = req.Timestamp.UTC()
	}
	edited.UpdatedAt = s.now()

	if err := fifo.Validate(edited); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The new ticker gains the edited row; on a ticker change the old one loses it.
	if err := s.checkHistory(ctx, portfolioID, edited.Ticker, func(txs []model.Transaction) []model.Transaction {
		return append(without(txs, id), edited)
	}); err != nil {
		writeDomainError(w, err, "failed to validate transaction")
		return
	}
	if edited.Ticker != existing.Ticker {
		if err := s.checkHistory(ctx, portfolioID, existing.Ticker, func(txs []model.Transaction) []model.Transaction {
			return without(txs, id)
		}); err != nil {
			writeDomainError(w, err, "failed to validate transaction")
			return
		}
		if err := s.ensureStock(ctx, edited.Ticker); err != nil {
			writeDomainError(w, err, "failed to register stock")
			return
		}
	}

	if err := s.store.UpdateTransaction(ctx, &edited); err != nil {
		writeDomainError(w, err, "failed to update transaction")
		return
	}

	version := s.afterWrite(ctx, "update", &edited, existing.Ticker, edited.Ticker)
	writeJSON(w, http.StatusOK, TransactionResponse{Transaction: edited, Version: version})
}

// DeleteTransaction handles DELETE /api/v1/portfolios/{portfolioID}/transactions/{transactionID}
// Deleting a BUY that later SELLs depend on is rejected.
func (s *Service) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	portfolioID := chi.URLParam(r, "portfolioID")
	id := chi.URLParam(r, "transactionID")

	unlock := s.lock(portfolioID)
	defer unlock()

	existing, err := s.store.GetTransaction(ctx, portfolioID, id)
	if err != nil {
		writeDomainError(w, err, "failed to load transaction")
		return
	}
	if err := s.checkHistory(ctx, portfolioID, existing.Ticker, func(txs []model.Transaction) []model.Transaction {
		return without(txs, id)
	}); err != nil {
		writeDomainError(w, err, "failed to validate transaction")
		return
	}
	if err := s.store.DeleteTransaction(ctx, portfolioID, id); err != nil {
		writeDomainError(w, err, "failed to delete transaction")
		return
	}

	s.afterWrite(ctx, "delete", existing, existing.Ticker)
	w.WriteHeader(http.StatusNoContent)
}

// checkHistory replays the history of one ticker after applying change
// and returns the engine's error, if any. Must be called with the
// portfolio lock held.
func (s *Service) checkHistory(ctx context.Context, portfolioID, symbol string, change func([]model.Transaction) []model.Transaction) error {
	set, err := s.store.ListTransactions(ctx, portfolioID, symbol)
	if err != nil {
		return err
	}
	proposed := change(set.Transactions)
	if _, err := fifo.ComputeTicker(symbol, proposed); err != nil {
		var insufficient *fifo.InsufficientSharesError
		if errors.As(err, &insufficient) {
			metrics.OversellRejections.Inc()
			slog.Info("transaction rejected",
				"portfolio", portfolioID,
				"ticker", symbol,
				"sell", insufficient.SellTransactionID,
				"requested", insufficient.Requested.String(),
				"available", insufficient.Available.String(),
			)
		}
		return err
	}
	return nil
}

// ensureStock registers symbol as a known stock if it is not one yet.
func (s *Service) ensureStock(ctx context.Context, symbol string) error {
	_, err := s.store.GetStock(ctx, symbol)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return s.store.UpsertStock(ctx, &model.Stock{Ticker: symbol, LastUpdated: s.now()})
}

// afterWrite runs the side effects shared by every committed transaction
// write and returns the portfolio version after the write. A version that
// cannot be read is logged and reported as 0.
func (s *Service) afterWrite(ctx context.Context, op string, tx *model.Transaction, tickers ...string) int64 {
	s.invalidate(ctx, tx.PortfolioID, tickers...)
	metrics.TransactionsTotal.WithLabelValues(op, string(tx.Side)).Inc()

	version, err := s.store.PortfolioVersion(ctx, tx.PortfolioID)
	if err != nil {
		slog.Warn("failed to read portfolio version", "portfolio", tx.PortfolioID, "err", err)
	}

	slog.Info("transaction "+op+"d",
		"id", tx.ID,
		"portfolio", tx.PortfolioID,
		"ticker", tx.Ticker,
		"side", tx.Side,
		"qty", tx.Quantity.String(),
		"price", tx.Price.String(),
		"version", version,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:          "transaction_" + op + "d",
			PortfolioID:   tx.PortfolioID,
			TransactionID: tx.ID,
			Ticker:        tx.Ticker,
			Side:          string(tx.Side),
			Quantity:      tx.Quantity.StringFixed(fifo.QuantityPlaces),
			Price:         tx.Price.StringFixed(fifo.PricePlaces),
			Version:       version,
		})
	}
	return version
}

// without returns a copy of txs minus the row with id.
func without(txs []model.Transaction, id string) []model.Transaction {
	out := make([]model.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.ID != id {
			out = append(out, tx)
		}
	}
	return out
}
