package portfolio

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atmx/portfolio-engine/internal/model"
)

// CreatePortfolioRequest is the JSON body for POST /portfolios.
type CreatePortfolioRequest struct {
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UpdatePortfolioRequest is the JSON body for PUT and PATCH /portfolios/{id}.
// Nil fields are left unchanged.
type UpdatePortfolioRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// ListPortfolios handles GET /api/v1/portfolios
// Optionally filtered by ?owner_id=<id>.
func (s *Service) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := s.store.ListPortfolios(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		writeDomainError(w, err, "failed to list portfolios")
		return
	}
	if portfolios == nil {
		portfolios = []model.Portfolio{}
	}
	writeJSON(w, http.StatusOK, portfolios)
}

// CreatePortfolio handles POST /api/v1/portfolios
func (s *Service) CreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req CreatePortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.Name = strings.TrimSpace(req.Name)
	if req.OwnerID == "" {
		writeError(w, "owner_id is required", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	now := s.now()
	p := &model.Portfolio{
		ID:          uuid.New().String(),
		OwnerID:     req.OwnerID,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreatePortfolio(r.Context(), p); err != nil {
		writeDomainError(w, err, "failed to create portfolio")
		return
	}

	slog.Info("portfolio created", "id", p.ID, "owner", p.OwnerID, "name", p.Name)
	writeJSON(w, http.StatusCreated, p)
}

// GetPortfolio handles GET /api/v1/portfolios/{portfolioID}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPortfolio(r.Context(), chi.URLParam(r, "portfolioID"))
	if err != nil {
		writeDomainError(w, err, "failed to load portfolio")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdatePortfolio handles PUT and PATCH /api/v1/portfolios/{portfolioID}
func (s *Service) UpdatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req UpdatePortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "portfolioID")

	unlock := s.lock(id)
	defer unlock()

	p, err := s.store.GetPortfolio(ctx, id)
	if err != nil {
		writeDomainError(w, err, "failed to load portfolio")
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, "name must not be empty", http.StatusBadRequest)
			return
		}
		p.Name = name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	p.UpdatedAt = s.now()

	if err := s.store.UpdatePortfolio(ctx, p); err != nil {
		writeDomainError(w, err, "failed to update portfolio")
		return
	}

	slog.Info("portfolio updated", "id", p.ID, "name", p.Name)
	writeJSON(w, http.StatusOK, p)
}

// DeletePortfolio handles DELETE /api/v1/portfolios/{portfolioID}
// Transactions are removed with the portfolio.
func (s *Service) DeletePortfolio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "portfolioID")

	unlock := s.lock(id)
	defer unlock()

	set, err := s.store.ListTransactions(ctx, id, "")
	if err != nil {
		writeDomainError(w, err, "failed to load portfolio")
		return
	}
	if err := s.store.DeletePortfolio(ctx, id); err != nil {
		writeDomainError(w, err, "failed to delete portfolio")
		return
	}
	s.invalidate(ctx, id, tickersOf(set.Transactions)...)

	slog.Info("portfolio deleted", "id", id, "transactions", len(set.Transactions))
	w.WriteHeader(http.StatusNoContent)
}

// tickersOf returns the distinct tickers of txs in first-seen order.
func tickersOf(txs []model.Transaction) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tx := range txs {
		if !seen[tx.Ticker] {
			seen[tx.Ticker] = true
			out = append(out, tx.Ticker)
		}
	}
	return out
}
