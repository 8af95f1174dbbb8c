package portfolio

import "github.com/go-chi/chi/v5"

// Routes mounts the portfolio, transaction, and stock endpoints on r.
// r is expected to be the /api/v1 sub-router.
func (s *Service) Routes(r chi.Router) {
	r.Route("/portfolios", func(r chi.Router) {
		r.Get("/", s.ListPortfolios)
		r.Post("/", s.CreatePortfolio)

		r.Route("/{portfolioID}", func(r chi.Router) {
			r.Get("/", s.GetPortfolio)
			r.Put("/", s.UpdatePortfolio)
			r.Patch("/", s.UpdatePortfolio)
			r.Delete("/", s.DeletePortfolio)

			r.Get("/transactions", s.ListTransactions)
			r.Post("/transactions", s.CreateTransaction)
			r.Get("/transactions/{transactionID}", s.GetTransaction)
			r.Put("/transactions/{transactionID}", s.UpdateTransaction)
			r.Delete("/transactions/{transactionID}", s.DeleteTransaction)

			r.Get("/fifo", s.GetFIFO)
			r.Get("/stocks/{ticker}", s.GetPortfolioStock)
		})
	})

	r.Get("/stocks", s.ListStocks)
	r.Get("/stocks/{ticker}", s.GetStock)
	r.Get("/stocks/{ticker}/price", s.GetStockPrice)
	r.Get("/stocks/{ticker}/price-history", s.GetPriceHistory)
	r.Get("/stocks/{ticker}/price-history/{date}", s.GetPricePoint)
}
