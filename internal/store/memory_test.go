package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
)

func seedPortfolio(t *testing.T, s *MemoryStore, id, owner, name string) *model.Portfolio {
	t.Helper()
	p := &model.Portfolio{
		ID:        id,
		OwnerID:   owner,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.CreatePortfolio(context.Background(), p); err != nil {
		t.Fatalf("failed to seed portfolio: %v", err)
	}
	return p
}

func newTx(id, portfolioID, ticker string, side model.Side, qty int64, ts time.Time) *model.Transaction {
	return &model.Transaction{
		ID:          id,
		PortfolioID: portfolioID,
		Ticker:      ticker,
		Side:        side,
		Quantity:    decimal.NewFromInt(qty),
		Price:       decimal.NewFromInt(10),
		Timestamp:   ts,
	}
}

func TestMemoryStore_PortfolioNameUniquePerOwner(t *testing.T) {
	s := NewMemoryStore()
	seedPortfolio(t, s, "p1", "alice", "Growth")

	err := s.CreatePortfolio(context.Background(), &model.Portfolio{ID: "p2", OwnerID: "alice", Name: "Growth"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	// Same name for a different owner is fine.
	seedPortfolio(t, s, "p3", "bob", "Growth")
}

func TestMemoryStore_GetPortfolioNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetPortfolio(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_AppendAssignsSequenceAndBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedPortfolio(t, s, "p1", "alice", "Main")
	now := time.Now().UTC()

	a := newTx("a", "p1", "AAPL", model.SideBuy, 10, now)
	b := newTx("b", "p1", "AAPL", model.SideBuy, 5, now)
	if err := s.AppendTransaction(ctx, a); err != nil {
		t.Fatalf("append a: %v", err)
	}
	if err := s.AppendTransaction(ctx, b); err != nil {
		t.Fatalf("append b: %v", err)
	}

	if a.Sequence >= b.Sequence {
		t.Errorf("sequence must increase: a=%d b=%d", a.Sequence, b.Sequence)
	}
	v, _ := s.PortfolioVersion(ctx, "p1")
	if v != 2 {
		t.Errorf("expected version 2, got %d", v)
	}
}

func TestMemoryStore_AppendToMissingPortfolio(t *testing.T) {
	s := NewMemoryStore()
	err := s.AppendTransaction(context.Background(), newTx("a", "nope", "AAPL", model.SideBuy, 1, time.Now()))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListTransactionsFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedPortfolio(t, s, "p1", "alice", "Main")
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	s.AppendTransaction(ctx, newTx("late", "p1", "AAPL", model.SideBuy, 1, base.Add(time.Hour)))
	s.AppendTransaction(ctx, newTx("msft", "p1", "MSFT", model.SideBuy, 1, base))
	s.AppendTransaction(ctx, newTx("early", "p1", "AAPL", model.SideBuy, 1, base))

	set, err := s.ListTransactions(ctx, "p1", "AAPL")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(set.Transactions) != 2 {
		t.Fatalf("expected 2 AAPL transactions, got %d", len(set.Transactions))
	}
	if set.Transactions[0].ID != "early" || set.Transactions[1].ID != "late" {
		t.Errorf("unexpected order: %s, %s", set.Transactions[0].ID, set.Transactions[1].ID)
	}
	if set.Version != 3 {
		t.Errorf("expected version 3, got %d", set.Version)
	}

	all, _ := s.ListTransactions(ctx, "p1", "")
	if len(all.Transactions) != 3 {
		t.Errorf("expected 3 transactions, got %d", len(all.Transactions))
	}
}

func TestMemoryStore_UpdateKeepsSequence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedPortfolio(t, s, "p1", "alice", "Main")
	a := newTx("a", "p1", "AAPL", model.SideBuy, 10, time.Now().UTC())
	s.AppendTransaction(ctx, a)
	seq := a.Sequence

	edit := newTx("a", "p1", "AAPL", model.SideBuy, 20, a.Timestamp)
	if err := s.UpdateTransaction(ctx, edit); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := s.GetTransaction(ctx, "p1", "a")
	if got.Sequence != seq {
		t.Errorf("sequence changed: %d → %d", seq, got.Sequence)
	}
	if !got.Quantity.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected quantity 20, got %s", got.Quantity)
	}
	if v, _ := s.PortfolioVersion(ctx, "p1"); v != 2 {
		t.Errorf("expected version 2 after update, got %d", v)
	}
}

func TestMemoryStore_DeleteTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedPortfolio(t, s, "p1", "alice", "Main")
	s.AppendTransaction(ctx, newTx("a", "p1", "AAPL", model.SideBuy, 10, time.Now().UTC()))

	before, _ := s.ListTransactions(ctx, "p1", "")
	if err := s.DeleteTransaction(ctx, "p1", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(before.Transactions) != 1 {
		t.Error("earlier snapshot must not observe the delete")
	}
	if _, err := s.GetTransaction(ctx, "p1", "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteTransaction(ctx, "p1", "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryStore_DeletePortfolioCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedPortfolio(t, s, "p1", "alice", "Main")
	s.AppendTransaction(ctx, newTx("a", "p1", "AAPL", model.SideBuy, 10, time.Now().UTC()))

	if err := s.DeletePortfolio(ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.ListTransactions(ctx, "p1", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ConcurrentAppendsKeepVersionConsistent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedPortfolio(t, s, "p1", "alice", "Main")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := newTx(fmt.Sprintf("tx-%d", i), "p1", "AAPL", model.SideBuy, 1, time.Now().UTC())
			if err := s.AppendTransaction(ctx, tx); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	set, _ := s.ListTransactions(ctx, "p1", "")
	if len(set.Transactions) != 50 {
		t.Errorf("expected 50 transactions, got %d", len(set.Transactions))
	}
	if set.Version != int64(len(set.Transactions)) {
		t.Errorf("version %d should equal row count %d", set.Version, len(set.Transactions))
	}
}

func TestMemoryStore_StockUpsertMerges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.UpsertStock(ctx, &model.Stock{Ticker: "AAPL", Name: "Apple Inc."})
	s.UpsertStock(ctx, &model.Stock{Ticker: "AAPL", CurrentPrice: decimal.NewNullDecimal(decimal.NewFromInt(190))})

	st, err := s.GetStock(ctx, "AAPL")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if st.Name != "Apple Inc." {
		t.Errorf("name should survive a price-only upsert, got %q", st.Name)
	}
	if !st.CurrentPrice.Valid || !st.CurrentPrice.Decimal.Equal(decimal.NewFromInt(190)) {
		t.Errorf("expected current price 190, got %v", st.CurrentPrice)
	}
}

func TestMemoryStore_PriceHistoryOnePerDay(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	morning := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	s.RecordPrice(ctx, "AAPL", decimal.NewFromInt(100), morning)
	s.RecordPrice(ctx, "AAPL", decimal.NewFromInt(101), morning.Add(6*time.Hour))
	s.RecordPrice(ctx, "AAPL", decimal.NewFromInt(99), morning.AddDate(0, 0, -1))

	points, _ := s.ListPriceHistory(ctx, "AAPL")
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if !points[0].Price.Equal(decimal.NewFromInt(99)) {
		t.Errorf("expected oldest first, got %s", points[0].Price)
	}
	if !points[1].Price.Equal(decimal.NewFromInt(101)) {
		t.Errorf("expected same-day overwrite to 101, got %s", points[1].Price)
	}
}
