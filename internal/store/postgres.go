package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All quantities and prices are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// RunMigrations applies the embedded migrations/ files in lexicographic
// order, tracking applied files in schema_migrations.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
	if _, err := s.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)",
			entry.Name(),
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", entry.Name(), err)
		}
		if exists {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", entry.Name(), err)
		}

		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", entry.Name())
			return err
		})
		if err != nil {
			return fmt.Errorf("postgres: apply migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// --- Portfolios ---

func (s *PostgresStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portfolios (id, owner_id, name, description, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.OwnerID, p.Name, p.Description, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	return mapError(err, "create portfolio "+p.ID)
}

const portfolioColumns = `id, owner_id, name, description, version, created_at, updated_at`

func (s *PostgresStore) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	var p model.Portfolio
	err := s.pool.QueryRow(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1`, id).
		Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapError(err, "get portfolio "+id)
	}
	return &p, nil
}

func (s *PostgresStore) ListPortfolios(ctx context.Context, ownerID string) ([]model.Portfolio, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios
		 WHERE ($1 = '' OR owner_id = $1)
		 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	portfolios := []model.Portfolio{}
	for rows.Next() {
		var p model.Portfolio
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		portfolios = append(portfolios, p)
	}
	return portfolios, rows.Err()
}

func (s *PostgresStore) UpdatePortfolio(ctx context.Context, p *model.Portfolio) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE portfolios SET name = $2, description = $3, updated_at = $4 WHERE id = $1`,
		p.ID, p.Name, p.Description, p.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "update portfolio "+p.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: portfolio %s", ErrNotFound, p.ID)
	}
	return nil
}

func (s *PostgresStore) DeletePortfolio(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM portfolios WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: portfolio %s", ErrNotFound, id)
	}
	return nil
}

// --- Transactions ---

// bumpVersion increments a portfolio's fingerprint inside tx.
func bumpVersion(ctx context.Context, tx pgx.Tx, portfolioID string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE portfolios SET version = version + 1, updated_at = NOW() WHERE id = $1`, portfolioID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: portfolio %s", ErrNotFound, portfolioID)
	}
	return nil
}

func (s *PostgresStore) AppendTransaction(ctx context.Context, t *model.Transaction) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := bumpVersion(ctx, tx, t.PortfolioID); err != nil {
			return err
		}
		err := tx.QueryRow(ctx,
			`INSERT INTO transactions (id, portfolio_id, ticker, side, quantity, price, timestamp, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)
			 RETURNING sequence`,
			t.ID, t.PortfolioID, t.Ticker, string(t.Side),
			t.Quantity.String(), t.Price.String(),
			t.Timestamp, t.CreatedAt, t.UpdatedAt,
		).Scan(&t.Sequence)
		return mapError(err, "append transaction "+t.ID)
	})
}

const transactionColumns = `id, portfolio_id, ticker, side, quantity::TEXT, price::TEXT,
	timestamp, sequence, created_at, updated_at`

func (s *PostgresStore) GetTransaction(ctx context.Context, portfolioID, id string) (*model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE portfolio_id = $1 AND id = $2`,
		portfolioID, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	return &txs[0], nil
}

func (s *PostgresStore) UpdateTransaction(ctx context.Context, t *model.Transaction) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE transactions
			 SET ticker = $3, side = $4, quantity = $5::NUMERIC, price = $6::NUMERIC,
			     timestamp = $7, updated_at = $8
			 WHERE portfolio_id = $1 AND id = $2
			 RETURNING sequence, created_at`,
			t.PortfolioID, t.ID, t.Ticker, string(t.Side),
			t.Quantity.String(), t.Price.String(), t.Timestamp, t.UpdatedAt,
		).Scan(&t.Sequence, &t.CreatedAt)
		if err != nil {
			return mapError(err, "update transaction "+t.ID)
		}
		return bumpVersion(ctx, tx, t.PortfolioID)
	})
}

func (s *PostgresStore) DeleteTransaction(ctx context.Context, portfolioID, id string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM transactions WHERE portfolio_id = $1 AND id = $2`, portfolioID, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: transaction %s", ErrNotFound, id)
		}
		return bumpVersion(ctx, tx, portfolioID)
	})
}

// ListTransactions reads version and rows inside one REPEATABLE READ
// transaction so both come from the same snapshot.
func (s *PostgresStore) ListTransactions(ctx context.Context, portfolioID, ticker string) (*model.TransactionSet, error) {
	set := &model.TransactionSet{PortfolioID: portfolioID, Ticker: ticker}

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`SELECT version FROM portfolios WHERE id = $1`, portfolioID).Scan(&set.Version); err != nil {
			return mapError(err, "get portfolio "+portfolioID)
		}

		rows, err := tx.Query(ctx,
			`SELECT `+transactionColumns+` FROM transactions
			 WHERE portfolio_id = $1 AND ($2 = '' OR ticker = $2)
			 ORDER BY timestamp, sequence`, portfolioID, ticker)
		if err != nil {
			return err
		}
		defer rows.Close()

		set.Transactions, err = scanTransactions(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

func (s *PostgresStore) PortfolioVersion(ctx context.Context, portfolioID string) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `SELECT version FROM portfolios WHERE id = $1`, portfolioID).Scan(&v)
	if err != nil {
		return 0, mapError(err, "get portfolio version "+portfolioID)
	}
	return v, nil
}

// --- Stocks ---

func (s *PostgresStore) UpsertStock(ctx context.Context, st *model.Stock) error {
	var price *string
	if st.CurrentPrice.Valid {
		v := st.CurrentPrice.Decimal.String()
		price = &v
	}
	lastUpdated := st.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO stocks (ticker, name, sector, industry, current_price, last_updated)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)
		 ON CONFLICT (ticker) DO UPDATE SET
		     name          = COALESCE(NULLIF(EXCLUDED.name, ''), stocks.name),
		     sector        = COALESCE(NULLIF(EXCLUDED.sector, ''), stocks.sector),
		     industry      = COALESCE(NULLIF(EXCLUDED.industry, ''), stocks.industry),
		     current_price = COALESCE(EXCLUDED.current_price, stocks.current_price),
		     last_updated  = EXCLUDED.last_updated`,
		st.Ticker, st.Name, st.Sector, st.Industry, price, lastUpdated,
	)
	return mapError(err, "upsert stock "+st.Ticker)
}

const stockColumns = `ticker, name, sector, industry, current_price::TEXT, last_updated`

func (s *PostgresStore) GetStock(ctx context.Context, ticker string) (*model.Stock, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+stockColumns+` FROM stocks WHERE ticker = $1`, ticker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stocks, err := scanStocks(rows)
	if err != nil {
		return nil, err
	}
	if len(stocks) == 0 {
		return nil, fmt.Errorf("%w: stock %s", ErrNotFound, ticker)
	}
	return &stocks[0], nil
}

func (s *PostgresStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+stockColumns+` FROM stocks ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanStocks(rows)
}

func (s *PostgresStore) RecordPrice(ctx context.Context, ticker string, price decimal.Decimal, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_history (ticker, date, price)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (ticker, date) DO UPDATE SET price = EXCLUDED.price`,
		ticker, day(at), price.String(),
	)
	return mapError(err, "record price "+ticker)
}

func (s *PostgresStore) ListPriceHistory(ctx context.Context, ticker string) ([]model.PricePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ticker, price::TEXT, date FROM price_history WHERE ticker = $1 ORDER BY date`, ticker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []model.PricePoint{}
	for rows.Next() {
		var p model.PricePoint
		var priceS string
		if err := rows.Scan(&p.Ticker, &priceS, &p.Date); err != nil {
			return nil, err
		}
		p.Price, _ = decimal.NewFromString(priceS)
		points = append(points, p)
	}
	return points, rows.Err()
}

// --- Row helpers ---

// pgxRows is the subset of pgx.Rows the scanners need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTransactions(rows pgxRows) ([]model.Transaction, error) {
	txs := []model.Transaction{}
	for rows.Next() {
		var t model.Transaction
		var side, qtyS, priceS string

		if err := rows.Scan(&t.ID, &t.PortfolioID, &t.Ticker, &side, &qtyS, &priceS,
			&t.Timestamp, &t.Sequence, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}

		t.Side = model.Side(side)
		t.Quantity, _ = decimal.NewFromString(qtyS)
		t.Price, _ = decimal.NewFromString(priceS)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func scanStocks(rows pgxRows) ([]model.Stock, error) {
	stocks := []model.Stock{}
	for rows.Next() {
		var st model.Stock
		var priceS *string

		if err := rows.Scan(&st.Ticker, &st.Name, &st.Sector, &st.Industry, &priceS, &st.LastUpdated); err != nil {
			return nil, err
		}
		if priceS != nil {
			if p, err := decimal.NewFromString(*priceS); err == nil {
				st.CurrentPrice = decimal.NewNullDecimal(p)
			}
		}
		stocks = append(stocks, st)
	}
	return stocks, rows.Err()
}

// mapError translates pgx errors into the store's sentinel errors.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s: %s", ErrConflict, op, pgErr.Detail)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s: %s", ErrNotFound, op, pgErr.Detail)
		}
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
