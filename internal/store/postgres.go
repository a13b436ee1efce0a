package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradedesk/portfolio-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const holdingColumns = `id, owner_id, symbol, product, qty,
	avg_cost::TEXT, price::TEXT, net_change_pct::TEXT, day_change_pct::TEXT,
	is_loss, created_at, updated_at`

func (s *PostgresStore) ListHoldings(ctx context.Context, book model.Book, ownerID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingColumns+`
		 FROM holdings WHERE book = $1 AND owner_id = $2 ORDER BY created_at, symbol`,
		string(book), ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHoldings(rows)
}

func (s *PostgresStore) ListAllHoldings(ctx context.Context, book model.Book) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingColumns+`
		 FROM holdings WHERE book = $1 ORDER BY owner_id, created_at, symbol`,
		string(book))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHoldings(rows)
}

func (s *PostgresStore) GetHolding(ctx context.Context, book model.Book, ownerID, symbol string) (*model.Holding, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+holdingColumns+`
		 FROM holdings WHERE book = $1 AND owner_id = $2 AND symbol = $3`,
		string(book), ownerID, symbol)

	h, err := scanHolding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s %s for %s: %w", book, symbol, ownerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", book, symbol, err)
	}
	return &h, nil
}

func (s *PostgresStore) UpdateHoldingQuote(ctx context.Context, book model.Book, h *model.Holding) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE holdings
		 SET price = $3::NUMERIC, net_change_pct = $4::NUMERIC, day_change_pct = $5::NUMERIC,
		     is_loss = $6, updated_at = $7
		 WHERE book = $1 AND id = $2`,
		string(book), h.ID,
		h.Price.String(), h.NetChangePct.String(), h.DayChangePct.String(),
		h.IsLoss, h.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", book, h.ID, ErrNotFound)
	}
	return nil
}

// ApplyOrder inserts the order and applies the lot change in one transaction.
func (s *PostgresStore) ApplyOrder(ctx context.Context, o *model.Order, change model.HoldingChange) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO orders (id, owner_id, symbol, qty, price, side, product, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9)`,
		o.ID, o.OwnerID, o.Symbol, o.Qty, o.Price.String(), string(o.Side), o.Product, o.Status, o.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	h := change.Holding
	book := string(change.Book)

	switch change.Op {
	case model.ChangeCreate:
		_, err = tx.Exec(ctx,
			`INSERT INTO holdings (id, book, owner_id, symbol, product, qty, avg_cost, price,
			                       net_change_pct, day_change_pct, is_loss, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12, $13)`,
			h.ID, book, h.OwnerID, h.Symbol, h.Product, h.Qty,
			h.AvgCost.String(), h.Price.String(), h.NetChangePct.String(), h.DayChangePct.String(),
			h.IsLoss, h.CreatedAt, h.UpdatedAt,
		)
	case model.ChangeUpdate:
		err = execOne(ctx, tx,
			`UPDATE holdings SET qty = $4, avg_cost = $5::NUMERIC, price = $6::NUMERIC, updated_at = $7
			 WHERE book = $1 AND owner_id = $2 AND symbol = $3`,
			book, h.OwnerID, h.Symbol, h.Qty, h.AvgCost.String(), h.Price.String(), h.UpdatedAt,
		)
	case model.ChangeDelete:
		err = execOne(ctx, tx,
			`DELETE FROM holdings WHERE book = $1 AND owner_id = $2 AND symbol = $3`,
			book, h.OwnerID, h.Symbol,
		)
	default:
		err = fmt.Errorf("unknown holding change %s", change.Op)
	}
	if err != nil {
		return fmt.Errorf("%s %s %s: %w", change.Op, book, h.Symbol, err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListOrders(ctx context.Context, ownerID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, symbol, qty, price::TEXT, side, product, status, created_at
		 FROM orders WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]model.Order, 0)
	for rows.Next() {
		var o model.Order
		var priceS, side string
		if err := rows.Scan(&o.ID, &o.OwnerID, &o.Symbol, &o.Qty, &priceS, &side,
			&o.Product, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Side = model.Side(side)
		o.Price, _ = decimal.NewFromString(priceS)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) DeleteOrder(ctx context.Context, ownerID, orderID string) error {
	err := execOne(ctx, s.pool,
		`DELETE FROM orders WHERE id = $1 AND owner_id = $2`, orderID, ownerID)
	if err != nil {
		return fmt.Errorf("order %s: %w", orderID, err)
	}
	return nil
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// execOne runs a statement that must touch exactly one row.
func execOne(ctx context.Context, db execer, sql string, args ...any) error {
	tag, err := db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanHoldings(rows pgx.Rows) ([]model.Holding, error) {
	holdings := make([]model.Holding, 0)
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func scanHolding(row pgx.Row) (model.Holding, error) {
	var h model.Holding
	var avgS, priceS, netS, dayS string

	if err := row.Scan(&h.ID, &h.OwnerID, &h.Symbol, &h.Product, &h.Qty,
		&avgS, &priceS, &netS, &dayS,
		&h.IsLoss, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return h, err
	}

	h.AvgCost, _ = decimal.NewFromString(avgS)
	h.Price, _ = decimal.NewFromString(priceS)
	h.NetChangePct, _ = decimal.NewFromString(netS)
	h.DayChangePct, _ = decimal.NewFromString(dayS)
	return h, nil
}
