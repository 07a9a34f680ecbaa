package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"swap-router/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	token_in         TEXT NOT NULL,
	token_out        TEXT NOT NULL,
	amount_in        DOUBLE PRECISION NOT NULL,
	order_type       TEXT NOT NULL DEFAULT 'market',
	routing_strategy TEXT NOT NULL DEFAULT 'BEST_PRICE',
	status           TEXT NOT NULL DEFAULT 'pending',
	retries          INTEGER NOT NULL DEFAULT 0,
	slippage         DOUBLE PRECISION NOT NULL DEFAULT 0,
	auto_execute     BOOLEAN NOT NULL DEFAULT true,
	selected_venue   TEXT NOT NULL DEFAULT '',
	executed_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
	amount_out       DOUBLE PRECISION NOT NULL DEFAULT 0,
	tx_hash          TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS orders_created_at_idx ON orders (created_at DESC);
`

// Postgres is the sqlx-backed Repository. Status transitions run inside a
// transaction with a row lock so the state machine check and the write are
// atomic under concurrent scheduler/worker updates.
type Postgres struct {
	db *sqlx.DB
}

// OpenPostgres connects, pings, and bootstraps the schema.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) CreateOrder(ctx context.Context, order *types.Order) error {
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO orders (id, token_in, token_out, amount_in, order_type, routing_strategy,
			status, retries, slippage, auto_execute, selected_venue, executed_price, amount_out,
			tx_hash, error_message, created_at, updated_at)
		VALUES (:id, :token_in, :token_out, :amount_in, :order_type, :routing_strategy,
			:status, :retries, :slippage, :auto_execute, :selected_venue, :executed_price, :amount_out,
			:tx_hash, :error_message, :created_at, :updated_at)`, order)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (p *Postgres) GetOrderByID(ctx context.Context, id string) (*types.Order, error) {
	var order types.Order
	err := p.db.GetContext(ctx, &order, `SELECT * FROM orders WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.KindNotFound, "order not found: "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &order, nil
}

func (p *Postgres) UpdateOrder(ctx context.Context, order *types.Order) error {
	order.UpdatedAt = time.Now()
	res, err := p.db.NamedExecContext(ctx, `
		UPDATE orders SET
			status = :status, retries = :retries, selected_venue = :selected_venue,
			executed_price = :executed_price, amount_out = :amount_out, tx_hash = :tx_hash,
			error_message = :error_message, updated_at = :updated_at
		WHERE id = :id`, order)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.KindNotFound, "order not found: "+order.ID)
	}
	return nil
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, id string, status types.OrderStatus, patch *StatusPatch) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var order types.Order
	err = tx.GetContext(ctx, &order, `SELECT * FROM orders WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.NewError(types.KindNotFound, "order not found: "+id)
	}
	if err != nil {
		return fmt.Errorf("lock order: %w", err)
	}

	if order.Status.Terminal() {
		if order.Status == status {
			return nil
		}
		return types.NewError(types.KindValidation, "order "+id+" is already terminal")
	}
	if !order.Status.CanTransition(status) {
		return types.NewError(types.KindValidation,
			"illegal transition "+string(order.Status)+" -> "+string(status)+" for order "+id)
	}

	order.Status = status
	patch.apply(&order)
	order.UpdatedAt = time.Now()

	if _, err := tx.NamedExecContext(ctx, `
		UPDATE orders SET
			status = :status, retries = :retries, selected_venue = :selected_venue,
			executed_price = :executed_price, amount_out = :amount_out, tx_hash = :tx_hash,
			error_message = :error_message, updated_at = :updated_at
		WHERE id = :id`, &order); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return tx.Commit()
}

func (p *Postgres) GetOrders(ctx context.Context, limit, offset int) ([]types.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	orders := []types.Order{}
	err := p.db.SelectContext(ctx, &orders,
		`SELECT * FROM orders ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (p *Postgres) Healthy(ctx context.Context) bool {
	return p.db.PingContext(ctx) == nil
}

func (p *Postgres) Close() error { return p.db.Close() }
