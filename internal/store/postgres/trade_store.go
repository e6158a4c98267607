package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, name, side, order_type, quantity, price,
	status, reason, decision_id, realized_pnl, live, created_at`

const tradeInsert = `
	INSERT INTO trade_records (
		id, symbol, name, side, order_type, quantity, price,
		status, reason, decision_id, realized_pnl, live, created_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8, $9, $10, $11, $12, $13
	)
	ON CONFLICT (id) DO UPDATE SET
		status       = EXCLUDED.status,
		reason       = EXCLUDED.reason,
		realized_pnl = EXCLUDED.realized_pnl`

func tradeArgs(o domain.Order) []any {
	return []any{
		o.ID, o.Symbol, o.Name, string(o.Side), string(o.Type), o.Quantity, o.Price,
		string(o.Status), o.Reason, o.DecisionID, o.RealizedPnL, o.Live, o.CreatedAt,
	}
}

func scanTradeRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var side, typ, status string
		if err := rows.Scan(
			&o.ID, &o.Symbol, &o.Name, &side, &typ, &o.Quantity, &o.Price,
			&status, &o.Reason, &o.DecisionID, &o.RealizedPnL, &o.Live, &o.CreatedAt,
		); err != nil {
			return nil, err
		}
		o.Side = domain.OrderSide(side)
		o.Type = domain.OrderType(typ)
		o.Status = domain.OrderStatus(status)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Insert records one order. A later write for the same id updates its
// status, reason and realized P&L.
func (s *TradeStore) Insert(ctx context.Context, o domain.Order) error {
	if _, err := s.pool.Exec(ctx, tradeInsert, tradeArgs(o)...); err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", o.ID, err)
	}
	return nil
}

// ListRecent returns orders newest first, optionally for one symbol.
func (s *TradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	query, args := listQuery(
		`SELECT `+tradeSelectCols+` FROM trade_records WHERE TRUE`, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	orders, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return orders, nil
}

// ListBefore returns every order created strictly before the cutoff,
// oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trade_records
		 WHERE created_at < $1
		 ORDER BY created_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	orders, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return orders, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
