package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `symbol, name, quantity, sellable_quantity, cost_basis,
	open_date, stop_loss_price, take_profit_price, last_price`

func scanPositionRows(rows pgx.Rows) ([]domain.Holding, error) {
	var holdings []domain.Holding
	for rows.Next() {
		var h domain.Holding
		var openDate *time.Time
		if err := rows.Scan(
			&h.Symbol, &h.Name, &h.Quantity, &h.SellableQuantity, &h.CostBasis,
			&openDate, &h.StopLossPrice, &h.TakeProfitPrice, &h.LastPrice,
		); err != nil {
			return nil, err
		}
		if openDate != nil {
			h.OpenDate = *openDate
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// Upsert writes the latest view of a holding and reopens it if it had been
// closed.
func (s *PositionStore) Upsert(ctx context.Context, h domain.Holding) error {
	const query = `
		INSERT INTO position_monitor (
			symbol, name, quantity, sellable_quantity, cost_basis,
			open_date, stop_loss_price, take_profit_price, last_price,
			status, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			'open', NULL, NOW()
		)
		ON CONFLICT (symbol) DO UPDATE SET
			name              = EXCLUDED.name,
			quantity          = EXCLUDED.quantity,
			sellable_quantity = EXCLUDED.sellable_quantity,
			cost_basis        = EXCLUDED.cost_basis,
			open_date         = EXCLUDED.open_date,
			stop_loss_price   = EXCLUDED.stop_loss_price,
			take_profit_price = EXCLUDED.take_profit_price,
			last_price        = EXCLUDED.last_price,
			status            = 'open',
			closed_at         = NULL,
			updated_at        = NOW()`

	var openDate *time.Time
	if !h.OpenDate.IsZero() {
		openDate = &h.OpenDate
	}

	_, err := s.pool.Exec(ctx, query,
		h.Symbol, h.Name, h.Quantity, h.SellableQuantity, h.CostBasis,
		openDate, h.StopLossPrice, h.TakeProfitPrice, h.LastPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", h.Symbol, err)
	}
	return nil
}

// Close marks the holding for symbol as closed.
func (s *PositionStore) Close(ctx context.Context, symbol string) error {
	const query = `
		UPDATE position_monitor SET
			status            = 'closed',
			quantity          = 0,
			sellable_quantity = 0,
			closed_at         = NOW(),
			updated_at        = NOW()
		WHERE symbol = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, symbol)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", symbol, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListOpen returns every open holding ordered by symbol.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM position_monitor
		 WHERE status = 'open'
		 ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	holdings, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return holdings, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
