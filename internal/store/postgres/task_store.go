package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// TaskStore implements domain.TaskStore using PostgreSQL.
type TaskStore struct {
	pool *pgxpool.Pool
}

// NewTaskStore creates a new TaskStore backed by the given connection pool.
func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

const taskSelectCols = `symbol, name, check_interval_seconds, auto_trade, trading_hours_only,
	position_size_pct, stop_loss_pct, take_profit_pct,
	preset_quantity, preset_cost, preset_open_date,
	enabled, notify, created_at, updated_at`

func scanTask(row pgx.Row) (domain.MonitorTask, error) {
	var t domain.MonitorTask
	var presetQty int64
	var presetCost decimal.Decimal
	var presetOpen *time.Time

	if err := row.Scan(
		&t.Symbol, &t.Name, &t.CheckIntervalSeconds, &t.AutoTrade, &t.TradingHoursOnly,
		&t.PositionSizePct, &t.StopLossPct, &t.TakeProfitPct,
		&presetQty, &presetCost, &presetOpen,
		&t.Enabled, &t.Notify, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return domain.MonitorTask{}, err
	}
	if presetQty > 0 {
		t.Preset = &domain.PresetPosition{Quantity: presetQty, CostBasis: presetCost}
		if presetOpen != nil {
			t.Preset.OpenDate = *presetOpen
		}
	}
	return t, nil
}

func presetArgs(t domain.MonitorTask) (int64, decimal.Decimal, *time.Time) {
	if !t.HasPreset() {
		return 0, decimal.Zero, nil
	}
	p := t.Preset
	if p.OpenDate.IsZero() {
		return p.Quantity, p.CostBasis, nil
	}
	open := p.OpenDate
	return p.Quantity, p.CostBasis, &open
}

// Create inserts a new task. A task for the same symbol yields
// domain.ErrAlreadyExists.
func (s *TaskStore) Create(ctx context.Context, t domain.MonitorTask) error {
	const query = `
		INSERT INTO monitor_tasks (
			symbol, name, check_interval_seconds, auto_trade, trading_hours_only,
			position_size_pct, stop_loss_pct, take_profit_pct,
			preset_quantity, preset_cost, preset_open_date,
			enabled, notify, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11,
			$12, $13, NOW(), NOW()
		)`

	qty, cost, open := presetArgs(t)
	_, err := s.pool.Exec(ctx, query,
		t.Symbol, t.Name, t.CheckIntervalSeconds, t.AutoTrade, t.TradingHoursOnly,
		t.PositionSizePct, t.StopLossPct, t.TakeProfitPct,
		qty, cost, open,
		t.Enabled, t.Notify,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: create task %s: %w", t.Symbol, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create task %s: %w", t.Symbol, err)
	}
	return nil
}

// Update replaces every mutable field of an existing task.
func (s *TaskStore) Update(ctx context.Context, t domain.MonitorTask) error {
	const query = `
		UPDATE monitor_tasks SET
			name                   = $2,
			check_interval_seconds = $3,
			auto_trade             = $4,
			trading_hours_only     = $5,
			position_size_pct      = $6,
			stop_loss_pct          = $7,
			take_profit_pct        = $8,
			preset_quantity        = $9,
			preset_cost            = $10,
			preset_open_date       = $11,
			enabled                = $12,
			notify                 = $13,
			updated_at             = NOW()
		WHERE symbol = $1`

	qty, cost, open := presetArgs(t)
	tag, err := s.pool.Exec(ctx, query,
		t.Symbol, t.Name, t.CheckIntervalSeconds, t.AutoTrade, t.TradingHoursOnly,
		t.PositionSizePct, t.StopLossPct, t.TakeProfitPct,
		qty, cost, open,
		t.Enabled, t.Notify,
	)
	if err != nil {
		return fmt.Errorf("postgres: update task %s: %w", t.Symbol, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update task %s: %w", t.Symbol, domain.ErrNotFound)
	}
	return nil
}

// Delete removes the task for symbol.
func (s *TaskStore) Delete(ctx context.Context, symbol string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM monitor_tasks WHERE symbol = $1`, symbol)
	if err != nil {
		return fmt.Errorf("postgres: delete task %s: %w", symbol, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete task %s: %w", symbol, domain.ErrNotFound)
	}
	return nil
}

// Get retrieves the task for symbol.
func (s *TaskStore) Get(ctx context.Context, symbol string) (domain.MonitorTask, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskSelectCols+` FROM monitor_tasks WHERE symbol = $1`, symbol)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MonitorTask{}, fmt.Errorf("postgres: get task %s: %w", symbol, domain.ErrNotFound)
		}
		return domain.MonitorTask{}, fmt.Errorf("postgres: get task %s: %w", symbol, err)
	}
	return t, nil
}

// List returns every task ordered by symbol.
func (s *TaskStore) List(ctx context.Context) ([]domain.MonitorTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskSelectCols+` FROM monitor_tasks ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.MonitorTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tasks: %w", err)
	}
	return tasks, nil
}

var _ domain.TaskStore = (*TaskStore)(nil)
