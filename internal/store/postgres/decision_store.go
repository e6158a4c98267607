package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a new DecisionStore backed by the given connection pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

const decisionSelectCols = `id, symbol, name, decided_at, session, action, confidence,
	reasoning, position_size_pct, stop_loss_pct, take_profit_pct,
	risk_level, support, resistance, degraded`

func scanDecisionRows(rows pgx.Rows) ([]domain.Decision, error) {
	var decisions []domain.Decision
	for rows.Next() {
		var d domain.Decision
		var action string
		if err := rows.Scan(
			&d.ID, &d.Symbol, &d.Name, &d.Timestamp, &d.Session, &action, &d.Confidence,
			&d.Reasoning, &d.PositionSizePct, &d.StopLossPct, &d.TakeProfitPct,
			&d.RiskLevel, &d.KeyLevels.Support, &d.KeyLevels.Resistance, &d.Degraded,
		); err != nil {
			return nil, err
		}
		d.Action = domain.Action(action)
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// Insert persists a decision. Re-inserting the same id is a no-op.
func (s *DecisionStore) Insert(ctx context.Context, d domain.Decision) error {
	const query = `
		INSERT INTO ai_decisions (
			id, symbol, name, decided_at, session, action, confidence,
			reasoning, position_size_pct, stop_loss_pct, take_profit_pct,
			risk_level, support, resistance, degraded
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15
		)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		d.ID, d.Symbol, d.Name, d.Timestamp, d.Session, string(d.Action), d.Confidence,
		d.Reasoning, d.PositionSizePct, d.StopLossPct, d.TakeProfitPct,
		d.RiskLevel, d.KeyLevels.Support, d.KeyLevels.Resistance, d.Degraded,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert decision %s: %w", d.ID, err)
	}
	return nil
}

// MarkExecuted attaches the execution outcome to a stored decision.
func (s *DecisionStore) MarkExecuted(ctx context.Context, id string, result domain.ExecutionResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("postgres: marshal execution result %s: %w", id, err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE ai_decisions SET executed = $2, execution_result = $3 WHERE id = $1`,
		id, result.Success, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark decision %s executed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns decisions newest first, optionally for one symbol.
func (s *DecisionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Decision, error) {
	query, args := listQuery(
		`SELECT `+decisionSelectCols+` FROM ai_decisions WHERE TRUE`, "decided_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions: %w", err)
	}
	defer rows.Close()

	decisions, err := scanDecisionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan decisions: %w", err)
	}
	return decisions, nil
}

// ListBefore returns every decision taken strictly before the cutoff,
// oldest first.
func (s *DecisionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Decision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+decisionSelectCols+` FROM ai_decisions
		 WHERE decided_at < $1
		 ORDER BY decided_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	decisions, err := scanDecisionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan decisions: %w", err)
	}
	return decisions, nil
}

var _ domain.DecisionStore = (*DecisionStore)(nil)
