package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// NotificationStore implements domain.NotificationStore using PostgreSQL.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore creates a new NotificationStore backed by the given connection pool.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

// Insert records one forwarded notification. A zero CreatedAt defaults to
// the database clock.
func (s *NotificationStore) Insert(ctx context.Context, n domain.NotificationRecord) error {
	const query = `
		INSERT INTO notifications (
			symbol, decision_id, kind, subject, content, status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, COALESCE($7, NOW())
		)`

	var createdAt any
	if !n.CreatedAt.IsZero() {
		createdAt = n.CreatedAt
	}

	if _, err := s.pool.Exec(ctx, query,
		n.Symbol, n.DecisionID, n.Kind, n.Subject, n.Content, n.Status, createdAt,
	); err != nil {
		return fmt.Errorf("postgres: insert notification %s: %w", n.Symbol, err)
	}
	return nil
}

// ListRecent returns notifications newest first, optionally for one symbol.
func (s *NotificationStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.NotificationRecord, error) {
	query, args := listQuery(
		`SELECT id, symbol, decision_id, kind, subject, content, status, created_at
		 FROM notifications WHERE TRUE`, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list notifications: %w", err)
	}
	defer rows.Close()

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.NotificationRecord, error) {
		var n domain.NotificationRecord
		err := row.Scan(&n.ID, &n.Symbol, &n.DecisionID, &n.Kind, &n.Subject, &n.Content, &n.Status, &n.CreatedAt)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan notifications: %w", err)
	}
	return records, nil
}

var _ domain.NotificationStore = (*NotificationStore)(nil)
