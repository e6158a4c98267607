package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Symbol string
	Limit  int
	Offset int
	Since  *time.Time
}

// DecisionStore persists every decision produced by a monitor loop.
type DecisionStore interface {
	Insert(ctx context.Context, d Decision) error
	MarkExecuted(ctx context.Context, id string, result ExecutionResult) error
	ListRecent(ctx context.Context, opts ListOpts) ([]Decision, error)
	ListBefore(ctx context.Context, before time.Time) ([]Decision, error)
}

// TradeStore persists orders together with their fill information.
type TradeStore interface {
	Insert(ctx context.Context, o Order) error
	ListRecent(ctx context.Context, opts ListOpts) ([]Order, error)
	ListBefore(ctx context.Context, before time.Time) ([]Order, error)
}

// PositionStore persists the latest view of each open holding.
type PositionStore interface {
	Upsert(ctx context.Context, h Holding) error
	Close(ctx context.Context, symbol string) error
	ListOpen(ctx context.Context) ([]Holding, error)
}

// TaskStore persists operator-registered monitor tasks.
type TaskStore interface {
	Create(ctx context.Context, t MonitorTask) error
	Update(ctx context.Context, t MonitorTask) error
	Delete(ctx context.Context, symbol string) error
	Get(ctx context.Context, symbol string) (MonitorTask, error)
	List(ctx context.Context) ([]MonitorTask, error)
}

// NotificationStore persists forwarded notifications.
type NotificationStore interface {
	Insert(ctx context.Context, n NotificationRecord) error
	ListRecent(ctx context.Context, opts ListOpts) ([]NotificationRecord, error)
}
