// Package journal records decisions, trades, positions and notifications.
// Every write is bounded by a timeout and failures are logged, never
// returned: a broken store must not stop a monitor loop.
package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

const defaultWriteTimeout = 5 * time.Second

// Stores groups the durable stores the journal writes to. Any of them may be
// nil, in which case that record kind is only published and logged.
type Stores struct {
	Decisions     domain.DecisionStore
	Trades        domain.TradeStore
	Positions     domain.PositionStore
	Notifications domain.NotificationStore
}

// Journal is the fire-and-log recorder shared by every monitor loop.
type Journal struct {
	stores  Stores
	bus     domain.SignalBus
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Journal. bus may be nil.
func New(stores Stores, bus domain.SignalBus, timeout time.Duration, logger *slog.Logger) *Journal {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Journal{
		stores:  stores,
		bus:     bus,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "journal")),
	}
}

// Event is the envelope published on the signal bus.
type Event struct {
	Event  string    `json:"event"`
	Symbol string    `json:"symbol"`
	At     time.Time `json:"at"`
	Data   any       `json:"data,omitempty"`
}

// SaveDecision persists d and announces it on the decision channel.
func (j *Journal) SaveDecision(ctx context.Context, d domain.Decision) {
	if j.stores.Decisions != nil {
		j.write(ctx, "decision insert", d.Symbol, func(wctx context.Context) error {
			return j.stores.Decisions.Insert(wctx, d)
		})
	}
	j.publish(ctx, domain.ChannelDecision, Event{Event: "decision", Symbol: d.Symbol, At: d.Timestamp, Data: d})
}

// MarkExecuted attaches the execution outcome to a stored decision.
func (j *Journal) MarkExecuted(ctx context.Context, symbol, decisionID string, res domain.ExecutionResult) {
	if j.stores.Decisions == nil || decisionID == "" {
		return
	}
	j.write(ctx, "decision mark executed", symbol, func(wctx context.Context) error {
		return j.stores.Decisions.MarkExecuted(wctx, decisionID, res)
	})
}

// SaveTrade persists o and announces it on the trade channel.
func (j *Journal) SaveTrade(ctx context.Context, o domain.Order) {
	if j.stores.Trades != nil {
		j.write(ctx, "trade insert", o.Symbol, func(wctx context.Context) error {
			return j.stores.Trades.Insert(wctx, o)
		})
	}
	j.publish(ctx, domain.ChannelTrade, Event{Event: "trade", Symbol: o.Symbol, At: o.CreatedAt, Data: o})
}

// SavePosition upserts the latest view of h.
func (j *Journal) SavePosition(ctx context.Context, h domain.Holding) {
	if j.stores.Positions == nil {
		return
	}
	j.write(ctx, "position upsert", h.Symbol, func(wctx context.Context) error {
		return j.stores.Positions.Upsert(wctx, h)
	})
}

// ClosePosition marks the stored position for symbol closed.
func (j *Journal) ClosePosition(ctx context.Context, symbol string) {
	if j.stores.Positions == nil {
		return
	}
	j.write(ctx, "position close", symbol, func(wctx context.Context) error {
		return j.stores.Positions.Close(wctx, symbol)
	})
}

// SaveNotification persists a forwarded notification.
func (j *Journal) SaveNotification(ctx context.Context, n domain.NotificationRecord) {
	if j.stores.Notifications == nil {
		return
	}
	j.write(ctx, "notification insert", n.Symbol, func(wctx context.Context) error {
		return j.stores.Notifications.Insert(wctx, n)
	})
}

// Status announces a monitor lifecycle change on the status channel.
func (j *Journal) Status(ctx context.Context, symbol, state string) {
	j.publish(ctx, domain.ChannelStatus, Event{
		Event:  "monitor_" + state,
		Symbol: symbol,
		At:     time.Now().UTC(),
	})
}

func (j *Journal) write(ctx context.Context, op, symbol string, fn func(context.Context) error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
	defer cancel()
	if err := fn(wctx); err != nil {
		j.logger.WarnContext(ctx, "journal write failed",
			slog.String("op", op),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

func (j *Journal) publish(ctx context.Context, channel string, evt Event) {
	if j.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		j.logger.WarnContext(ctx, "journal: marshal event failed",
			slog.String("event", evt.Event),
			slog.String("error", err.Error()),
		)
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
	defer cancel()
	if pubErr := j.bus.Publish(pctx, channel, payload); pubErr != nil {
		j.logger.WarnContext(ctx, "journal: publish event failed",
			slog.String("channel", channel),
			slog.String("symbol", evt.Symbol),
			slog.String("error", pubErr.Error()),
		)
	}
	if err := j.bus.StreamAppend(pctx, domain.StreamEvents, payload); err != nil {
		j.logger.WarnContext(ctx, "journal: stream append failed",
			slog.String("symbol", evt.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
