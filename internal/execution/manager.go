// Package execution turns BUY and SELL decisions into brokerage orders under
// the account-wide rules: no averaging into a held symbol, cash-capped lot
// sizing, and T+1 sellability.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smartmonitor/internal/broker"
	"github.com/alanyoungcy/smartmonitor/internal/domain"
	"github.com/alanyoungcy/smartmonitor/internal/ledger"
)

// Recorder receives the trades and position changes the manager commits.
type Recorder interface {
	SaveTrade(ctx context.Context, o domain.Order)
	SavePosition(ctx context.Context, h domain.Holding)
	ClosePosition(ctx context.Context, symbol string)
}

// adopter is implemented by gateways that keep their own book of holdings.
type adopter interface {
	Adopt(h domain.Holding) bool
}

// Options tunes order sizing and submission.
type Options struct {
	// ReferenceCapital overrides the account total value as the base for
	// position sizing when positive.
	ReferenceCapital decimal.Decimal
	OrderType        domain.OrderType
	OrderTimeout     time.Duration
}

// Manager executes decisions against one account ledger and one gateway.
// It is shared by every monitor loop of the account.
type Manager struct {
	book     *ledger.Ledger
	gateway  broker.Gateway
	recorder Recorder
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a Manager. recorder may be nil.
func NewManager(book *ledger.Ledger, gateway broker.Gateway, recorder Recorder, opts Options, logger *slog.Logger) *Manager {
	if opts.OrderType == "" {
		opts.OrderType = domain.OrderTypeMarket
	}
	if opts.OrderTimeout <= 0 {
		opts.OrderTimeout = 15 * time.Second
	}
	return &Manager{
		book:     book,
		gateway:  gateway,
		recorder: recorder,
		opts:     opts,
		logger:   logger.With(slog.String("component", "execution")),
		now:      time.Now,
	}
}

// Ledger returns the account ledger the manager trades against.
func (m *Manager) Ledger() *ledger.Ledger { return m.book }

// Gateway returns the brokerage gateway orders are sent to.
func (m *Manager) Gateway() broker.Gateway { return m.gateway }

// Holding returns the ledger's holding for symbol, or nil.
func (m *Manager) Holding(symbol string) *domain.Holding {
	h, ok := m.book.Holding(symbol, m.now())
	if !ok {
		return nil
	}
	return &h
}

// Account summarises the ledger.
func (m *Manager) Account() domain.AccountSnapshot {
	snap := m.book.Snapshot(m.now())
	snap.Live = m.gateway.Live()
	return snap
}

// Execute applies d to the account. position is the holding the caller
// observed for the symbol (an operator preset or the brokerage's view) and
// may be nil. A HOLD decision is returned unattempted.
func (m *Manager) Execute(ctx context.Context, d domain.Decision, task domain.MonitorTask, snap domain.MarketSnapshot, position *domain.Holding) domain.ExecutionResult {
	if !d.Action.Actionable() {
		return domain.ExecutionResult{Reason: "no action for " + string(d.Action)}
	}
	if !snap.Price.IsPositive() {
		return m.refuse(ctx, d, fmt.Errorf("execution: %s: %w", d.Symbol, domain.ErrInvalidPrice))
	}

	task = task.WithDefaults()
	if position != nil && position.Quantity > 0 {
		if m.book.Adopt(*position) {
			m.logger.InfoContext(ctx, "adopted external position",
				slog.String("symbol", position.Symbol),
				slog.Int64("quantity", position.Quantity),
				slog.Int64("sellable", position.SellableQuantity),
			)
		}
		if a, ok := m.gateway.(adopter); ok && !m.gateway.Live() && a.Adopt(*position) {
			m.logger.InfoContext(ctx, "gateway adopted external position",
				slog.String("symbol", position.Symbol),
				slog.Int64("quantity", position.Quantity),
			)
		}
	}
	m.book.MarkPrice(d.Symbol, snap.Price)

	switch d.Action {
	case domain.ActionBuy:
		return m.buy(ctx, d, task, snap)
	default:
		return m.sell(ctx, d, snap)
	}
}

func (m *Manager) buy(ctx context.Context, d domain.Decision, task domain.MonitorTask, snap domain.MarketSnapshot) domain.ExecutionResult {
	now := m.now()
	price := snap.Price

	// TryBuy repeats this check under the ledger lock.
	if _, held := m.book.Holding(d.Symbol, now); held {
		return m.refuse(ctx, d, fmt.Errorf("execution: buy %s: %w", d.Symbol, domain.ErrPositionExists))
	}

	qty := m.buyQuantity(d, task, price, now)
	if qty < domain.LotSize {
		return m.refuse(ctx, d, fmt.Errorf("execution: buy %s at %s: %w", d.Symbol, price, domain.ErrSubLot))
	}

	receipt, err := m.book.TryBuy(ledger.BuyRequest{
		Symbol:        d.Symbol,
		Name:          snap.Name,
		Quantity:      qty,
		Price:         price,
		StopLossPct:   pctOr(d.StopLossPct, task.StopLossPct),
		TakeProfitPct: pctOr(d.TakeProfitPct, task.TakeProfitPct),
		At:            now,
	})
	if err != nil {
		return m.refuse(ctx, d, err)
	}

	res, err := m.submit(ctx, domain.OrderSideBuy, d.Symbol, qty, price)
	order := m.order(d, snap, domain.OrderSideBuy, qty, price, res, err, now)
	if err != nil || !res.Accepted() {
		m.book.RevertBuy(receipt)
		m.record(ctx, order)
		return m.failed(ctx, order)
	}

	m.record(ctx, order)
	if m.recorder != nil {
		m.recorder.SavePosition(ctx, receipt.Holding)
	}
	m.logger.InfoContext(ctx, "buy executed",
		slog.String("symbol", d.Symbol),
		slog.String("order_id", order.ID),
		slog.Int64("quantity", qty),
		slog.String("price", price.String()),
		slog.String("cost", receipt.Cost.StringFixed(2)),
		slog.Time("sellable_on", receipt.SellableOn),
	)
	return domain.ExecutionResult{
		Attempted: true,
		Success:   true,
		OrderID:   order.ID,
		Side:      domain.OrderSideBuy,
		Quantity:  qty,
		Price:     price,
	}
}

// buyQuantity sizes a buy as min(cash, capital × pct) rounded down to whole
// lots.
func (m *Manager) buyQuantity(d domain.Decision, task domain.MonitorTask, price decimal.Decimal, now time.Time) int64 {
	snap := m.book.Snapshot(now)
	capital := m.opts.ReferenceCapital
	if !capital.IsPositive() {
		capital = snap.TotalValue
	}

	pct := pctOr(d.PositionSizePct, task.PositionSizePct)
	target := capital.Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100))
	if snap.AvailableCash.LessThan(target) {
		target = snap.AvailableCash
	}
	if !target.IsPositive() {
		return 0
	}

	lots := target.Div(price).Div(decimal.NewFromInt(domain.LotSize)).Floor().IntPart()
	return lots * domain.LotSize
}

func (m *Manager) sell(ctx context.Context, d domain.Decision, snap domain.MarketSnapshot) domain.ExecutionResult {
	now := m.now()
	price := snap.Price

	h, held := m.book.Holding(d.Symbol, now)
	if !held {
		return m.refuse(ctx, d, fmt.Errorf("execution: sell %s: %w", d.Symbol, domain.ErrNoPosition))
	}
	if h.SellableQuantity <= 0 {
		return m.refuse(ctx, d, fmt.Errorf("execution: sell %s: %w", d.Symbol, domain.ErrSettlementLocked))
	}

	receipt, err := m.book.TrySell(d.Symbol, h.SellableQuantity, price, now)
	if err != nil {
		return m.refuse(ctx, d, err)
	}

	res, err := m.submit(ctx, domain.OrderSideSell, d.Symbol, receipt.Quantity, price)
	order := m.order(d, snap, domain.OrderSideSell, receipt.Quantity, price, res, err, now)
	if err != nil || !res.Accepted() {
		m.book.RevertSell(receipt)
		m.record(ctx, order)
		return m.failed(ctx, order)
	}

	m.book.ConfirmSell(receipt)
	order.RealizedPnL = receipt.RealizedPnL
	m.record(ctx, order)
	if m.recorder != nil {
		if receipt.Closed {
			m.recorder.ClosePosition(ctx, d.Symbol)
		} else {
			m.recorder.SavePosition(ctx, receipt.Remaining)
		}
	}
	m.logger.InfoContext(ctx, "sell executed",
		slog.String("symbol", d.Symbol),
		slog.String("order_id", order.ID),
		slog.Int64("quantity", receipt.Quantity),
		slog.String("price", price.String()),
		slog.String("realized_pnl", receipt.RealizedPnL.StringFixed(2)),
	)
	return domain.ExecutionResult{
		Attempted:   true,
		Success:     true,
		OrderID:     order.ID,
		Side:        domain.OrderSideSell,
		Quantity:    receipt.Quantity,
		Price:       price,
		RealizedPnL: receipt.RealizedPnL,
	}
}

func (m *Manager) submit(ctx context.Context, side domain.OrderSide, symbol string, qty int64, price decimal.Decimal) (domain.OrderResult, error) {
	octx, cancel := context.WithTimeout(ctx, m.opts.OrderTimeout)
	defer cancel()
	if side == domain.OrderSideBuy {
		return m.gateway.Buy(octx, symbol, qty, price, m.opts.OrderType)
	}
	return m.gateway.Sell(octx, symbol, qty, price, m.opts.OrderType)
}

func (m *Manager) order(d domain.Decision, snap domain.MarketSnapshot, side domain.OrderSide, qty int64, price decimal.Decimal, res domain.OrderResult, err error, at time.Time) domain.Order {
	o := domain.Order{
		ID:         res.OrderID,
		Symbol:     d.Symbol,
		Name:       snap.Name,
		Side:       side,
		Type:       m.opts.OrderType,
		Quantity:   qty,
		Price:      price,
		Status:     res.Status,
		DecisionID: d.ID,
		Live:       m.gateway.Live(),
		CreatedAt:  at,
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	switch {
	case err != nil:
		o.Status = domain.OrderStatusRejected
		o.Reason = err.Error()
	case !res.Accepted():
		o.Status = domain.OrderStatusRejected
		o.Reason = res.Message
		if o.Reason == "" {
			o.Reason = domain.ErrOrderRejected.Error()
		}
	}
	return o
}

func (m *Manager) record(ctx context.Context, o domain.Order) {
	if m.recorder != nil {
		m.recorder.SaveTrade(ctx, o)
	}
}

// refuse reports a decision rejected before any order was sent.
func (m *Manager) refuse(ctx context.Context, d domain.Decision, err error) domain.ExecutionResult {
	side := domain.OrderSide(d.Action)
	m.logger.InfoContext(ctx, "decision not executed",
		slog.String("symbol", d.Symbol),
		slog.String("action", string(d.Action)),
		slog.String("reason", err.Error()),
	)
	return domain.ExecutionResult{
		Attempted: true,
		Side:      side,
		Reason:    domain.Reason(err),
	}
}

func (m *Manager) failed(ctx context.Context, o domain.Order) domain.ExecutionResult {
	m.logger.WarnContext(ctx, "order rejected, ledger rolled back",
		slog.String("symbol", o.Symbol),
		slog.String("side", string(o.Side)),
		slog.String("order_id", o.ID),
		slog.String("reason", o.Reason),
	)
	return domain.ExecutionResult{
		Attempted: true,
		OrderID:   o.ID,
		Side:      o.Side,
		Quantity:  o.Quantity,
		Price:     o.Price,
		Reason:    o.Reason,
	}
}

func pctOr(hint *float64, fallback float64) float64 {
	if hint != nil && *hint > 0 {
		return *hint
	}
	return fallback
}
