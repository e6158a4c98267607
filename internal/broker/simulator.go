package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
	"github.com/alanyoungcy/smartmonitor/internal/ledger"
)

// DefaultSimulatorCash is the starting balance of a fresh simulator.
var DefaultSimulatorCash = decimal.NewFromInt(100_000)

// Calendar dates and matures T+1 settlements.
type Calendar = ledger.Calendar

// Simulator is an in-memory brokerage. It books orders on its own ledger so
// lot size and T+1 behave exactly as they do for the engine's account.
type Simulator struct {
	book   *ledger.Ledger
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	accountID string
	orders    map[string]domain.Order
}

// NewSimulator creates a Simulator holding cash. A zero cash amount uses
// DefaultSimulatorCash.
func NewSimulator(accountID string, cash decimal.Decimal, cal Calendar, logger *slog.Logger) *Simulator {
	if !cash.IsPositive() {
		cash = DefaultSimulatorCash
	}
	if accountID == "" {
		accountID = "simulator"
	}
	return &Simulator{
		book:      ledger.New(accountID, false, cash, cal),
		now:       time.Now,
		logger:    logger.With(slog.String("gateway", "simulator")),
		accountID: accountID,
		orders:    make(map[string]domain.Order),
	}
}

// WithClock overrides the simulator's time source.
func (s *Simulator) WithClock(now func() time.Time) *Simulator {
	s.now = now
	return s
}

// Connect always succeeds.
func (s *Simulator) Connect(ctx context.Context, accountID string) (bool, error) {
	if accountID != "" {
		s.mu.Lock()
		s.accountID = accountID
		s.mu.Unlock()
	}
	s.logger.InfoContext(ctx, "simulator connected", slog.String("account_id", accountID))
	return true, nil
}

// Live is always false for the simulator.
func (s *Simulator) Live() bool { return false }

// AccountInfo summarises the simulated account.
func (s *Simulator) AccountInfo(_ context.Context) (domain.AccountSnapshot, error) {
	snap := s.book.Snapshot(s.now())
	s.mu.Lock()
	snap.AccountID = s.accountID
	s.mu.Unlock()
	return snap, nil
}

// Position returns the simulated holding for symbol.
func (s *Simulator) Position(_ context.Context, symbol string) (*domain.Holding, error) {
	h, ok := s.book.Holding(symbol, s.now())
	if !ok {
		return nil, nil
	}
	return &h, nil
}

// Adopt books an externally held position on the simulated account so it
// can later be sold. It reports false when the symbol is already held.
func (s *Simulator) Adopt(h domain.Holding) bool {
	return s.book.Adopt(h)
}

// Buy fills immediately at price or rejects with the ledger's reason.
func (s *Simulator) Buy(ctx context.Context, symbol string, qty int64, price decimal.Decimal, orderType domain.OrderType) (domain.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderResult{}, err
	}
	now := s.now()
	order := s.newOrder(symbol, domain.OrderSideBuy, orderType, qty, price, now)

	if _, err := s.book.TryBuy(ledger.BuyRequest{Symbol: symbol, Quantity: qty, Price: price, At: now}); err != nil {
		return s.reject(ctx, order, err), nil
	}
	s.book.MarkPrice(symbol, price)
	return s.fill(ctx, order, decimal.Zero), nil
}

// Sell fills immediately at price or rejects with the ledger's reason.
func (s *Simulator) Sell(ctx context.Context, symbol string, qty int64, price decimal.Decimal, orderType domain.OrderType) (domain.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderResult{}, err
	}
	now := s.now()
	order := s.newOrder(symbol, domain.OrderSideSell, orderType, qty, price, now)

	r, err := s.book.TrySell(symbol, qty, price, now)
	if err != nil {
		return s.reject(ctx, order, err), nil
	}
	s.book.ConfirmSell(r)
	return s.fill(ctx, order, r.RealizedPnL), nil
}

// Cancel reports false for fills and unknown ids since every simulated order
// is terminal on submission.
func (s *Simulator) Cancel(ctx context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	o, ok := s.orders[orderID]
	s.mu.Unlock()
	if !ok {
		return false, domain.ErrNotFound
	}
	s.logger.InfoContext(ctx, "cancel requested for terminal order",
		slog.String("order_id", orderID),
		slog.String("status", string(o.Status)),
	)
	return false, nil
}

// Orders returns every order the simulator has seen.
func (s *Simulator) Orders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out
}

func (s *Simulator) newOrder(symbol string, side domain.OrderSide, typ domain.OrderType, qty int64, price decimal.Decimal, at time.Time) domain.Order {
	if typ == "" {
		typ = domain.OrderTypeMarket
	}
	return domain.Order{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Quantity:  qty,
		Price:     price,
		CreatedAt: at,
	}
}

func (s *Simulator) fill(ctx context.Context, o domain.Order, pnl decimal.Decimal) domain.OrderResult {
	o.Status = domain.OrderStatusFilled
	o.RealizedPnL = pnl
	s.record(o)
	s.logger.InfoContext(ctx, "simulated fill",
		slog.String("order_id", o.ID),
		slog.String("symbol", o.Symbol),
		slog.String("side", string(o.Side)),
		slog.Int64("quantity", o.Quantity),
		slog.String("price", o.Price.String()),
	)
	return domain.OrderResult{
		OrderID:     o.ID,
		Status:      domain.OrderStatusFilled,
		Message:     "simulated fill",
		FilledPrice: o.Price,
		RealizedPnL: pnl,
	}
}

func (s *Simulator) reject(ctx context.Context, o domain.Order, cause error) domain.OrderResult {
	o.Status = domain.OrderStatusRejected
	o.Reason = domain.Reason(cause)
	s.record(o)
	s.logger.WarnContext(ctx, "simulated reject",
		slog.String("order_id", o.ID),
		slog.String("symbol", o.Symbol),
		slog.String("reason", o.Reason),
	)
	return domain.OrderResult{OrderID: o.ID, Status: domain.OrderStatusRejected, Message: o.Reason}
}

func (s *Simulator) record(o domain.Order) {
	s.mu.Lock()
	s.orders[o.ID] = o
	s.mu.Unlock()
}

var _ Gateway = (*Simulator)(nil)
