package execution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartmonitor/internal/broker"
	"github.com/alanyoungcy/smartmonitor/internal/domain"
	"github.com/alanyoungcy/smartmonitor/internal/ledger"
	"github.com/alanyoungcy/smartmonitor/internal/session"
)

var clock = session.MustNew(session.DefaultTimezone, nil)

type fakeGateway struct {
	mu     sync.Mutex
	reject bool
	err    error
	buys   []int64
	sells  []int64
}

func (g *fakeGateway) Connect(context.Context, string) (bool, error) { return true, nil }
func (g *fakeGateway) Live() bool { return false }

func (g *fakeGateway) AccountInfo(context.Context) (domain.AccountSnapshot, error) {
	return domain.AccountSnapshot{}, nil
}

func (g *fakeGateway) Position(context.Context, string) (*domain.Holding, error) { return nil, nil }

func (g *fakeGateway) Buy(_ context.Context, _ string, qty int64, price decimal.Decimal, _ domain.OrderType) (domain.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buys = append(g.buys, qty)
	return g.answer(price)
}

func (g *fakeGateway) Sell(_ context.Context, _ string, qty int64, price decimal.Decimal, _ domain.OrderType) (domain.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sells = append(g.sells, qty)
	return g.answer(price)
}

func (g *fakeGateway) answer(price decimal.Decimal) (domain.OrderResult, error) {
	if g.err != nil {
		return domain.OrderResult{}, g.err
	}
	if g.reject {
		return domain.OrderResult{OrderID: "rej-1", Status: domain.OrderStatusRejected, Message: "exchange closed"}, nil
	}
	return domain.OrderResult{OrderID: "ord-1", Status: domain.OrderStatusFilled, FilledPrice: price}, nil
}

func (g *fakeGateway) Cancel(context.Context, string) (bool, error) { return false, nil }

type memRecorder struct {
	mu        sync.Mutex
	trades    []domain.Order
	positions []domain.Holding
	closed    []string
}

func (r *memRecorder) SaveTrade(_ context.Context, o domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, o)
}

func (r *memRecorder) SavePosition(_ context.Context, h domain.Holding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = append(r.positions, h)
}

func (r *memRecorder) ClosePosition(_ context.Context, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, symbol)
}

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, clock.Location())
	require.NoError(t, err)
	return ts
}

func newManager(t *testing.T, cash string, gw *fakeGateway, now time.Time) (*Manager, *memRecorder) {
	t.Helper()
	rec := &memRecorder{}
	book := ledger.New("acct", false, decimal.RequireFromString(cash), clock)
	m := NewManager(book, gw, rec, Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.now = func() time.Time { return now }
	return m, rec
}

func buyDecision(symbol string) domain.Decision {
	return domain.Decision{ID: "dec-" + symbol, Symbol: symbol, Action: domain.ActionBuy, Confidence: 80}
}

func snapshot(symbol, price string) domain.MarketSnapshot {
	return domain.MarketSnapshot{Symbol: symbol, Price: decimal.RequireFromString(price)}
}

func TestBuySizesByPositionPct(t *testing.T) {
	gw := &fakeGateway{}
	m, rec := newManager(t, "1000000", gw, at(t, "2025-03-03 10:00"))

	res := m.Execute(context.Background(), buyDecision("600519"), domain.MonitorTask{Symbol: "600519", PositionSizePct: 20}, snapshot("600519", "50"), nil)

	require.True(t, res.Success, res.Reason)
	assert.Equal(t, int64(4000), res.Quantity)
	assert.Equal(t, []int64{4000}, gw.buys)
	assert.True(t, decimal.NewFromInt(800000).Equal(m.Ledger().Cash()))

	h, ok := m.Ledger().Holding("600519", at(t, "2025-03-03 14:00"))
	require.True(t, ok)
	assert.Equal(t, int64(0), h.SellableQuantity)
	assert.True(t, decimal.RequireFromString("47.5").Equal(h.StopLossPrice))
	assert.True(t, decimal.NewFromInt(55).Equal(h.TakeProfitPrice))

	require.Len(t, rec.trades, 1)
	assert.Equal(t, "dec-600519", rec.trades[0].DecisionID)
	assert.Equal(t, domain.OrderStatusFilled, rec.trades[0].Status)
	require.Len(t, rec.positions, 1)
}

func TestBuyUsesDecisionHint(t *testing.T) {
	gw := &fakeGateway{}
	m, _ := newManager(t, "100000", gw, at(t, "2025-03-03 10:00"))

	d := buyDecision("000001")
	hint := 50.0
	d.PositionSizePct = &hint
	res := m.Execute(context.Background(), d, domain.MonitorTask{Symbol: "000001"}, snapshot("000001", "10"), nil)

	require.True(t, res.Success)
	assert.Equal(t, int64(5000), res.Quantity)
}

func TestBuyRefusedWhenPositionHeld(t *testing.T) {
	gw := &fakeGateway{}
	m, _ := newManager(t, "100000", gw, at(t, "2025-03-03 10:00"))

	held := &domain.Holding{Symbol: "600519", Quantity: 100, SellableQuantity: 100, CostBasis: decimal.NewFromInt(40)}
	res := m.Execute(context.Background(), buyDecision("600519"), domain.MonitorTask{Symbol: "600519"}, snapshot("600519", "50"), held)

	assert.True(t, res.Attempted)
	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrPositionExists.Error(), res.Reason)
	assert.Empty(t, gw.buys)
}

func TestBuyBelowOneLot(t *testing.T) {
	gw := &fakeGateway{}
	m, _ := newManager(t, "3000", gw, at(t, "2025-03-03 10:00"))

	res := m.Execute(context.Background(), buyDecision("600519"), domain.MonitorTask{Symbol: "600519", PositionSizePct: 100}, snapshot("600519", "31"), nil)

	assert.False(t, res.Success)
	assert.Equal(t, "insufficient funds for one lot", res.Reason)
	assert.Empty(t, gw.buys)
	assert.True(t, decimal.NewFromInt(3000).Equal(m.Ledger().Cash()))
}

func TestBuyRejectedByBrokerRollsBack(t *testing.T) {
	for name, gw := range map[string]*fakeGateway{
		"rejected": {reject: true},
		"error":    {err: errors.New("bridge timeout")},
	} {
		t.Run(name, func(t *testing.T) {
			m, rec := newManager(t, "100000", gw, at(t, "2025-03-03 10:00"))

			res := m.Execute(context.Background(), buyDecision("600519"), domain.MonitorTask{Symbol: "600519"}, snapshot("600519", "50"), nil)

			assert.True(t, res.Attempted)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Reason)
			assert.True(t, decimal.NewFromInt(100000).Equal(m.Ledger().Cash()))
			_, held := m.Ledger().Holding("600519", at(t, "2025-03-03 10:00"))
			assert.False(t, held)
			assert.Empty(t, m.Ledger().Pending())
			require.Len(t, rec.trades, 1)
			assert.Equal(t, domain.OrderStatusRejected, rec.trades[0].Status)
			assert.Empty(t, rec.positions)
		})
	}
}

func TestSellSameDayIsLocked(t *testing.T) {
	gw := &fakeGateway{}
	m, _ := newManager(t, "1000000", gw, at(t, "2025-03-03 10:00"))
	ctx := context.Background()
	task := domain.MonitorTask{Symbol: "600519"}

	require.True(t, m.Execute(ctx, buyDecision("600519"), task, snapshot("600519", "50"), nil).Success)

	sell := domain.Decision{Symbol: "600519", Action: domain.ActionSell, Confidence: 70}
	res := m.Execute(ctx, sell, task, snapshot("600519", "52"), nil)
	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrSettlementLocked.Error(), res.Reason)
	assert.Empty(t, gw.sells)
}

func TestSellNextDaySellsEverythingSellable(t *testing.T) {
	gw := &fakeGateway{}
	m, rec := newManager(t, "1000000", gw, at(t, "2025-03-03 10:00"))
	ctx := context.Background()
	task := domain.MonitorTask{Symbol: "600519"}

	require.True(t, m.Execute(ctx, buyDecision("600519"), task, snapshot("600519", "50"), nil).Success)

	m.now = func() time.Time { return at(t, "2025-03-04 10:00") }
	sell := domain.Decision{Symbol: "600519", Action: domain.ActionSell, Confidence: 70}
	res := m.Execute(ctx, sell, task, snapshot("600519", "55"), nil)

	require.True(t, res.Success, res.Reason)
	assert.Equal(t, int64(4000), res.Quantity)
	assert.True(t, decimal.NewFromInt(20000).Equal(res.RealizedPnL))
	assert.True(t, decimal.NewFromInt(1020000).Equal(m.Ledger().Cash()))
	assert.Equal(t, []string{"600519"}, rec.closed)
}

func TestSellWithoutPosition(t *testing.T) {
	gw := &fakeGateway{}
	m, _ := newManager(t, "1000", gw, at(t, "2025-03-03 10:00"))

	sell := domain.Decision{Symbol: "600519", Action: domain.ActionSell, Confidence: 70}
	res := m.Execute(context.Background(), sell, domain.MonitorTask{Symbol: "600519"}, snapshot("600519", "52"), nil)
	assert.Equal(t, domain.ErrNoPosition.Error(), res.Reason)
}

func TestSellRejectedRestoresShares(t *testing.T) {
	gw := &fakeGateway{reject: true}
	m, _ := newManager(t, "1000", gw, at(t, "2025-03-04 10:00"))
	preset := &domain.Holding{Symbol: "600519", Quantity: 300, SellableQuantity: 300, CostBasis: decimal.NewFromInt(40)}

	sell := domain.Decision{Symbol: "600519", Action: domain.ActionSell, Confidence: 70}
	res := m.Execute(context.Background(), sell, domain.MonitorTask{Symbol: "600519"}, snapshot("600519", "45"), preset)

	assert.False(t, res.Success)
	assert.Equal(t, []int64{300}, gw.sells)
	h, ok := m.Ledger().Holding("600519", at(t, "2025-03-04 10:00"))
	require.True(t, ok)
	assert.Equal(t, int64(300), h.SellableQuantity)
	assert.True(t, decimal.NewFromInt(1000).Equal(m.Ledger().Cash()))
}

func TestPresetSellFillsOnSimulator(t *testing.T) {
	now := at(t, "2025-03-04 10:00")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sim := broker.NewSimulator("sim", decimal.NewFromInt(10_000), clock, logger).
		WithClock(func() time.Time { return now })
	book := ledger.New("sim", false, decimal.NewFromInt(10_000), clock)
	m := NewManager(book, sim, nil, Options{}, logger)
	m.now = func() time.Time { return now }
	preset := &domain.Holding{Symbol: "000858", Quantity: 500, SellableQuantity: 500, CostBasis: decimal.NewFromInt(120)}

	sell := domain.Decision{Symbol: "000858", Action: domain.ActionSell, Confidence: 75}
	res := m.Execute(context.Background(), sell, domain.MonitorTask{Symbol: "000858"}, snapshot("000858", "130"), preset)

	require.True(t, res.Success, res.Reason)
	assert.Equal(t, int64(500), res.Quantity)
	assert.True(t, decimal.NewFromInt(75_000).Equal(m.Ledger().Cash()))

	pos, err := sim.Position(context.Background(), "000858")
	require.NoError(t, err)
	assert.Nil(t, pos)
	info, err := sim.AccountInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(75_000).Equal(info.AvailableCash))
}

func TestHoldIsNotAttempted(t *testing.T) {
	gw := &fakeGateway{}
	m, _ := newManager(t, "1000", gw, at(t, "2025-03-04 10:00"))

	res := m.Execute(context.Background(), domain.Decision{Symbol: "600519", Action: domain.ActionHold}, domain.MonitorTask{Symbol: "600519"}, snapshot("600519", "45"), nil)
	assert.False(t, res.Attempted)
	assert.Empty(t, gw.buys)
	assert.Empty(t, gw.sells)
}

func TestConcurrentBuysShareCash(t *testing.T) {
	for run := 0; run < 20; run++ {
		gw := &fakeGateway{}
		m, _ := newManager(t, "100000", gw, at(t, "2025-03-03 10:00"))
		task := func(s string) domain.MonitorTask { return domain.MonitorTask{Symbol: s, PositionSizePct: 60} }

		var wg sync.WaitGroup
		results := make([]domain.ExecutionResult, 2)
		for i, sym := range []string{"600000", "000002"} {
			wg.Add(1)
			go func(i int, sym string) {
				defer wg.Done()
				results[i] = m.Execute(context.Background(), buyDecision(sym), task(sym), snapshot(sym, "100"), nil)
			}(i, sym)
		}
		wg.Wait()

		assert.False(t, m.Ledger().Cash().IsNegative())
		filled := int64(0)
		for _, r := range results {
			if r.Success {
				filled += r.Quantity
			}
		}
		assert.LessOrEqual(t, filled*100, int64(100000))
	}
}
