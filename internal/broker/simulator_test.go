package broker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
	"github.com/alanyoungcy/smartmonitor/internal/session"
)

var clock = session.MustNew(session.DefaultTimezone, nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func at(t *testing.T, value string) func() time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, clock.Location())
	require.NoError(t, err)
	return func() time.Time { return ts }
}

func TestSimulatorDefaultsCash(t *testing.T) {
	sim := NewSimulator("", decimal.Zero, clock, discardLogger())
	info, err := sim.AccountInfo(context.Background())
	require.NoError(t, err)
	assert.False(t, sim.Live())
	assert.False(t, info.Live)
	assert.Equal(t, "simulator", info.AccountID)
	assert.True(t, DefaultSimulatorCash.Equal(info.AvailableCash))
}

func TestSimulatorBuyThenSellNextDay(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator("sim", decimal.NewFromInt(100_000), clock, discardLogger()).
		WithClock(at(t, "2025-03-03 10:00"))

	res, err := sim.Buy(ctx, "600519", 300, decimal.NewFromInt(100), domain.OrderTypeMarket)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.NotEmpty(t, res.OrderID)

	pos, err := sim.Position(ctx, "600519")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, int64(300), pos.Quantity)
	assert.Equal(t, int64(0), pos.SellableQuantity)

	res, err = sim.Sell(ctx, "600519", 300, decimal.NewFromInt(110), domain.OrderTypeMarket)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, res.Status)
	assert.Equal(t, domain.ErrSettlementLocked.Error(), res.Message)

	sim.WithClock(at(t, "2025-03-04 10:00"))
	res, err = sim.Sell(ctx, "600519", 300, decimal.NewFromInt(110), domain.OrderTypeMarket)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.True(t, decimal.NewFromInt(3000).Equal(res.RealizedPnL))

	pos, err = sim.Position(ctx, "600519")
	require.NoError(t, err)
	assert.Nil(t, pos)

	info, err := sim.AccountInfo(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(103_000).Equal(info.AvailableCash))
	assert.Len(t, sim.Orders(), 3)
}

func TestSimulatorAdoptedPositionCanBeSold(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator("sim", decimal.NewFromInt(1_000), clock, discardLogger()).
		WithClock(at(t, "2025-03-04 10:00"))

	require.True(t, sim.Adopt(domain.Holding{Symbol: "601888", Quantity: 200, SellableQuantity: 200, CostBasis: decimal.NewFromInt(80)}))
	assert.False(t, sim.Adopt(domain.Holding{Symbol: "601888", Quantity: 100}))

	res, err := sim.Sell(ctx, "601888", 200, decimal.NewFromInt(90), domain.OrderTypeMarket)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, res.Status, res.Message)
	assert.True(t, decimal.NewFromInt(2_000).Equal(res.RealizedPnL))

	info, err := sim.AccountInfo(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(19_000).Equal(info.AvailableCash))
}

func TestSimulatorRejectsOddLotAndOverspend(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator("sim", decimal.NewFromInt(1_000), clock, discardLogger()).
		WithClock(at(t, "2025-03-03 10:00"))

	res, err := sim.Buy(ctx, "000001", 50, decimal.NewFromInt(10), "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, res.Status)

	res, err = sim.Buy(ctx, "000001", 200, decimal.NewFromInt(10), "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, res.Status)
	assert.Equal(t, domain.ErrInsufficientFunds.Error(), res.Message)
}

func TestSimulatorCancel(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator("sim", decimal.Zero, clock, discardLogger()).
		WithClock(at(t, "2025-03-03 10:00"))

	_, err := sim.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	res, err := sim.Buy(ctx, "600000", 100, decimal.NewFromInt(10), "")
	require.NoError(t, err)
	ok, err := sim.Cancel(ctx, res.OrderID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnectFallsBackToSimulator(t *testing.T) {
	gw := Connect(context.Background(), Options{
		LiveEnabled:    true,
		BridgeURL:      "http://127.0.0.1:1",
		AccountID:      "acct-1",
		ConnectTimeout: time.Second,
	}, clock, discardLogger())

	require.NotNil(t, gw)
	assert.False(t, gw.Live())
	_, isSim := gw.(*Simulator)
	assert.True(t, isSim)
}

func TestConnectDisabledUsesSimulator(t *testing.T) {
	gw := Connect(context.Background(), Options{AccountID: "acct-1"}, clock, discardLogger())
	assert.False(t, gw.Live())
}
