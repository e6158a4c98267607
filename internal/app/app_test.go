package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartmonitor/internal/config"
	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireWithoutBackends(t *testing.T) {
	cfg := config.Defaults()
	cfg.Monitor.Tasks = []config.TaskConfig{{Symbol: "600519", Name: "Kweichow Moutai"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, cleanup, err := Wire(ctx, &cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.False(t, deps.Gateway.Live())
	assert.True(t, deps.Ledger.Cash().Equal(decimal.NewFromInt(100000)))
	assert.Nil(t, deps.DecisionStore)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.Archive)
	assert.Empty(t, deps.HealthChecks)
	require.Len(t, deps.Seeds, 1)
	assert.Equal(t, "600519", deps.Seeds[0].Symbol)

	tasks, err := deps.Tasks.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks, "seeds are stored on bootstrap, not on wire")
}

func TestWireRejectsBadTimezone(t *testing.T) {
	cfg := config.Defaults()
	cfg.Monitor.Timezone = "Mars/Olympus"

	_, _, err := Wire(context.Background(), &cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wire: clock")
}

func TestMergeTasks(t *testing.T) {
	stored := []domain.MonitorTask{
		{Symbol: "600519", Name: "stored", Enabled: true},
		{Symbol: "000001", Enabled: false},
	}
	seeds := []domain.MonitorTask{
		{Symbol: "600519", Name: "seed", Enabled: true},
		{Symbol: "000001", Enabled: true},
		{Symbol: "300750", Enabled: true},
	}

	got := mergeTasks(stored, seeds)
	require.Len(t, got, 2)
	assert.Equal(t, "300750", got[0].Symbol)
	assert.Equal(t, "600519", got[1].Symbol)
	assert.Equal(t, "stored", got[1].Name)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "replay"

	a := New(&cfg, discardLogger())
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "replay"`)
}

func TestMonitorModeStopsOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "monitor"

	ctx, cancel := context.WithCancel(context.Background())
	a := New(&cfg, discardLogger())
	defer a.Close()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}
