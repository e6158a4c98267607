package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
	"github.com/alanyoungcy/smartmonitor/internal/oracle"
)

func TestSupervisorStartIsIdempotent(t *testing.T) {
	h := newHarness(tradingClock, answer(domain.ActionHold, 50))
	s := NewSupervisor(context.Background(), h.deps, time.Second)

	require.NoError(t, s.Start(task("600519")))
	require.NoError(t, s.Start(task("600519")))
	assert.Equal(t, []string{"600519"}, s.List())

	l, ok := s.Get("600519")
	require.True(t, ok)
	require.Eventually(t, func() bool { return l.Iterations() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), h.oracle.calls.Load())

	require.NoError(t, s.Stop("600519"))
	assert.Empty(t, s.List())
	assert.Equal(t, StateStopped, l.State())
	assert.ErrorIs(t, s.Stop("600519"), domain.ErrNotFound)
}

func TestSupervisorRejectsInvalidTask(t *testing.T) {
	h := newHarness(tradingClock, answer(domain.ActionHold, 50))
	s := NewSupervisor(context.Background(), h.deps, time.Second)

	err := s.Start(domain.MonitorTask{Symbol: " ", CheckIntervalSeconds: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidTask)
	assert.Empty(t, s.List())
}

func TestSupervisorStopIsBounded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(tradingClock, func(context.Context, oracle.Request) (domain.Decision, error) {
		close(entered)
		<-release
		return domain.Decision{Action: domain.ActionHold}, nil
	})
	h.deps.OracleTimeout = time.Minute
	s := NewSupervisor(context.Background(), h.deps, 50*time.Millisecond)

	require.NoError(t, s.Start(task("600519")))
	l, _ := s.Get("600519")
	<-entered

	start := time.Now()
	require.NoError(t, s.Stop("600519"))
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, s.List())
	assert.Equal(t, StateStopping, l.State())

	close(release)
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not finish its iteration")
	}
	require.Len(t, h.journal.decisions, 1)
}

func TestSupervisorIsolatesFailingSymbol(t *testing.T) {
	h := newHarness(tradingClock, func(_ context.Context, req oracle.Request) (domain.Decision, error) {
		if req.Symbol == "000001" {
			panic("bad symbol")
		}
		return domain.Decision{Symbol: req.Symbol, Action: domain.ActionHold, Confidence: 40}, nil
	})
	s := NewSupervisor(context.Background(), h.deps, time.Second)

	require.NoError(t, s.Start(task("000001")))
	require.NoError(t, s.Start(task("600519")))

	bad, _ := s.Get("000001")
	good, _ := s.Get("600519")
	require.Eventually(t, func() bool { return bad.Iterations() >= 1 && good.Iterations() >= 1 }, time.Second, 5*time.Millisecond)

	last, _ := good.Last()
	require.NotNil(t, last.Decision)
	assert.Equal(t, domain.ActionHold, last.Decision.Action)
	assert.Equal(t, StateRunning, bad.State())

	s.StopAll(context.Background())
	assert.Empty(t, s.List())
}

func TestSupervisorRestartReplacesTask(t *testing.T) {
	h := newHarness(tradingClock, answer(domain.ActionHold, 50))
	s := NewSupervisor(context.Background(), h.deps, time.Second)

	require.NoError(t, s.Start(task("600519")))
	updated := task("600519")
	updated.CheckIntervalSeconds = 60
	require.NoError(t, s.Restart(updated))

	l, ok := s.Get("600519")
	require.True(t, ok)
	assert.Equal(t, 60, l.Task().CheckIntervalSeconds)
	s.StopAll(context.Background())
}

func TestSupervisorRestartWaitsForInFlightIteration(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	entered := make(chan struct{}, 4)
	h := newHarness(tradingClock, func(_ context.Context, req oracle.Request) (domain.Decision, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		entered <- struct{}{}
		time.Sleep(300 * time.Millisecond)
		return domain.Decision{Symbol: req.Symbol, Action: domain.ActionHold, Confidence: 50}, nil
	})
	h.deps.OracleTimeout = time.Minute
	s := NewSupervisor(context.Background(), h.deps, 50*time.Millisecond)

	require.NoError(t, s.Start(task("600519")))
	old, _ := s.Get("600519")
	<-entered

	require.NoError(t, s.Restart(task("600519")))
	cur, ok := s.Get("600519")
	require.True(t, ok)
	require.NotSame(t, old, cur)

	require.Eventually(t, func() bool { return cur.Iterations() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), h.oracle.calls.Load())
	assert.Equal(t, int32(1), maxInFlight.Load())

	s.StopAll(context.Background())
	<-old.Done()
}

func TestSupervisorRunOnceWithoutLoop(t *testing.T) {
	h := newHarness(tradingClock, answer(domain.ActionSell, 75))
	s := NewSupervisor(context.Background(), h.deps, time.Second)

	out, err := s.RunOnce(context.Background(), task("600519"))
	require.NoError(t, err)
	require.NotNil(t, out.Decision)
	assert.Equal(t, domain.ActionSell, out.Decision.Action)
	assert.Empty(t, s.List())
}
