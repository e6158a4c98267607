package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
	"github.com/alanyoungcy/smartmonitor/internal/notify"
	"github.com/alanyoungcy/smartmonitor/internal/oracle"
	"github.com/alanyoungcy/smartmonitor/internal/session"
)

type fixedClock struct {
	sess session.Session
}

func (c fixedClock) Classify(time.Time) session.Session { return c.sess }

func (c fixedClock) TradingDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

var (
	tradingClock = fixedClock{sess: session.Session{Label: session.LabelMorning, CanTrade: true}}
	breakClock   = fixedClock{sess: session.Session{Label: session.LabelMiddayBreak}}
)

type fakeMarket struct {
	calls atomic.Int32
	err   error
}

func (m *fakeMarket) Snapshot(_ context.Context, symbol string) (domain.MarketSnapshot, error) {
	m.calls.Add(1)
	if m.err != nil {
		return domain.MarketSnapshot{}, m.err
	}
	return domain.MarketSnapshot{Symbol: symbol, Name: "Test " + symbol, Price: decimal.NewFromInt(50)}, nil
}

type fakeOracle struct {
	calls  atomic.Int32
	decide func(ctx context.Context, req oracle.Request) (domain.Decision, error)
}

func (o *fakeOracle) Decide(ctx context.Context, req oracle.Request) (domain.Decision, error) {
	o.calls.Add(1)
	return o.decide(ctx, req)
}

func answer(action domain.Action, confidence float64) func(context.Context, oracle.Request) (domain.Decision, error) {
	return func(_ context.Context, req oracle.Request) (domain.Decision, error) {
		return domain.Decision{Symbol: req.Symbol, Action: action, Confidence: confidence, Reasoning: "test"}, nil
	}
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []domain.Decision
}

func (e *fakeExecutor) Execute(_ context.Context, d domain.Decision, _ domain.MonitorTask, snap domain.MarketSnapshot, _ *domain.Holding) domain.ExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, d)
	return domain.ExecutionResult{Attempted: true, Success: true, Side: domain.OrderSide(d.Action), Quantity: 100, Price: snap.Price}
}

func (e *fakeExecutor) Holding(string) *domain.Holding { return nil }

func (e *fakeExecutor) Account() domain.AccountSnapshot {
	return domain.AccountSnapshot{AvailableCash: decimal.NewFromInt(100000), TotalValue: decimal.NewFromInt(100000)}
}

func (e *fakeExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type fakeJournal struct {
	mu        sync.Mutex
	decisions []domain.Decision
	executed  int
	statuses  []string
}

func (j *fakeJournal) SaveDecision(_ context.Context, d domain.Decision) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.decisions = append(j.decisions, d)
}

func (j *fakeJournal) MarkExecuted(context.Context, string, string, domain.ExecutionResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.executed++
}

func (j *fakeJournal) Status(_ context.Context, symbol, state string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.statuses = append(j.statuses, symbol+":"+state)
}

type captureSender struct {
	mu       sync.Mutex
	messages []string
}

func (c *captureSender) Send(_ context.Context, _, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return nil
}

func (c *captureSender) Name() string { return "capture" }

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

type harness struct {
	deps     *Deps
	market   *fakeMarket
	oracle   *fakeOracle
	executor *fakeExecutor
	journal  *fakeJournal
	sender   *captureSender
}

func newHarness(clock Clock, decide func(context.Context, oracle.Request) (domain.Decision, error)) *harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		market:   &fakeMarket{},
		oracle:   &fakeOracle{decide: decide},
		executor: &fakeExecutor{},
		journal:  &fakeJournal{},
		sender:   &captureSender{},
	}
	n := notify.NewNotifier([]notify.Sender{h.sender}, nil, logger)
	h.deps = &Deps{
		Clock:         clock,
		Market:        h.market,
		Oracle:        h.oracle,
		Executor:      h.executor,
		Journal:       h.journal,
		Notifier:      notify.NewGate(n, nil, time.Second, logger),
		CallTimeout:   time.Second,
		OracleTimeout: time.Second,
		Logger:        logger,
	}
	return h
}

func task(symbol string) domain.MonitorTask {
	return domain.MonitorTask{
		Symbol:               symbol,
		CheckIntervalSeconds: 3600,
		AutoTrade:            true,
		TradingHoursOnly:     true,
		Notify:               true,
		Enabled:              true,
	}
}

func TestMalformedOracleDegradesToHold(t *testing.T) {
	h := newHarness(tradingClock, func(context.Context, oracle.Request) (domain.Decision, error) {
		return domain.Decision{}, errors.New("oracle: parse: missing action")
	})

	out := NewLoop(task("600519"), h.deps).RunOnce(context.Background())

	require.NotNil(t, out.Decision)
	assert.Equal(t, domain.ActionHold, out.Decision.Action)
	assert.Equal(t, 0.0, out.Decision.Confidence)
	assert.True(t, out.Decision.Degraded)
	assert.NotEmpty(t, out.Decision.ID)
	assert.Nil(t, out.Execution)
	assert.False(t, out.Notified)
	assert.Zero(t, h.executor.count())
	assert.Zero(t, h.sender.count())
	require.Len(t, h.journal.decisions, 1)
}

func TestOutOfRangeDecisionDegradesToHold(t *testing.T) {
	h := newHarness(tradingClock, answer(domain.ActionBuy, 250))

	out := NewLoop(task("600519"), h.deps).RunOnce(context.Background())

	require.NotNil(t, out.Decision)
	assert.Equal(t, domain.ActionHold, out.Decision.Action)
	assert.Zero(t, h.executor.count())
}

func TestNonFiniteConfidenceDegradesToHold(t *testing.T) {
	for name, confidence := range map[string]float64{
		"nan":  math.NaN(),
		"+inf": math.Inf(1),
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(tradingClock, answer(domain.ActionBuy, confidence))

			out := NewLoop(task("600519"), h.deps).RunOnce(context.Background())

			require.NotNil(t, out.Decision)
			assert.Equal(t, domain.ActionHold, out.Decision.Action)
			assert.Equal(t, 0.0, out.Decision.Confidence)
			assert.True(t, out.Decision.Degraded)
			assert.Nil(t, out.Execution)
			assert.Zero(t, h.executor.count())
		})
	}
}

func TestLastDecisionSurvivesSkippedIterations(t *testing.T) {
	h := newHarness(tradingClock, answer(domain.ActionHold, 60))
	l := NewLoop(task("600519"), h.deps)

	_, ok := l.LastDecision()
	assert.False(t, ok)

	out := l.RunOnce(context.Background())
	require.NotNil(t, out.Decision)

	d, ok := l.LastDecision()
	require.True(t, ok)
	assert.Equal(t, out.Decision.ID, d.ID)
	assert.Equal(t, domain.ActionHold, d.Action)
}

func TestOutsideSessionSkipsFetchAndDecide(t *testing.T) {
	h := newHarness(breakClock, answer(domain.ActionBuy, 90))
	l := NewLoop(task("600519"), h.deps)

	l.Start(context.Background())
	require.Eventually(t, func() bool { return l.Iterations() >= 1 }, time.Second, 5*time.Millisecond)

	last, ok := l.Last()
	require.True(t, ok)
	assert.True(t, last.Skipped)
	assert.Contains(t, last.SkipReason, session.LabelMiddayBreak)
	assert.Zero(t, h.market.calls.Load())
	assert.Zero(t, h.oracle.calls.Load())
	assert.Equal(t, StateRunning, l.State())

	l.Stop()
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, StateStopped, l.State())
}

func TestDecidesOutsideSessionWithoutTrading(t *testing.T) {
	h := newHarness(breakClock, answer(domain.ActionBuy, 90))
	tk := task("600519")
	tk.TradingHoursOnly = false

	out := NewLoop(tk, h.deps).RunOnce(context.Background())

	require.NotNil(t, out.Decision)
	assert.Equal(t, domain.ActionBuy, out.Decision.Action)
	assert.Zero(t, h.executor.count())
	assert.True(t, out.Notified)
	require.Equal(t, 1, h.sender.count())
	assert.Contains(t, h.sender.messages[0], "not attempted")
}

func TestBuyIsExecutedAndNotified(t *testing.T) {
	h := newHarness(tradingClock, answer(domain.ActionBuy, 85))

	out := NewLoop(task("600519"), h.deps).RunOnce(context.Background())

	require.NotNil(t, out.Execution)
	assert.True(t, out.Execution.Success)
	assert.Equal(t, 1, h.executor.count())
	assert.Equal(t, 1, h.journal.executed)
	require.Equal(t, 1, h.sender.count())
	assert.Contains(t, h.sender.messages[0], "executed automatically")
}

func TestHoldIsPersistedButNotExecutedOrNotified(t *testing.T) {
	h := newHarness(tradingClock, answer(domain.ActionHold, 60))

	out := NewLoop(task("600519"), h.deps).RunOnce(context.Background())

	assert.Equal(t, domain.ActionHold, out.Decision.Action)
	assert.False(t, out.Decision.Degraded)
	assert.Zero(t, h.executor.count())
	assert.Zero(t, h.sender.count())
	assert.Len(t, h.journal.decisions, 1)
}

func TestMarketDataFailureSkipsIteration(t *testing.T) {
	h := newHarness(tradingClock, answer(domain.ActionBuy, 90))
	h.market.err = domain.ErrDataUnavailable

	out := NewLoop(task("600519"), h.deps).RunOnce(context.Background())

	assert.True(t, out.Skipped)
	assert.Nil(t, out.Decision)
	assert.Zero(t, h.oracle.calls.Load())
	assert.Empty(t, h.journal.decisions)
}

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness(tradingClock, func(context.Context, oracle.Request) (domain.Decision, error) {
		panic("boom")
	})

	out := NewLoop(task("600519"), h.deps).RunOnce(context.Background())
	assert.Contains(t, out.Error, "boom")
}

func TestPresetHoldingSellability(t *testing.T) {
	clock := session.MustNew(session.DefaultTimezone, nil)
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, clock.Location())

	tk := task("600519")
	tk.Preset = &domain.PresetPosition{CostBasis: decimal.NewFromInt(40), Quantity: 500, OpenDate: now.AddDate(0, 0, -1)}
	h := presetHolding(tk, clock, now)
	assert.Equal(t, int64(500), h.SellableQuantity)

	tk.Preset.OpenDate = now.Add(-time.Hour)
	h = presetHolding(tk, clock, now)
	assert.Equal(t, int64(0), h.SellableQuantity)
}
