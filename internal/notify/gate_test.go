package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureSender struct {
	mu       sync.Mutex
	titles   []string
	messages []string
	err      error
}

func (c *captureSender) Send(_ context.Context, title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
	c.messages = append(c.messages, message)
	return c.err
}

func (c *captureSender) Name() string { return "capture" }

type memRecorder struct {
	records []domain.NotificationRecord
}

func (m *memRecorder) SaveNotification(_ context.Context, n domain.NotificationRecord) {
	m.records = append(m.records, n)
}

func newGate(sender *captureSender, rec *memRecorder) *Gate {
	n := NewNotifier([]Sender{sender}, []string{EventTradeSignal}, discardLogger())
	return NewGate(n, rec, time.Second, discardLogger())
}

func snap() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol:     "600519",
		Price:      decimal.RequireFromString("1523.4"),
		ChangePct:  1.25,
		Volume:     32000,
		Indicators: map[string]float64{"rsi6": 61.5, "ma5": 1510},
	}
}

func TestGateSuppressesHold(t *testing.T) {
	sender := &captureSender{}
	rec := &memRecorder{}
	g := newGate(sender, rec)

	sent := g.Notify(context.Background(), domain.Decision{Symbol: "600519", Action: domain.ActionHold, Confidence: 0}, snap(), nil)

	assert.False(t, sent)
	assert.Empty(t, sender.messages)
	assert.Empty(t, rec.records)
}

func TestGateForwardsBuyWithOutcome(t *testing.T) {
	sender := &captureSender{}
	rec := &memRecorder{}
	g := newGate(sender, rec)

	d := domain.Decision{ID: "d1", Symbol: "600519", Name: "Moutai", Action: domain.ActionBuy, Confidence: 82, Reasoning: strings.Repeat("x", 200)}
	exec := &domain.ExecutionResult{Attempted: true, Success: true, Side: domain.OrderSideBuy, Quantity: 100, Price: decimal.RequireFromString("1523.4")}

	require.True(t, g.Notify(context.Background(), d, snap(), exec))
	require.Len(t, sender.messages, 1)

	msg := sender.messages[0]
	assert.Equal(t, "BUY signal - Moutai (600519)", sender.titles[0])
	assert.Contains(t, msg, "executed automatically")
	assert.Contains(t, msg, strings.Repeat("x", 150)+"...")
	assert.NotContains(t, msg, strings.Repeat("x", 151))
	assert.Contains(t, msg, "Support: N/A")
	assert.Contains(t, msg, "rsi6")

	require.Len(t, rec.records, 1)
	assert.Equal(t, "sent", rec.records[0].Status)
	assert.Equal(t, "d1", rec.records[0].DecisionID)
}

func TestGateReportsFailureAndNonAttempt(t *testing.T) {
	sender := &captureSender{}
	g := newGate(sender, &memRecorder{})

	d := domain.Decision{Symbol: "600519", Action: domain.ActionSell, Confidence: 70}
	failed := &domain.ExecutionResult{Attempted: true, Reason: domain.ErrSettlementLocked.Error()}

	require.True(t, g.Notify(context.Background(), d, snap(), failed))
	require.True(t, g.Notify(context.Background(), d, snap(), nil))

	assert.Contains(t, sender.messages[0], "failed: T+1")
	assert.Contains(t, sender.messages[1], "not attempted")
}

func TestGateRecordsSendFailure(t *testing.T) {
	sender := &captureSender{err: errors.New("503")}
	rec := &memRecorder{}
	g := newGate(sender, rec)

	d := domain.Decision{Symbol: "600519", Action: domain.ActionSell, Confidence: 70}
	assert.True(t, g.Notify(context.Background(), d, snap(), nil))
	require.Len(t, rec.records, 1)
	assert.Equal(t, "failed", rec.records[0].Status)
}

func TestTruncateCountsCharacters(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 150))
	assert.Equal(t, "放量突...", Truncate("放量突破阻力位", 3))
}
