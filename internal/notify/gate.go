package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// EventTradeSignal is the notifier event type of BUY and SELL alerts.
const EventTradeSignal = "trade_signal"

const reasoningLimit = 150

// Dispatcher delivers a titled message for an event type.
type Dispatcher interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Recorder persists the trace of each forwarded alert.
type Recorder interface {
	SaveNotification(ctx context.Context, n domain.NotificationRecord)
}

// Gate forwards BUY and SELL decisions to the operator. HOLD decisions are
// dropped before anything is built or sent.
type Gate struct {
	dispatcher Dispatcher
	recorder   Recorder
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewGate creates a Gate. recorder may be nil.
func NewGate(dispatcher Dispatcher, recorder Recorder, timeout time.Duration, logger *slog.Logger) *Gate {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Gate{
		dispatcher: dispatcher,
		recorder:   recorder,
		timeout:    timeout,
		logger:     logger.With(slog.String("component", "notify_gate")),
		now:        time.Now,
	}
}

// Notify forwards d if it is a BUY or SELL and reports whether it was
// forwarded. exec is nil when no execution was attempted.
func (g *Gate) Notify(ctx context.Context, d domain.Decision, snap domain.MarketSnapshot, exec *domain.ExecutionResult) bool {
	if !d.Action.Actionable() {
		g.logger.DebugContext(ctx, "decision not notified",
			slog.String("symbol", d.Symbol),
			slog.String("action", string(d.Action)),
		)
		return false
	}

	title := Title(d)
	body := Message(d, snap, exec, g.now())

	nctx, cancel := context.WithTimeout(ctx, g.timeout)
	err := g.dispatcher.Notify(nctx, EventTradeSignal, title, body)
	cancel()

	status := "sent"
	if err != nil {
		status = "failed"
		g.logger.WarnContext(ctx, "notification failed",
			slog.String("symbol", d.Symbol),
			slog.String("error", err.Error()),
		)
	}
	if g.recorder != nil {
		g.recorder.SaveNotification(ctx, domain.NotificationRecord{
			Symbol:     d.Symbol,
			DecisionID: d.ID,
			Kind:       "decision",
			Subject:    title,
			Content:    body,
			Status:     status,
			CreatedAt:  g.now(),
		})
	}
	return true
}

// Title renders the alert headline, e.g. "BUY signal - Moutai (600519)".
func Title(d domain.Decision) string {
	name := d.Name
	if name == "" {
		name = d.Symbol
	}
	return fmt.Sprintf("%s signal - %s (%s)", d.Action, name, d.Symbol)
}

// Message renders the alert body: market facts, the decision, a shortened
// rationale, key levels, indicators and the execution outcome.
func Message(d domain.Decision, snap domain.MarketSnapshot, exec *domain.ExecutionResult, at time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s\n\n", d.Action, Title(d))

	b.WriteString("Market\n")
	fmt.Fprintf(&b, "- Price: %s\n", snap.Price.StringFixed(2))
	fmt.Fprintf(&b, "- Change: %+.2f%%\n", snap.ChangePct)
	fmt.Fprintf(&b, "- Volume: %.0f\n", snap.Volume)
	if snap.Stale {
		b.WriteString("- Price served from cache\n")
	}

	b.WriteString("\nDecision\n")
	fmt.Fprintf(&b, "- Action: %s\n", d.Action)
	fmt.Fprintf(&b, "- Confidence: %.0f%%\n", d.Confidence)
	fmt.Fprintf(&b, "- Risk: %s\n", orNA(d.RiskLevel))

	b.WriteString("\nRationale\n")
	b.WriteString(Truncate(d.Reasoning, reasoningLimit))
	b.WriteString("\n")

	b.WriteString("\nKey levels\n")
	fmt.Fprintf(&b, "- Support: %s\n", orNA(d.KeyLevels.Support))
	fmt.Fprintf(&b, "- Resistance: %s\n", orNA(d.KeyLevels.Resistance))
	fmt.Fprintf(&b, "- Take profit: %s\n", pctOrNA(d.TakeProfitPct))
	fmt.Fprintf(&b, "- Stop loss: %s\n", pctOrNA(d.StopLossPct))

	if len(snap.Indicators) > 0 {
		b.WriteString("\nIndicators\n")
		names := make([]string, 0, len(snap.Indicators))
		for k := range snap.Indicators {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			fmt.Fprintf(&b, "- %s: %.4g\n", k, snap.Indicators[k])
		}
	}

	b.WriteString("\n")
	switch {
	case exec == nil || !exec.Attempted:
		b.WriteString("Execution: not attempted")
	case exec.Success:
		fmt.Fprintf(&b, "Execution: executed automatically (%s %d @ %s)", exec.Side, exec.Quantity, exec.Price.StringFixed(2))
	default:
		fmt.Fprintf(&b, "Execution: failed: %s", exec.Reason)
	}

	fmt.Fprintf(&b, "\n\n%s", at.Format("2006-01-02 15:04:05"))
	return b.String()
}

// Truncate shortens s to limit characters, appending "..." when cut.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func pctOrNA(p *float64) string {
	if p == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", *p)
}
