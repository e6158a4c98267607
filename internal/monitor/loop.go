// Package monitor runs one polling loop per watched symbol and supervises
// their lifecycles. A loop never returns an error upward: every failure of a
// collaborator degrades the current iteration and is logged.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
	"github.com/alanyoungcy/smartmonitor/internal/marketdata"
	"github.com/alanyoungcy/smartmonitor/internal/oracle"
	"github.com/alanyoungcy/smartmonitor/internal/session"
)

// Clock classifies instants into trading sessions.
type Clock interface {
	Classify(now time.Time) session.Session
	TradingDay(t time.Time) time.Time
}

// PositionSource reports the brokerage's view of a symbol.
type PositionSource interface {
	Position(ctx context.Context, symbol string) (*domain.Holding, error)
}

// Executor applies decisions to the shared account.
type Executor interface {
	Execute(ctx context.Context, d domain.Decision, task domain.MonitorTask, snap domain.MarketSnapshot, position *domain.Holding) domain.ExecutionResult
	Holding(symbol string) *domain.Holding
	Account() domain.AccountSnapshot
}

// Journal records decisions and lifecycle events.
type Journal interface {
	SaveDecision(ctx context.Context, d domain.Decision)
	MarkExecuted(ctx context.Context, symbol, decisionID string, res domain.ExecutionResult)
	Status(ctx context.Context, symbol, state string)
}

// Notifier forwards decisions to the operator.
type Notifier interface {
	Notify(ctx context.Context, d domain.Decision, snap domain.MarketSnapshot, exec *domain.ExecutionResult) bool
}

// Deps are the collaborators shared by every loop.
type Deps struct {
	Clock     Clock
	Market    marketdata.Provider
	Oracle    oracle.Oracle
	Positions PositionSource
	Executor  Executor
	Journal   Journal
	Notifier  Notifier

	// CallTimeout bounds market-data, position and order calls.
	CallTimeout time.Duration
	// OracleTimeout bounds the decision call, which is usually the slowest.
	OracleTimeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

func (d *Deps) withDefaults() *Deps {
	out := *d
	if out.CallTimeout <= 0 {
		out.CallTimeout = 20 * time.Second
	}
	if out.OracleTimeout <= 0 {
		out.OracleTimeout = 90 * time.Second
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

// State is a loop's lifecycle stage.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome describes one iteration.
type Outcome struct {
	Symbol     string                  `json:"symbol"`
	At         time.Time               `json:"at"`
	Session    session.Session         `json:"session"`
	Skipped    bool                    `json:"skipped"`
	SkipReason string                  `json:"skip_reason,omitempty"`
	Decision   *domain.Decision        `json:"decision,omitempty"`
	Execution  *domain.ExecutionResult `json:"execution,omitempty"`
	Notified   bool                    `json:"notified"`
	Error      string                  `json:"error,omitempty"`
}

// Loop monitors one symbol.
type Loop struct {
	task   domain.MonitorTask
	deps   *Deps
	logger *slog.Logger

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// iterMu keeps iterations of one symbol sequential, including
	// operator-triggered runs. The supervisor shares one per symbol across
	// every loop it creates for that symbol.
	iterMu *sync.Mutex

	mu           sync.RWMutex
	last         *Outcome
	lastDecision *domain.Decision
	iterations   int64
}

// NewLoop creates an idle loop for task.
func NewLoop(task domain.MonitorTask, deps *Deps) *Loop {
	return newLoop(task, deps, new(sync.Mutex))
}

func newLoop(task domain.MonitorTask, deps *Deps, gate *sync.Mutex) *Loop {
	deps = deps.withDefaults()
	return &Loop{
		task: task.WithDefaults(),
		deps: deps,
		logger: deps.Logger.With(
			slog.String("component", "monitor"),
			slog.String("symbol", task.Symbol),
		),
		iterMu: gate,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Task returns the task the loop was started with.
func (l *Loop) Task() domain.MonitorTask { return l.task }

// State returns the current lifecycle stage.
func (l *Loop) State() State { return State(l.state.Load()) }

// Done is closed when the loop has fully stopped.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Last returns the most recent outcome, if any.
func (l *Loop) Last() (Outcome, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.last == nil {
		return Outcome{}, false
	}
	return *l.last, true
}

// LastDecision returns the most recent decision, which may be older than
// the last outcome when later iterations were skipped.
func (l *Loop) LastDecision() (domain.Decision, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.lastDecision == nil {
		return domain.Decision{}, false
	}
	return *l.lastDecision, true
}

// Iterations returns how many iterations have completed.
func (l *Loop) Iterations() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.iterations
}

// Start launches the loop goroutine. Cancelling ctx stops the loop the same
// way Stop does. Start on a loop that is not idle does nothing.
func (l *Loop) Start(ctx context.Context) {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return
	}
	go l.run(ctx)
}

// Stop asks the loop to exit after the current iteration. It does not wait.
func (l *Loop) Stop() {
	l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Loop) run(ctx context.Context) {
	defer func() {
		l.state.Store(int32(StateStopped))
		close(l.done)
		l.logger.InfoContext(ctx, "monitor loop stopped")
	}()

	l.logger.InfoContext(ctx, "monitor loop started",
		slog.Duration("interval", l.task.Interval()),
		slog.Bool("auto_trade", l.task.AutoTrade),
		slog.Bool("trading_hours_only", l.task.TradingHoursOnly),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// The iteration runs detached from ctx so that a stop request never
		// interrupts it halfway; per-call timeouts still bound it.
		l.RunOnce(context.WithoutCancel(ctx))

		timer.Reset(l.task.Interval())
	}
}

// RunOnce performs one iteration immediately and returns its outcome.
func (l *Loop) RunOnce(ctx context.Context) Outcome {
	l.iterMu.Lock()
	defer l.iterMu.Unlock()

	out := l.iterate(ctx)

	l.mu.Lock()
	l.last = &out
	if out.Decision != nil {
		l.lastDecision = out.Decision
	}
	l.iterations++
	l.mu.Unlock()
	return out
}

// iterate runs the steps of one iteration. A panic is recovered and
// reported on the outcome.
func (l *Loop) iterate(ctx context.Context) (out Outcome) {
	now := l.deps.Now()
	out = Outcome{Symbol: l.task.Symbol, At: now}

	defer func() {
		if r := recover(); r != nil {
			out.Error = fmt.Sprintf("panic: %v", r)
			l.logger.ErrorContext(ctx, "monitor iteration panicked",
				slog.String("error", out.Error),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	sess := l.deps.Clock.Classify(now)
	out.Session = sess
	if l.task.TradingHoursOnly && !sess.CanTrade {
		out.Skipped = true
		out.SkipReason = "outside trading session: " + sess.Label
		l.logger.DebugContext(ctx, "outside trading session, skipping", slog.String("session", sess.Label))
		return out
	}

	snap, err := l.fetchSnapshot(ctx)
	if err != nil {
		out.Skipped = true
		out.SkipReason = "market data unavailable"
		out.Error = err.Error()
		l.logger.WarnContext(ctx, "market data unavailable, skipping iteration", slog.String("error", err.Error()))
		return out
	}
	name := l.task.Name
	if name == "" {
		name = snap.Name
	}

	position := l.position(ctx, now)

	d := l.decide(ctx, oracle.Request{
		Symbol:   l.task.Symbol,
		Name:     name,
		Session:  sess.Label,
		Market:   snap,
		Account:  l.deps.Executor.Account(),
		Position: position,
	}, now)
	out.Decision = &d
	l.deps.Journal.SaveDecision(ctx, d)

	var exec *domain.ExecutionResult
	if l.task.AutoTrade && sess.CanTrade && d.Action.Actionable() {
		res := l.deps.Executor.Execute(ctx, d, l.task, snap, position)
		exec = &res
		out.Execution = exec
		l.deps.Journal.MarkExecuted(ctx, l.task.Symbol, d.ID, res)
	}

	if l.task.Notify {
		out.Notified = l.deps.Notifier.Notify(ctx, d, snap, exec)
	}

	attrs := []any{
		slog.String("session", sess.Label),
		slog.String("action", string(d.Action)),
		slog.Float64("confidence", d.Confidence),
		slog.Bool("degraded", d.Degraded),
	}
	if exec != nil {
		attrs = append(attrs, slog.String("execution", exec.Summary()))
	}
	l.logger.InfoContext(ctx, "monitor iteration complete", attrs...)
	return out
}

func (l *Loop) fetchSnapshot(ctx context.Context) (domain.MarketSnapshot, error) {
	cctx, cancel := context.WithTimeout(ctx, l.deps.CallTimeout)
	defer cancel()
	return l.deps.Market.Snapshot(cctx, l.task.Symbol)
}

// position resolves the holding the decision is made against: the task's
// preset if it has one, else the brokerage's view, else the ledger's.
func (l *Loop) position(ctx context.Context, now time.Time) *domain.Holding {
	if l.task.HasPreset() {
		return presetHolding(l.task, l.deps.Clock, now)
	}

	if l.deps.Positions != nil {
		cctx, cancel := context.WithTimeout(ctx, l.deps.CallTimeout)
		h, err := l.deps.Positions.Position(cctx, l.task.Symbol)
		cancel()
		if err != nil {
			l.logger.WarnContext(ctx, "position lookup failed", slog.String("error", err.Error()))
		} else if h != nil {
			return h
		}
	}
	return l.deps.Executor.Holding(l.task.Symbol)
}

// presetHolding turns the operator's declared position into a holding. The
// whole quantity is sellable unless it was opened on the current trading
// day.
func presetHolding(task domain.MonitorTask, clock Clock, now time.Time) *domain.Holding {
	p := task.Preset
	h := &domain.Holding{
		Symbol:           task.Symbol,
		Name:             task.Name,
		Quantity:         p.Quantity,
		SellableQuantity: p.Quantity,
		CostBasis:        p.CostBasis,
		OpenDate:         p.OpenDate,
	}
	if !p.OpenDate.IsZero() && !clock.TradingDay(p.OpenDate).Before(clock.TradingDay(now)) {
		h.SellableQuantity = 0
	}
	return h
}

func (l *Loop) decide(ctx context.Context, req oracle.Request, now time.Time) domain.Decision {
	cctx, cancel := context.WithTimeout(ctx, l.deps.OracleTimeout)
	d, err := l.deps.Oracle.Decide(cctx, req)
	cancel()

	if err == nil {
		if d.Symbol == "" {
			d.Symbol = req.Symbol
		}
		if d.Session == "" {
			d.Session = req.Session
		}
		err = d.Validate()
	}
	if err != nil {
		l.logger.WarnContext(ctx, "decision oracle failed, degrading to HOLD", slog.String("error", err.Error()))
		d = domain.HoldDecision(req.Symbol, req.Name, req.Session, now, err)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = now
	}
	return d
}
