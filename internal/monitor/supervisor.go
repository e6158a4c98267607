package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// DefaultStopTimeout bounds how long Stop waits for a loop to exit.
const DefaultStopTimeout = 5 * time.Second

// Status is a point-in-time view of one supervised loop.
type Status struct {
	Symbol     string             `json:"symbol"`
	State      string             `json:"state"`
	Task       domain.MonitorTask `json:"task"`
	Iterations int64              `json:"iterations"`
	Last       *Outcome           `json:"last,omitempty"`
}

// Supervisor owns the set of running loops, at most one per symbol. It holds
// no trading state of its own.
type Supervisor struct {
	base        context.Context
	deps        *Deps
	stopTimeout time.Duration
	logger      *slog.Logger

	mu    sync.Mutex
	loops map[string]*Loop
	// gates outlive loops so a restarted loop waits for an iteration its
	// forgotten predecessor still has in flight.
	gates map[string]*sync.Mutex
}

// NewSupervisor creates a Supervisor. Loops it starts stop when ctx is
// cancelled.
func NewSupervisor(ctx context.Context, deps *Deps, stopTimeout time.Duration) *Supervisor {
	deps = deps.withDefaults()
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Supervisor{
		base:        ctx,
		deps:        deps,
		stopTimeout: stopTimeout,
		logger:      deps.Logger.With(slog.String("component", "supervisor")),
		loops:       make(map[string]*Loop),
		gates:       make(map[string]*sync.Mutex),
	}
}

// gateLocked returns the iteration gate for symbol. s.mu must be held.
func (s *Supervisor) gateLocked(symbol string) *sync.Mutex {
	g, ok := s.gates[symbol]
	if !ok {
		g = new(sync.Mutex)
		s.gates[symbol] = g
	}
	return g
}

// Start launches a loop for task. If a loop for the symbol is already
// running the call is a logged no-op.
func (s *Supervisor) Start(task domain.MonitorTask) error {
	task = task.WithDefaults()
	if err := task.Validate(); err != nil {
		return fmt.Errorf("supervisor: start %s: %w", task.Symbol, err)
	}

	s.mu.Lock()
	if l, ok := s.loops[task.Symbol]; ok {
		if st := l.State(); st == StateRunning || st == StateIdle {
			s.mu.Unlock()
			s.logger.Info("monitor already running, start ignored", slog.String("symbol", task.Symbol))
			return nil
		}
	}
	l := newLoop(task, s.deps, s.gateLocked(task.Symbol))
	s.loops[task.Symbol] = l
	s.mu.Unlock()

	l.Start(s.base)
	s.deps.Journal.Status(s.base, task.Symbol, "started")
	return nil
}

// Stop signals the loop for symbol and waits up to the stop timeout for it
// to exit. The loop is forgotten either way.
func (s *Supervisor) Stop(symbol string) error {
	s.mu.Lock()
	l, ok := s.loops[symbol]
	delete(s.loops, symbol)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: stop %s: %w", symbol, domain.ErrNotFound)
	}

	s.stopAndWait(l)
	s.deps.Journal.Status(s.base, symbol, "stopped")
	return nil
}

func (s *Supervisor) stopAndWait(l *Loop) {
	l.Stop()
	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-l.Done():
	case <-timer.C:
		s.logger.Warn("monitor did not stop in time, forgetting it",
			slog.String("symbol", l.Task().Symbol),
			slog.Duration("timeout", s.stopTimeout),
		)
	}
}

// Restart replaces the loop for task.Symbol with one running task.
func (s *Supervisor) Restart(task domain.MonitorTask) error {
	if err := task.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("supervisor: restart %s: %w", task.Symbol, err)
	}
	if s.Running(task.Symbol) {
		_ = s.Stop(task.Symbol)
	}
	return s.Start(task)
}

// Running reports whether a loop for symbol is supervised.
func (s *Supervisor) Running(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[symbol]
	return ok
}

// Get returns the loop for symbol.
func (s *Supervisor) Get(symbol string) (*Loop, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loops[symbol]
	return l, ok
}

// List returns the supervised symbols in order.
func (s *Supervisor) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.loops))
	for sym := range s.loops {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Statuses returns a view of every supervised loop ordered by symbol.
func (s *Supervisor) Statuses() []Status {
	s.mu.Lock()
	loops := make([]*Loop, 0, len(s.loops))
	for _, l := range s.loops {
		loops = append(loops, l)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(loops))
	for _, l := range loops {
		st := Status{
			Symbol:     l.Task().Symbol,
			State:      l.State().String(),
			Task:       l.Task(),
			Iterations: l.Iterations(),
		}
		if last, ok := l.Last(); ok {
			st.Last = &last
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// RunOnce runs one iteration for task now. A supervised loop for the symbol
// runs it in sequence with its own iterations; otherwise a detached loop is
// used and discarded.
func (s *Supervisor) RunOnce(ctx context.Context, task domain.MonitorTask) (Outcome, error) {
	task = task.WithDefaults()
	if err := task.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("supervisor: run %s: %w", task.Symbol, err)
	}
	s.mu.Lock()
	l, ok := s.loops[task.Symbol]
	if !ok {
		l = newLoop(task, s.deps, s.gateLocked(task.Symbol))
	}
	s.mu.Unlock()
	return l.RunOnce(ctx), nil
}

// StopAll stops every loop concurrently, each bounded by the stop timeout,
// or until ctx is done.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	loops := s.loops
	s.loops = make(map[string]*Loop)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, l := range loops {
		wg.Add(1)
		go func(l *Loop) {
			defer wg.Done()
			s.stopAndWait(l)
		}(l)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.logger.InfoContext(ctx, "all monitors stopped", slog.Int("count", len(loops)))
}
