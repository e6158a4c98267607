package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/smartmonitor/internal/config"
	"github.com/alanyoungcy/smartmonitor/internal/domain"
	"github.com/alanyoungcy/smartmonitor/internal/server"
	"github.com/alanyoungcy/smartmonitor/internal/server/handler"
	"github.com/alanyoungcy/smartmonitor/internal/server/ws"
)

// shutdownGrace bounds HTTP shutdown and loop teardown after cancellation.
const shutdownGrace = 10 * time.Second

// MonitorMode starts every enabled monitor loop and the archive schedule, then
// blocks until ctx is cancelled. No HTTP surface is exposed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startMonitors(ctx, g, deps); err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs the monitor loops together with the HTTP API and, when a
// signal bus is available, the WebSocket event stream.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startMonitors(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	} else {
		a.logger.WarnContext(ctx, "server.enabled is false, full mode runs without the HTTP API")
	}
	return g.Wait()
}

// OnceMode analyses every enabled task a single time and returns. Trades are
// executed exactly as a running loop would execute them.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")

	stored, err := deps.Tasks.List(ctx)
	if err != nil {
		return fmt.Errorf("once mode: list tasks: %w", err)
	}
	tasks := mergeTasks(stored, deps.Seeds)
	if len(tasks) == 0 {
		a.logger.WarnContext(ctx, "once mode: no enabled tasks configured")
		return nil
	}

	var failed int
	for _, t := range tasks {
		out, err := deps.Supervisor.RunOnce(ctx, t)
		if err != nil {
			failed++
			a.logger.ErrorContext(ctx, "once mode: run failed",
				slog.String("symbol", t.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		attrs := []any{
			slog.String("symbol", out.Symbol),
			slog.String("session", out.Session.Label),
			slog.Bool("skipped", out.Skipped),
			slog.Bool("notified", out.Notified),
		}
		if out.SkipReason != "" {
			attrs = append(attrs, slog.String("skip_reason", out.SkipReason))
		}
		if out.Decision != nil {
			attrs = append(attrs,
				slog.String("action", string(out.Decision.Action)),
				slog.Float64("confidence", out.Decision.Confidence),
			)
		}
		if out.Execution != nil {
			attrs = append(attrs, slog.String("execution", out.Execution.Summary()))
		}
		if out.Error != "" {
			failed++
			attrs = append(attrs, slog.String("error", out.Error))
		}
		a.logger.InfoContext(ctx, "once mode: analysis complete", attrs...)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failed == len(tasks) {
		return fmt.Errorf("once mode: all %d analyses failed", failed)
	}
	return nil
}

// mergeTasks returns the enabled tasks from stored plus any seed whose symbol
// is not stored, sorted by symbol.
func mergeTasks(stored, seeds []domain.MonitorTask) []domain.MonitorTask {
	bySymbol := make(map[string]domain.MonitorTask, len(stored)+len(seeds))
	for _, t := range seeds {
		bySymbol[t.Symbol] = t
	}
	for _, t := range stored {
		bySymbol[t.Symbol] = t
	}
	out := make([]domain.MonitorTask, 0, len(bySymbol))
	for _, t := range bySymbol {
		if t.Enabled {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// startMonitors bootstraps the task register, schedules the archive and
// stops every loop once ctx is cancelled.
func (a *App) startMonitors(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	started, err := deps.Tasks.Bootstrap(ctx, deps.Seeds)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "monitor loops started",
		slog.Int("started", started),
		slog.Int("seeds", len(deps.Seeds)),
		slog.Bool("live", deps.Gateway.Live()),
	)

	if deps.Archive != nil {
		cron := a.cfg.Archive.Cron
		g.Go(func() error {
			err := deps.Archive.RunCron(ctx, cron)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		deps.Supervisor.StopAll(stopCtx)
		return ctx.Err()
	})
	return nil
}

// startHTTPServer adds the API server, and the WebSocket hub when a signal
// bus is wired, to the errgroup. The server is shut down gracefully when ctx
// is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.base, ws.Config{
			Mode:           a.cfg.Mode,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
			Snapshot:       func() any { return deps.Supervisor.Statuses() },
			StartedAt:      time.Now().UTC(),
		})
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		a.logger.InfoContext(ctx, "redis disabled, websocket stream not available")
	}

	srv := server.NewServer(serverConfig(a.cfg.Server), a.handlers(deps), hub, deps.RateLimiter, a.base)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func serverConfig(c config.ServerConfig) server.Config {
	return server.Config{
		Port:        c.Port,
		CORSOrigins: c.CORSOrigins,
		APIKey:      c.APIKey,
		RateLimit:   c.RateLimit,
	}
}

// handlers builds the REST handlers. Journal-backed endpoints answer 503
// when PostgreSQL is not wired.
func (a *App) handlers(deps *Dependencies) server.Handlers {
	return server.Handlers{
		Health:   handler.NewHealthHandler(a.cfg.Mode, deps.Gateway.Live(), deps.HealthChecks, a.base),
		Monitors: handler.NewMonitorHandler(deps.Tasks, a.base),
		Account:  handler.NewAccountHandler(deps.Ledger, deps.PositionStore, a.base),
		History: handler.NewHistoryHandler(
			deps.DecisionStore,
			deps.TradeStore,
			deps.NotificationStore,
			a.base,
		),
		Events: handler.NewEventsHandler(deps.SignalBus, a.base),
	}
}
