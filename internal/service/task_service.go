package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
	"github.com/alanyoungcy/smartmonitor/internal/monitor"
)

// Supervisor is the subset of monitor.Supervisor the task service drives.
type Supervisor interface {
	Start(task domain.MonitorTask) error
	Stop(symbol string) error
	Restart(task domain.MonitorTask) error
	Running(symbol string) bool
	RunOnce(ctx context.Context, task domain.MonitorTask) (monitor.Outcome, error)
	Statuses() []monitor.Status
}

// TaskService is the configuration surface: it keeps the persisted task list
// and the set of running monitor loops in step.
type TaskService struct {
	tasks      domain.TaskStore
	supervisor Supervisor
	logger     *slog.Logger
	now        func() time.Time
}

// NewTaskService creates a TaskService.
func NewTaskService(tasks domain.TaskStore, supervisor Supervisor, logger *slog.Logger) *TaskService {
	return &TaskService{
		tasks:      tasks,
		supervisor: supervisor,
		logger:     logger,
		now:        time.Now,
	}
}

// Register persists a new task and starts its loop when enabled.
func (s *TaskService) Register(ctx context.Context, task domain.MonitorTask) (domain.MonitorTask, error) {
	task = task.WithDefaults()
	if err := task.Validate(); err != nil {
		return domain.MonitorTask{}, fmt.Errorf("task_service: register: %w", err)
	}

	now := s.now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if err := s.tasks.Create(ctx, task); err != nil {
		return domain.MonitorTask{}, fmt.Errorf("task_service: register %s: %w", task.Symbol, err)
	}

	if task.Enabled {
		if err := s.supervisor.Start(task); err != nil {
			return task, fmt.Errorf("task_service: start %s: %w", task.Symbol, err)
		}
	}

	s.logger.InfoContext(ctx, "task_service: task registered",
		slog.String("symbol", task.Symbol),
		slog.Bool("enabled", task.Enabled),
		slog.Bool("auto_trade", task.AutoTrade),
		slog.Int("check_interval_seconds", task.CheckIntervalSeconds),
	)
	return task, nil
}

// Update replaces a task's settings. A running loop is restarted with the
// new settings; disabling a task stops its loop.
func (s *TaskService) Update(ctx context.Context, task domain.MonitorTask) (domain.MonitorTask, error) {
	task = task.WithDefaults()
	if err := task.Validate(); err != nil {
		return domain.MonitorTask{}, fmt.Errorf("task_service: update: %w", err)
	}

	existing, err := s.tasks.Get(ctx, task.Symbol)
	if err != nil {
		return domain.MonitorTask{}, fmt.Errorf("task_service: update %s: %w", task.Symbol, err)
	}
	task.CreatedAt = existing.CreatedAt
	task.UpdatedAt = s.now().UTC()
	if err := s.tasks.Update(ctx, task); err != nil {
		return domain.MonitorTask{}, fmt.Errorf("task_service: update %s: %w", task.Symbol, err)
	}

	switch {
	case task.Enabled:
		if err := s.supervisor.Restart(task); err != nil {
			return task, fmt.Errorf("task_service: restart %s: %w", task.Symbol, err)
		}
	case s.supervisor.Running(task.Symbol):
		if err := s.supervisor.Stop(task.Symbol); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return task, fmt.Errorf("task_service: stop %s: %w", task.Symbol, err)
		}
	}

	s.logger.InfoContext(ctx, "task_service: task updated",
		slog.String("symbol", task.Symbol),
		slog.Bool("enabled", task.Enabled),
	)
	return task, nil
}

// SetEnabled starts or stops a task without touching its other settings.
func (s *TaskService) SetEnabled(ctx context.Context, symbol string, enabled bool) (domain.MonitorTask, error) {
	task, err := s.tasks.Get(ctx, symbol)
	if err != nil {
		return domain.MonitorTask{}, fmt.Errorf("task_service: get %s: %w", symbol, err)
	}
	task.Enabled = enabled
	return s.Update(ctx, task)
}

// Remove stops the loop for symbol, if any, and deletes the task.
func (s *TaskService) Remove(ctx context.Context, symbol string) error {
	if err := s.supervisor.Stop(symbol); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("task_service: stop %s: %w", symbol, err)
	}
	if err := s.tasks.Delete(ctx, symbol); err != nil {
		return fmt.Errorf("task_service: delete %s: %w", symbol, err)
	}
	s.logger.InfoContext(ctx, "task_service: task removed", slog.String("symbol", symbol))
	return nil
}

// Get returns the task for symbol.
func (s *TaskService) Get(ctx context.Context, symbol string) (domain.MonitorTask, error) {
	t, err := s.tasks.Get(ctx, symbol)
	if err != nil {
		return domain.MonitorTask{}, fmt.Errorf("task_service: get %s: %w", symbol, err)
	}
	return t, nil
}

// List returns every persisted task.
func (s *TaskService) List(ctx context.Context) ([]domain.MonitorTask, error) {
	tasks, err := s.tasks.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("task_service: list: %w", err)
	}
	return tasks, nil
}

// Statuses reports the running loops.
func (s *TaskService) Statuses() []monitor.Status {
	return s.supervisor.Statuses()
}

// RunOnce analyses symbol immediately using its stored task.
func (s *TaskService) RunOnce(ctx context.Context, symbol string) (monitor.Outcome, error) {
	task, err := s.tasks.Get(ctx, symbol)
	if err != nil {
		return monitor.Outcome{}, fmt.Errorf("task_service: run %s: %w", symbol, err)
	}
	return s.supervisor.RunOnce(ctx, task)
}

// Bootstrap stores any seed task not yet known and starts every enabled
// task. Failures of individual tasks are logged and skipped.
func (s *TaskService) Bootstrap(ctx context.Context, seeds []domain.MonitorTask) (int, error) {
	for _, seed := range seeds {
		seed = seed.WithDefaults()
		if err := seed.Validate(); err != nil {
			s.logger.WarnContext(ctx, "task_service: invalid seed task skipped",
				slog.String("symbol", seed.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if _, err := s.tasks.Get(ctx, seed.Symbol); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("task_service: bootstrap get %s: %w", seed.Symbol, err)
		}
		now := s.now().UTC()
		seed.CreatedAt, seed.UpdatedAt = now, now
		if err := s.tasks.Create(ctx, seed); err != nil {
			s.logger.WarnContext(ctx, "task_service: seed task not stored",
				slog.String("symbol", seed.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	tasks, err := s.tasks.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("task_service: bootstrap list: %w", err)
	}
	started := 0
	for _, t := range tasks {
		if !t.Enabled {
			continue
		}
		if err := s.supervisor.Start(t); err != nil {
			s.logger.WarnContext(ctx, "task_service: task not started",
				slog.String("symbol", t.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		started++
	}
	s.logger.InfoContext(ctx, "task_service: bootstrap complete",
		slog.Int("tasks", len(tasks)),
		slog.Int("started", started),
	)
	return started, nil
}
