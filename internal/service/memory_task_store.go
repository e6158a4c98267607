package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// MemoryTaskStore is a process-local domain.TaskStore used when no database
// is configured.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]domain.MonitorTask
}

// NewMemoryTaskStore creates an empty MemoryTaskStore.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]domain.MonitorTask)}
}

func (m *MemoryTaskStore) Create(_ context.Context, t domain.MonitorTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.Symbol]; ok {
		return fmt.Errorf("memory: task %s: %w", t.Symbol, domain.ErrAlreadyExists)
	}
	m.tasks[t.Symbol] = t
	return nil
}

func (m *MemoryTaskStore) Update(_ context.Context, t domain.MonitorTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.Symbol]; !ok {
		return fmt.Errorf("memory: task %s: %w", t.Symbol, domain.ErrNotFound)
	}
	m.tasks[t.Symbol] = t
	return nil
}

func (m *MemoryTaskStore) Delete(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[symbol]; !ok {
		return fmt.Errorf("memory: task %s: %w", symbol, domain.ErrNotFound)
	}
	delete(m.tasks, symbol)
	return nil
}

func (m *MemoryTaskStore) Get(_ context.Context, symbol string) (domain.MonitorTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[symbol]
	if !ok {
		return domain.MonitorTask{}, fmt.Errorf("memory: task %s: %w", symbol, domain.ErrNotFound)
	}
	return t, nil
}

func (m *MemoryTaskStore) List(_ context.Context) ([]domain.MonitorTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.MonitorTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

var _ domain.TaskStore = (*MemoryTaskStore)(nil)
