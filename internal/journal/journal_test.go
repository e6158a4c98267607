package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

type failingDecisions struct {
	calls int
}

func (f *failingDecisions) Insert(context.Context, domain.Decision) error {
	f.calls++
	return errors.New("connection refused")
}

func (f *failingDecisions) MarkExecuted(context.Context, string, domain.ExecutionResult) error {
	return errors.New("connection refused")
}

func (f *failingDecisions) ListRecent(context.Context, domain.ListOpts) ([]domain.Decision, error) {
	return nil, nil
}

func (f *failingDecisions) ListBefore(context.Context, time.Time) ([]domain.Decision, error) {
	return nil, nil
}

type recordingBus struct {
	mu       sync.Mutex
	channels []string
	stream   int
}

func (b *recordingBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) StreamAppend(context.Context, string, []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream++
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *recordingBus) StreamLatest(context.Context, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestStoreFailureIsSwallowedAndEventStillPublished(t *testing.T) {
	decisions := &failingDecisions{}
	bus := &recordingBus{}
	j := New(Stores{Decisions: decisions}, bus, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j.SaveDecision(ctx, domain.Decision{ID: "d1", Symbol: "600519", Action: domain.ActionHold})
	j.MarkExecuted(ctx, "600519", "d1", domain.ExecutionResult{})
	j.SaveTrade(ctx, domain.Order{ID: "o1", Symbol: "600519"})
	j.SavePosition(ctx, domain.Holding{Symbol: "600519"})

	assert.Equal(t, 1, decisions.calls)
	require.Len(t, bus.channels, 2)
	assert.Equal(t, domain.ChannelDecision, bus.channels[0])
	assert.Equal(t, domain.ChannelTrade, bus.channels[1])
	assert.Equal(t, 2, bus.stream)
}
