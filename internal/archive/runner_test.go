package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

type fakeArchiver struct {
	cutoffs []time.Time
	err     error
}

func (f *fakeArchiver) ArchiveDecisions(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 3, f.err
}

func (f *fakeArchiver) ArchiveTrades(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 1, nil
}

type heldLocks struct{ held bool }

func (l *heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.held = true
	return func() { l.held = false }, nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunUsesRetentionCutoff(t *testing.T) {
	arch := &fakeArchiver{}
	locks := &heldLocks{}
	r := NewRunner(arch, locks, 30, time.UTC, quiet())
	r.now = func() time.Time { return time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC) }

	require.NoError(t, r.Run(context.Background()))
	require.Len(t, arch.cutoffs, 2)
	assert.Equal(t, time.Date(2025, 3, 2, 3, 0, 0, 0, time.UTC), arch.cutoffs[0])
	assert.False(t, locks.held, "lock released after run")
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	arch := &fakeArchiver{}
	r := NewRunner(arch, &heldLocks{held: true}, 30, time.UTC, quiet())

	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, arch.cutoffs)
}

func TestRunStopsOnDecisionFailure(t *testing.T) {
	arch := &fakeArchiver{err: errors.New("s3 down")}
	r := NewRunner(arch, nil, 7, nil, quiet())

	err := r.Run(context.Background())
	assert.ErrorContains(t, err, "s3 down")
	assert.Len(t, arch.cutoffs, 1)
}

func TestScheduleNext(t *testing.T) {
	tests := []struct {
		expr  string
		after time.Time
		want  time.Time
	}{
		{"0 3 1 * *", time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC), time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 3, 3, 10, 1, 30, 0, time.UTC), time.Date(2025, 3, 3, 10, 15, 0, 0, time.UTC)},
		{"30 15 * * 1-5", time.Date(2025, 3, 7, 16, 0, 0, 0, time.UTC), time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)},
		{"0 0,12 * * *", time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := ParseCron(tt.expr)
			require.NoError(t, err)
			got, err := s.Next(tt.after)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCronRejects(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "61 * * * *", "* * * * 7", "*/0 * * * *", "a * * * *", "5-1 * * * *"} {
		_, err := ParseCron(expr)
		assert.Error(t, err, expr)
	}
}
