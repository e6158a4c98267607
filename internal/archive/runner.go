// Package archive schedules the periodic export of aged journal rows to
// object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

const lockKey = "archive"

// Runner copies decisions and trades older than the retention window to
// cold storage on a cron schedule.
type Runner struct {
	archiver      domain.Archiver
	locks         domain.LockManager
	retentionDays int
	loc           *time.Location
	logger        *slog.Logger
	now           func() time.Time
}

// NewRunner creates a Runner. locks may be nil for single-instance
// deployments. Cron expressions are evaluated in loc.
func NewRunner(archiver domain.Archiver, locks domain.LockManager, retentionDays int, loc *time.Location, logger *slog.Logger) *Runner {
	if loc == nil {
		loc = time.UTC
	}
	return &Runner{
		archiver:      archiver,
		locks:         locks,
		retentionDays: retentionDays,
		loc:           loc,
		logger:        logger.With(slog.String("component", "archive")),
		now:           time.Now,
	}
}

// Run performs one archive pass. When another instance holds the archive
// lock the pass is skipped.
func (r *Runner) Run(ctx context.Context) error {
	if r.locks != nil {
		release, err := r.locks.Acquire(ctx, lockKey, time.Hour)
		if errors.Is(err, domain.ErrLockHeld) {
			r.logger.InfoContext(ctx, "archive run already in progress elsewhere, skipping")
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive: acquire lock: %w", err)
		}
		defer release()
	}

	cutoff := r.now().In(r.loc).AddDate(0, 0, -r.retentionDays)
	r.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", r.retentionDays),
	)

	decisions, err := r.archiver.ArchiveDecisions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive: decisions before %v: %w", cutoff, err)
	}

	trades, err := r.archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive: trades before %v: %w", cutoff, err)
	}

	r.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("decisions_archived", decisions),
		slog.Int64("trades_archived", trades),
	)
	return nil
}

// RunCron runs the archiver on a five-field cron schedule until ctx is
// cancelled. Failed runs are logged and retried at the next trigger.
func (r *Runner) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := ParseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("archive: cron %q: %w", cronExpr, err)
	}
	r.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.Next(r.now().In(r.loc))
		if err != nil {
			return fmt.Errorf("archive: cron %q: %w", cronExpr, err)
		}

		wait := time.Until(next)
		r.logger.DebugContext(ctx, "archiver waiting for next trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.InfoContext(ctx, "archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := r.Run(ctx); err != nil {
				r.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Schedule is a parsed five-field cron expression
// "minute hour day-of-month month day-of-week".
type Schedule struct {
	minute, hour, dayOfMonth, month, dayOfWeek field
}

type field struct {
	any    bool
	values map[int]bool
}

func (f field) matches(v int) bool {
	return f.any || f.values[v]
}

var fieldBounds = [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}

// ParseCron parses expr. Each field accepts "*", numbers, comma lists,
// ranges ("1-5") and steps ("*/15", "0-30/10").
func ParseCron(expr string) (Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Schedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(parts))
	}

	var fields [5]field
	for i, p := range parts {
		f, err := parseField(p, fieldBounds[i][0], fieldBounds[i][1])
		if err != nil {
			return Schedule{}, fmt.Errorf("field %d %q: %w", i+1, p, err)
		}
		fields[i] = f
	}
	return Schedule{
		minute:     fields[0],
		hour:       fields[1],
		dayOfMonth: fields[2],
		month:      fields[3],
		dayOfWeek:  fields[4],
	}, nil
}

func parseField(s string, lo, hi int) (field, error) {
	if s == "*" {
		return field{any: true}, nil
	}

	f := field{values: make(map[int]bool)}
	for _, item := range strings.Split(s, ",") {
		rng, stepStr, hasStep := strings.Cut(item, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return field{}, fmt.Errorf("invalid step %q", stepStr)
			}
			step = n
		}

		start, end := lo, hi
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if start, err = strconv.Atoi(a); err != nil {
				return field{}, fmt.Errorf("invalid value %q", a)
			}
			if end, err = strconv.Atoi(b); err != nil {
				return field{}, fmt.Errorf("invalid value %q", b)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return field{}, fmt.Errorf("invalid value %q", rng)
			}
			start, end = v, v
			if hasStep {
				end = hi
			}
		}
		if start < lo || end > hi || start > end {
			return field{}, fmt.Errorf("value out of range [%d,%d]", lo, hi)
		}
		for v := start; v <= end; v += step {
			f.values[v] = true
		}
	}
	return f, nil
}

func (s Schedule) matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dayOfMonth.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dayOfWeek.matches(int(t.Weekday()))
}

// Next returns the first minute strictly after after that matches the
// schedule, searching at most one year ahead.
func (s Schedule) Next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(1, 0, 1)

	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, errors.New("no matching time within one year")
}
