package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/nicktill/tinytrack/pkg/logging"
)

// ParseRunAt parses a daily "HH:MM" time of day.
func ParseRunAt(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid run time %q, want HH:MM: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// NextRun returns the first hour:minute strictly after now, in now's zone.
func NextRun(now time.Time, hour, minute int) time.Time {
	y, m, d := now.Date()
	next := time.Date(y, m, d, hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Daily runs a Manager once a day at a fixed local time.
type Daily struct {
	manager      *Manager
	hour, minute int
	now          func() time.Time
}

// NewDaily schedules m at runAt ("HH:MM", local time).
func NewDaily(m *Manager, runAt string) (*Daily, error) {
	hour, minute, err := ParseRunAt(runAt)
	if err != nil {
		return nil, err
	}
	return &Daily{manager: m, hour: hour, minute: minute, now: time.Now}, nil
}

// Serve implements suture.Service.
func (d *Daily) Serve(ctx context.Context) error {
	for {
		next := NextRun(d.now(), d.hour, d.minute)
		logging.Debug().Time("next_run", next).Msg("retention scheduled")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := d.manager.RunDaily(ctx, d.now()); err != nil {
			logging.Error().Err(err).Msg("daily retention run finished with errors")
		}
	}
}

func (d *Daily) String() string { return "retention-daily" }
