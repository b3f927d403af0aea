package catalog

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/metrics"
)

// Guarded wraps a Catalog in a circuit breaker. Once the backing store keeps
// failing, calls fail fast with gobreaker.ErrOpenState until the breaker
// half-opens again. ErrNotFound is an answer, not a failure, and never trips it.
type Guarded struct {
	next Catalog
	cb   *gobreaker.CircuitBreaker[any]
}

var _ Catalog = (*Guarded)(nil)

// NewGuarded wraps next with a breaker tuned by cfg.
func NewGuarded(next Catalog, cfg config.BreakerConfig) *Guarded {
	settings := gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}
	return &Guarded{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[any](settings),
	}
}

// State reports the breaker state.
func (g *Guarded) State() gobreaker.State {
	return g.cb.State()
}

func guard[T any](g *Guarded, op string, fn func() (T, error)) (T, error) {
	out, err := g.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			metrics.LookupFailures.WithLabelValues(op).Inc()
		}
		var zero T
		return zero, err
	}
	return out.(T), nil
}

func (g *Guarded) IsRegistered(ctx context.Context, deviceID string) (bool, error) {
	return guard(g, "is_registered", func() (bool, error) {
		return g.next.IsRegistered(ctx, deviceID)
	})
}

func (g *Guarded) UpdateTagPosition(ctx context.Context, pos TagPosition) error {
	_, err := guard(g, "update_tag", func() (struct{}, error) {
		return struct{}{}, g.next.UpdateTagPosition(ctx, pos)
	})
	return err
}

func (g *Guarded) Map(ctx context.Context, id int64) (Map, error) {
	return guard(g, "map", func() (Map, error) {
		return g.next.Map(ctx, id)
	})
}

func (g *Guarded) EnabledGeofences(ctx context.Context, mapID int64) ([]Geofence, error) {
	return guard(g, "geofences", func() ([]Geofence, error) {
		return g.next.EnabledGeofences(ctx, mapID)
	})
}

func (g *Guarded) InsertAlarm(ctx context.Context, a Alarm) (int64, error) {
	return guard(g, "insert_alarm", func() (int64, error) {
		return g.next.InsertAlarm(ctx, a)
	})
}

func (g *Guarded) ResolveAlarm(ctx context.Context, id int64, at time.Time) error {
	_, err := guard(g, "resolve_alarm", func() (struct{}, error) {
		return struct{}{}, g.next.ResolveAlarm(ctx, id, at)
	})
	return err
}
