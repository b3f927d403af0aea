// Package hotstate defines the short-lived per-device cache that backs the
// "where is it now" queries: the latest sample, a bounded newest-first
// history and the set of active devices. Entries expire after an idle TTL.
//
// Implementations make every per-device operation atomic relative to other
// writers of the same device. Different devices never contend.
package hotstate

import (
	"context"
	"time"

	"github.com/nicktill/tinytrack/pkg/tracking"
)

// Store is the hot state contract shared by the memory and badger backends.
type Store interface {
	// Record sets latest, pushes onto history (trimmed to the cap), refreshes
	// the TTL and marks the device active, as one unit.
	Record(ctx context.Context, s tracking.Sample) error

	// Latest returns the most recent sample for a device.
	Latest(ctx context.Context, deviceID string) (tracking.Sample, bool, error)

	// History returns up to limit samples, newest first. limit <= 0 returns all.
	History(ctx context.Context, deviceID string, limit int) ([]tracking.Sample, error)

	// ActiveDevices returns the ids of devices with unexpired state, sorted.
	ActiveDevices(ctx context.Context) ([]string, error)

	// TakeLatest returns history[0] and clears the device's history in one
	// step. ok is false when the history is empty.
	TakeLatest(ctx context.Context, deviceID string) (s tracking.Sample, ok bool, err error)

	// Delete removes all state for a device.
	Delete(ctx context.Context, deviceID string) error

	// Close releases resources.
	Close() error
}

// Options are shared by both backends.
type Options struct {
	TTL        time.Duration
	HistoryCap int
}

// Normalize fills zero fields with the defaults: 1h TTL, 500 samples.
func (o Options) Normalize() Options {
	if o.TTL <= 0 {
		o.TTL = time.Hour
	}
	if o.HistoryCap <= 0 {
		o.HistoryCap = 500
	}
	return o
}

// PushCapped prepends s to history and trims it to limit entries.
func PushCapped(history []tracking.Sample, s tracking.Sample, limit int) []tracking.Sample {
	n := len(history) + 1
	if n > limit {
		n = limit
	}
	out := make([]tracking.Sample, n)
	out[0] = s
	copy(out[1:], history)
	return out
}
