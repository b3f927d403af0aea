// Package retention bounds the trajectory table. Once a day it drops month
// partitions that fall entirely before the retention window, then drops the
// oldest partitions while the filesystem is short on free space.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/metrics"
	"github.com/nicktill/tinytrack/pkg/settings"
	"github.com/nicktill/tinytrack/pkg/storage"
)

// Drop reasons, used as metric labels.
const (
	reasonRetention    = "retention"
	reasonDiskPressure = "disk_pressure"
)

// DiskProbe reports free space on the filesystem holding the trajectory data.
type DiskProbe interface {
	FreePercent(ctx context.Context) (float64, error)
}

// Manager enforces retention and relieves disk pressure.
type Manager struct {
	store         storage.Store
	probe         DiskProbe
	settings      *settings.Store
	maxIterations int
}

// NewManager creates a manager. maxIterations caps the partitions dropped in
// one disk-pressure pass.
func NewManager(store storage.Store, probe DiskProbe, tasks *settings.Store, maxIterations int) *Manager {
	if maxIterations <= 0 {
		maxIterations = config.RetentionMaxIteration
	}
	return &Manager{
		store:         store,
		probe:         probe,
		settings:      tasks,
		maxIterations: maxIterations,
	}
}

// Cutoff is local midnight of now's day minus the retention window.
func Cutoff(now time.Time, retentionDays int) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -retentionDays)
}

// EnforceRetention drops partitions, oldest first, whose whole month lies
// before the cutoff. It stops at the first partition still in the window.
func (m *Manager) EnforceRetention(ctx context.Context, now time.Time) ([]storage.PartitionKey, error) {
	days := m.settings.Get().RetentionDays
	cutoff := Cutoff(now, days)

	keys, err := m.store.Partitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var dropped []storage.PartitionKey
	for _, key := range keys {
		if key.End().After(cutoff) {
			break
		}
		if err := m.store.DropPartition(ctx, key); err != nil {
			return dropped, fmt.Errorf("drop partition %s: %w", key, err)
		}
		dropped = append(dropped, key)
		metrics.PartitionsDropped.WithLabelValues(reasonRetention).Inc()
		logging.Info().
			Str("partition", key.String()).
			Int("retention_days", days).
			Time("cutoff", cutoff).
			Msg("dropped expired trajectory partition")
	}
	return dropped, nil
}

// RelieveDiskPressure drops the oldest partitions while free space is below
// the configured threshold. Running out of partitions ends the pass normally.
func (m *Manager) RelieveDiskPressure(ctx context.Context) (int, error) {
	tasks := m.settings.Get()
	if !tasks.DiskCleanupEnabled {
		return 0, nil
	}

	dropped := 0
	for i := 0; i < m.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return dropped, err
		}

		free, err := m.probe.FreePercent(ctx)
		if err != nil {
			logging.Warn().Err(err).Msg("disk probe failed, stopping cleanup")
			return dropped, nil
		}
		metrics.DiskFreePercent.Set(free)
		if free >= tasks.DiskSpaceThreshold {
			if dropped > 0 {
				logging.Info().
					Str("free_percent", fmt.Sprintf("%.2f", free)).
					Int("dropped", dropped).
					Msg("disk pressure relieved")
			}
			return dropped, nil
		}

		keys, err := m.store.Partitions(ctx)
		if err != nil {
			return dropped, fmt.Errorf("list partitions: %w", err)
		}
		if len(keys) == 0 {
			logging.Warn().
				Str("free_percent", fmt.Sprintf("%.2f", free)).
				Float64("threshold", tasks.DiskSpaceThreshold).
				Msg("disk below threshold with no partitions left to drop")
			return dropped, nil
		}

		oldest := keys[0]
		if err := m.store.DropPartition(ctx, oldest); err != nil {
			return dropped, fmt.Errorf("drop partition %s: %w", oldest, err)
		}
		dropped++
		metrics.PartitionsDropped.WithLabelValues(reasonDiskPressure).Inc()
		logging.Warn().
			Str("partition", oldest.String()).
			Str("used_percent", fmt.Sprintf("%.2f", 100-free)).
			Str("free_percent", fmt.Sprintf("%.2f", free)).
			Msg("dropped oldest trajectory partition under disk pressure")

		if r, ok := m.store.(storage.Reclaimer); ok {
			if err := r.Reclaim(); err != nil {
				logging.Warn().Err(err).Msg("space reclaim failed")
			}
		}
	}

	logging.Warn().Int("iterations", m.maxIterations).Msg("disk cleanup hit its iteration limit")
	return dropped, nil
}

// RunDaily enforces retention, then relieves disk pressure. Errors from the
// two steps are joined.
func (m *Manager) RunDaily(ctx context.Context, now time.Time) error {
	_, retErr := m.EnforceRetention(ctx, now)
	if retErr != nil {
		logging.Error().Err(retErr).Msg("retention enforcement failed")
	}
	_, diskErr := m.RelieveDiskPressure(ctx)
	if diskErr != nil {
		logging.Error().Err(diskErr).Msg("disk pressure cleanup failed")
	}
	return errors.Join(retErr, diskErr)
}
