package compaction

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/hotstate"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/metrics"
	"github.com/nicktill/tinytrack/pkg/storage"
)

// Page sizes for trajectory queries.
const (
	DefaultPageSize = config.TrajectoryPageSize
	MaxPageSize     = config.TrajectoryMaxPageSize
)

// Monitor receives the outcome of every cycle.
type Monitor interface {
	RecordSuccess()
	RecordFailure(err error)
}

// Compactor moves the newest hot sample of each active device into the
// trajectory table.
type Compactor struct {
	state   hotstate.Store
	store   storage.Store
	monitor Monitor
}

// New creates a new compactor. monitor may be nil.
func New(state hotstate.Store, store storage.Store, monitor Monitor) *Compactor {
	return &Compactor{
		state:   state,
		store:   store,
		monitor: monitor,
	}
}

// CompactOnce runs one cycle. Invalid samples are dropped and do not fail
// the cycle; a partition or write failure does, and the taken samples are
// lost.
func (c *Compactor) CompactOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	res, err := c.compact(ctx)
	res.Duration = time.Since(start)

	metrics.CompactionDuration.Observe(res.Duration.Seconds())
	if c.monitor != nil {
		if err != nil {
			c.monitor.RecordFailure(err)
		} else {
			c.monitor.RecordSuccess()
		}
	}
	return res, err
}

func (c *Compactor) compact(ctx context.Context) (Result, error) {
	var res Result

	ids, err := c.state.ActiveDevices(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("compaction cycle failed to list active devices")
		return res, fmt.Errorf("list active devices: %w", err)
	}
	res.Devices = len(ids)

	records := make([]storage.Record, 0, len(ids))
	for _, id := range ids {
		s, ok, err := c.state.TakeLatest(ctx, id)
		if err != nil {
			logging.Warn().Err(err).Str("device", id).Msg("failed to take latest sample")
			continue
		}
		if !ok {
			continue
		}

		rec, err := ToRecord(s)
		if err != nil {
			res.Dropped++
			metrics.RecordsDropped.Inc()
			logging.Debug().Err(err).Str("device", id).Str("timestamp", s.Timestamp).Msg("dropping sample from compaction")
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return res, nil
	}

	partitions := make(map[storage.PartitionKey]bool)
	for _, r := range records {
		partitions[r.Partition()] = true
	}
	for key := range partitions {
		created, err := c.store.EnsurePartition(ctx, key)
		if err != nil {
			c.lose(records, err)
			return res, fmt.Errorf("ensure partition %s: %w", key, err)
		}
		if created {
			logging.Info().Str("partition", key.String()).Msg("created trajectory partition")
		}
		res.Partitions = append(res.Partitions, key.String())
	}
	sort.Strings(res.Partitions)

	if err := c.store.WriteBatch(ctx, records); err != nil {
		c.lose(records, err)
		return res, fmt.Errorf("write trajectory batch: %w", err)
	}

	res.Written = len(records)
	metrics.RecordsWritten.Add(float64(len(records)))
	logging.Debug().Int("records", len(records)).Int("devices", res.Devices).Msg("compaction cycle complete")
	return res, nil
}

func (c *Compactor) lose(records []storage.Record, err error) {
	metrics.RecordsDropped.Add(float64(len(records)))
	logging.Error().Err(err).Int("records", len(records)).Msg("compaction cycle failed, records lost")
}

// DeviceTrajectory returns one page of a device's records ordered by time,
// then id.
func (c *Compactor) DeviceTrajectory(ctx context.Context, q Query) ([]storage.Record, error) {
	req, err := q.Request()
	if err != nil {
		return nil, err
	}
	records, err := c.store.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query trajectory: %w", err)
	}
	return records, nil
}
