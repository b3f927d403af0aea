// Package ingest accepts tracking samples from producers and fans them out:
// every valid sample is broadcast to live viewers at once, then a worker
// records it in hot state, refreshes the tag's catalog position and runs the
// geofence check.
//
// Only registered tags reach hot state, the catalog or the alarm engine.
// Unregistered tags are still broadcast so installers can see them.
package ingest

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nicktill/tinytrack/pkg/broadcast"
	"github.com/nicktill/tinytrack/pkg/catalog"
	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/hotstate"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/metrics"
	"github.com/nicktill/tinytrack/pkg/tracking"
	"github.com/nicktill/tinytrack/pkg/workerpool"
)

// Evaluator checks a sample against geofences.
type Evaluator interface {
	Evaluate(ctx context.Context, s tracking.Sample)
}

// Catalog is what the pipeline needs from the catalog.
type Catalog interface {
	catalog.Registry
	catalog.TagUpdater
}

// Pipeline processes incoming samples.
type Pipeline struct {
	catalog   Catalog
	state     hotstate.Store
	alarms    Evaluator
	live      broadcast.Publisher
	workers   workerpool.Executor
	dispatch  workerpool.Executor
	batchSize int

	dropLog *rate.Sometimes
	now     func() time.Time
}

// Options wires a Pipeline. Workers run the per-sample work; Dispatch runs
// whole fire-and-forget batches and must be a different executor so a batch
// never waits on the pool it feeds.
type Options struct {
	Catalog   Catalog
	State     hotstate.Store
	Alarms    Evaluator
	Live      broadcast.Publisher
	Workers   workerpool.Executor
	Dispatch  workerpool.Executor
	BatchSize int
}

// NewPipeline creates a pipeline.
func NewPipeline(opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = config.IngestBatchSize
	}
	return &Pipeline{
		catalog:   opts.Catalog,
		state:     opts.State,
		alarms:    opts.Alarms,
		live:      opts.Live,
		workers:   opts.Workers,
		dispatch:  opts.Dispatch,
		batchSize: opts.BatchSize,
		dropLog:   &rate.Sometimes{First: 5, Interval: 10 * time.Second},
		now:       time.Now,
	}
}

// Submit broadcasts one report and queues its processing. Malformed reports
// are dropped without error. The only error is a stopped worker pool.
func (p *Pipeline) Submit(ctx context.Context, r tracking.Report) error {
	s, err := r.Sample()
	if err != nil {
		p.drop(r, err)
		return nil
	}

	if err := p.live.Publish(broadcast.TopicSamples, s); err != nil {
		logging.Warn().Err(err).Str("device", s.DeviceID).Msg("failed to broadcast sample")
	}

	// processing outlives the request
	bg := context.WithoutCancel(ctx)
	if err := p.workers.Submit(func() { p.process(bg, s) }); err != nil {
		return err
	}
	metrics.SamplesAccepted.Inc()
	return nil
}

// SubmitBatch submits reports in concurrent sub-batches and returns once
// every report has been broadcast and queued.
func (p *Pipeline) SubmitBatch(ctx context.Context, reports []tracking.Report) error {
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(reports); start += p.batchSize {
		end := min(start+p.batchSize, len(reports))
		chunk := reports[start:end]
		g.Go(func() error {
			for _, r := range chunk {
				if err := p.Submit(gctx, r); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// SubmitAsync hands the whole batch to the dispatch pool and returns at once.
// A full dispatch queue refuses the batch with workerpool.ErrQueueFull.
func (p *Pipeline) SubmitAsync(reports []tracking.Report) error {
	return workerpool.TrySubmit(p.dispatch, func() {
		if err := p.SubmitBatch(context.Background(), reports); err != nil {
			logging.Error().Err(err).Int("samples", len(reports)).Msg("async batch aborted")
		}
	})
}

func (p *Pipeline) drop(r tracking.Report, reason error) {
	label := "invalid"
	switch {
	case errors.Is(reason, tracking.ErrMissingTimestamp):
		label = "missing_timestamp"
	case errors.Is(reason, tracking.ErrMissingDevice):
		label = "missing_device"
	}
	metrics.SamplesDropped.WithLabelValues(label).Inc()

	p.dropLog.Do(func() {
		logging.Warn().Err(reason).Str("tag_mac", r.TagMAC).Msg("dropping malformed sample (throttled)")
	})
}

// process is the asynchronous leg. Failures are logged, never returned.
func (p *Pipeline) process(ctx context.Context, s tracking.Sample) {
	registered, err := p.catalog.IsRegistered(ctx, s.DeviceID)
	if err != nil {
		logging.Warn().Err(err).Str("device", s.DeviceID).Msg("tag registry lookup failed")
		return
	}
	if !registered {
		metrics.SamplesUnregistered.Inc()
		logging.Debug().Str("device", s.DeviceID).Msg("sample from unregistered tag")
		return
	}

	if err := p.state.Record(ctx, s); err != nil {
		logging.Error().Err(err).Str("device", s.DeviceID).Msg("failed to record hot state")
	}

	pos := catalog.TagPosition{
		DeviceID: s.DeviceID,
		X:        s.X,
		Y:        s.Y,
		RSSI:     s.RSSI,
		Battery:  s.Battery,
		MapID:    s.MapID,
		SeenAt:   s.SampleTime(p.now()),
	}
	if err := p.catalog.UpdateTagPosition(ctx, pos); err != nil {
		logging.Warn().Err(err).Str("device", s.DeviceID).Msg("failed to update tag position")
	}

	if s.MapID != nil {
		p.alarms.Evaluate(ctx, s)
	}
}
