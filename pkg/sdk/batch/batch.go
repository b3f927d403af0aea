package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/sdk/transport"
	"github.com/nicktill/tinytrack/pkg/tracking"
)

// sendTimeout bounds one upload.
const sendTimeout = 5 * time.Second

// Config holds configuration for the batcher
type Config struct {
	MaxBatchSize int
	FlushEvery   time.Duration
}

// Batcher buffers reports and uploads them when the buffer fills or the
// flush interval elapses. Order is preserved within a batch.
type Batcher struct {
	config    Config
	transport transport.Transport

	reports []tracking.Report
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	flushing atomic.Bool // at most one background flush
	inflight sync.WaitGroup
	sent     atomic.Int64
	failed   atomic.Int64
}

// New creates a new batcher
func New(transport transport.Transport, config Config) *Batcher {
	return &Batcher{
		config:    config,
		transport: transport,
		reports:   make([]tracking.Report, 0, config.MaxBatchSize),
		ctx:       context.Background(),
		done:      make(chan struct{}),
	}
}

// Start starts the flush loop.
func (b *Batcher) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	go b.flushLoop()
	return nil
}

// Add appends a report, triggering a background flush when the batch is full.
func (b *Batcher) Add(report tracking.Report) {
	b.mu.Lock()
	b.reports = append(b.reports, report)
	shouldFlush := len(b.reports) >= b.config.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush && b.flushing.CompareAndSwap(false, true) {
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			b.flush()
			b.flushing.Store(false)
		}()
	}
}

// Pending returns the number of buffered reports.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reports)
}

// Sent returns how many reports were uploaded successfully.
func (b *Batcher) Sent() int64 { return b.sent.Load() }

// Failed returns how many reports were dropped by failed uploads.
func (b *Batcher) Failed() int64 { return b.failed.Load() }

// Flush uploads all pending reports synchronously.
func (b *Batcher) Flush() error {
	return b.send(context.WithoutCancel(b.ctx), b.take())
}

// Stop stops the flush loop and uploads what is left.
func (b *Batcher) Stop() error {
	if b.cancel == nil {
		return b.Flush()
	}
	b.cancel()
	<-b.done
	b.inflight.Wait()

	return b.Flush()
}

func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if b.flushing.CompareAndSwap(false, true) {
				b.flush()
				b.flushing.Store(false)
			}
		}
	}
}

// flush uploads one batch, logging failures. An upload that has started is
// allowed to finish after Stop.
func (b *Batcher) flush() {
	reports := b.take()
	if err := b.send(context.WithoutCancel(b.ctx), reports); err != nil {
		logging.Warn().Err(err).Int("reports", len(reports)).Msg("batch upload failed")
	}
}

func (b *Batcher) take() []tracking.Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.reports) == 0 {
		return nil
	}
	reports := make([]tracking.Report, len(b.reports))
	copy(reports, b.reports)
	b.reports = b.reports[:0]
	return reports
}

func (b *Batcher) send(ctx context.Context, reports []tracking.Report) error {
	if len(reports) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := b.transport.Send(ctx, reports); err != nil {
		b.failed.Add(int64(len(reports)))
		return err
	}
	b.sent.Add(int64(len(reports)))
	return nil
}
