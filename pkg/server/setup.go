// Package server wires tinytrack's components together, supervises the
// long-running services and exposes the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/nicktill/tinytrack/pkg/broadcast"
	"github.com/nicktill/tinytrack/pkg/catalog"
	"github.com/nicktill/tinytrack/pkg/catalog/sqlite"
	"github.com/nicktill/tinytrack/pkg/compaction"
	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/geofence"
	"github.com/nicktill/tinytrack/pkg/hotstate"
	hotbadger "github.com/nicktill/tinytrack/pkg/hotstate/badger"
	hotmemory "github.com/nicktill/tinytrack/pkg/hotstate/memory"
	"github.com/nicktill/tinytrack/pkg/ingest"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/metrics"
	"github.com/nicktill/tinytrack/pkg/notify"
	"github.com/nicktill/tinytrack/pkg/retention"
	"github.com/nicktill/tinytrack/pkg/server/monitor"
	"github.com/nicktill/tinytrack/pkg/settings"
	"github.com/nicktill/tinytrack/pkg/storage"
	"github.com/nicktill/tinytrack/pkg/storage/badger"
	storagememory "github.com/nicktill/tinytrack/pkg/storage/memory"
	"github.com/nicktill/tinytrack/pkg/workerpool"
)

// notifyBuffer sizes the alarm notification channel.
const notifyBuffer = 256

// App holds every wired component.
type App struct {
	Config   *config.Config
	Settings *settings.Store

	CatalogStore *sqlite.Store
	Catalog      *catalog.Guarded
	State        hotstate.Store
	Trajectory   storage.Store

	Hub          *broadcast.Hub
	Bus          *gochannel.GoChannel
	IngestPool   *workerpool.Pool
	DispatchPool *workerpool.Pool
	Engine       *geofence.Engine
	Pipeline     *ingest.Pipeline

	Compactor *compaction.Compactor
	Retention *retention.Manager
	Daily     *retention.Daily

	CompactionMonitor *monitor.CompactionMonitor
	StorageMonitor    *monitor.StorageMonitor

	closers []io.Closer
}

// New opens the stores and builds every component from cfg. The caller owns
// the returned App and must Close it after the supervisor tree has stopped.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	app := &App{
		Config:   cfg,
		Settings: settings.NewStore(cfg.Tasks),
	}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	if err := app.openCatalog(ctx); err != nil {
		return nil, err
	}
	if err := app.openHotState(); err != nil {
		return nil, err
	}
	if err := app.openTrajectory(); err != nil {
		return nil, err
	}

	app.Hub = broadcast.NewHub()
	app.Bus = notify.NewBus(notifyBuffer)
	app.closers = append(app.closers, app.Bus)

	app.IngestPool = workerpool.New("ingest", cfg.Ingest.Workers, cfg.Ingest.QueueSize)
	app.DispatchPool = workerpool.New("dispatch", cfg.Ingest.DispatchWorkers, cfg.Ingest.QueueSize)
	metrics.SetQueueDepthFunc(app.IngestPool.Pending)

	app.Engine = geofence.NewEngine(app.Catalog, notify.NewPublisher(app.Bus), app.Settings)
	app.Pipeline = ingest.NewPipeline(ingest.Options{
		Catalog:   app.Catalog,
		State:     app.State,
		Alarms:    app.Engine,
		Live:      app.Hub,
		Workers:   app.IngestPool,
		Dispatch:  app.DispatchPool,
		BatchSize: cfg.Ingest.BatchSize,
	})

	app.CompactionMonitor = monitor.NewCompactionMonitor(monitor.DefaultStaleAfter)
	app.Compactor = compaction.New(app.State, app.Trajectory, app.CompactionMonitor)

	app.StorageMonitor = monitor.NewStorageMonitor(app.dataDir())
	app.Retention = retention.NewManager(app.Trajectory, app.StorageMonitor, app.Settings, cfg.Retention.MaxIterations)
	app.Daily, err = retention.NewDaily(app.Retention, cfg.Retention.RunAt)
	if err != nil {
		return nil, err
	}

	logging.Info().
		Bool("hotstate_in_memory", cfg.HotState.InMemory).
		Bool("trajectory_in_memory", cfg.Storage.InMemory).
		Str("catalog", cfg.Catalog.Path).
		Int("workers", cfg.Ingest.Workers).
		Msg("components initialized")
	return app, nil
}

func (a *App) openCatalog(ctx context.Context) error {
	store, err := sqlite.Open(a.Config.Catalog.Path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	a.closers = append(a.closers, store)
	if err := store.InitSchema(ctx); err != nil {
		return fmt.Errorf("init catalog schema: %w", err)
	}
	a.CatalogStore = store
	a.Catalog = catalog.NewGuarded(store, a.Config.Breaker)
	return nil
}

func (a *App) openHotState() error {
	cfg := a.Config.HotState
	opts := hotstate.Options{TTL: cfg.TTL, HistoryCap: cfg.HistoryCap}
	if cfg.InMemory {
		a.State = hotmemory.New(opts)
		return nil
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return fmt.Errorf("create hot state directory: %w", err)
	}
	state, err := hotbadger.New(badger.Config{Path: cfg.Path, MaxMemoryMB: a.Config.Storage.MaxMemoryMB}, opts)
	if err != nil {
		return fmt.Errorf("open hot state: %w", err)
	}
	a.State = state
	a.closers = append(a.closers, state)
	return nil
}

func (a *App) openTrajectory() error {
	cfg := a.Config.Storage
	if cfg.InMemory {
		a.Trajectory = storagememory.New()
		return nil
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return fmt.Errorf("create trajectory directory: %w", err)
	}
	store, err := badger.New(badger.Config{Path: cfg.Path, MaxMemoryMB: cfg.MaxMemoryMB})
	if err != nil {
		return fmt.Errorf("open trajectory store: %w", err)
	}
	a.Trajectory = store
	a.closers = append(a.closers, store)
	return nil
}

// dataDir is the directory whose filesystem drives disk-pressure cleanup.
func (a *App) dataDir() string {
	if !a.Config.Storage.InMemory {
		return a.Config.Storage.Path
	}
	return "."
}

// Close releases stores in reverse open order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
