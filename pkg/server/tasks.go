package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/ingest"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/notify"
	"github.com/nicktill/tinytrack/pkg/storage/badger"
)

// gcDiscardRatio rewrites a value log file once half of it is garbage.
const gcDiscardRatio = 0.5

// Periodic runs a task with a fixed delay between the end of one run and the
// start of the next. The delay is re-read before every run, so interval
// changes take effect on the next cycle. A run is never cancelled midway.
type Periodic struct {
	name     string
	interval func() time.Duration
	run      func(ctx context.Context)
}

// NewPeriodic creates a periodic service.
func NewPeriodic(name string, interval func() time.Duration, run func(ctx context.Context)) *Periodic {
	return &Periodic{name: name, interval: interval, run: run}
}

// Every is a constant interval.
func Every(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

// Serve implements suture.Service.
func (p *Periodic) Serve(ctx context.Context) error {
	for {
		timer := time.NewTimer(p.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		// finish the cycle even if shutdown starts while it runs
		p.run(context.WithoutCancel(ctx))
	}
}

func (p *Periodic) String() string { return p.name }

// HTTPService runs an http.Server under suture.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewHTTPService wraps server.
func NewHTTPService(server *http.Server, shutdownTimeout time.Duration) *HTTPService {
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. A listener failure terminates the tree;
// restarting cannot fix a port that is already taken.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logging.Info().Str("addr", h.server.Addr).Msg("http server listening")

	select {
	case err := <-errCh:
		if err != nil {
			logging.Error().Err(err).Str("addr", h.server.Addr).Msg("http server failed")
			return suture.ErrTerminateSupervisorTree
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

// Supervisor builds the service tree:
//
//	tinytrack
//	├── data:      ingest pools, compaction, retention, badger GC
//	├── alarms:    watchdog, geofence cache refresh, notification forwarder
//	└── api:       broadcast hub, HTTP server, MQTT subscriber
func (a *App) Supervisor() *suture.Supervisor {
	root := suture.New("tinytrack", suture.Spec{
		EventHook: logging.SupervisorHook(),
		Timeout:   config.ShutdownTimeout,
	})
	data := suture.NewSimple("data")
	alarms := suture.NewSimple("alarms")
	api := suture.NewSimple("api")
	root.Add(data)
	root.Add(alarms)
	root.Add(api)

	data.Add(a.IngestPool)
	data.Add(a.DispatchPool)
	data.Add(NewPeriodic("compactor", func() time.Duration {
		return a.Settings.Get().StorageInterval
	}, func(ctx context.Context) {
		// failures are logged and counted by the compactor and its monitor
		_, _ = a.Compactor.CompactOnce(ctx)
	}))
	data.Add(a.Daily)
	if gc, ok := a.Trajectory.(*badger.Storage); ok {
		data.Add(NewPeriodic("badger-gc", Every(a.Config.Storage.GCInterval), func(context.Context) {
			runBadgerGC(gc)
		}))
	}

	alarms.Add(NewPeriodic("alarm-watchdog", Every(a.Config.Geofence.WatchdogInterval), func(ctx context.Context) {
		a.Engine.Sweep(ctx, time.Now())
	}))
	alarms.Add(NewPeriodic("geofence-cache-refresh", Every(a.Config.Geofence.CacheRefresh), func(context.Context) {
		a.Engine.InvalidateCaches()
	}))
	alarms.Add(notify.NewForwarder(a.Bus, a.Hub))

	api.Add(a.Hub)
	api.Add(NewHTTPService(&http.Server{
		Addr:         a.Config.Server.Addr(),
		Handler:      a.Router(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}, config.ShutdownTimeout))
	if a.Config.MQTT.Enabled {
		api.Add(ingest.NewMQTTSubscriber(a.Config.MQTT, a.Pipeline))
	}

	return root
}

// runBadgerGC reclaims value-log space left behind by dropped partitions.
func runBadgerGC(store *badger.Storage) {
	start := time.Now()
	if err := store.RunGC(gcDiscardRatio); err != nil {
		logging.Warn().Err(err).Msg("badger value log GC failed")
		return
	}
	logging.Debug().Dur("took", time.Since(start)).Msg("badger value log GC complete")
}
