package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Caller: cfg.Log.Caller,
	})
	logging.Info().
		Str("version", server.Version).
		Int("port", cfg.Server.Port).
		Msg("starting tinytrack")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.New(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize server")
	}

	start := time.Now()
	err = app.Supervisor().Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped")
	}

	if cerr := app.Close(); cerr != nil {
		logging.Error().Err(cerr).Msg("failed to close stores cleanly")
	}
	logging.Info().Dur("uptime", time.Since(start)).Msg("tinytrack stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}
