// Command seed creates a demo map, tags and a geofence in the catalog so the
// simulator has something to report against.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nicktill/tinytrack/pkg/catalog"
	"github.com/nicktill/tinytrack/pkg/catalog/sqlite"
	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/geo"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/tracking"
)

func main() {
	tags := flag.Int("tags", 1, "number of demo tags, matching the simulator's -tags")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := seed(context.Background(), cfg.Catalog.Path, *tags); err != nil {
		logging.Fatal().Err(err).Str("catalog", cfg.Catalog.Path).Msg("seeding failed")
	}
}

func seed(ctx context.Context, path string, tags int) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create catalog directory: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		return err
	}

	// 100 px per meter with the origin at the bottom-left of a 500 px tall image
	mapID, err := store.CreateMap(ctx, catalog.Map{Name: "warehouse", OriginX: 0, OriginY: 500, Scale: 100})
	if err != nil {
		return fmt.Errorf("create map: %w", err)
	}

	for i := 1; i <= tags; i++ {
		mac := tracking.CanonicalID(fmt.Sprintf("AA:BB:CC:DD:EE:%02X", i))
		if err := store.CreateTag(ctx, mac, fmt.Sprintf("forklift-%d", i)); err != nil {
			return fmt.Errorf("create tag %s: %w", mac, err)
		}
	}

	// covers metric x and y in [0, 5]
	fenceID, err := store.CreateGeofence(ctx, catalog.Geofence{
		Name:    "dock",
		MapID:   mapID,
		Enabled: true,
		Polygon: geo.Polygon{{X: 0, Y: 0}, {X: 500, Y: 0}, {X: 500, Y: 500}, {X: 0, Y: 500}},
	})
	if err != nil {
		return fmt.Errorf("create geofence: %w", err)
	}

	logging.Info().
		Int64("map_id", mapID).
		Int64("geofence_id", fenceID).
		Int("tags", tags).
		Msg("catalog seeded")
	return nil
}
