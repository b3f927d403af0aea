package geofence

import (
	"context"

	"github.com/nicktill/tinytrack/pkg/catalog"
	"github.com/nicktill/tinytrack/pkg/geo"
)

// fence is a geofence with its precomputed bounding box.
type fence struct {
	catalog.Geofence
	shape geo.Fence
}

// Cache memoizes map metadata and enabled geofences per map. It is not safe
// for concurrent use; the engine guards it with its lock. Failed lookups are
// not cached.
type Cache struct {
	maps   catalog.MapLookup
	fences catalog.GeofenceLister

	mapByID     map[int64]catalog.Map
	fencesByMap map[int64][]fence
}

// NewCache creates an empty cache over the given lookups.
func NewCache(maps catalog.MapLookup, fences catalog.GeofenceLister) *Cache {
	c := &Cache{maps: maps, fences: fences}
	c.InvalidateAll()
	return c
}

// Map returns the cached map, loading it on a miss.
func (c *Cache) Map(ctx context.Context, id int64) (catalog.Map, error) {
	if m, ok := c.mapByID[id]; ok {
		return m, nil
	}
	m, err := c.maps.Map(ctx, id)
	if err != nil {
		return catalog.Map{}, err
	}
	c.mapByID[id] = m
	return m, nil
}

// Geofences returns the cached enabled geofences of a map, loading them on a
// miss. Polygons with fewer than three points are dropped at load time.
func (c *Cache) Geofences(ctx context.Context, mapID int64) ([]fence, error) {
	if fs, ok := c.fencesByMap[mapID]; ok {
		return fs, nil
	}
	listed, err := c.fences.EnabledGeofences(ctx, mapID)
	if err != nil {
		return nil, err
	}
	fs := make([]fence, 0, len(listed))
	for _, g := range listed {
		if !g.Polygon.Valid() {
			continue
		}
		fs = append(fs, fence{Geofence: g, shape: geo.NewFence(g.Polygon)})
	}
	c.fencesByMap[mapID] = fs
	return fs, nil
}

// InvalidateAll drops every cached map, geofence and bounding box.
func (c *Cache) InvalidateAll() {
	c.mapByID = make(map[int64]catalog.Map)
	c.fencesByMap = make(map[int64][]fence)
}
