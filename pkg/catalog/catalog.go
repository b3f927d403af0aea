// Package catalog holds the reference data the tracking pipeline consults:
// registered tags, maps, geofences and the alarm log. The pipeline sees it
// only through the narrow interfaces below.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/tinytrack/pkg/geo"
)

// ErrNotFound is returned when a looked-up entity does not exist.
var ErrNotFound = errors.New("not found")

// Tag status values written by position updates.
const (
	TagOffline = 0
	TagOnline  = 1
)

// Map describes a floor plan and how metric coordinates project onto it.
type Map struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	OriginX float64 `json:"origin_x"`
	OriginY float64 `json:"origin_y"`
	Scale   float64 `json:"scale"`
}

// Transform returns the metric to pixel projection for the map.
func (m Map) Transform() geo.Transform {
	return geo.Transform{OriginX: m.OriginX, OriginY: m.OriginY, Scale: m.Scale}
}

// Geofence is a named polygon in map-pixel space.
type Geofence struct {
	ID      int64       `json:"id"`
	Name    string      `json:"name"`
	MapID   int64       `json:"map_id"`
	Enabled bool        `json:"enabled"`
	Polygon geo.Polygon `json:"points"`
}

// Alarm is a persisted geofence violation. X and Y are the metric
// coordinates of the sample that raised it.
type Alarm struct {
	ID           int64      `json:"id"`
	GeofenceID   int64      `json:"geofence_id"`
	GeofenceName string     `json:"geofence_name"`
	MapID        int64      `json:"map_id"`
	MapName      string     `json:"map_name"`
	DeviceID     string     `json:"tag_mac"`
	X            float64    `json:"x"`
	Y            float64    `json:"y"`
	Time         time.Time  `json:"time"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// TagPosition is the last known state of a tag.
type TagPosition struct {
	DeviceID string
	X, Y     *float64
	RSSI     *int
	Battery  *int
	MapID    *int64
	SeenAt   time.Time
}

// Registry answers whether a device is a known tag.
type Registry interface {
	IsRegistered(ctx context.Context, deviceID string) (bool, error)
}

// TagUpdater records a tag's latest position.
type TagUpdater interface {
	UpdateTagPosition(ctx context.Context, pos TagPosition) error
}

// MapLookup resolves map metadata. It returns ErrNotFound for unknown maps.
type MapLookup interface {
	Map(ctx context.Context, id int64) (Map, error)
}

// GeofenceLister lists the enabled geofences of a map.
type GeofenceLister interface {
	EnabledGeofences(ctx context.Context, mapID int64) ([]Geofence, error)
}

// AlarmStore persists alarms.
type AlarmStore interface {
	InsertAlarm(ctx context.Context, a Alarm) (int64, error)
	ResolveAlarm(ctx context.Context, id int64, at time.Time) error
}

// Catalog bundles every collaborator interface.
type Catalog interface {
	Registry
	TagUpdater
	MapLookup
	GeofenceLister
	AlarmStore
}
