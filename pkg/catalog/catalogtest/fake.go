// Package catalogtest provides an in-memory catalog for tests.
package catalogtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nicktill/tinytrack/pkg/catalog"
)

// Fake is a concurrency-safe in-memory catalog.Catalog. Setting one of the
// *Err fields makes the matching call fail.
type Fake struct {
	mu sync.Mutex

	tags      map[string]bool
	maps      map[int64]catalog.Map
	fences    []catalog.Geofence
	alarms    []catalog.Alarm
	positions map[string]catalog.TagPosition

	RegistryErr error
	MapErr      error
	FenceErr    error
	InsertErr   error
	ResolveErr  error
	UpdateErr   error

	MapCalls   int
	FenceCalls int
}

var _ catalog.Catalog = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		tags:      make(map[string]bool),
		maps:      make(map[int64]catalog.Map),
		positions: make(map[string]catalog.TagPosition),
	}
}

// AddTag registers a device id.
func (f *Fake) AddTag(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[id] = true
}

// AddMap stores a map.
func (f *Fake) AddMap(m catalog.Map) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maps[m.ID] = m
}

// AddGeofence stores a geofence.
func (f *Fake) AddGeofence(g catalog.Geofence) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fences = append(f.fences, g)
}

// SetGeofences replaces every geofence.
func (f *Fake) SetGeofences(fences ...catalog.Geofence) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fences = fences
}

// Alarms returns a copy of every stored alarm in insertion order.
func (f *Fake) Alarms() []catalog.Alarm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]catalog.Alarm(nil), f.alarms...)
}

// Position returns the last position update for a device.
func (f *Fake) Position(id string) (catalog.TagPosition, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.positions[id]
	return pos, ok
}

func (f *Fake) IsRegistered(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RegistryErr != nil {
		return false, f.RegistryErr
	}
	return f.tags[id], nil
}

func (f *Fake) UpdateTagPosition(_ context.Context, pos catalog.TagPosition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	f.positions[pos.DeviceID] = pos
	return nil
}

func (f *Fake) Map(_ context.Context, id int64) (catalog.Map, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MapCalls++
	if f.MapErr != nil {
		return catalog.Map{}, f.MapErr
	}
	m, ok := f.maps[id]
	if !ok {
		return catalog.Map{}, catalog.ErrNotFound
	}
	return m, nil
}

func (f *Fake) EnabledGeofences(_ context.Context, mapID int64) ([]catalog.Geofence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FenceCalls++
	if f.FenceErr != nil {
		return nil, f.FenceErr
	}
	var out []catalog.Geofence
	for _, g := range f.fences {
		if g.MapID == mapID && g.Enabled {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) InsertAlarm(_ context.Context, a catalog.Alarm) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InsertErr != nil {
		return 0, f.InsertErr
	}
	a.ID = int64(len(f.alarms) + 1)
	f.alarms = append(f.alarms, a)
	return a.ID, nil
}

func (f *Fake) ResolveAlarm(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ResolveErr != nil {
		return f.ResolveErr
	}
	for i := range f.alarms {
		if f.alarms[i].ID == id {
			t := at
			f.alarms[i].ResolvedAt = &t
			return nil
		}
	}
	return catalog.ErrNotFound
}
