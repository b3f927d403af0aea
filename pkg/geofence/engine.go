// Package geofence raises and clears alarms when tracked devices leave or
// re-enter the geofences drawn on their map.
//
// Each (device, geofence) pair is either clear or alarmed. A sample outside
// an enabled geofence opens an alarm; a sample back inside, or a device going
// quiet for longer than the configured timeout, closes it. All state lives in
// the Engine behind a single mutex so Evaluate, Sweep, InvalidateCaches and
// ActiveAlarms never interleave.
package geofence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nicktill/tinytrack/pkg/catalog"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/metrics"
	"github.com/nicktill/tinytrack/pkg/notify"
	"github.com/nicktill/tinytrack/pkg/settings"
	"github.com/nicktill/tinytrack/pkg/tracking"
)

// Catalog is what the engine needs from the catalog.
type Catalog interface {
	catalog.MapLookup
	catalog.GeofenceLister
	catalog.AlarmStore
}

// Clear causes, used as metric labels.
const (
	causeReturned = "returned"
	causeInactive = "inactive"
)

type alarmKey struct {
	device   string
	geofence int64
}

// Engine evaluates samples against geofences and tracks open alarms.
type Engine struct {
	mu sync.Mutex

	cache        *Cache
	alarms       map[alarmKey]catalog.Alarm
	lastActivity map[string]time.Time

	store    catalog.AlarmStore
	sink     notify.Sink
	settings *settings.Store
	now      func() time.Time
}

// NewEngine creates an engine. Alarm timeouts are read from tasks on every
// sweep so runtime changes apply immediately.
func NewEngine(cat Catalog, sink notify.Sink, tasks *settings.Store) *Engine {
	if sink == nil {
		sink = notify.Discard
	}
	return &Engine{
		cache:        NewCache(cat, cat),
		alarms:       make(map[alarmKey]catalog.Alarm),
		lastActivity: make(map[string]time.Time),
		store:        cat,
		sink:         sink,
		settings:     tasks,
		now:          time.Now,
	}
}

// Evaluate checks one sample against every enabled geofence of its map.
// Samples without a position or map are ignored. Lookup failures are logged
// and the sample is skipped.
func (e *Engine) Evaluate(ctx context.Context, s tracking.Sample) {
	x, y, ok := s.Position()
	if !ok {
		return
	}
	mapID, ok := s.Map()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.cache.Map(ctx, mapID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			logging.Debug().Int64("map_id", mapID).Str("device", s.DeviceID).Msg("sample on unknown map")
		} else {
			logging.Warn().Err(err).Int64("map_id", mapID).Msg("map lookup failed")
		}
		return
	}

	p := m.Transform().ToPixel(x, y)
	now := e.now()
	e.lastActivity[s.DeviceID] = now

	fences, err := e.cache.Geofences(ctx, mapID)
	if err != nil {
		logging.Warn().Err(err).Int64("map_id", mapID).Msg("geofence lookup failed")
		return
	}

	for _, f := range fences {
		key := alarmKey{device: s.DeviceID, geofence: f.ID}
		open, alarmed := e.alarms[key]
		inside := f.shape.Contains(p)

		switch {
		case !inside && !alarmed:
			e.raise(ctx, key, catalog.Alarm{
				GeofenceID:   f.ID,
				GeofenceName: f.Name,
				MapID:        m.ID,
				MapName:      m.Name,
				DeviceID:     s.DeviceID,
				X:            x,
				Y:            y,
				Time:         s.SampleTime(now),
			})
		case inside && alarmed:
			e.clear(ctx, key, open, now, causeReturned)
		}
	}
}

// raise persists the alarm, then records and announces it. A failed insert
// leaves the pair clear so the next sample retries.
func (e *Engine) raise(ctx context.Context, key alarmKey, a catalog.Alarm) {
	id, err := e.store.InsertAlarm(ctx, a)
	if err != nil {
		logging.Error().Err(err).
			Str("device", a.DeviceID).
			Int64("geofence_id", a.GeofenceID).
			Msg("failed to persist geofence alarm")
		return
	}
	a.ID = id
	e.alarms[key] = a

	metrics.AlarmsRaised.Inc()
	metrics.AlarmsOpen.Set(float64(len(e.alarms)))
	logging.Info().
		Int64("alarm_id", id).
		Str("device", a.DeviceID).
		Str("geofence", a.GeofenceName).
		Msg("geofence alarm raised")

	e.notify(ctx, notify.TypeAlarm, a, a.Time)
}

func (e *Engine) clear(ctx context.Context, key alarmKey, a catalog.Alarm, at time.Time, cause string) {
	if err := e.store.ResolveAlarm(ctx, a.ID, at); err != nil {
		logging.Warn().Err(err).Int64("alarm_id", a.ID).Msg("failed to resolve geofence alarm")
	}
	delete(e.alarms, key)

	metrics.AlarmsCleared.WithLabelValues(cause).Inc()
	metrics.AlarmsOpen.Set(float64(len(e.alarms)))
	logging.Info().
		Int64("alarm_id", a.ID).
		Str("device", a.DeviceID).
		Str("geofence", a.GeofenceName).
		Str("cause", cause).
		Msg("geofence alarm cleared")

	e.notify(ctx, notify.TypeAlarmClose, a, at)
}

func (e *Engine) notify(ctx context.Context, typ string, a catalog.Alarm, at time.Time) {
	err := e.sink.Notify(ctx, notify.Notification{
		Type:         typ,
		AlarmID:      a.ID,
		DeviceID:     a.DeviceID,
		GeofenceID:   a.GeofenceID,
		GeofenceName: a.GeofenceName,
		MapID:        a.MapID,
		MapName:      a.MapName,
		X:            a.X,
		Y:            a.Y,
		Time:         at,
	})
	if err != nil {
		logging.Warn().Err(err).Str("type", typ).Int64("alarm_id", a.ID).Msg("failed to send alarm notification")
	}
}

// Sweep closes every alarm of devices that have been silent longer than the
// alarm timeout and forgets those devices. It returns the number of alarms
// closed.
func (e *Engine) Sweep(ctx context.Context, now time.Time) int {
	timeout := e.settings.Get().AlarmTimeout()

	e.mu.Lock()
	defer e.mu.Unlock()

	closed := 0
	for device, last := range e.lastActivity {
		if now.Sub(last) <= timeout {
			continue
		}
		for key, a := range e.alarms {
			if key.device == device {
				e.clear(ctx, key, a, now, causeInactive)
				closed++
			}
		}
		delete(e.lastActivity, device)
	}
	return closed
}

// InvalidateCaches drops cached maps and geofences. Open alarms are kept.
func (e *Engine) InvalidateCaches() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.InvalidateAll()
}

// ActiveAlarms returns the open alarms ordered by id.
func (e *Engine) ActiveAlarms() []catalog.Alarm {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]catalog.Alarm, 0, len(e.alarms))
	for _, a := range e.alarms {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
