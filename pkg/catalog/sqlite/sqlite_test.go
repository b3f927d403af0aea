package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/catalog"
	"github.com/nicktill/tinytrack/pkg/geo"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	require.NoError(t, s.InitSchema(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

var square = geo.Polygon{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}

func TestStore_Registry(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTag(ctx, "aa:bb:cc:dd:ee:ff", "forklift"))
	require.NoError(t, s.CreateTag(ctx, "aa:bb:cc:dd:ee:ff", "again"), "duplicate registration is a no-op")

	ok, err := s.IsRegistered(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsRegistered(ctx, "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.True(t, ok, "MAC comparison ignores case")

	ok, err = s.IsRegistered(ctx, "11:22:33:44:55:66")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_UpdateTagPosition(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTag(ctx, "aa:bb:cc:dd:ee:ff", ""))

	x, y, battery := 1.5, 2.5, 80
	var mapID int64 = 3
	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateTagPosition(ctx, catalog.TagPosition{
		DeviceID: "aa:bb:cc:dd:ee:ff", X: &x, Y: &y, Battery: &battery, MapID: &mapID, SeenAt: seen,
	}))

	// a later update without battery keeps the stored level
	x2 := 4.0
	require.NoError(t, s.UpdateTagPosition(ctx, catalog.TagPosition{
		DeviceID: "aa:bb:cc:dd:ee:ff", X: &x2, Y: &y, SeenAt: seen.Add(time.Second),
	}))

	pos, status, err := s.Tag(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, catalog.TagOnline, status)
	require.NotNil(t, pos.X)
	assert.Equal(t, 4.0, *pos.X)
	require.NotNil(t, pos.Battery)
	assert.Equal(t, 80, *pos.Battery)
	require.NotNil(t, pos.MapID)
	assert.Equal(t, int64(3), *pos.MapID)
	assert.Nil(t, pos.RSSI)
	assert.Equal(t, seen.Add(time.Second), pos.SeenAt)

	_, _, err = s.Tag(ctx, "11:22:33:44:55:66")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestStore_Maps(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.CreateMap(ctx, catalog.Map{Name: "floor 1", OriginX: 0, OriginY: 500, Scale: 100})
	require.NoError(t, err)

	m, err := s.Map(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, catalog.Map{ID: id, Name: "floor 1", OriginX: 0, OriginY: 500, Scale: 100}, m)

	_, err = s.Map(ctx, id+100)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestStore_Geofences(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	mapID, err := s.CreateMap(ctx, catalog.Map{Name: "floor", Scale: 1})
	require.NoError(t, err)
	otherMap, err := s.CreateMap(ctx, catalog.Map{Name: "other", Scale: 1})
	require.NoError(t, err)

	keep, err := s.CreateGeofence(ctx, catalog.Geofence{Name: "dock", MapID: mapID, Enabled: true, Polygon: square})
	require.NoError(t, err)
	off, err := s.CreateGeofence(ctx, catalog.Geofence{Name: "yard", MapID: mapID, Enabled: true, Polygon: square})
	require.NoError(t, err)
	_, err = s.CreateGeofence(ctx, catalog.Geofence{Name: "office", MapID: otherMap, Enabled: true, Polygon: square})
	require.NoError(t, err)
	require.NoError(t, s.SetGeofenceEnabled(ctx, off, false))

	fences, err := s.EnabledGeofences(ctx, mapID)
	require.NoError(t, err)
	require.Len(t, fences, 1)
	assert.Equal(t, keep, fences[0].ID)
	assert.Equal(t, "dock", fences[0].Name)
	assert.True(t, fences[0].Enabled)
	assert.Equal(t, square, fences[0].Polygon)

	_, err = s.CreateGeofence(ctx, catalog.Geofence{Name: "dock", MapID: mapID, Polygon: square})
	assert.Error(t, err, "geofence names are unique")
}

func TestStore_AlarmLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	raised := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	id, err := s.InsertAlarm(ctx, catalog.Alarm{
		GeofenceID: 1, GeofenceName: "dock", MapID: 2, MapName: "floor",
		DeviceID: "aa:bb:cc:dd:ee:ff", X: 1, Y: 2, Time: raised,
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	open, err := s.Alarms(ctx, true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, raised, open[0].Time)
	assert.Nil(t, open[0].ResolvedAt)

	resolved := raised.Add(time.Minute)
	require.NoError(t, s.ResolveAlarm(ctx, id, resolved))
	require.NoError(t, s.ResolveAlarm(ctx, id, resolved.Add(time.Hour)))

	open, err = s.Alarms(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := s.Alarms(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].ResolvedAt)
	assert.Equal(t, resolved, *all[0].ResolvedAt, "first resolution wins")

	assert.ErrorIs(t, s.ResolveAlarm(ctx, id+1, resolved), catalog.ErrNotFound)
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.InitSchema(context.Background()))

	ok, err := s.IsRegistered(context.Background(), "aa")
	require.NoError(t, err)
	assert.False(t, ok)
}
