package compaction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/hotstate"
	hotmemory "github.com/nicktill/tinytrack/pkg/hotstate/memory"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/storage"
	"github.com/nicktill/tinytrack/pkg/storage/memory"
	"github.com/nicktill/tinytrack/pkg/storage/storagetest"
	"github.com/nicktill/tinytrack/pkg/tracking"
)

type monitorRecorder struct {
	successes int
	failures  []error
}

func (m *monitorRecorder) RecordSuccess()          { m.successes++ }
func (m *monitorRecorder) RecordFailure(err error) { m.failures = append(m.failures, err) }

type failingStore struct {
	*memory.Storage
	err error
}

func (f failingStore) WriteBatch(context.Context, []storage.Record) error { return f.err }

type unreachableState struct {
	hotstate.Store
	err error
}

func (u unreachableState) ActiveDevices(context.Context) ([]string, error) { return nil, u.err }

func sample(id string, x, y float64, mapID int64, ts string) tracking.Sample {
	return tracking.Sample{DeviceID: id, X: &x, Y: &y, MapID: &mapID, Timestamp: ts}
}

func record(t *testing.T, state hotstate.Store, samples ...tracking.Sample) {
	t.Helper()
	for _, s := range samples {
		require.NoError(t, state.Record(context.Background(), s))
	}
}

const macA = "aa:bb:cc:dd:ee:01"

func TestCompactOnce_FiveSamplesOneRecord(t *testing.T) {
	state := hotmemory.New(hotstate.Options{})
	store := memory.New()
	mon := &monitorRecorder{}
	c := New(state, store, mon)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		record(t, state, sample(macA, float64(i), float64(i), 1, fmt.Sprintf("%d", 1714550400+i)))
	}

	res, err := c.CompactOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Devices)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, []string{"p202405"}, res.Partitions)
	assert.Equal(t, 1, mon.successes)

	history, err := state.History(ctx, macA, 0)
	require.NoError(t, err)
	assert.Empty(t, history, "history is cleared by the cycle")

	mac, err := tracking.ParseMAC(macA)
	require.NoError(t, err)
	records, err := store.Query(ctx, storage.QueryRequest{DeviceID: mac})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, float32(4), storagetest.X(t, records[0]), "the newest sample is kept")
	assert.Equal(t, time.Unix(1714550404, 0).UTC(), records[0].Timestamp)
	require.NotNil(t, records[0].MapID)
	assert.Equal(t, int64(1), *records[0].MapID)

	// nothing new arrived, so the next cycle writes nothing
	res, err = c.CompactOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Written)
}

func TestCompactOnce_DropsInvalidSamples(t *testing.T) {
	state := hotmemory.New(hotstate.Options{})
	store := memory.New()
	c := New(state, store, nil)

	record(t, state,
		sample(macA, 1, 1, 1, "1714550400"),
		sample("aa:bb:cc:dd:ee:02", 1, 1, 1, "not-a-time"),
		sample("aa:bb:cc:dd:ee:03", 1, 1, 1, "4102444800"),
		sample("forklift-7", 1, 1, 1, "1714550400"),
	)

	res, err := c.CompactOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Devices)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 3, res.Dropped)
}

func TestCompactOnce_KeepsUnplacedSamples(t *testing.T) {
	state := hotmemory.New(hotstate.Options{})
	store := memory.New()
	c := New(state, store, nil)
	ctx := context.Background()

	noMap := sample(macA, 1, 2, 0, "1714550400")
	noMap.MapID = nil
	bare := tracking.Sample{DeviceID: "aa:bb:cc:dd:ee:02", Timestamp: "1714550400"}
	record(t, state, noMap, bare)

	res, err := c.CompactOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Zero(t, res.Dropped)

	mac, err := tracking.ParseMAC(macA)
	require.NoError(t, err)
	records, err := store.Query(ctx, storage.QueryRequest{DeviceID: mac})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].MapID)
	assert.Equal(t, float32(1), storagetest.X(t, records[0]))
	require.NotNil(t, records[0].Y)
	assert.Equal(t, float32(2), *records[0].Y)

	mapID := int64(1)
	filtered, err := store.Query(ctx, storage.QueryRequest{DeviceID: mac, MapID: &mapID})
	require.NoError(t, err)
	assert.Empty(t, filtered, "a map filter skips unplaced records")

	mac2, err := tracking.ParseMAC("aa:bb:cc:dd:ee:02")
	require.NoError(t, err)
	records, err = store.Query(ctx, storage.QueryRequest{DeviceID: mac2})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].X)
	assert.Nil(t, records[0].Y)
}

func TestCompactOnce_SplitsAcrossPartitions(t *testing.T) {
	state := hotmemory.New(hotstate.Options{})
	store := memory.New()
	c := New(state, store, nil)

	// 2024-04-30T23:59:59Z and 2024-05-01T00:00:00Z
	record(t, state,
		sample(macA, 1, 1, 1, "1714521599"),
		sample("aa:bb:cc:dd:ee:02", 1, 1, 1, "1714521600"),
	)

	res, err := c.CompactOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"p202404", "p202405"}, res.Partitions)

	keys, err := store.Partitions(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestCompactOnce_WriteFailureLosesCycle(t *testing.T) {
	state := hotmemory.New(hotstate.Options{})
	mon := &monitorRecorder{}
	c := New(state, failingStore{Storage: memory.New(), err: errors.New("disk full")}, mon)
	ctx := context.Background()

	record(t, state, sample(macA, 1, 1, 1, "1714550400"))

	_, err := c.CompactOnce(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.Len(t, mon.failures, 1)

	history, err := state.History(ctx, macA, 0)
	require.NoError(t, err)
	assert.Empty(t, history, "failed cycles are not retried")
}

func TestCompactOnce_ActiveDevicesFailureLogged(t *testing.T) {
	var logs bytes.Buffer
	logging.Init(logging.Config{Level: "info", Format: "json", Output: &logs})
	t.Cleanup(func() { logging.Init(logging.Config{Level: "info", Format: "json"}) })

	mon := &monitorRecorder{}
	state := unreachableState{Store: hotmemory.New(hotstate.Options{}), err: errors.New("hot state unavailable")}
	c := New(state, memory.New(), mon)

	_, err := c.CompactOnce(context.Background())
	require.Error(t, err)
	require.Len(t, mon.failures, 1)
	assert.Contains(t, logs.String(), "hot state unavailable")
	assert.Contains(t, logs.String(), `"level":"error"`)
}

func TestCompactOnce_NoActiveDevices(t *testing.T) {
	mon := &monitorRecorder{}
	c := New(hotmemory.New(hotstate.Options{}), memory.New(), mon)

	res, err := c.CompactOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Devices)
	assert.Equal(t, 1, mon.successes)
}

func seedTrajectory(t *testing.T, c *Compactor, state hotstate.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		// 2024-05-01T08:00:00Z plus i minutes
		record(t, state, sample(macA, float64(i), 0, 1, fmt.Sprintf("%d", 1714550400+60*i)))
		_, err := c.CompactOnce(context.Background())
		require.NoError(t, err)
	}
}

func TestDeviceTrajectory(t *testing.T) {
	state := hotmemory.New(hotstate.Options{})
	c := New(state, memory.New(), nil)
	seedTrajectory(t, c, state, 10)
	ctx := context.Background()

	all, err := c.DeviceTrajectory(ctx, Query{DeviceID: "AA-BB-CC-DD-EE-01"})
	require.NoError(t, err)
	require.Len(t, all, 10)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.Before(all[i].Timestamp))
	}

	page, err := c.DeviceTrajectory(ctx, Query{DeviceID: macA, Page: 1, Size: 4})
	require.NoError(t, err)
	require.Len(t, page, 4)
	assert.Equal(t, float32(4), storagetest.X(t, page[0]))

	start, err := ParseQueryTime("2024-05-01 08:03:00")
	require.NoError(t, err)
	end, err := ParseQueryTime("2024-05-01T08:05:00")
	require.NoError(t, err)
	window, err := c.DeviceTrajectory(ctx, Query{DeviceID: macA, Start: &start, End: &end})
	require.NoError(t, err)
	assert.Len(t, window, 3)

	other := int64(2)
	none, err := c.DeviceTrajectory(ctx, Query{DeviceID: macA, MapID: &other})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeviceTrajectory_InvalidQuery(t *testing.T) {
	c := New(hotmemory.New(hotstate.Options{}), memory.New(), nil)
	ctx := context.Background()

	_, err := c.DeviceTrajectory(ctx, Query{DeviceID: "forklift"})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = c.DeviceTrajectory(ctx, Query{DeviceID: macA, Size: MaxPageSize + 1})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = c.DeviceTrajectory(ctx, Query{DeviceID: macA, Page: math.MaxInt/100 + 1, Size: 100})
	assert.ErrorIs(t, err, ErrInvalidQuery, "page*size must not overflow")

	start := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err = c.DeviceTrajectory(ctx, Query{DeviceID: macA, Start: &start, End: &end})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestParseQueryTime(t *testing.T) {
	want := time.Date(2024, 5, 1, 8, 30, 15, 0, time.UTC)

	for _, in := range []string{
		"2024-05-01T08:30:15",
		"2024-05-01 08:30:15",
		"2024-05-01T08:30:15Z",
		"2024-05-01T08:30:15+02:00",
	} {
		got, err := ParseQueryTime(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, "wall clock is kept as UTC for %q", in)
	}

	_, err := ParseQueryTime("yesterday")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestHandleDeviceTrajectory(t *testing.T) {
	state := hotmemory.New(hotstate.Options{})
	c := New(state, memory.New(), nil)
	seedTrajectory(t, c, state, 3)

	call := func(id, query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/trajectory/device/"+id+"/history?"+query, nil)
		req = mux.SetURLVars(req, map[string]string{"id": id})
		rr := httptest.NewRecorder()
		c.HandleDeviceTrajectory(rr, req)
		return rr
	}

	rr := call(macA, "mapId=1&startTime=2024-05-01T08:01:00&size=10")
	require.Equal(t, http.StatusOK, rr.Code)
	var records []storage.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", records[0].DeviceID.String())
	assert.Contains(t, rr.Body.String(), `"tag_mac":"AA:BB:CC:DD:EE:01"`)

	rr = call("aa:bb:cc:dd:ee:09", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	assert.Equal(t, http.StatusBadRequest, call(macA, "mapId=x").Code)
	assert.Equal(t, http.StatusBadRequest, call(macA, "startTime=noon").Code)
	assert.Equal(t, http.StatusBadRequest, call(macA, "page=-1").Code)
	assert.Equal(t, http.StatusBadRequest, call(macA, "page=92233720368547759&size=100").Code)
	assert.Equal(t, http.StatusBadRequest, call("not-a-mac", "").Code)
}
