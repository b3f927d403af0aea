package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/broadcast"
	"github.com/nicktill/tinytrack/pkg/catalog"
	"github.com/nicktill/tinytrack/pkg/catalog/catalogtest"
	"github.com/nicktill/tinytrack/pkg/geo"
	"github.com/nicktill/tinytrack/pkg/geofence"
	"github.com/nicktill/tinytrack/pkg/hotstate"
	"github.com/nicktill/tinytrack/pkg/hotstate/memory"
	"github.com/nicktill/tinytrack/pkg/notify"
	"github.com/nicktill/tinytrack/pkg/settings"
	"github.com/nicktill/tinytrack/pkg/tracking"
	"github.com/nicktill/tinytrack/pkg/workerpool"
)

type liveRecorder struct {
	mu      sync.Mutex
	samples []tracking.Sample
}

func (l *liveRecorder) Publish(topic string, data interface{}) error {
	if topic != broadcast.TopicSamples {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, data.(tracking.Sample))
	return nil
}

func (l *liveRecorder) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.samples)
}

type evalRecorder struct {
	mu      sync.Mutex
	devices []string
}

func (e *evalRecorder) Evaluate(_ context.Context, s tracking.Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.devices = append(e.devices, s.DeviceID)
}

func (e *evalRecorder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.devices)
}

type harness struct {
	pipeline *Pipeline
	fake     *catalogtest.Fake
	state    hotstate.Store
	live     *liveRecorder
	alarms   *evalRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fake:   catalogtest.New(),
		state:  memory.New(hotstate.Options{}),
		live:   &liveRecorder{},
		alarms: &evalRecorder{},
	}
	h.pipeline = NewPipeline(Options{
		Catalog:  h.fake,
		State:    h.state,
		Alarms:   h.alarms,
		Live:     h.live,
		Workers:  workerpool.Inline,
		Dispatch: workerpool.Inline,
	})
	return h
}

func report(mac string, x, y float64, mapID int64, ts string) tracking.Report {
	return tracking.Report{TagMAC: mac, X: &x, Y: &y, MapID: &mapID, Timestamp: tracking.EpochText(ts)}
}

func TestSubmit_RegisteredDevice(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("aa:bb:cc:dd:ee:01")
	ctx := context.Background()

	require.NoError(t, h.pipeline.Submit(ctx, report("AA:BB:CC:DD:EE:01", 1, 2, 1, "1700000000")))

	latest, ok, err := h.state.Latest(ctx, "aa:bb:cc:dd:ee:01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", latest.DeviceID)

	ids, err := h.state.ActiveDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:01"}, ids)

	pos, ok := h.fake.Position("aa:bb:cc:dd:ee:01")
	require.True(t, ok)
	assert.Equal(t, 1.0, *pos.X)
	assert.Equal(t, int64(1700000000), pos.SeenAt.Unix())

	assert.Equal(t, 1, h.live.count())
	assert.Equal(t, 1, h.alarms.count())
}

func TestSubmit_UnregisteredDeviceOnlyBroadcast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.pipeline.Submit(ctx, report("11:22:33:44:55:66", 1, 2, 1, "1700000000")))

	assert.Equal(t, 1, h.live.count())
	ids, err := h.state.ActiveDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "unregistered devices never become active")
	_, ok := h.fake.Position("11:22:33:44:55:66")
	assert.False(t, ok)
	assert.Zero(t, h.alarms.count())
}

func TestSubmit_DropsMalformed(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("aa")
	ctx := context.Background()

	assert.NoError(t, h.pipeline.Submit(ctx, report("aa", 1, 2, 1, "")))
	assert.NoError(t, h.pipeline.Submit(ctx, report("  ", 1, 2, 1, "1700000000")))

	assert.Zero(t, h.live.count())
	ids, err := h.state.ActiveDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSubmit_RegistryFailureSkipsProcessing(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("aa")
	h.fake.RegistryErr = errors.New("catalog down")

	require.NoError(t, h.pipeline.Submit(context.Background(), report("aa", 1, 2, 1, "1")))

	assert.Equal(t, 1, h.live.count(), "broadcast happens before the registry gate")
	ids, err := h.state.ActiveDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSubmit_NoMapSkipsAlarms(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("aa")

	r := report("aa", 1, 2, 1, "1")
	r.MapID = nil
	require.NoError(t, h.pipeline.Submit(context.Background(), r))

	assert.Zero(t, h.alarms.count())
	_, ok := h.fake.Position("aa")
	assert.True(t, ok)
}

func TestSubmit_TagUpdateFailureStillEvaluates(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("aa")
	h.fake.UpdateErr = errors.New("locked")

	require.NoError(t, h.pipeline.Submit(context.Background(), report("aa", 1, 2, 1, "1")))
	assert.Equal(t, 1, h.alarms.count())
}

func TestSubmit_ClosedPool(t *testing.T) {
	h := newHarness(t)
	h.pipeline.workers = workerpool.ExecutorFunc(func(func()) error { return workerpool.ErrPoolClosed })

	err := h.pipeline.Submit(context.Background(), report("aa", 1, 2, 1, "1"))
	assert.ErrorIs(t, err, workerpool.ErrPoolClosed)
}

func TestSubmitBatch_ProcessesEverySample(t *testing.T) {
	h := newHarness(t)
	h.pipeline.batchSize = 7

	var reports []tracking.Report
	for i := 0; i < 120; i++ {
		mac := fmt.Sprintf("aa:bb:cc:dd:%02x:%02x", i/256, i%256)
		h.fake.AddTag(mac)
		reports = append(reports, report(mac, 1, 1, 1, "1700000000"))
	}

	require.NoError(t, h.pipeline.SubmitBatch(context.Background(), reports))

	assert.Equal(t, 120, h.live.count())
	ids, err := h.state.ActiveDevices(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 120)
}

func TestSubmitBatch_Empty(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.pipeline.SubmitBatch(context.Background(), nil))
}

func TestSubmitAsync_UsesDispatchPool(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("aa")

	var queued []func()
	h.pipeline.dispatch = workerpool.ExecutorFunc(func(task func()) error {
		queued = append(queued, task)
		return nil
	})

	require.NoError(t, h.pipeline.SubmitAsync([]tracking.Report{report("aa", 1, 2, 1, "1")}))
	assert.Zero(t, h.live.count(), "nothing runs until the dispatcher does")

	require.Len(t, queued, 1)
	queued[0]()
	assert.Equal(t, 1, h.live.count())
}

func TestSubmit_CaseVariantsShareOneDevice(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("aa:bb:cc:dd:ee:01")
	h.fake.AddMap(catalog.Map{ID: 1, Name: "floor", OriginX: 0, OriginY: 500, Scale: 100})
	h.fake.AddGeofence(catalog.Geofence{
		ID: 10, Name: "dock", MapID: 1, Enabled: true,
		Polygon: geo.Polygon{{X: 0, Y: 0}, {X: 500, Y: 0}, {X: 500, Y: 500}, {X: 0, Y: 500}},
	})
	engine := geofence.NewEngine(h.fake, notify.Discard, settings.NewStore(settings.Defaults()))
	h.pipeline.alarms = engine
	ctx := context.Background()

	// (12,3) lands outside the dock on both reports
	require.NoError(t, h.pipeline.Submit(ctx, report("AA:BB:CC:DD:EE:01", 12, 3, 1, "1700000000")))
	require.NoError(t, h.pipeline.Submit(ctx, report("aa:bb:cc:dd:ee:01", 12, 3, 1, "1700000001")))

	ids, err := h.state.ActiveDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:01"}, ids)

	history, err := h.state.History(ctx, "aa:bb:cc:dd:ee:01", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	active := engine.ActiveAlarms()
	require.Len(t, active, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", active[0].DeviceID)
	assert.Len(t, h.fake.Alarms(), 1, "the second report does not raise again")
}

func TestSubmit_RealPool(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("aa")

	pool := workerpool.New("ingest-test", 2, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Serve(ctx) }()
	h.pipeline.workers = pool

	for i := 0; i < 20; i++ {
		require.NoError(t, h.pipeline.Submit(context.Background(), report("aa", float64(i), 0, 1, "1700000000")))
	}

	// shutdown drains queued work
	cancel()
	<-done

	history, err := h.state.History(context.Background(), "aa", 0)
	require.NoError(t, err)
	assert.Len(t, history, 20)
	assert.ErrorIs(t, h.pipeline.Submit(context.Background(), report("aa", 0, 0, 1, "1")), workerpool.ErrPoolClosed)
}
