package sdk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/tracking"
)

type recordingTransport struct {
	mu      sync.Mutex
	reports []tracking.Report
}

func (r *recordingTransport) Send(_ context.Context, reports []tracking.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, reports...)
	return nil
}

func (r *recordingTransport) all() []tracking.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tracking.Report(nil), r.reports...)
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(ClientConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpoint, c.config.Endpoint)
	assert.Equal(t, time.Second, c.config.FlushEvery)
	assert.Equal(t, 100, c.config.MaxBatchSize)
}

func TestClient_StartStop(t *testing.T) {
	tr := &recordingTransport{}
	c := newClient(ClientConfig{FlushEvery: time.Hour}, tr)

	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()), "second start")
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
}

func TestClient_DropsBeforeStart(t *testing.T) {
	tr := &recordingTransport{}
	c := newClient(ClientConfig{FlushEvery: time.Hour}, tr)

	c.Position("aa", 1, 1, 1, time.Now())
	require.NoError(t, c.Flush())
	assert.Empty(t, tr.all())
}

func TestClient_Position(t *testing.T) {
	tr := &recordingTransport{}
	c := newClient(ClientConfig{FlushEvery: time.Hour}, tr)
	require.NoError(t, c.Start(context.Background()))

	ts := time.UnixMilli(1714550400250)
	c.Position("AA:BB:CC:DD:EE:01", 7, 3.5, 1.25, ts)
	c.Position("AA:BB:CC:DD:EE:01", 7, 4, 1.25, ts.Add(time.Second))
	require.NoError(t, c.Stop())

	got := tr.all()
	require.Len(t, got, 2)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", got[0].TagMAC)
	assert.Equal(t, tracking.EpochText("1714550400.25"), got[0].Timestamp)
	assert.Equal(t, tracking.EpochText("1714550401.25"), got[1].Timestamp)
	require.NotNil(t, got[0].X)
	assert.Equal(t, 3.5, *got[0].X)
	assert.Equal(t, int64(7), *got[1].MapID)

	sent, failed := c.Stats()
	assert.Equal(t, int64(2), sent)
	assert.Zero(t, failed)
}

func TestTimestamp(t *testing.T) {
	assert.Equal(t, tracking.EpochText("1714550400"), Timestamp(time.Unix(1714550400, 0)))
	assert.Equal(t, tracking.EpochText("1714550400.5"), Timestamp(time.UnixMilli(1714550400500)))

	parsed, err := tracking.ParseEpoch(string(Timestamp(time.UnixMilli(1714550400123))))
	require.NoError(t, err)
	assert.Equal(t, int64(1714550400123), parsed.UnixMilli())
}
