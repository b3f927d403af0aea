package batch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/tracking"
)

type mockTransport struct {
	mu      sync.Mutex
	batches [][]tracking.Report
	sendErr error
}

func (m *mockTransport) Send(ctx context.Context, batch []tracking.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]tracking.Report(nil), batch...))
	return m.sendErr
}

func (m *mockTransport) getBatches() [][]tracking.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]tracking.Report(nil), m.batches...)
}

func (m *mockTransport) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func report(i int) tracking.Report {
	return tracking.Report{TagMAC: "aa:bb:cc:dd:ee:01", Timestamp: tracking.EpochText(strconv.Itoa(1714550400 + i))}
}

func TestAddTriggersFlushWhenFull(t *testing.T) {
	tr := &mockTransport{}
	b := New(tr, Config{MaxBatchSize: 5, FlushEvery: time.Hour})
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	for i := 0; i < 5; i++ {
		b.Add(report(i))
	}

	require.Eventually(t, func() bool { return tr.total() == 5 }, time.Second, 10*time.Millisecond)
	batches := tr.getBatches()
	require.Len(t, batches, 1)
	for i, r := range batches[0] {
		assert.Equal(t, report(i).Timestamp, r.Timestamp, "order within a batch")
	}
	assert.Equal(t, int64(5), b.Sent())
}

func TestPeriodicFlush(t *testing.T) {
	tr := &mockTransport{}
	b := New(tr, Config{MaxBatchSize: 100, FlushEvery: 20 * time.Millisecond})
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	b.Add(report(0))
	b.Add(report(1))

	require.Eventually(t, func() bool { return tr.total() == 2 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, b.Pending())
}

func TestManualFlush(t *testing.T) {
	tr := &mockTransport{}
	b := New(tr, Config{MaxBatchSize: 100, FlushEvery: time.Hour})

	b.Add(report(0))
	assert.Equal(t, 1, b.Pending())
	require.NoError(t, b.Flush())
	assert.Equal(t, 1, tr.total())
	assert.Zero(t, b.Pending())
}

func TestStopFlushesPending(t *testing.T) {
	tr := &mockTransport{}
	b := New(tr, Config{MaxBatchSize: 100, FlushEvery: time.Hour})
	require.NoError(t, b.Start(context.Background()))

	for i := 0; i < 3; i++ {
		b.Add(report(i))
	}
	require.NoError(t, b.Stop())
	assert.Equal(t, 3, tr.total())
}

func TestStopAfterParentCancel(t *testing.T) {
	tr := &mockTransport{}
	b := New(tr, Config{MaxBatchSize: 100, FlushEvery: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Start(ctx))

	b.Add(report(0))
	cancel()
	require.NoError(t, b.Stop())
	assert.Equal(t, 1, tr.total())
}

func TestFlushEmpty(t *testing.T) {
	tr := &mockTransport{}
	b := New(tr, Config{MaxBatchSize: 10, FlushEvery: time.Hour})

	require.NoError(t, b.Flush())
	assert.Empty(t, tr.getBatches())
}

func TestFailedUploadCounted(t *testing.T) {
	tr := &mockTransport{sendErr: errors.New("boom")}
	b := New(tr, Config{MaxBatchSize: 10, FlushEvery: time.Hour})

	b.Add(report(0))
	b.Add(report(1))
	assert.Error(t, b.Flush())
	assert.Equal(t, int64(2), b.Failed())
	assert.Zero(t, b.Sent())
	assert.Zero(t, b.Pending())
}

func TestConcurrentAdd(t *testing.T) {
	tr := &mockTransport{}
	b := New(tr, Config{MaxBatchSize: 10, FlushEvery: time.Hour})
	require.NoError(t, b.Start(context.Background()))

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Add(report(i))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, b.Stop())
	assert.Equal(t, 500, tr.total())
}
