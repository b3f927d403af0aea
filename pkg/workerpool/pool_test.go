package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsTasks(t *testing.T) {
	pool := New("test", 4, 16)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- pool.Serve(ctx) }()

	var (
		wg    sync.WaitGroup
		count atomic.Int64
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			defer wg.Done()
			count.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int64(100), count.Load())

	cancel()
	<-served
}

func TestPool_RecoversPanics(t *testing.T) {
	pool := New("panicky", 1, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Serve(ctx)

	ran := make(chan struct{})
	require.NoError(t, pool.Submit(func() { panic("boom") }))
	require.NoError(t, pool.Submit(func() { close(ran) }))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

func TestPool_DrainsOnShutdown(t *testing.T) {
	pool := New("drain", 1, 10)

	var count atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(func() { count.Add(1) }))
	}
	assert.Equal(t, 10, pool.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = pool.Serve(ctx)

	assert.Equal(t, int64(10), count.Load())
	assert.ErrorIs(t, pool.Submit(func() {}), ErrPoolClosed)
}

func TestPool_TrySubmitRefusesWhenFull(t *testing.T) {
	pool := New("busy", 1, 2)

	require.NoError(t, pool.TrySubmit(func() {}))
	require.NoError(t, pool.TrySubmit(func() {}))
	assert.ErrorIs(t, pool.TrySubmit(func() {}), ErrQueueFull)
	assert.ErrorIs(t, TrySubmit(pool, func() {}), ErrQueueFull)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = pool.Serve(ctx)
	assert.ErrorIs(t, pool.TrySubmit(func() {}), ErrPoolClosed)
}

func TestTrySubmit_FallsBackToSubmit(t *testing.T) {
	ran := false
	require.NoError(t, TrySubmit(Inline, func() { ran = true }))
	assert.True(t, ran)
}

func TestInline(t *testing.T) {
	ran := false
	require.NoError(t, Inline.Submit(func() { ran = true }))
	assert.True(t, ran)
}
