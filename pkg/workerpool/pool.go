// Package workerpool runs fire-and-forget tasks on a fixed set of goroutines.
//
// Tasks are best effort: Submit returns once a task is queued, and the caller
// gets no completion signal. Panics inside a task are recovered and logged so
// one bad task never takes a worker down. When the pool's context ends the
// workers drain whatever is still queued, then exit.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nicktill/tinytrack/pkg/logging"
)

var (
	// ErrPoolClosed is returned by Submit after the pool has stopped.
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrQueueFull is returned by TrySubmit when the queue has no room.
	ErrQueueFull = errors.New("worker pool queue full")
)

// Executor accepts tasks for asynchronous execution.
type Executor interface {
	Submit(task func()) error
}

// TrySubmitter is an Executor that can refuse a task instead of waiting for
// queue space.
type TrySubmitter interface {
	TrySubmit(task func()) error
}

// TrySubmit queues task without blocking when e supports it, and falls back
// to e.Submit otherwise.
func TrySubmit(e Executor, task func()) error {
	if ts, ok := e.(TrySubmitter); ok {
		return ts.TrySubmit(task)
	}
	return e.Submit(task)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(task func()) error

// Submit calls f(task).
func (f ExecutorFunc) Submit(task func()) error {
	return f(task)
}

// Inline runs each task on the caller's goroutine. Tests use it to make the
// asynchronous path deterministic.
var Inline Executor = ExecutorFunc(func(task func()) error {
	task()
	return nil
})

// Pool is a bounded queue served by a fixed number of workers. It implements
// suture.Service.
type Pool struct {
	name    string
	workers int
	tasks   chan func()

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a pool. Workers start when Serve is called; tasks submitted
// before that wait in the queue.
func New(name string, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		name:    name,
		workers: workers,
		tasks:   make(chan func(), queueSize),
		done:    make(chan struct{}),
	}
}

// Submit queues a task, blocking while the queue is full.
func (p *Pool) Submit(task func()) error {
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.done:
		return ErrPoolClosed
	}
}

// TrySubmit queues a task, or returns ErrQueueFull at once when the queue
// is full.
func (p *Pool) TrySubmit(task func()) error {
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.done:
		return ErrPoolClosed
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued tasks.
func (p *Pool) Pending() int {
	return len(p.tasks)
}

// Serve runs the workers until ctx ends, then drains the queue.
func (p *Pool) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}

	<-ctx.Done()
	p.closeOnce.Do(func() { close(p.done) })
	wg.Wait()
	p.drain()
	return ctx.Err()
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case task := <-p.tasks:
			p.run(task)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) drain() {
	for {
		select {
		case task := <-p.tasks:
			p.run(task)
		default:
			return
		}
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Str("pool", p.name).Str("panic", fmt.Sprint(r)).Msg("task panicked")
		}
	}()
	task()
}

func (p *Pool) String() string {
	return "workerpool:" + p.name
}
