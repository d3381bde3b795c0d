// Package pool provides the fixed-size worker pool that drives parallel
// chunk compression. One pool may be shared by any number of encoders;
// the pool refuses to shut down while an encoder is still attached.
package pool

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

var (
	ErrReleased = errors.New("pool: already released")
	ErrInUse    = errors.New("pool: encoders still attached")
)

// Pool runs submitted tasks on a fixed set of worker goroutines. Tasks
// are dequeued first-in first-out, but completion order is up to the
// scheduler.
type Pool struct {
	queue    chan func()
	workers  sync.WaitGroup
	refs     atomic.Int32
	released atomic.Bool
}

// New creates a pool with the given number of workers; 0 means the
// detected number of logical CPUs.
func New(threads int) *Pool {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	p := &Pool{queue: make(chan func(), threads*4)}
	for i := 0; i < threads; i++ {
		p.workers.Add(1)
		go func() {
			defer p.workers.Done()
			for task := range p.queue {
				task()
			}
		}()
	}
	return p
}

// Submit enqueues a task for asynchronous execution. It blocks when the
// queue is full, which throttles producers to roughly the pool's pace.
func (p *Pool) Submit(task func()) {
	p.queue <- task
}

// Attach registers a client that will be submitting work. Every Attach
// must be balanced by a Detach before the pool can be released.
func (p *Pool) Attach() error {
	if p.released.Load() {
		return ErrReleased
	}
	p.refs.Add(1)
	return nil
}

// Detach unregisters a client previously registered with Attach.
func (p *Pool) Detach() {
	p.refs.Add(-1)
}

// Release stops the workers and waits for queued tasks to finish. It
// fails, leaving the pool usable, if any client is still attached.
func (p *Pool) Release() error {
	if p.refs.Load() > 0 {
		return ErrInUse
	}
	if !p.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	close(p.queue)
	p.workers.Wait()
	return nil
}

var (
	defaultOnce sync.Once
	defaultPool *Pool
)

// Default returns the process-wide shared pool, creating it on first
// use with one worker per logical CPU. The default pool is never
// released.
func Default() *Pool {
	defaultOnce.Do(func() {
		defaultPool = New(0)
	})
	return defaultPool
}
