// Package dispatch runs slow or blocking work on background workers while
// keeping every state mutation on the goroutine that drains results. Workers
// only execute tasks and queue their outcomes; callbacks fire exclusively
// inside Drain, so the draining goroutine can touch shared state without locks.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Task is a unit of background work. The context is cancelled when the
// dispatcher shuts down, so long-running tasks should honor it.
type Task func(ctx context.Context) (interface{}, error)

type job struct {
	task      Task
	onSuccess func(interface{})
	onError   func(error)
}

type outcome struct {
	job   job
	value interface{}
	err   error
}

// ErrShutdown is returned by Submit once Shutdown has begun.
var ErrShutdown = errors.New("dispatcher is shut down")

// Dispatcher owns a small worker pool and a result queue. Submit may be
// called from any goroutine; Drain must be called from exactly one.
type Dispatcher struct {
	jobs    chan job
	results chan outcome

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New starts a dispatcher with the given number of workers. queueSize bounds
// both the pending-job and pending-result queues.
func New(workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		jobs:    make(chan job, queueSize),
		results: make(chan outcome, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case j, ok := <-d.jobs:
			if !ok {
				return
			}
			value, err := j.task(d.ctx)
			select {
			case d.results <- outcome{job: j, value: value, err: err}:
			case <-d.ctx.Done():
				// Shutdown already started, the result has no consumer.
				return
			}
		}
	}
}

// Submit enqueues a task for a worker. Either callback may be nil. Callbacks
// are never invoked here or on a worker, only from Drain.
func (d *Dispatcher) Submit(task Task, onSuccess func(interface{}), onError func(error)) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrShutdown
	}

	select {
	case d.jobs <- job{task: task, onSuccess: onSuccess, onError: onError}:
		return nil
	case <-d.ctx.Done():
		return ErrShutdown
	}
}

// Drain pops every completed result and invokes its callback synchronously on
// the calling goroutine. It never blocks waiting for in-flight work. Returns
// the number of results applied.
func (d *Dispatcher) Drain() int {
	applied := 0
	for {
		select {
		case res := <-d.results:
			if res.err != nil {
				if res.job.onError != nil {
					res.job.onError(res.err)
				}
			} else if res.job.onSuccess != nil {
				res.job.onSuccess(res.value)
			}
			applied++
		default:
			return applied
		}
	}
}

// Shutdown stops accepting work, cancels in-flight tasks, and waits for the
// workers up to the given timeout. Queued tasks that never started are
// dropped without running their callbacks. A worker stuck in a blocking call
// past the timeout is abandoned rather than waited on.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("dispatcher workers did not exit before timeout")
	}
}
