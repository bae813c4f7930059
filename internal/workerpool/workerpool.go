// Package workerpool implements the fixed-size goroutine pool that executes
// per-connection protocol work for the event loop.
package workerpool

import (
	"sync"

	"github.com/reactord/reactord/internal/logger"
)

// Task is a nullary unit of work submitted to the pool.
type Task func()

// Pool is a fixed-size worker pool: N goroutines share one mutex+condvar
// guarded FIFO task queue.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []Task
	closed bool
	wg     sync.WaitGroup

	log *logger.Logger
}

// New starts n worker goroutines draining a shared task queue. n is clamped
// to at least 1. log may be nil, in which case a recovered task panic is
// swallowed silently rather than logged.
func New(n int, log *logger.Logger) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{log: log}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.tasks) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.tasks) == 0 {
			// closed and drained
			p.mu.Unlock()
			return
		}
		task := p.tasks[0]
		p.tasks = p.tasks[1:]
		p.mu.Unlock()

		p.runTask(task)
	}
}

// runTask executes task behind a recover guard: a single malformed request
// or bad assumption in protocol handling must never take down the shared
// worker goroutine (and, with a single worker pool serving every
// connection, the whole process).
func (p *Pool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil && p.log != nil {
			p.log.Errorf("worker: recovered panic: %v", r)
		}
	}()
	task()
}

// Submit enqueues a task and wakes one worker. Submitting to a closed pool
// is a caller error and panics rather than silently swallowing the task.
func (p *Pool) Submit(task Task) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		panic("workerpool: Submit called after Close")
	}
	p.tasks = append(p.tasks, task)
	p.mu.Unlock()
	p.cond.Signal()
}

// Close marks the pool closed and wakes every worker so queued tasks drain
// and idle workers exit. Close blocks until all workers have returned.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

// Pending returns the current queue depth, for diagnostics/tests.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}
