// Package worker provides bounded goroutine pools.
package worker

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool runs submitted tasks on a fixed set of goroutines. With a single
// worker, tasks run in submission order.
type Pool struct {
	workers   int
	taskQueue chan func()
	wg        sync.WaitGroup

	// mu guards running against concurrent Submit and Stop so that a task
	// is never sent on a closed queue.
	mu      sync.RWMutex
	running bool

	tasksTotal   atomic.Uint64
	tasksDone    atomic.Uint64
	tasksDropped atomic.Uint64
}

// NewPool creates a pool with the given number of workers and queue
// capacity. Non-positive workers defaults to runtime.NumCPU(); non-positive
// queueSize defaults to 100 per worker.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = workers * 100
	}

	return &Pool{
		workers:   workers,
		taskQueue: make(chan func(), queueSize),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for task := range p.taskQueue {
		task()
		p.tasksDone.Add(1)
	}
}

// Submit queues a task without blocking. It returns false if the pool is
// not running or the queue is full.
func (p *Pool) Submit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		p.tasksDropped.Add(1)
		return false
	}

	select {
	case p.taskQueue <- task:
		p.tasksTotal.Add(1)
		return true
	default:
		p.tasksDropped.Add(1)
		return false
	}
}

// SubmitWait queues a task and blocks until it has run.
func (p *Pool) SubmitWait(task func()) bool {
	done := make(chan struct{})
	if !p.Submit(func() {
		defer close(done)
		task()
	}) {
		return false
	}

	<-done
	return true
}

// Stop rejects new tasks, runs everything already queued and waits for
// the workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.taskQueue)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	running := p.running
	p.mu.RUnlock()

	return PoolStats{
		Workers:      p.workers,
		Running:      running,
		TasksTotal:   p.tasksTotal.Load(),
		TasksDone:    p.tasksDone.Load(),
		TasksDropped: p.tasksDropped.Load(),
		QueueLen:     len(p.taskQueue),
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Workers      int
	Running      bool
	TasksTotal   uint64
	TasksDone    uint64
	TasksDropped uint64
	QueueLen     int
}
