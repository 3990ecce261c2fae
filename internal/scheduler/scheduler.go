// Package scheduler decouples periodic work from the host's timers.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// CancelFunc stops future runs of a scheduled task. A run already in
// progress is allowed to finish. Calling it more than once is safe.
type CancelFunc func()

// Scheduler runs a function repeatedly at a fixed interval.
type Scheduler interface {
	ScheduleRepeating(interval time.Duration, fn func()) CancelFunc
}

// TickerScheduler runs each task on its own goroutine driven by a
// time.Ticker. Runs of one task never overlap.
type TickerScheduler struct {
	ctx context.Context
}

// NewTickerScheduler creates a scheduler whose tasks all stop when ctx is
// done.
func NewTickerScheduler(ctx context.Context) *TickerScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &TickerScheduler{ctx: ctx}
}

// ScheduleRepeating implements Scheduler. The first run happens one
// interval after scheduling.
func (s *TickerScheduler) ScheduleRepeating(interval time.Duration, fn func()) CancelFunc {
	ctx, cancel := context.WithCancel(s.ctx)
	if interval <= 0 || fn == nil {
		cancel()
		return func() {}
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Cancellation may race with the tick; re-check before running.
				if ctx.Err() != nil {
					return
				}
				fn()
			}
		}
	}()

	return CancelFunc(cancel)
}

// ManualScheduler is a deterministic Scheduler driven by Advance. It is
// intended for tests and offline replays.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	nextID int
	tasks  map[int]*manualTask
}

type manualTask struct {
	id       int
	interval time.Duration
	next     time.Duration
	fn       func()
}

// NewManualScheduler creates an empty manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{tasks: make(map[int]*manualTask)}
}

// ScheduleRepeating implements Scheduler.
func (s *ManualScheduler) ScheduleRepeating(interval time.Duration, fn func()) CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	if interval <= 0 || fn == nil {
		return func() {}
	}

	s.nextID++
	id := s.nextID
	s.tasks[id] = &manualTask{id: id, interval: interval, next: s.now + interval, fn: fn}

	return func() {
		s.mu.Lock()
		delete(s.tasks, id)
		s.mu.Unlock()
	}
}

// Advance moves virtual time forward by d, running every task that comes
// due in time order. Tasks run without the scheduler lock held.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		task := s.nextDue(target)
		if task == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = task.next
		task.next += task.interval
		fn := task.fn
		s.mu.Unlock()

		fn()
	}
}

// FireAll runs every scheduled task once, in scheduling order, without
// moving virtual time.
func (s *ManualScheduler) FireAll() {
	s.mu.Lock()
	ids := make([]int, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.tasks[id].fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Len returns the number of scheduled tasks.
func (s *ManualScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *ManualScheduler) nextDue(target time.Duration) *manualTask {
	var due *manualTask
	for _, t := range s.tasks {
		if t.next > target {
			continue
		}
		if due == nil || t.next < due.next || (t.next == due.next && t.id < due.id) {
			due = t
		}
	}
	return due
}
