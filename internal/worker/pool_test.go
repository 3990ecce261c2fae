package worker

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestPoolRunsTasks(t *testing.T) {
	pool := NewPool(4, 0)
	pool.Start()

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		if !pool.Submit(func() {
			count.Add(1)
			wg.Done()
		}) {
			t.Fatalf("submit %d rejected", i)
		}
	}
	wg.Wait()
	pool.Stop()

	if count.Load() != 100 {
		t.Fatalf("expected 100 tasks, got %d", count.Load())
	}
	if stats := pool.Stats(); stats.TasksDone != 100 || stats.Running {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSingleWorkerPreservesOrder(t *testing.T) {
	pool := NewPool(1, 64)
	pool.Start()

	var mu sync.Mutex
	var seen []int
	for i := 0; i < 50; i++ {
		i := i
		pool.Submit(func() {
			mu.Lock()
			seen = append(seen, i)
			mu.Unlock()
		})
	}
	pool.Stop()

	if len(seen) != 50 {
		t.Fatalf("expected queued tasks to drain on stop, got %d", len(seen))
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestSubmitAfterStop(t *testing.T) {
	pool := NewPool(1, 1)
	pool.Start()
	pool.Stop()
	pool.Stop()

	if pool.Submit(func() {}) {
		t.Fatalf("submit after stop should be rejected")
	}
	if pool.Stats().TasksDropped != 1 {
		t.Fatalf("expected one dropped task")
	}
}

func TestSubmitWait(t *testing.T) {
	pool := NewPool(2, 0)
	pool.Start()
	defer pool.Stop()

	ran := false
	if !pool.SubmitWait(func() { ran = true }) || !ran {
		t.Fatalf("SubmitWait did not run the task")
	}
}

func BenchmarkPoolSubmitWait(b *testing.B) {
	pool := NewPool(4, 0)
	pool.Start()
	defer pool.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.SubmitWait(func() {})
	}
}
