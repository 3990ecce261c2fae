package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestManualSchedulerAdvance(t *testing.T) {
	s := NewManualScheduler()

	var fast, slow int
	s.ScheduleRepeating(10*time.Second, func() { fast++ })
	cancelSlow := s.ScheduleRepeating(time.Minute, func() { slow++ })

	s.Advance(59 * time.Second)
	if fast != 5 || slow != 0 {
		t.Fatalf("after 59s: fast=%d slow=%d", fast, slow)
	}

	s.Advance(time.Second)
	if fast != 6 || slow != 1 {
		t.Fatalf("after 60s: fast=%d slow=%d", fast, slow)
	}

	cancelSlow()
	cancelSlow()
	s.Advance(2 * time.Minute)
	if slow != 1 {
		t.Fatalf("cancelled task ran again: slow=%d", slow)
	}
	if s.Len() != 1 {
		t.Fatalf("expected one remaining task, got %d", s.Len())
	}
}

func TestManualSchedulerTaskMayCancelItself(t *testing.T) {
	s := NewManualScheduler()

	runs := 0
	var cancel CancelFunc
	cancel = s.ScheduleRepeating(time.Second, func() {
		runs++
		cancel()
	})

	s.Advance(10 * time.Second)
	if runs != 1 {
		t.Fatalf("expected exactly one run, got %d", runs)
	}
}

func TestManualSchedulerFireAll(t *testing.T) {
	s := NewManualScheduler()
	var order []int
	s.ScheduleRepeating(time.Hour, func() { order = append(order, 1) })
	s.ScheduleRepeating(time.Second, func() { order = append(order, 2) })

	s.FireAll()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestTickerSchedulerCancel(t *testing.T) {
	s := NewTickerScheduler(context.Background())

	var runs atomic.Int64
	cancel := s.ScheduleRepeating(5*time.Millisecond, func() { runs.Add(1) })

	deadline := time.Now().Add(time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if runs.Load() < 2 {
		t.Fatalf("ticker did not fire")
	}

	time.Sleep(20 * time.Millisecond)
	settled := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != settled {
		t.Fatalf("task kept running after cancel")
	}
}

func TestTickerSchedulerRejectsBadInterval(t *testing.T) {
	s := NewTickerScheduler(nil)
	cancel := s.ScheduleRepeating(0, func() { t.Fatalf("should never run") })
	cancel()
}
