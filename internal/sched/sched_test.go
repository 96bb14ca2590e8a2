package sched

import (
	"sync"
	"testing"
	"time"
)

func TestManualRunsInDueOrder(t *testing.T) {
	m := NewManual()
	var got []string
	m.After(300*time.Millisecond, func() { got = append(got, "c") })
	m.After(100*time.Millisecond, func() { got = append(got, "a") })
	m.After(200*time.Millisecond, func() { got = append(got, "b") })

	m.Advance(250 * time.Millisecond)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected order after 250ms: %v", got)
	}
	m.Advance(100 * time.Millisecond)
	if len(got) != 3 || got[2] != "c" {
		t.Fatalf("expected c to run: %v", got)
	}
}

func TestManualCancelledTaskNeverRuns(t *testing.T) {
	m := NewManual()
	ran := false
	h := m.After(time.Second, func() { ran = true })
	if !h.Cancel() {
		t.Fatal("expected first cancel to succeed")
	}
	if h.Cancel() {
		t.Error("second cancel should report false")
	}
	m.Advance(2 * time.Second)
	if ran {
		t.Error("cancelled task ran")
	}
	if m.Pending() != 0 {
		t.Errorf("expected no pending tasks, got %d", m.Pending())
	}
}

func TestManualChainedTasks(t *testing.T) {
	m := NewManual()
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			m.After(500*time.Millisecond, tick)
		}
	}
	m.After(500*time.Millisecond, tick)
	m.Advance(1500 * time.Millisecond)
	if count != 3 {
		t.Errorf("expected 3 ticks, got %d", count)
	}
}

func TestGroupCancelAll(t *testing.T) {
	m := NewManual()
	var g Group
	ran := 0
	g.Add(m.After(time.Second, func() { ran++ }))
	g.Add(m.After(2*time.Second, func() { ran++ }))
	m.Advance(time.Second)

	if g.Pending() != 1 {
		t.Fatalf("expected 1 pending, got %d", g.Pending())
	}
	if n := g.CancelAll(); n != 1 {
		t.Errorf("expected 1 cancelled, got %d", n)
	}
	m.Advance(5 * time.Second)
	if ran != 1 {
		t.Errorf("expected exactly one run, got %d", ran)
	}
}

func TestNilHandleIsSafe(t *testing.T) {
	var h *Handle
	if h.Cancel() {
		t.Error("nil cancel should be false")
	}
	if !h.Done() {
		t.Error("nil handle should be done")
	}
}

func TestTimerSchedulerPostsToLoop(t *testing.T) {
	var mu sync.Mutex
	posted := 0
	done := make(chan struct{})
	s := NewTimerScheduler(func(fn func()) {
		mu.Lock()
		posted++
		mu.Unlock()
		fn()
	})
	s.After(5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	mu.Lock()
	defer mu.Unlock()
	if posted != 1 {
		t.Errorf("expected 1 post, got %d", posted)
	}
}

func TestTimerSchedulerCancel(t *testing.T) {
	s := NewTimerScheduler(nil)
	fired := make(chan struct{}, 1)
	h := s.After(20*time.Millisecond, func() { fired <- struct{}{} })
	h.Cancel()
	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}
