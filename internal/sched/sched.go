// Package sched provides cancellable delayed tasks.
//
// Every timer the widget arms (settle delays, recognition restart polls,
// delayed host actions) goes through a Scheduler and returns a Handle, so a
// superseding event can invalidate it before it fires.
package sched

import (
	"sync/atomic"
	"time"
)

// Scheduler arms fn to run once after d.
type Scheduler interface {
	After(d time.Duration, fn func()) *Handle
}

// Handle identifies one scheduled task.
type Handle struct {
	cancelled atomic.Bool
	fired     atomic.Bool
	stop      func() bool
}

// Cancel invalidates the task. It reports whether this call cancelled a task
// that had not yet run. Safe on a nil Handle.
func (h *Handle) Cancel() bool {
	if h == nil || h.fired.Load() {
		return false
	}
	if h.cancelled.Swap(true) {
		return false
	}
	if h.stop != nil {
		h.stop()
	}
	return true
}

// Cancelled reports whether Cancel was called before the task ran.
func (h *Handle) Cancelled() bool {
	return h != nil && h.cancelled.Load()
}

// Done reports whether the task ran or was cancelled.
func (h *Handle) Done() bool {
	return h == nil || h.fired.Load() || h.cancelled.Load()
}

// run executes fn unless the handle was cancelled first.
func (h *Handle) run(fn func()) {
	if h.cancelled.Load() {
		return
	}
	h.fired.Store(true)
	fn()
}

// TimerScheduler backs tasks with time.AfterFunc. When post is set, the task
// body is handed to post instead of running on the timer goroutine, which lets
// an event loop keep all state on one goroutine.
type TimerScheduler struct {
	post func(func())
}

// NewTimerScheduler creates a wall-clock scheduler.
func NewTimerScheduler(post func(func())) *TimerScheduler {
	return &TimerScheduler{post: post}
}

// After implements Scheduler.
func (s *TimerScheduler) After(d time.Duration, fn func()) *Handle {
	h := &Handle{}
	t := time.AfterFunc(d, func() {
		if s.post == nil {
			h.run(fn)
			return
		}
		s.post(func() { h.run(fn) })
	})
	h.stop = t.Stop
	return h
}

// Group tracks handles so they can be cancelled together.
type Group struct {
	handles []*Handle
}

// Add records h. Finished handles are pruned on the way.
func (g *Group) Add(h *Handle) {
	if h == nil {
		return
	}
	live := g.handles[:0]
	for _, existing := range g.handles {
		if !existing.Done() {
			live = append(live, existing)
		}
	}
	g.handles = append(live, h)
}

// CancelAll cancels every pending handle and returns how many were live.
func (g *Group) CancelAll() int {
	n := 0
	for _, h := range g.handles {
		if h.Cancel() {
			n++
		}
	}
	g.handles = nil
	return n
}

// Pending returns the number of handles that have neither run nor been cancelled.
func (g *Group) Pending() int {
	n := 0
	for _, h := range g.handles {
		if !h.Done() {
			n++
		}
	}
	return n
}
