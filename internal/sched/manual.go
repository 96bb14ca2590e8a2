package sched

import (
	"sort"
	"time"
)

// Manual is a Scheduler driven by Advance instead of the wall clock.
// It is meant for tests and is not safe for concurrent use.
type Manual struct {
	now   time.Duration
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	due    time.Duration
	seq    int
	fn     func()
	handle *Handle
}

// NewManual creates a manual scheduler at time zero.
func NewManual() *Manual {
	return &Manual{}
}

// After implements Scheduler.
func (m *Manual) After(d time.Duration, fn func()) *Handle {
	h := &Handle{}
	m.seq++
	m.tasks = append(m.tasks, &manualTask{due: m.now + d, seq: m.seq, fn: fn, handle: h})
	return h
}

// Advance moves the clock forward by d, running due tasks in order.
// Tasks scheduled while advancing run too if they fall due within d.
func (m *Manual) Advance(d time.Duration) {
	target := m.now + d
	for {
		next := m.popDue(target)
		if next == nil {
			break
		}
		m.now = next.due
		next.handle.run(next.fn)
	}
	m.now = target
}

// Pending returns the number of tasks not yet run or cancelled.
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.tasks {
		if !t.handle.Done() {
			n++
		}
	}
	return n
}

// Now returns the elapsed virtual time.
func (m *Manual) Now() time.Duration {
	return m.now
}

func (m *Manual) popDue(target time.Duration) *manualTask {
	sort.SliceStable(m.tasks, func(i, j int) bool {
		if m.tasks[i].due == m.tasks[j].due {
			return m.tasks[i].seq < m.tasks[j].seq
		}
		return m.tasks[i].due < m.tasks[j].due
	})
	for i, t := range m.tasks {
		if t.handle.Cancelled() {
			continue
		}
		if t.due > target {
			return nil
		}
		m.tasks = append(m.tasks[:i:i], m.tasks[i+1:]...)
		return t
	}
	return nil
}
