package engine

import (
	"context"
	"sync"
)

// Loop runs posted functions one at a time on the goroutine that calls Run.
// Every Controller method is invoked through a Loop, so controller state is
// never touched concurrently.
type Loop struct {
	tasks chan func()
	stop  chan struct{}
	once  sync.Once
}

// NewLoop creates a loop with room for buffer queued tasks.
func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 64
	}
	return &Loop{
		tasks: make(chan func(), buffer),
		stop:  make(chan struct{}),
	}
}

// Post queues fn. It blocks while the queue is full and reports false once
// the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stop:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.stop:
		return false
	}
}

// Run executes tasks until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.stop:
			return nil
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Stop ends Run. Tasks still queued are discarded.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stop) })
}
