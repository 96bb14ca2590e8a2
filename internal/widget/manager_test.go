package widget

import (
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

type fakeConn struct {
	mu     sync.Mutex
	closed int
}

func (f *fakeConn) Close(websocket.StatusCode, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func TestManagerRegister(t *testing.T) {
	sm := NewManager()
	conn := &fakeConn{}
	sm.Register("tab-1", conn)

	if sm.GetActive("tab-1") != conn || !sm.IsActive("tab-1") {
		t.Errorf("connection not registered")
	}
	if sm.Count() != 1 {
		t.Errorf("expected 1 connection, got %d", sm.Count())
	}
}

func TestManagerReplaceClosesPrevious(t *testing.T) {
	sm := NewManager()
	first, second := &fakeConn{}, &fakeConn{}
	sm.Register("tab-1", first)
	sm.Register("tab-1", second)

	if first.closed != 1 {
		t.Errorf("previous connection should be closed")
	}
	sm.Unregister("tab-1", first)
	if sm.GetActive("tab-1") != second {
		t.Errorf("stale unregister removed the current connection")
	}
}

func TestManagerCloseSession(t *testing.T) {
	sm := NewManager()
	conn := &fakeConn{}
	sm.Register("tab-1", conn)
	sm.CloseSession("tab-1")
	sm.CloseSession("missing")

	if conn.closed != 1 || sm.IsActive("tab-1") {
		t.Errorf("session not closed")
	}
}

func TestManagerConcurrentAccess(t *testing.T) {
	sm := NewManager()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 1000 {
			sm.Register("tab-"+strconv.Itoa(i), &fakeConn{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := range 1000 {
			sm.IsActive("tab-" + strconv.Itoa(i))
		}
	}()
	wg.Wait()
	if sm.Count() != 1000 {
		t.Errorf("expected 1000 connections, got %d", sm.Count())
	}
}

func TestManagerCloseAll(t *testing.T) {
	sm := NewManager()
	conns := []*fakeConn{{}, {}, {}}
	for i, c := range conns {
		sm.Register("tab-"+strconv.Itoa(i), c)
	}

	if n := sm.CloseAll("server shutting down"); n != 3 {
		t.Errorf("expected 3 closed, got %d", n)
	}
	for i, c := range conns {
		if c.closed != 1 {
			t.Errorf("conn %d closed %d times", i, c.closed)
		}
	}
	if sm.Count() != 0 {
		t.Errorf("registry not emptied, count=%d", sm.Count())
	}
}
