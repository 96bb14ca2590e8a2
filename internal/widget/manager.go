package widget

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Closer is the part of a WebSocket connection the registry needs.
type Closer interface {
	Close(code websocket.StatusCode, reason string) error
}

// Manager tracks the live connection of each tab.
type Manager struct {
	mu     sync.RWMutex
	active map[string]Closer
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{active: make(map[string]Closer)}
}

// GetActive returns the live connection for tabID.
func (m *Manager) GetActive(tabID string) Closer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[tabID]
}

// IsActive reports whether tabID has a live connection.
func (m *Manager) IsActive(tabID string) bool {
	return m.GetActive(tabID) != nil
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Register records conn for tabID. A previous connection for the same tab is
// closed; its page has been navigated away from.
func (m *Manager) Register(tabID string, conn Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.active[tabID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[tabID] = conn
	slog.Info("Widget session registered", "tab_id", tabID)
}

// Unregister removes conn if it is still the tab's current connection.
func (m *Manager) Unregister(tabID string, conn Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.active[tabID]; exists && current == conn {
		delete(m.active, tabID)
		slog.Info("Widget session unregistered", "tab_id", tabID)
	}
}

// CloseSession terminates the live connection for tabID, if any.
func (m *Manager) CloseSession(tabID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.active[tabID]
	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	delete(m.active, tabID)
	slog.Info("Widget session closed", "tab_id", tabID)
}

// CloseAll terminates every live connection and returns how many it closed.
// Connections are closed concurrently; each waits for its close handshake.
func (m *Manager) CloseAll(reason string) int {
	m.mu.Lock()
	conns := make([]Closer, 0, len(m.active))
	for tabID, conn := range m.active {
		conns = append(conns, conn)
		delete(m.active, tabID)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c Closer) {
			defer wg.Done()
			_ = c.Close(websocket.StatusGoingAway, reason)
		}(conn)
	}
	wg.Wait()
	if len(conns) > 0 {
		slog.Info("Widget sessions closed", "count", len(conns), "reason", reason)
	}
	return len(conns)
}
