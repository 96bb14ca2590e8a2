package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/tellerbot/internal/domain"
)

// MemoryStore keeps sessions in process memory. State does not survive a
// restart of the server.
type MemoryStore struct {
	mu      sync.Mutex
	tabs    map[string]map[string]string
	touched map[string]time.Time
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		tabs:    make(map[string]map[string]string),
		touched: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Load implements SessionStore.
func (m *MemoryStore) Load(_ context.Context, tabID string) (domain.SessionState, error) {
	if tabID == "" {
		return domain.NewSessionState(), ErrInvalidTabID
	}
	m.mu.Lock()
	raw := maps.Clone(m.tabs[tabID])
	m.mu.Unlock()
	return decodeState(tabID, raw), nil
}

// Save implements SessionStore.
func (m *MemoryStore) Save(_ context.Context, tabID string, patch Patch) error {
	if tabID == "" {
		return ErrInvalidTabID
	}
	values, err := encodePatch(patch)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(tabID, values)
	return nil
}

// SetRaw stores a raw value for key, bypassing encoding.
func (m *MemoryStore) SetRaw(tabID, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(tabID, map[string]string{key: value})
}

func (m *MemoryStore) putLocked(tabID string, values map[string]string) {
	tab, ok := m.tabs[tabID]
	if !ok {
		tab = make(map[string]string)
		m.tabs[tabID] = tab
	}
	for k, v := range values {
		tab[k] = v
	}
	m.touched[tabID] = m.now()
}

// Clear implements SessionStore.
func (m *MemoryStore) Clear(_ context.Context, tabID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tabs, tabID)
	delete(m.touched, tabID)
	return nil
}

// IdleSessions implements SessionStore.
func (m *MemoryStore) IdleSessions(_ context.Context, ttl time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	threshold := m.now().Add(-ttl)
	var idle []string
	for tabID, at := range m.touched {
		if at.Before(threshold) {
			idle = append(idle, tabID)
		}
	}
	sort.Strings(idle)
	return idle, nil
}

// Ping implements SessionStore.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements SessionStore.
func (m *MemoryStore) Close() error { return nil }
