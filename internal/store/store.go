// Package store provides per-tab session persistence.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ashureev/tellerbot/internal/domain"
)

// Persisted keys. Each is stored independently as JSON.
const (
	KeyHistory   = "chatHistory"
	KeyIntent    = "intent"
	KeyFlags     = "substep_flags"
	KeyListening = "listening"
	KeyCollapsed = "chatbotCollapsed"
	KeyState     = "state"
)

// ErrInvalidTabID is returned for an empty tab id.
var ErrInvalidTabID = errors.New("store: empty tab id")

// SessionStore persists session state for one browser tab at a time.
type SessionStore interface {
	// Load returns the stored state for tabID. Keys that are missing or hold
	// malformed JSON decode to their defaults; only I/O failures are errors.
	Load(ctx context.Context, tabID string) (domain.SessionState, error)

	// Save writes every key set in patch. Last write wins per key.
	Save(ctx context.Context, tabID string, patch Patch) error

	// Clear removes all keys for tabID.
	Clear(ctx context.Context, tabID string) error

	// IdleSessions lists tabs with no write since ttl ago.
	IdleSessions(ctx context.Context, ttl time.Duration) ([]string, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Patch is a partial session update. Nil fields are left untouched.
type Patch struct {
	History   []domain.Turn
	Intent    *string
	Flags     map[string]bool
	Listening *bool
	Collapsed *bool
	State     json.RawMessage
}

// Bool returns a pointer to v, for Patch literals.
func Bool(v bool) *bool { return &v }

// String returns a pointer to v, for Patch literals.
func String(v string) *string { return &v }

// Empty reports whether the patch sets no keys.
func (p Patch) Empty() bool {
	return p.History == nil && p.Intent == nil && p.Flags == nil &&
		p.Listening == nil && p.Collapsed == nil && p.State == nil
}
