package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/tellerbot/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "widget.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// backends returns every store implementation that runs without external services.
func backends(t *testing.T) map[string]SessionStore {
	return map[string]SessionStore{
		"memory": NewMemory(),
		"sqlite": newTestSQLite(t),
	}
}

func TestLoadEmptyReturnsDefaults(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			state, err := s.Load(context.Background(), "tab-1")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(state.History) != 0 || state.History == nil {
				t.Errorf("expected empty non-nil history, got %#v", state.History)
			}
			if state.Intent != "" || state.Listening || state.Collapsed != nil || state.State != nil {
				t.Errorf("expected defaults, got %+v", state)
			}
			if state.SubstepFlags == nil || len(state.SubstepFlags) != 0 {
				t.Errorf("expected empty flags, got %#v", state.SubstepFlags)
			}
		})
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			history := []domain.Turn{domain.UserTurn("send money"), domain.AssistantTurn("Sure.")}
			err := s.Save(ctx, "tab-1", Patch{
				History:   history,
				Intent:    String("e_transfer"),
				Flags:     map[string]bool{"account_chosen": true},
				Listening: Bool(true),
				Collapsed: Bool(false),
				State:     json.RawMessage(`{"step":2}`),
			})
			if err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			got, err := s.Load(ctx, "tab-1")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(got.History) != 2 || got.History[1].Content != "Sure." {
				t.Errorf("unexpected history: %+v", got.History)
			}
			if got.Intent != "e_transfer" {
				t.Errorf("intent = %q", got.Intent)
			}
			if !got.SubstepFlags["account_chosen"] {
				t.Errorf("flags = %v", got.SubstepFlags)
			}
			if !got.Listening {
				t.Error("expected listening")
			}
			if got.Collapsed == nil || *got.Collapsed {
				t.Errorf("collapsed = %v", got.Collapsed)
			}
			if string(got.State) != `{"step":2}` {
				t.Errorf("state = %s", got.State)
			}
		})
	}
}

func TestSaveIsKeyWise(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Save(ctx, "tab-1", Patch{Intent: String("e_transfer"), Listening: Bool(true)}); err != nil {
				t.Fatal(err)
			}
			if err := s.Save(ctx, "tab-1", Patch{Listening: Bool(false)}); err != nil {
				t.Fatal(err)
			}
			got, err := s.Load(ctx, "tab-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Intent != "e_transfer" {
				t.Errorf("intent lost by unrelated save: %q", got.Intent)
			}
			if got.Listening {
				t.Error("last write should win for listening")
			}
		})
	}
}

func TestMalformedValuesFallBackToDefaults(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	sq := newTestSQLite(t)

	keys := []string{KeyHistory, KeyIntent, KeyFlags, KeyListening, KeyCollapsed, KeyState}
	for _, key := range keys {
		mem.SetRaw("tab-1", key, "not valid json")
		if err := sq.SetRaw(ctx, "tab-1", key, "not valid json"); err != nil {
			t.Fatalf("SetRaw failed: %v", err)
		}
	}

	for name, s := range map[string]SessionStore{"memory": mem, "sqlite": sq} {
		t.Run(name, func(t *testing.T) {
			got, err := s.Load(ctx, "tab-1")
			if err != nil {
				t.Fatalf("Load should absorb malformed values, got %v", err)
			}
			if len(got.History) != 0 || got.Intent != "" || got.Listening || got.Collapsed != nil || got.State != nil {
				t.Errorf("expected defaults, got %+v", got)
			}
		})
	}
}

func TestUnresolvedIntentIsStoredAsNull(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	if err := s.Save(ctx, "tab-1", Patch{Intent: String("unknown")}); err != nil {
		t.Fatal(err)
	}
	if raw := s.tabs["tab-1"][KeyIntent]; raw != "null" {
		t.Errorf("expected null, got %q", raw)
	}
	got, _ := s.Load(ctx, "tab-1")
	if got.HasIntent() {
		t.Errorf("expected unresolved intent, got %q", got.Intent)
	}
}

func TestClearRemovesTab(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Save(ctx, "tab-1", Patch{Intent: String("e_transfer")}); err != nil {
				t.Fatal(err)
			}
			if err := s.Save(ctx, "tab-2", Patch{Intent: String("pay_bills")}); err != nil {
				t.Fatal(err)
			}
			if err := s.Clear(ctx, "tab-1"); err != nil {
				t.Fatal(err)
			}
			got, _ := s.Load(ctx, "tab-1")
			if got.HasIntent() {
				t.Error("tab-1 should be cleared")
			}
			other, _ := s.Load(ctx, "tab-2")
			if other.Intent != "pay_bills" {
				t.Error("tab-2 should be untouched")
			}
		})
	}
}

func TestEmptyTabIDRejected(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Save(context.Background(), "", Patch{Listening: Bool(true)}); err != ErrInvalidTabID {
				t.Errorf("expected ErrInvalidTabID, got %v", err)
			}
		})
	}
}

func TestSQLiteIdleSessions(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	if err := s.Save(ctx, "old", Patch{Listening: Bool(true)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "fresh", Patch{Listening: Bool(true)}); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-2 * time.Hour).Unix()
	if _, err := s.db.ExecContext(ctx, `UPDATE session_values SET updated_at = ? WHERE tab_id = ?`, stale, "old"); err != nil {
		t.Fatal(err)
	}

	idle, err := s.IdleSessions(ctx, time.Hour)
	if err != nil {
		t.Fatalf("IdleSessions failed: %v", err)
	}
	if len(idle) != 1 || idle[0] != "old" {
		t.Errorf("expected [old], got %v", idle)
	}
}

func TestSweeperSkipsActiveTabs(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	start := time.Now()
	s.now = func() time.Time { return start }
	_ = s.Save(ctx, "closed", Patch{Listening: Bool(true)})
	_ = s.Save(ctx, "open", Patch{Listening: Bool(true)})
	s.now = func() time.Time { return start.Add(2 * time.Hour) }

	sw := NewSweeper(s, time.Hour, func(tabID string) bool { return tabID == "open" })
	if n := sw.SweepOnce(ctx); n != 1 {
		t.Fatalf("expected 1 cleaned, got %d", n)
	}
	if _, ok := s.tabs["closed"]; ok {
		t.Error("closed tab should be swept")
	}
	if _, ok := s.tabs["open"]; !ok {
		t.Error("open tab should survive")
	}
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	sw := NewSweeper(NewMemory(), time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sw.Start(ctx, "not a schedule"); err == nil {
		t.Error("expected schedule parse error")
	}
}

func TestRedisKey(t *testing.T) {
	if got := redisKey("tab-1"); got != "widget:session:tab-1" {
		t.Errorf("redisKey = %q", got)
	}
}
