package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ashureev/tellerbot/internal/domain"
)

// newTestRedis connects to TEST_REDIS_ADDR and skips when it is unset.
func newTestRedis(t *testing.T, ttl time.Duration) (*RedisStore, string) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := NewRedis(ctx, addr, ttl)
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	tabID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_ = r.Clear(context.Background(), tabID)
		_ = r.Close()
	})
	return r, tabID
}

func TestRedisRoundTrip(t *testing.T) {
	r, tabID := newTestRedis(t, time.Minute)
	ctx := context.Background()

	if err := r.Save(ctx, tabID, Patch{
		History:   []domain.Turn{domain.UserTurn("send money"), domain.AssistantTurn("Sure")},
		Intent:    String("transfer"),
		Flags:     map[string]bool{"amount_entered": true},
		Listening: Bool(true),
		State:     json.RawMessage(`{"step":2}`),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := r.Save(ctx, tabID, Patch{Collapsed: Bool(true)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := r.Load(ctx, tabID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got.History) != 2 || got.Intent != "transfer" || !got.Listening {
		t.Errorf("unexpected state %+v", got)
	}
	if !got.SubstepFlags["amount_entered"] || got.Collapsed == nil || !*got.Collapsed {
		t.Errorf("flags or collapse lost: %+v", got)
	}
	if string(got.State) != `{"step":2}` {
		t.Errorf("state = %s", got.State)
	}

	ttl, err := r.rdb.TTL(ctx, redisKey(tabID)).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("expiry not refreshed on write, ttl=%v", ttl)
	}

	if err := r.Clear(ctx, tabID); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	got, err = r.Load(ctx, tabID)
	if err != nil {
		t.Fatalf("Load after clear failed: %v", err)
	}
	if len(got.History) != 0 || got.Intent != "" || got.Listening {
		t.Errorf("state survived clear: %+v", got)
	}
}

func TestRedisMalformedKeyFallsBack(t *testing.T) {
	r, tabID := newTestRedis(t, time.Minute)
	ctx := context.Background()

	if err := r.rdb.HSet(ctx, redisKey(tabID), KeyHistory, "not valid json", KeyIntent, `"transfer"`).Err(); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}
	got, err := r.Load(ctx, tabID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.History == nil || len(got.History) != 0 {
		t.Errorf("malformed history should load as empty, got %+v", got.History)
	}
	if got.Intent != "transfer" {
		t.Errorf("intact keys should still load, intent=%q", got.Intent)
	}
}

func TestRedisRejectsEmptyTabID(t *testing.T) {
	r, _ := newTestRedis(t, time.Minute)
	if err := r.Save(context.Background(), "", Patch{Listening: Bool(true)}); err != ErrInvalidTabID {
		t.Errorf("expected ErrInvalidTabID, got %v", err)
	}
}
