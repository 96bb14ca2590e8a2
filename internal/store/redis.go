package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/tellerbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "widget:session:"

// RedisStore keeps each tab as a hash. Keys expire after the session TTL,
// refreshed on every write, so idle tabs disappear without a sweep.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

func redisKey(tabID string) string {
	return redisKeyPrefix + tabID
}

// Load implements SessionStore.
func (r *RedisStore) Load(ctx context.Context, tabID string) (domain.SessionState, error) {
	if tabID == "" {
		return domain.NewSessionState(), ErrInvalidTabID
	}
	raw, err := r.rdb.HGetAll(ctx, redisKey(tabID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.NewSessionState(), fmt.Errorf("hgetall session: %w", err)
	}
	return decodeState(tabID, raw), nil
}

// Save implements SessionStore.
func (r *RedisStore) Save(ctx context.Context, tabID string, patch Patch) error {
	if tabID == "" {
		return ErrInvalidTabID
	}
	values, err := encodePatch(patch)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	fields := make([]any, 0, len(values)*2)
	for k, v := range values {
		fields = append(fields, k, v)
	}

	key := redisKey(tabID)
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields...)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear implements SessionStore.
func (r *RedisStore) Clear(ctx context.Context, tabID string) error {
	if err := r.rdb.Del(ctx, redisKey(tabID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// IdleSessions always returns nil: Redis expires idle tabs itself.
func (r *RedisStore) IdleSessions(context.Context, time.Duration) ([]string, error) {
	return nil, nil
}

// Ping implements SessionStore.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close implements SessionStore.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
