package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the idle-session sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

// ActiveFunc reports whether a tab still has a live widget connection.
type ActiveFunc func(tabID string) bool

// Sweeper deletes sessions of tabs that have gone quiet for longer than the
// session TTL. A closed tab never writes again, so idleness stands in for
// "the tab ended".
type Sweeper struct {
	repo     SessionStore
	ttl      time.Duration
	isActive ActiveFunc
	cron     *cron.Cron
}

// NewSweeper creates a sweeper. isActive may be nil.
func NewSweeper(repo SessionStore, ttl time.Duration, isActive ActiveFunc) *Sweeper {
	return &Sweeper{repo: repo, ttl: ttl, isActive: isActive}
}

// Start schedules SweepOnce on the given cron spec until ctx is done.
func (s *Sweeper) Start(ctx context.Context, spec string) error {
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { s.SweepOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule session sweep %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	slog.Info("Session sweeper started", "schedule", spec, "ttl", s.ttl)

	go func() {
		<-ctx.Done()
		stopped := c.Stop()
		<-stopped.Done()
		slog.Info("Session sweeper shutting down", "reason", ctx.Err())
	}()
	return nil
}

// SweepOnce clears idle sessions and returns how many were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	idle, err := s.repo.IdleSessions(ctx, s.ttl)
	if err != nil {
		slog.Error("Session sweep failed to list idle sessions", "error", err)
		return 0
	}
	if len(idle) == 0 {
		return 0
	}

	cleaned := 0
	for _, tabID := range idle {
		if s.isActive != nil && s.isActive(tabID) {
			slog.Debug("Session sweep skipping connected tab", "tab_id", tabID)
			continue
		}
		if err := s.repo.Clear(ctx, tabID); err != nil {
			slog.Warn("Session sweep failed to clear session", "tab_id", tabID, "error", err)
			continue
		}
		cleaned++
	}
	slog.Info("Session sweep completed", "idle", len(idle), "cleaned", cleaned)
	return cleaned
}
