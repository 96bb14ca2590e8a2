package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/tellerbot/internal/config"
	"github.com/ashureev/tellerbot/internal/store"
)

// openStore builds the session store selected by STORE_BACKEND and checks it
// is reachable.
func openStore(ctx context.Context, cfg *config.Config) (store.SessionStore, error) {
	var (
		st  store.SessionStore
		err error
	)
	switch cfg.StoreBackend {
	case config.StoreRedis:
		st, err = store.NewRedis(ctx, cfg.RedisAddr, cfg.SessionTTL)
	case config.StoreMemory:
		st = store.NewMemory()
	default:
		st, err = store.NewSQLite(cfg.DBPath)
	}
	if err != nil {
		return nil, fmt.Errorf("initialize %s store: %w", cfg.StoreBackend, err)
	}

	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("%s store health check failed: %w", cfg.StoreBackend, err)
	}
	slog.Info("Session store connected", "backend", cfg.StoreBackend)
	return st, nil
}
