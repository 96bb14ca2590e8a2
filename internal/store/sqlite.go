package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/tellerbot/internal/domain"
	"github.com/ashureev/tellerbot/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	sqliteMaxRetries = 3
	sqliteRetryBase  = 50 * time.Millisecond
)

// SQLiteStore implements SessionStore using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed session store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS session_values (
		tab_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tab_id, key)
	);
	CREATE INDEX IF NOT EXISTS idx_session_values_updated ON session_values(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Load retrieves the stored session for a tab.
func (s *SQLiteStore) Load(ctx context.Context, tabID string) (domain.SessionState, error) {
	if tabID == "" {
		return domain.NewSessionState(), ErrInvalidTabID
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM session_values WHERE tab_id = ?`, tabID)
	if err != nil {
		return domain.NewSessionState(), fmt.Errorf("query session values: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	raw := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return domain.NewSessionState(), fmt.Errorf("scan session value: %w", err)
		}
		raw[key] = value
	}
	if err := rows.Err(); err != nil {
		return domain.NewSessionState(), fmt.Errorf("iterate session values: %w", err)
	}

	return decodeState(tabID, raw), nil
}

// Save upserts every key set in patch in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, tabID string, patch Patch) error {
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
	return shared.RetryOnConflict(ctx, "save session", sqliteMaxRetries, sqliteRetryBase, func() error {
		return s.saveOnce(ctx, tabID, values)
	})
}

func (s *SQLiteStore) saveOnce(ctx context.Context, tabID string, values map[string]string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO session_values (tab_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tab_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`

	now := time.Now().Unix()
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, query, tabID, key, value, now); err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// SetRaw stores a raw value for key without encoding it.
func (s *SQLiteStore) SetRaw(ctx context.Context, tabID, key, value string) error {
	return shared.RetryOnConflict(ctx, "set raw session value", sqliteMaxRetries, sqliteRetryBase, func() error {
		return s.saveOnce(ctx, tabID, map[string]string{key: value})
	})
}

// Clear removes every key stored for a tab.
func (s *SQLiteStore) Clear(ctx context.Context, tabID string) error {
	return shared.RetryOnConflict(ctx, "clear session "+tabID, sqliteMaxRetries, sqliteRetryBase, func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		if _, err := s.db.ExecContext(ctx, `DELETE FROM session_values WHERE tab_id = ?`, tabID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// IdleSessions lists tabs whose most recent write is older than ttl.
func (s *SQLiteStore) IdleSessions(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT tab_id FROM session_values
		GROUP BY tab_id
		HAVING MAX(updated_at) < ?
		ORDER BY tab_id`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query idle sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close idle session rows", "error", closeErr)
		}
	}()

	var tabs []string
	for rows.Next() {
		var tabID string
		if err := rows.Scan(&tabID); err != nil {
			return nil, fmt.Errorf("scan idle session: %w", err)
		}
		tabs = append(tabs, tabID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idle sessions: %w", err)
	}
	return tabs, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
