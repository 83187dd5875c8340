package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// Store is the durable keyed storage behind the matching core. It exposes a
// plain get/set/remove contract over two tiers: a synced tier subject to a
// hard per-item byte ceiling, and a larger local-only tier. Callers are
// agnostic to which tier backs a key; Set routes by value size and keeps at
// most one tier holding a key.
type Store struct {
	conn           *sqlx.DB
	syncedMaxBytes int
}

// ErrNotFound is returned when a key has no value in either tier
var ErrNotFound = errors.New("key not found")

// Config represents storage configuration
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SyncedMaxBytes  int
}

const schema = `
CREATE TABLE IF NOT EXISTS kv_synced (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS kv_local (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// New creates a store backed by SQLite
func New(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		cfg.DSN = "file:replyscope.db?cache=shared&mode=rwc"
	}
	if cfg.SyncedMaxBytes == 0 {
		cfg.SyncedMaxBytes = 8192
	}

	conn, err := sqlx.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{conn: conn, syncedMaxBytes: cfg.SyncedMaxBytes}, nil
}

// Close closes the underlying connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// Get retrieves a value by key, checking the synced tier first
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.conn.GetContext(ctx, &value, "SELECT value FROM kv_synced WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.conn.GetContext(ctx, &value, "SELECT value FROM kv_local WHERE key = ?", key)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Set stores a value by key. Values within the synced ceiling go to the
// synced tier, larger ones to the local tier; the stale copy in the other
// tier is removed so a key never lives in both.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	target, other := "kv_synced", "kv_local"
	if len(value) > s.syncedMaxBytes {
		target, other = "kv_local", "kv_synced"
	}

	return s.withRetry(ctx, func() error {
		upsert := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`, target)
		if _, err := s.conn.ExecContext(ctx, upsert, key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = ?", other), key); err != nil {
			return fmt.Errorf("evict stale %s: %w", key, err)
		}
		return nil
	})
}

// Remove deletes a key from both tiers
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.withRetry(ctx, func() error {
		for _, table := range []string{"kv_synced", "kv_local"} {
			if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = ?", table), key); err != nil {
				return fmt.Errorf("remove %s: %w", key, err)
			}
		}
		return nil
	})
}

// withRetry runs a write with backoff on SQLite lock errors
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	return retrier.Do(ctx, func() error {
		err := op()
		if err != nil && !isLockError(err) {
			return &criticalError{err: err} // stop retrying
		}
		return err
	})
}

// criticalError wraps an error to signal repeater to stop retrying
type criticalError struct {
	err error
}

func (e *criticalError) Error() string { return e.err.Error() }
func (e *criticalError) Unwrap() error { return e.err }

// isLockError checks if an error is a SQLite lock/busy error
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked")
}
