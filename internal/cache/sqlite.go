package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteCache implements Durable on the cache_entries table of a SQLite database.
type SQLiteCache struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteCache creates the cache_entries table if needed.
func NewSQLiteCache(db *sql.DB) (*SQLiteCache, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_entries table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at)"); err != nil {
		return nil, fmt.Errorf("failed to create cache_entries expires_at index: %w", err)
	}

	return &SQLiteCache{db: db, now: time.Now}, nil
}

// Get returns a live value.
func (c *SQLiteCache) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := c.db.QueryRowContext(ctx,
		"SELECT value FROM cache_entries WHERE key = ? AND expires_at >= ?",
		key, c.now().UnixMilli(),
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query cache entry: %w", err)
	}
	return value, nil
}

// Set upserts value and opportunistically drops expired rows.
func (c *SQLiteCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := c.now().UnixMilli()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, now+ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE expires_at < ?", now); err != nil {
		return fmt.Errorf("purge expired cache entries: %w", err)
	}
	return nil
}

// Delete removes a key.
func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (c *SQLiteCache) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := c.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE substr(key, 1, ?) = ?",
		len(prefix), prefix,
	)
	if err != nil {
		return fmt.Errorf("delete cache prefix: %w", err)
	}
	return nil
}

// Close is a no-op; the connection is owned by the storage layer.
func (c *SQLiteCache) Close() error {
	return nil
}

var _ Durable = (*SQLiteCache)(nil)
