package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLCache implements Durable on the cache_entries table of a PostgreSQL database.
type PostgreSQLCache struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgreSQLCache creates the cache_entries table if needed.
func NewPostgreSQLCache(ctx context.Context, pool *pgxpool.Pool) (*PostgreSQLCache, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			expires_at BIGINT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_entries table: %w", err)
	}
	if _, err := pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at)"); err != nil {
		return nil, fmt.Errorf("failed to create cache_entries expires_at index: %w", err)
	}

	return &PostgreSQLCache{pool: pool, now: time.Now}, nil
}

// Get returns a live value.
func (c *PostgreSQLCache) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := c.pool.QueryRow(ctx,
		"SELECT value FROM cache_entries WHERE key = $1 AND expires_at >= $2",
		key, c.now().UnixMilli(),
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query cache entry: %w", err)
	}
	return value, nil
}

// Set upserts value.
func (c *PostgreSQLCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := c.now().UnixMilli()
	_, err := c.pool.Exec(ctx, `
		INSERT INTO cache_entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, now+ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	if _, err := c.pool.Exec(ctx, "DELETE FROM cache_entries WHERE expires_at < $1", now); err != nil {
		return fmt.Errorf("purge expired cache entries: %w", err)
	}
	return nil
}

// Delete removes a key.
func (c *PostgreSQLCache) Delete(ctx context.Context, key string) error {
	if _, err := c.pool.Exec(ctx, "DELETE FROM cache_entries WHERE key = $1", key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (c *PostgreSQLCache) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := c.pool.Exec(ctx,
		"DELETE FROM cache_entries WHERE left(key, $1) = $2",
		len([]rune(prefix)), prefix,
	)
	if err != nil {
		return fmt.Errorf("delete cache prefix: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the storage layer.
func (c *PostgreSQLCache) Close() error {
	return nil
}

var _ Durable = (*PostgreSQLCache)(nil)
