package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DefaultBoltBucket is used when BoltConfig.Bucket is empty.
const DefaultBoltBucket = "pagecache"

// BoltConfig configures the bbolt durable tier.
type BoltConfig struct {
	// Path is the database file path
	Path string
	// Bucket is the name of the Bolt bucket to use.
	Bucket string
}

// BoltCache implements Durable on a bbolt database file.
// Values are stored as 8 bytes of big-endian expiry (Unix ms, 0 = never) followed by the raw value.
type BoltCache struct {
	db     *bolt.DB
	bucket []byte
	now    func() time.Time
}

// OpenBolt initializes or opens a bbolt database at cfg.Path.
func OpenBolt(cfg BoltConfig) (*BoltCache, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bolt directory: %w", err)
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	bucket := []byte(DefaultBoltBucket)
	if cfg.Bucket != "" {
		bucket = []byte(cfg.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bolt bucket: %w", err)
	}
	return &BoltCache{db: db, bucket: bucket, now: time.Now}, nil
}

// Get returns the value if present and not expired.
func (c *BoltCache) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(c.bucket).Get([]byte(key))
		if len(v) < 8 {
			return ErrNotFound
		}
		expiresAt := int64(binary.BigEndian.Uint64(v[:8]))
		if expiresAt > 0 && c.now().UnixMilli() > expiresAt {
			return ErrNotFound
		}
		out = append([]byte(nil), v[8:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Set stores value with an absolute expiry of now+ttl.
func (c *BoltCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = c.now().Add(ttl).UnixMilli()
	}
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt))
	copy(buf[8:], value)

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(c.bucket).Put([]byte(key), buf)
	})
}

// Delete removes a key.
func (c *BoltCache) Delete(_ context.Context, key string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(c.bucket).Delete([]byte(key))
	})
}

// DeletePrefix removes every key starting with prefix.
func (c *BoltCache) DeletePrefix(_ context.Context, prefix string) error {
	p := []byte(prefix)
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.bucket)
		var keys [][]byte
		cur := b.Cursor()
		for k, _ := cur.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = cur.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (c *BoltCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

var _ Durable = (*BoltCache)(nil)
