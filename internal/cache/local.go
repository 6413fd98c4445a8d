package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// fileRecord is one key of the on-disk document.
type fileRecord struct {
	Value     []byte `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// LocalCache implements Durable using a single JSON file.
// This is suitable for single-process deployments.
type LocalCache struct {
	mu       sync.Mutex
	filePath string
	now      func() time.Time
}

// NewLocalCache creates a new local file-based durable tier.
// An empty filePath disables persistence: reads miss and writes are dropped.
func NewLocalCache(filePath string) *LocalCache {
	return &LocalCache{
		filePath: filePath,
		now:      time.Now,
	}
}

// Get returns the stored value for key.
func (c *LocalCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load()
	if err != nil {
		return nil, err
	}
	rec, ok := records[key]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.ExpiresAt > 0 && c.now().UnixMilli() > rec.ExpiresAt {
		return nil, ErrNotFound
	}
	return append([]byte(nil), rec.Value...), nil
}

// Set stores value under key and drops expired records while rewriting the file.
func (c *LocalCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filePath == "" {
		return nil
	}
	records, err := c.load()
	if err != nil {
		return err
	}
	now := c.now().UnixMilli()
	for k, rec := range records {
		if rec.ExpiresAt > 0 && now > rec.ExpiresAt {
			delete(records, k)
		}
	}
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now + ttl.Milliseconds()
	}
	records[key] = fileRecord{Value: value, ExpiresAt: expiresAt}
	return c.save(records)
}

// Delete removes key from the file.
func (c *LocalCache) Delete(_ context.Context, key string) error {
	return c.remove(func(k string) bool { return k == key })
}

// DeletePrefix removes every key starting with prefix.
func (c *LocalCache) DeletePrefix(_ context.Context, prefix string) error {
	return c.remove(func(k string) bool { return strings.HasPrefix(k, prefix) })
}

func (c *LocalCache) remove(match func(string) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filePath == "" {
		return nil
	}
	records, err := c.load()
	if err != nil {
		return err
	}
	changed := false
	for k := range records {
		if match(k) {
			delete(records, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return c.save(records)
}

// Close is a no-op for the local file tier.
func (c *LocalCache) Close() error {
	return nil
}

// load reads the document. Callers must hold c.mu.
func (c *LocalCache) load() (map[string]fileRecord, error) {
	records := make(map[string]fileRecord)
	if c.filePath == "" {
		return records, nil
	}

	data, err := os.ReadFile(c.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return records, nil // No cache file yet, not an error
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse cache file: %w", err)
	}
	return records, nil
}

// save writes the document atomically. Callers must hold c.mu.
func (c *LocalCache) save(records map[string]fileRecord) error {
	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	// Write atomically using temp file + rename
	tmpFile := c.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpFile, c.filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

var _ Durable = (*LocalCache)(nil)
