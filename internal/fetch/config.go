// Package fetch provides the controllers that sit between callers and the
// upstream API: Resource for values fetched as one unit and Pager for
// filtered, paginated collections. Both read through the shared cache.Store
// and keep at most one request in flight.
package fetch

import (
	"context"
	"errors"
	"time"

	"pagecache/internal/cache"
	"pagecache/internal/cachekey"
	"pagecache/internal/core"
)

// Controller defaults
const (
	DefaultTTL            = 5 * time.Minute
	DefaultStaleThreshold = 30 * time.Second
	DefaultPageSize       = 10
	MaxRetries            = 3
)

// ResourceConfig configures a Resource controller.
// Zero values take the package defaults.
type ResourceConfig struct {
	// CacheKey identifies the cached value
	CacheKey string
	// TTL bounds how long the cached value is trusted at all
	TTL time.Duration
	// StaleThreshold is the age after which a cached value is revalidated in the background
	StaleThreshold time.Duration
	// Disabled turns Load into a read of the current state
	Disabled bool
	// MemoryOnly keeps the value out of the durable tier
	MemoryOnly bool
}

func (c ResourceConfig) withDefaults() ResourceConfig {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = DefaultStaleThreshold
	}
	return c
}

// PagerConfig configures a Pager controller.
type PagerConfig struct {
	// Resource names the upstream collection and prefixes its cache keys
	Resource string
	// CacheKey, when set, replaces Resource as the cache key prefix
	CacheKey string
	// PageSize is the number of items requested per page
	PageSize int
	// Filters is the initial filter set
	Filters core.Filters
	// TTL bounds how long cached pages are trusted
	TTL time.Duration
	// Disabled stops the automatic first-page fetch
	Disabled bool
	// MemoryOnly keeps pages out of the durable tier
	MemoryOnly bool
	// MaxRetries is the number of failed fetches after which automatic fetching stops
	MaxRetries int
	// Dimension and KnownValues enable cross-filter invalidation for one filter
	Dimension   string
	KnownValues []string
}

func (c PagerConfig) withDefaults() PagerConfig {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = MaxRetries
	}
	c.Filters = c.Filters.Clone()
	return c
}

func (c PagerConfig) policy() cachekey.Policy {
	prefix := c.Resource
	if c.CacheKey != "" {
		prefix = c.CacheKey
	}
	return cachekey.Policy{
		Resource:    prefix,
		PageSize:    c.PageSize,
		Dimension:   c.Dimension,
		KnownValues: c.KnownValues,
	}
}

func selectStore(store *cache.Store, memoryOnly bool) *cache.Store {
	if memoryOnly {
		return store.MemoryOnly()
	}
	return store
}

// canceled reports whether err comes from h being cancelled rather than from the upstream.
func canceled(h *handle, err error) bool {
	return h.ctx.Err() != nil && errors.Is(err, context.Canceled)
}
