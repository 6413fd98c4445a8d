package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"pagecache/internal/core"
)

// DefaultNamespace prefixes every key written to the durable tier.
const DefaultNamespace = "pagecache:"

// Store is the process-wide two-tier cache shared by all controllers.
// It is created at application start and closed at shutdown.
//
// Durable tier failures never reach the caller: they are logged, counted,
// and the fast tier stays authoritative for the current process.
type Store struct {
	fast      *memoryTier
	durable   Durable
	namespace string
	now       func() time.Time
	reads     *singleflight.Group
}

// Option configures a Store
type Option func(*Store)

// WithNamespace sets the durable key prefix
func WithNamespace(namespace string) Option {
	return func(s *Store) {
		if namespace != "" {
			s.namespace = namespace
		}
	}
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithShards sets the number of fast tier shards
func WithShards(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.fast = newMemoryTier(n)
		}
	}
}

// NewStore creates a Store. A nil durable tier gives memory-only operation.
func NewStore(durable Durable, opts ...Option) *Store {
	s := &Store{
		fast:      newMemoryTier(defaultShards),
		durable:   durable,
		namespace: DefaultNamespace,
		now:       time.Now,
		reads:     &singleflight.Group{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MemoryOnly returns a view sharing this store's fast tier and clock
// but never touching the durable tier.
func (s *Store) MemoryOnly() *Store {
	return &Store{
		fast:      s.fast,
		namespace: s.namespace,
		now:       s.now,
		reads:     s.reads,
	}
}

// Now returns the current time according to the store clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// Namespace returns the durable key prefix
func (s *Store) Namespace() string {
	return s.namespace
}

// HasDurable reports whether a durable tier is attached
func (s *Store) HasDurable() bool {
	return s.durable != nil
}

// Get returns the entry for key, or false when absent or expired.
// The durable tier is consulted first; a live durable entry is promoted
// into the fast tier unless the key's shard was written, deleted or cleared
// after the durable read began. When the durable tier misses or fails,
// the fast tier answers.
func (s *Store) Get(ctx context.Context, key string) (*Entry, bool) {
	now := s.now()

	if s.durable != nil {
		e, seq, err := s.readDurable(ctx, key)
		switch {
		case err == nil:
			if e.Expired(now) {
				cacheLookups.WithLabelValues(tierDurable, resultExpired).Inc()
				s.Delete(ctx, key)
				return nil, false
			}
			cacheLookups.WithLabelValues(tierDurable, resultHit).Inc()
			s.fast.setIfUnchanged(key, e, seq)
			return e, true
		case errors.Is(err, ErrNotFound):
			cacheLookups.WithLabelValues(tierDurable, resultMiss).Inc()
		default:
			durableErrors.WithLabelValues("get").Inc()
			slog.Warn("durable cache read failed, using memory tier", "key", key, "error", core.NewStorageError("get", err))
		}
	}

	e, ok := s.fast.get(key)
	if !ok {
		cacheLookups.WithLabelValues(tierFast, resultMiss).Inc()
		return nil, false
	}
	if e.Expired(now) {
		cacheLookups.WithLabelValues(tierFast, resultExpired).Inc()
		s.Delete(ctx, key)
		return nil, false
	}
	cacheLookups.WithLabelValues(tierFast, resultHit).Inc()
	return e, true
}

type durableRead struct {
	entry *Entry
	seq   uint64
}

// readDurable collapses concurrent reads of the same key into one backend call.
// It also returns the fast tier version taken before the shared read started,
// so callers joining an in-flight read never promote a value older than their own view.
// Undecodable values are removed and reported as misses.
func (s *Store) readDurable(ctx context.Context, key string) (*Entry, uint64, error) {
	v, err, _ := s.reads.Do(key, func() (any, error) {
		seq := s.fast.version(key)
		raw, err := s.durable.Get(ctx, s.namespace+key)
		if err != nil {
			return nil, err
		}
		e, err := unmarshalEntry(raw)
		if err != nil {
			slog.Warn("discarding corrupt durable cache entry", "key", key, "error", err)
			if delErr := s.durable.Delete(ctx, s.namespace+key); delErr != nil {
				durableErrors.WithLabelValues("delete").Inc()
			}
			return nil, ErrNotFound
		}
		return durableRead{entry: e, seq: seq}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	r := v.(durableRead)
	return r.entry.Clone(), r.seq, nil
}

// Set stores e under key in the fast tier and, best effort, in the durable tier.
// It never fails; a nil or invalid entry is ignored.
func (s *Store) Set(ctx context.Context, key string, e *Entry) {
	if e == nil {
		return
	}
	if err := e.validate(); err != nil {
		slog.Error("refusing to cache invalid entry", "key", key, "error", err)
		return
	}

	s.fast.set(key, e)

	if s.durable == nil {
		return
	}
	ttl := e.TTL(s.now())
	if ttl <= 0 {
		return
	}
	raw, err := marshalEntry(e)
	if err != nil {
		slog.Error("failed to encode cache entry", "key", key, "error", err)
		return
	}
	if err := s.durable.Set(ctx, s.namespace+key, raw, ttl); err != nil {
		durableErrors.WithLabelValues("set").Inc()
		slog.Warn("durable cache write failed, keeping memory copy only", "key", key, "error", core.NewStorageError("set", err))
		// An older durable copy would otherwise shadow the memory copy on the next Get.
		if delErr := s.durable.Delete(ctx, s.namespace+key); delErr != nil {
			durableErrors.WithLabelValues("delete").Inc()
		}
	}
}

// Delete removes key from both tiers, ignoring durable tier errors.
func (s *Store) Delete(ctx context.Context, key string) {
	s.fast.delete(key)
	if s.durable == nil {
		return
	}
	if err := s.durable.Delete(ctx, s.namespace+key); err != nil {
		durableErrors.WithLabelValues("delete").Inc()
		slog.Warn("durable cache delete failed", "key", key, "error", core.NewStorageError("delete", err))
	}
}

// Clear removes every entry of this namespace from both tiers.
// Durable keys outside the namespace are left alone.
func (s *Store) Clear(ctx context.Context) {
	s.fast.clear()
	if s.durable == nil {
		return
	}
	if err := s.durable.DeletePrefix(ctx, s.namespace); err != nil {
		durableErrors.WithLabelValues("clear").Inc()
		slog.Warn("durable cache clear failed", "namespace", s.namespace, "error", core.NewStorageError("clear", err))
	}
}

// Len returns the number of entries in the fast tier
func (s *Store) Len() int {
	return s.fast.len()
}

// Close releases the durable tier. Views returned by MemoryOnly hold nothing to close.
func (s *Store) Close() error {
	if s.durable != nil {
		return s.durable.Close()
	}
	return nil
}
