package cache

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 16

// memoryTier is the fast tier: a map split into shards so that controllers
// working on different keys rarely contend on the same lock.
type memoryTier struct {
	shards []*memoryShard
}

type memoryShard struct {
	mu    sync.RWMutex
	items map[string]*Entry
	// seq increases on every mutation of the shard
	seq uint64
}

func newMemoryTier(shards int) *memoryTier {
	if shards <= 0 {
		shards = defaultShards
	}
	m := &memoryTier{shards: make([]*memoryShard, shards)}
	for i := range m.shards {
		m.shards[i] = &memoryShard{items: make(map[string]*Entry)}
	}
	return m
}

func (m *memoryTier) shard(key string) *memoryShard {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

func (m *memoryTier) get(key string) (*Entry, bool) {
	s := m.shard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

func (m *memoryTier) set(key string, e *Entry) {
	c := e.Clone()
	s := m.shard(key)
	s.mu.Lock()
	s.items[key] = c
	s.seq++
	s.mu.Unlock()
}

// version returns the mutation sequence of the shard holding key.
func (m *memoryTier) version(key string) uint64 {
	s := m.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// setIfUnchanged stores e only when the shard holding key has not been
// mutated since version returned seq.
func (m *memoryTier) setIfUnchanged(key string, e *Entry, seq uint64) bool {
	c := e.Clone()
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != seq {
		return false
	}
	s.items[key] = c
	s.seq++
	return true
}

func (m *memoryTier) delete(key string) {
	s := m.shard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.seq++
	s.mu.Unlock()
}

func (m *memoryTier) clear() {
	for _, s := range m.shards {
		s.mu.Lock()
		s.items = make(map[string]*Entry)
		s.seq++
		s.mu.Unlock()
	}
}

func (m *memoryTier) len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}
