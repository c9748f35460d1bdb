package ratelimit

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Store holds window entries keyed by tenant.
//
// Update must run fn atomically with respect to any other Update of the same
// key. That guarantee is what makes the limiter exact under concurrency, so a
// shared implementation (for multi-instance deployments) has to provide the
// same read-modify-write semantics.
type Store interface {
	// Update calls fn with the current entry for key (nil if absent) and
	// stores the returned entry. A nil return leaves the store untouched.
	// Update returns the entry held for key after the call.
	Update(key string, fn func(cur *Entry) *Entry) *Entry

	// Get returns a copy of the entry for key, or nil.
	Get(key string) *Entry

	// Delete removes the entry for key.
	Delete(key string)

	// Sweep removes entries whose window ended before the given time and
	// returns how many were removed.
	Sweep(before time.Time) int

	// Len returns the number of entries.
	Len() int
}

const shardCount = 16

// MemoryStore is a sharded in-process Store.
// Each shard has its own mutex so unrelated tenants rarely contend.
type MemoryStore struct {
	shards [shardCount]*memoryShard
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &memoryShard{entries: make(map[string]*Entry)}
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	return s.shards[xxhash.Sum64String(key)%shardCount]
}

// Update implements Store.
func (s *MemoryStore) Update(key string, fn func(cur *Entry) *Entry) *Entry {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var cur *Entry
	if e, ok := sh.entries[key]; ok {
		c := *e
		cur = &c
	}

	next := fn(cur)
	if next == nil {
		return cur
	}

	stored := *next
	sh.entries[key] = &stored
	out := stored
	return &out
}

// Get implements Store.
func (s *MemoryStore) Get(key string) *Entry {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return nil
	}
	c := *e
	return &c
}

// Delete implements Store.
func (s *MemoryStore) Delete(key string) {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
}

// Sweep implements Store.
func (s *MemoryStore) Sweep(before time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if e.ResetAt.Before(before) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len implements Store.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}
