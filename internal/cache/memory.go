package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 32

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// MemoryBackend is the in-process backend. Keys are spread over fixed shards so
// unrelated keys never contend on the same lock. Expired entries are treated as
// absent on read and reclaimed by Sweep.
type MemoryBackend struct {
	shards [memoryShards]*memoryShard
	now    func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{now: time.Now}
	for i := range b.shards {
		b.shards[i] = &memoryShard{entries: make(map[string]memoryEntry)}
	}
	return b
}

func (b *MemoryBackend) Name() string { return BackendMemory }

func (b *MemoryBackend) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return b.shards[h.Sum32()%memoryShards]
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	s := b.shard(key)
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || entry.expired(b.now()) {
		return nil, false, nil
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: make([]byte, len(value))}
	copy(entry.value, value)
	if ttl > 0 {
		entry.expiresAt = b.now().Add(ttl)
	}
	s := b.shard(key)
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Del(_ context.Context, key string) (bool, error) {
	s := b.shard(key)
	s.mu.Lock()
	entry, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()
	return ok && !entry.expired(b.now()), nil
}

func (b *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	s := b.shard(key)
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	return ok && !entry.expired(b.now()), nil
}

func (b *MemoryBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	match, err := compileGlob(pattern)
	if err != nil {
		return nil, err
	}
	now := b.now()
	keys := make([]string, 0)
	for _, s := range b.shards {
		s.mu.RLock()
		for key, entry := range s.entries {
			if !entry.expired(now) && match(key) {
				keys = append(keys, key)
			}
		}
		s.mu.RUnlock()
	}
	return keys, nil
}

func (b *MemoryBackend) Flush(_ context.Context) error {
	for _, s := range b.shards {
		s.mu.Lock()
		s.entries = make(map[string]memoryEntry)
		s.mu.Unlock()
	}
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (b *MemoryBackend) Sweep(now time.Time) int {
	removed := 0
	for _, s := range b.shards {
		s.mu.Lock()
		for key, entry := range s.entries {
			if entry.expired(now) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len counts live entries.
func (b *MemoryBackend) Len() int {
	now := b.now()
	n := 0
	for _, s := range b.shards {
		s.mu.RLock()
		for _, entry := range s.entries {
			if !entry.expired(now) {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n
}
