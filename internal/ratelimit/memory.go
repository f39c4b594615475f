package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 64

type memoryLog struct {
	requests []int64 // unix nanos, ascending
}

// cleanup removes timestamps at or before cutoff.
func (l *memoryLog) cleanup(cutoff int64) {
	idx := 0
	for idx < len(l.requests) && l.requests[idx] <= cutoff {
		idx++
	}
	if idx > 0 {
		l.requests = l.requests[idx:]
	}
}

func (l *memoryLog) countAfter(cutoff int64) (int, int64) {
	for i, ts := range l.requests {
		if ts > cutoff {
			return len(l.requests) - i, ts
		}
	}
	return 0, 0
}

type memoryShard struct {
	mu   sync.Mutex
	logs map[string]*memoryLog
}

// MemoryStore is an in-process WindowStore. Identifiers hash onto independent
// shards so unrelated callers never contend on one lock.
type MemoryStore struct {
	shards [memoryShards]*memoryShard
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &memoryShard{logs: make(map[string]*memoryLog)}
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%memoryShards]
}

func (s *MemoryStore) Take(_ context.Context, key string, now time.Time, window time.Duration, limit int) (Window, bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	log, ok := sh.logs[key]
	if !ok {
		log = &memoryLog{requests: make([]int64, 0, limit)}
		sh.logs[key] = log
	}
	log.cleanup(now.Add(-window).UnixNano())

	allowed := len(log.requests) < limit
	if allowed {
		log.requests = append(log.requests, now.UnixNano())
	}
	w := Window{Count: len(log.requests)}
	if w.Count > 0 {
		w.Oldest = time.Unix(0, log.requests[0])
	}
	return w, allowed, nil
}

func (s *MemoryStore) Peek(_ context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	log, ok := sh.logs[key]
	if !ok {
		return Window{}, nil
	}
	count, oldest := log.countAfter(now.Add(-window).UnixNano())
	w := Window{Count: count}
	if count > 0 {
		w.Oldest = time.Unix(0, oldest)
	}
	return w, nil
}

func (s *MemoryStore) Reclaim(_ context.Context, now time.Time, maxAge time.Duration) (int, error) {
	cutoff := now.Add(-maxAge).UnixNano()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, log := range sh.logs {
			if len(log.requests) == 0 || log.requests[len(log.requests)-1] <= cutoff {
				delete(sh.logs, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len reports the number of tracked identifiers.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.logs)
		sh.mu.Unlock()
	}
	return n
}
