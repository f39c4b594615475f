package cache

import (
	"context"
	"encoding/json"

	"github.com/GoPolymarket/ordergate/internal/pkg/logger"
	"github.com/GoPolymarket/ordergate/internal/pkg/metrics"
)

// GetOrFetch serves key from the cache or, on a miss, calls fetch against the
// system of record and stores the result with the class TTL.
//
// Concurrent misses on the same key may each call fetch; fetches are
// idempotent reads so no single-flight coordination is done.
func GetOrFetch[T any](ctx context.Context, s *Store, class Class, key string, fetch func(context.Context) (T, error)) (T, bool, error) {
	if raw, ok := s.Get(ctx, key); ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			metrics.CacheLookups.WithLabelValues(string(class), "hit").Inc()
			return cached, true, nil
		}
		logger.Warn("dropping undecodable cache entry", "key", key)
		s.Del(ctx, key)
	}
	metrics.CacheLookups.WithLabelValues(string(class), "miss").Inc()

	fresh, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	if raw, err := json.Marshal(fresh); err == nil {
		s.Set(ctx, key, raw, s.TTL(class))
	}
	return fresh, false, nil
}

// Invalidate deletes keys synchronously and returns how many existed.
func Invalidate(ctx context.Context, s *Store, keys ...string) int {
	n := 0
	for _, key := range keys {
		if s.Del(ctx, key) {
			n++
		}
	}
	return n
}
