package cache

import (
	"context"
	"time"
)

// Backend is a key/value store with per-key TTL. A zero TTL means no expiry.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Flush(ctx context.Context) error
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)
