package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/GoPolymarket/ordergate/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds the client shared by the distributed cache and the
// distributed rate-limit store. A failed initial ping is returned together
// with the client so callers may still start degraded.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if d := cfg.DialTimeout(); d > 0 {
		opts.DialTimeout = d
	}
	if d := cfg.OpTimeout(); d > 0 {
		opts.ReadTimeout = d
		opts.WriteTimeout = d
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return rdb, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}
