package cache

import (
	"context"
	"errors"
	"net"

	"github.com/redis/go-redis/v9"
)

// healthHook reports connection state changes of the distributed client back
// to the Store, so backend selection follows the live connection rather than
// the state observed at startup.
type healthHook struct {
	onUp   func()
	onDown func(error)
}

func (h healthHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.onDown(err)
			return nil, err
		}
		h.onUp()
		return conn, nil
	}
}

func (h healthHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if isConnectionError(ctx, err) {
			h.onDown(err)
		}
		return err
	}
}

func (h healthHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if isConnectionError(ctx, err) {
			h.onDown(err)
		}
		return err
	}
}

// isConnectionError separates transport failures from "key missing" and from
// the caller abandoning its own request.
func isConnectionError(ctx context.Context, err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return false
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		// server replied; the connection itself is fine
		return false
	}
	return true
}
