package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Sliding-window log on a sorted set scored by unix micros (doubles cannot
// hold nanos exactly). Scores travel as strings: Lua formats numbers with 14
// significant digits, which would round microsecond timestamps. Eviction,
// count, compare and insert run atomically inside the script.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local now = ARGV[1]
local cutoff = ARGV[2]
local limit = tonumber(ARGV[3])
local member = ARGV[4]
redis.call('ZREMRANGEBYSCORE', key, '-inf', cutoff)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, ARGV[5])
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = '0'
if oldest[2] then
  oldestScore = oldest[2]
end
return {allowed, count, oldestScore}
`)

// RedisStore shares windows across gateway replicas. Keys expire with their
// window, so Reclaim has nothing to do.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix + "rl:"}
}

func (s *RedisStore) Take(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Window, bool, error) {
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	res, err := takeScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMicro(), now.Add(-window).UnixMicro(), limit, member, expiryMillis(window)).Slice()
	if err != nil {
		return Window{}, false, err
	}
	if len(res) < 3 {
		return Window{}, false, fmt.Errorf("unexpected redis script result: %v", res)
	}
	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)
	w := Window{Count: int(count)}
	if raw, ok := res[2].(string); ok {
		if score, err := strconv.ParseFloat(raw, 64); err == nil && score > 0 {
			w.Oldest = time.UnixMicro(int64(score))
		}
	}
	return w, allowed == 1, nil
}

func (s *RedisStore) Peek(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	rng := &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now.Add(-window).UnixMicro(), 10),
		Max: "+inf",
	}
	count, err := s.client.ZCount(ctx, s.prefix+key, rng.Min, rng.Max).Result()
	if err != nil {
		return Window{}, err
	}
	w := Window{Count: int(count)}
	if count == 0 {
		return w, nil
	}
	rng.Count = 1
	first, err := s.client.ZRangeByScoreWithScores(ctx, s.prefix+key, rng).Result()
	if err != nil {
		return Window{}, err
	}
	if len(first) > 0 {
		w.Oldest = time.UnixMicro(int64(first[0].Score))
	}
	return w, nil
}

func (s *RedisStore) Reclaim(context.Context, time.Time, time.Duration) (int, error) {
	return 0, nil
}

// expiryMillis rounds window up to whole milliseconds for PEXPIRE.
func expiryMillis(window time.Duration) int64 {
	ms := window.Milliseconds()
	if window%time.Millisecond != 0 {
		ms++
	}
	if ms < 1 {
		ms = 1
	}
	return ms
}
