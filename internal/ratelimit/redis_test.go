package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis, func(time.Duration)) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now, advance := fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 123456000, time.UTC))
	l := New(NewRedisStore(client, "test:"), nil, time.Hour)
	l.now = now
	return l, mr, advance
}

func TestRedisStoreAdmitsUpToLimit(t *testing.T) {
	l, _, advance := newRedisLimiter(t)
	ctx := context.Background()

	var got []bool
	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, "user-1", time.Second, 3)
		require.NoError(t, err)
		got = append(got, d.Allowed)
		advance(time.Millisecond)
	}
	assert.Equal(t, []bool{true, true, true, false, false}, got)

	d, err := l.Check(ctx, "user-2", time.Second, 3)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestRedisStoreWindowSlides(t *testing.T) {
	l, _, advance := newRedisLimiter(t)
	ctx := context.Background()
	start := l.now()

	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, "k", time.Second, 3)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		advance(200 * time.Millisecond)
	}
	d, err := l.Check(ctx, "k", time.Second, 3)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.WithinDuration(t, start.Add(time.Second), d.ResetAt, 0, "oldest timestamp keeps microsecond precision")
	assert.Equal(t, 3, d.Total)

	// the first request sits exactly on the boundary and is out of the window
	advance(400 * time.Millisecond)
	s, err := l.Status(ctx, "k", time.Second, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Total)
	assert.True(t, s.Allowed)

	d, err = l.Check(ctx, "k", time.Second, 3)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Total)
}

func TestRedisStoreStatusDoesNotConsume(t *testing.T) {
	l, mr, _ := newRedisLimiter(t)
	ctx := context.Background()

	_, err := l.Check(ctx, "k", time.Minute, 3)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		s, err := l.Status(ctx, "k", time.Minute, 3)
		require.NoError(t, err)
		assert.Equal(t, 2, s.Remaining)
	}
	members, err := mr.ZMembers("test:rl:k")
	require.NoError(t, err)
	assert.Len(t, members, 1)

	d, err := l.Check(ctx, "k", time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Remaining)
}

func TestRedisStoreKeyExpiresWithWindow(t *testing.T) {
	l, mr, _ := newRedisLimiter(t)
	_, err := l.Check(context.Background(), "k", 1500*time.Microsecond, 3)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Millisecond, mr.TTL("test:rl:k"))

	_, err = l.Check(context.Background(), "k", time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("test:rl:k"))
}

func TestRedisStoreUnavailable(t *testing.T) {
	l, mr, _ := newRedisLimiter(t)
	mr.Close()
	_, err := l.Check(context.Background(), "k", time.Minute, 3)
	assert.Error(t, err)
}
