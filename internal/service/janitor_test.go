package service

import (
	"context"
	"testing"
	"time"

	"github.com/GoPolymarket/ordergate/internal/cache"
	"github.com/GoPolymarket/ordergate/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitorRunsDueTasks(t *testing.T) {
	ctx := context.Background()
	rlStore := ratelimit.NewMemoryStore()
	limiter := ratelimit.New(rlStore, map[string]ratelimit.Policy{
		ratelimit.ClassAPI: {Window: time.Millisecond, MaxRequests: 5, FailMode: ratelimit.FailOpen},
	}, time.Millisecond)
	_, err := limiter.CheckClass(ctx, ratelimit.ClassAPI, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, rlStore.Len())

	store := cache.NewMemoryStore(cache.DefaultTTLPolicy())
	require.True(t, store.Set(ctx, "price:BTC/USDT", []byte("1"), time.Millisecond))

	repo := &recordingAuditRepo{}
	audit := newTestAudit(t, repo)

	j := NewJanitor(limiter, store, audit, JanitorOptions{
		ReclaimInterval: time.Minute,
		SweepInterval:   time.Minute,
		HealthInterval:  time.Second,
		CleanupInterval: time.Hour,
		AuditRetention:  24 * time.Hour,
	})
	assert.Equal(t, time.Second, j.tick)

	time.Sleep(10 * time.Millisecond)
	now := time.Now()
	ran := j.RunDue(ctx, now)
	assert.ElementsMatch(t, []string{"reclaim_limiter", "sweep_cache", "cache_health", "audit_cleanup"}, ran)
	assert.Equal(t, 0, rlStore.Len())
	assert.Equal(t, 0, store.Memory().Sweep(now.Add(time.Hour)), "expired entry already swept")
	assert.Equal(t, 1, repo.cleanups)

	ran = j.RunDue(ctx, now.Add(2*time.Second))
	assert.Equal(t, []string{"cache_health"}, ran)

	ran = j.RunDue(ctx, now.Add(2*time.Hour))
	assert.Len(t, ran, 4)
	assert.Equal(t, 2, repo.cleanups)
}

func TestJanitorSkipsDisabledTasks(t *testing.T) {
	j := NewJanitor(nil, cache.NewMemoryStore(cache.DefaultTTLPolicy()), nil, JanitorOptions{SweepInterval: time.Minute})
	assert.Equal(t, []string{"sweep_cache"}, j.RunDue(context.Background(), time.Now()))

	empty := NewJanitor(nil, nil, nil, JanitorOptions{})
	empty.Start()
	empty.Stop()
	assert.Empty(t, empty.RunDue(context.Background(), time.Now()))
}

func TestJanitorStartStop(t *testing.T) {
	j := NewJanitor(nil, cache.NewMemoryStore(cache.DefaultTTLPolicy()), nil, JanitorOptions{SweepInterval: 5 * time.Millisecond})
	j.Start()
	j.Start()
	time.Sleep(20 * time.Millisecond)
	j.Stop()
	j.Stop()
}
