package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoPolymarket/ordergate/internal/config"
	"github.com/GoPolymarket/ordergate/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStore struct{}

var errStore = errors.New("connection refused")

func (brokenStore) Take(context.Context, string, time.Time, time.Duration, int) (Window, bool, error) {
	return Window{}, false, errStore
}

func (brokenStore) Peek(context.Context, string, time.Time, time.Duration) (Window, error) {
	return Window{}, errStore
}

func (brokenStore) Reclaim(context.Context, time.Time, time.Duration) (int, error) {
	return 0, errStore
}

func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	var mu sync.Mutex
	now := start
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}, func(d time.Duration) {
			mu.Lock()
			now = now.Add(d)
			mu.Unlock()
		}
}

func TestCheckAdmitsUpToLimit(t *testing.T) {
	l := New(NewMemoryStore(), nil, time.Hour)
	ctx := context.Background()

	var got []bool
	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, "user-1", time.Second, 3)
		require.NoError(t, err)
		got = append(got, d.Allowed)
	}
	assert.Equal(t, []bool{true, true, true, false, false}, got)

	d, err := l.Check(ctx, "user-2", time.Second, 3)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "identifiers are independent")
	assert.Equal(t, 2, d.Remaining)
}

func TestWindowSlides(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now, advance := fixedClock(start)
	l := New(NewMemoryStore(), nil, time.Hour)
	l.now = now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, _ := l.Check(ctx, "k", time.Second, 3)
		require.True(t, d.Allowed)
		advance(200 * time.Millisecond)
	}
	d, _ := l.Check(ctx, "k", time.Second, 3)
	assert.False(t, d.Allowed)
	assert.WithinDuration(t, start.Add(time.Second), d.ResetAt, 0)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 3, d.Total)

	// first request leaves the window at start+1s
	advance(500 * time.Millisecond)
	d, _ = l.Check(ctx, "k", time.Second, 3)
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Total)
}

func TestStatusDoesNotConsume(t *testing.T) {
	l := New(NewMemoryStore(), nil, time.Hour)
	ctx := context.Background()

	_, err := l.Check(ctx, "k", time.Minute, 3)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		s, err := l.Status(ctx, "k", time.Minute, 3)
		require.NoError(t, err)
		assert.Equal(t, 2, s.Remaining)
		assert.True(t, s.Allowed)
	}

	d, err := l.Check(ctx, "k", time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Remaining)
}

func TestConcurrentCallersNeverExceedLimit(t *testing.T) {
	l := New(NewMemoryStore(), nil, time.Hour)
	ctx := context.Background()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Check(ctx, "hot", time.Minute, 25)
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(25), admitted.Load())
}

func TestReclaimDropsIdleIdentifiers(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now, advance := fixedClock(start)
	store := NewMemoryStore()
	l := New(store, nil, time.Minute)
	l.now = now
	ctx := context.Background()

	_, _ = l.Check(ctx, "idle", time.Second, 5)
	advance(45 * time.Second)
	_, _ = l.Check(ctx, "busy", time.Second, 5)
	advance(30 * time.Second)

	n, err := l.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len())
}

func TestCheckClassFailModes(t *testing.T) {
	ctx := context.Background()
	l := New(brokenStore{}, map[string]Policy{
		ClassAPI:   {Window: time.Minute, MaxRequests: 100, FailMode: FailOpen},
		ClassOrder: {Window: time.Minute, MaxRequests: 20, FailMode: FailClosed},
	}, time.Hour)

	d, err := l.CheckClass(ctx, ClassAPI, "u1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.CheckClass(ctx, ClassOrder, "u1")
	require.Error(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, apperrors.ErrTransient, apperrors.TypeOf(err))
}

func TestCheckClassUnknown(t *testing.T) {
	l := New(NewMemoryStore(), nil, time.Hour)
	_, err := l.CheckClass(context.Background(), "nope", "u1")
	require.Error(t, err)
	_, err = l.StatusClass(context.Background(), "nope", "u1")
	assert.Equal(t, apperrors.ErrNotFound, apperrors.TypeOf(err))
}

func TestPoliciesFromConfig(t *testing.T) {
	policies := PoliciesFromConfig(config.Default().RateLimit)

	order := policies[ClassOrder]
	assert.Equal(t, time.Minute, order.Window)
	assert.Equal(t, 20, order.MaxRequests)
	assert.Equal(t, FailClosed, order.FailMode)

	auth := policies[ClassAuth]
	assert.Equal(t, 15*time.Minute, auth.Window)
	assert.Equal(t, 5, auth.MaxRequests)
	assert.Equal(t, FailOpen, auth.FailMode)

	assert.Equal(t, FailClosed, policies[ClassWithdrawal].FailMode)
	assert.Equal(t, FailOpen, policies[ClassAPI].FailMode)
	assert.Len(t, policies, 6)
}

func TestClassKeysAreIsolated(t *testing.T) {
	l := New(NewMemoryStore(), map[string]Policy{
		ClassOrder:   {Window: time.Minute, MaxRequests: 1, FailMode: FailClosed},
		ClassTrading: {Window: time.Minute, MaxRequests: 1, FailMode: FailClosed},
	}, time.Hour)
	ctx := context.Background()

	d, err := l.CheckClass(ctx, ClassOrder, "u1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = l.CheckClass(ctx, ClassTrading, "u1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = l.CheckClass(ctx, ClassOrder, "u1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}
