package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// flakyBackend is a memory backend that can be switched off to simulate a
// network partition.
type flakyBackend struct {
	*MemoryBackend
	mu   sync.Mutex
	down bool
}

var errUnreachable = errors.New("dial tcp: connection refused")

func (f *flakyBackend) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flakyBackend) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errUnreachable
	}
	return nil
}

func (f *flakyBackend) Name() string { return BackendRedis }

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := f.fail(); err != nil {
		return nil, false, err
	}
	return f.MemoryBackend.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.MemoryBackend.Set(ctx, key, value, ttl)
}

func (f *flakyBackend) Del(ctx context.Context, key string) (bool, error) {
	if err := f.fail(); err != nil {
		return false, err
	}
	return f.MemoryBackend.Del(ctx, key)
}

func (f *flakyBackend) Ping(context.Context) error {
	return f.fail()
}

func newFlakyStore(t *testing.T) (*Store, *flakyBackend) {
	t.Helper()
	remote := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	s := NewMemoryStore(DefaultTTLPolicy())
	s.distributed = remote
	s.pinger = remote.Ping
	s.probes.SetLimit(1000)
	s.markUp()
	return s, remote
}

func TestSetGetRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(DefaultTTLPolicy())

	require.True(t, s.Set(ctx, "price:BTC-USDT", []byte("42"), 50*time.Millisecond))
	val, ok := s.Get(ctx, "price:BTC-USDT")
	require.True(t, ok)
	assert.Equal(t, "42", string(val))
	assert.True(t, s.Exists(ctx, "price:BTC-USDT"))

	time.Sleep(80 * time.Millisecond)
	_, ok = s.Get(ctx, "price:BTC-USDT")
	assert.False(t, ok)
	assert.False(t, s.Exists(ctx, "price:BTC-USDT"))
}

func TestSetResetsExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	s.Set(ctx, "k", []byte("a"), 40*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	s.Set(ctx, "k", []byte("b"), 200*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	val, ok := s.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "b", string(val))
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	s.Set(ctx, "k", []byte("abc"), 0)

	val, _ := s.Get(ctx, "k")
	val[0] = 'z'

	again, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestKeysPatternAndInvalidate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	for _, k := range []string{"orderbook:BTC/USDT", "orderbook:ETH/USDT", "trades:BTC/USDT", "balance:u1"} {
		s.Set(ctx, k, []byte("x"), time.Minute)
	}

	keys := s.Keys(ctx, "orderbook:*")
	sort.Strings(keys)
	assert.Equal(t, []string{"orderbook:BTC/USDT", "orderbook:ETH/USDT"}, keys)
	assert.Len(t, s.Keys(ctx, "*:BTC/USDT"), 2)
	assert.Len(t, s.Keys(ctx, "balance:u?"), 1)

	assert.Equal(t, 2, s.InvalidatePattern(ctx, "*BTC*"))
	assert.False(t, s.Exists(ctx, "trades:BTC/USDT"))
	assert.True(t, s.Exists(ctx, "orderbook:ETH/USDT"))

	s.Flush(ctx)
	assert.Empty(t, s.Keys(ctx, "*"))
}

func TestSweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	_ = b.Set(ctx, "short", []byte("1"), time.Millisecond)
	_ = b.Set(ctx, "long", []byte("1"), time.Hour)

	removed := b.Sweep(time.Now().Add(time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, b.Len())
}

func TestFailoverIsTransparent(t *testing.T) {
	ctx := context.Background()
	s, remote := newFlakyStore(t)

	require.True(t, s.Set(ctx, "a", []byte("remote"), time.Minute))
	assert.Equal(t, BackendRedis, s.Backend())
	_, inMemory, _ := s.memory.Get(ctx, "a")
	assert.False(t, inMemory)

	remote.setDown(true)
	assert.True(t, s.Set(ctx, "b", []byte("local"), time.Minute))
	val, ok := s.Get(ctx, "b")
	require.True(t, ok)
	assert.Equal(t, "local", string(val))
	assert.Equal(t, BackendMemory, s.Backend())

	remote.setDown(false)
	require.NoError(t, s.HealthCheck(ctx))
	assert.Equal(t, BackendRedis, s.Backend())
	val, ok = s.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "remote", string(val))
}

func TestDelClearsBothBackends(t *testing.T) {
	ctx := context.Background()
	s, remote := newFlakyStore(t)

	remote.setDown(true)
	s.Set(ctx, "balance:u1", []byte("stale"), time.Minute)
	remote.setDown(false)
	require.NoError(t, s.HealthCheck(ctx))

	s.Del(ctx, "balance:u1")
	remote.setDown(true)
	_, ok := s.Get(ctx, "balance:u1")
	assert.False(t, ok)
}

func TestUnreachableRedisFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	s := NewStore(client, "test:", StoreOptions{OpTimeout: 100 * time.Millisecond, TTL: DefaultTTLPolicy()})
	assert.Equal(t, BackendMemory, s.Backend())
	assert.True(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok := s.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(val))
}

func TestGetOrFetchAndInvalidation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(DefaultTTLPolicy())
	calls := 0
	fetch := func(context.Context) (map[string]int, error) {
		calls++
		return map[string]int{"depth": calls}, nil
	}
	key := OrderBookKey("BTC/USDT")

	v, hit, err := GetOrFetch(ctx, s, ClassOrderBook, key, fetch)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, v["depth"])

	v, hit, err = GetOrFetch(ctx, s, ClassOrderBook, key, fetch)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, v["depth"])

	assert.Equal(t, 1, Invalidate(ctx, s, AffectedKeys("BTC/USDT", "u1")...))

	v, hit, err = GetOrFetch(ctx, s, ClassOrderBook, key, fetch)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, v["depth"])
	assert.Equal(t, 2, calls)
}

func TestGetOrFetchDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(DefaultTTLPolicy())
	_, _, err := GetOrFetch(ctx, s, ClassPrice, "price:X", func(context.Context) (int, error) {
		return 0, errors.New("ledger down")
	})
	require.Error(t, err)
	assert.False(t, s.Exists(ctx, "price:X"))
}

func TestTTLPolicyFromMillis(t *testing.T) {
	p := TTLPolicyFromMillis(map[string]int{"price": 2000, "orderbook": 0})
	assert.Equal(t, 2*time.Second, p.For(ClassPrice))
	assert.Equal(t, time.Second, p.For(ClassOrderBook))
	assert.Equal(t, 5*time.Minute, p.For(ClassBalance))
}

func TestInvalidationDuringOutageIsReplayedOnRecovery(t *testing.T) {
	ctx := context.Background()
	s, remote := newFlakyStore(t)
	s.probes = rate.NewLimiter(0, 0)

	require.True(t, s.Set(ctx, "balance:u1", []byte("old"), time.Minute))
	require.True(t, s.Set(ctx, "orderbook:BTC/USDT", []byte("old"), time.Minute))

	remote.setDown(true)
	assert.Equal(t, 0, Invalidate(ctx, s, "balance:u1"))
	assert.Equal(t, 0, s.InvalidatePattern(ctx, "orderbook:*"))
	assert.Equal(t, BackendMemory, s.Backend())

	remote.setDown(false)
	s.markUp()
	assert.Equal(t, BackendMemory, s.Backend(), "a reconnect alone does not reselect redis with deletes pending")

	require.NoError(t, s.HealthCheck(ctx))
	assert.Equal(t, BackendRedis, s.Backend())
	_, ok := s.Get(ctx, "balance:u1")
	assert.False(t, ok)
	_, ok = s.Get(ctx, "orderbook:BTC/USDT")
	assert.False(t, ok)
}

func TestWritesDuringOutageDropRemoteCopies(t *testing.T) {
	ctx := context.Background()
	s, remote := newFlakyStore(t)
	s.probes = rate.NewLimiter(0, 0)

	require.True(t, s.Set(ctx, "price:BTC/USDT", []byte("old"), time.Minute))
	remote.setDown(true)
	require.True(t, s.Set(ctx, "price:BTC/USDT", []byte("new"), time.Minute))

	remote.setDown(false)
	require.NoError(t, s.HealthCheck(ctx))
	_, ok := s.Get(ctx, "price:BTC/USDT")
	assert.False(t, ok, "the pre-outage value must not be served")
}

func TestFailedReplayKeepsRedisDeselected(t *testing.T) {
	ctx := context.Background()
	s, remote := newFlakyStore(t)
	s.probes = rate.NewLimiter(0, 0)

	require.True(t, s.Set(ctx, "balance:u1", []byte("old"), time.Minute))
	remote.setDown(true)
	s.Del(ctx, "balance:u1")

	require.Error(t, s.HealthCheck(ctx))
	assert.Equal(t, BackendMemory, s.Backend())
	assert.True(t, s.missed.pending())

	remote.setDown(false)
	require.NoError(t, s.HealthCheck(ctx))
	assert.False(t, s.missed.pending())
	_, ok := s.Get(ctx, "balance:u1")
	assert.False(t, ok)
}

func TestOutageBookkeepingFallsBackToFlush(t *testing.T) {
	var o outage
	for i := 0; i <= maxMissedKeys; i++ {
		o.addKey(fmt.Sprintf("k%d", i))
	}
	o.addPattern("orders:*")
	keys, patterns, flush := o.take()
	assert.True(t, flush)
	assert.Empty(t, keys)
	assert.Empty(t, patterns)
	assert.True(t, o.pending(), "replay in progress")
	o.done()
	assert.False(t, o.pending())
}
