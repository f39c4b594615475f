package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoPolymarket/ordergate/internal/pkg/logger"
	"github.com/GoPolymarket/ordergate/internal/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Store is the cache facade used by the rest of the process. It prefers the
// distributed backend while it is healthy and transparently serves from the
// in-process backend otherwise. Callers never see backend errors.
//
// One Store is created per process by the composition root and lives until
// Close.
type Store struct {
	distributed Backend
	pinger      func(context.Context) error
	memory      *MemoryBackend
	ttl         TTLPolicy
	opTimeout   time.Duration

	healthy atomic.Bool
	probing atomic.Bool
	probes  *rate.Limiter
	missed  outage
	checkMu sync.Mutex
}

type StoreOptions struct {
	// OpTimeout bounds each distributed round trip.
	OpTimeout time.Duration
	// ProbeInterval is the minimum spacing between recovery probes while degraded.
	ProbeInterval time.Duration
	TTL           TTLPolicy
}

// NewMemoryStore builds a Store with no distributed backend.
func NewMemoryStore(ttl TTLPolicy) *Store {
	s := &Store{
		memory:    NewMemoryBackend(),
		ttl:       ttl,
		opTimeout: 250 * time.Millisecond,
		probes:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
	metrics.CacheBackend.Set(0)
	return s
}

// NewStore builds a Store over a go-redis client. The client's hooks are used
// as the connection-state callback for backend selection.
func NewStore(client redis.UniversalClient, prefix string, opts StoreOptions) *Store {
	s := NewMemoryStore(opts.TTL)
	if opts.OpTimeout > 0 {
		s.opTimeout = opts.OpTimeout
	}
	if opts.ProbeInterval > 0 {
		s.probes = rate.NewLimiter(rate.Every(opts.ProbeInterval), 1)
	}
	if client == nil {
		return s
	}
	backend := NewRedisBackend(client, prefix)
	s.distributed = backend
	s.pinger = backend.Ping
	client.AddHook(healthHook{onUp: s.markUp, onDown: s.markDown})

	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	if err := backend.Ping(ctx); err != nil {
		s.markDown(err)
	} else {
		s.markUp()
	}
	return s
}

// Backend names the backend that will serve the next call.
func (s *Store) Backend() string {
	if s.useDistributed() {
		return BackendRedis
	}
	return BackendMemory
}

// Memory exposes the in-process backend for the janitor sweep.
func (s *Store) Memory() *MemoryBackend {
	return s.memory
}

func (s *Store) TTL(class Class) time.Duration {
	return s.ttl.For(class)
}

// markUp selects the distributed backend again. While writes missed during an
// outage are pending it stays deselected; HealthCheck replays them first.
func (s *Store) markUp() {
	if s.distributed == nil || s.missed.pending() {
		return
	}
	if !s.healthy.Swap(true) {
		logger.Info("distributed cache available", "backend", BackendRedis)
		metrics.CacheBackend.Set(1)
	}
}

func (s *Store) markDown(err error) {
	if s.healthy.Swap(false) {
		logger.Warn("distributed cache unavailable, serving from memory", "error", err)
		metrics.CacheBackend.Set(0)
	}
}

func (s *Store) useDistributed() bool {
	if s.distributed == nil {
		return false
	}
	if s.healthy.Load() {
		return true
	}
	s.maybeProbe()
	return false
}

// maybeProbe starts at most one background recovery probe per probe interval.
func (s *Store) maybeProbe() {
	if s.pinger == nil || !s.probes.Allow() {
		return
	}
	if !s.probing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.probing.Store(false)
		_ = s.HealthCheck(context.Background())
	}()
}

// HealthCheck pings the distributed backend and updates the selection flag.
// Concurrent checks run one at a time.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	s.checkMu.Lock()
	defer s.checkMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	err := s.pinger(ctx)
	if err == nil {
		err = s.replayMissed(ctx)
	}
	if err != nil {
		s.markDown(err)
		return err
	}
	s.markUp()
	return nil
}

// replayMissed removes from the distributed backend every key written or
// deleted in memory only, so the entries it still holds cannot resurface.
func (s *Store) replayMissed(parent context.Context) error {
	keys, patterns, flush := s.missed.take()
	if len(keys) == 0 && len(patterns) == 0 && !flush {
		s.missed.done()
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), replayTimeoutFactor*s.opTimeout)
	defer cancel()

	err := func() error {
		if flush {
			return s.distributed.Flush(ctx)
		}
		for _, pattern := range patterns {
			matched, err := s.distributed.Keys(ctx, pattern)
			if err != nil {
				return err
			}
			keys = append(keys, matched...)
		}
		for _, key := range keys {
			if _, err := s.distributed.Del(ctx, key); err != nil {
				return err
			}
		}
		return nil
	}()
	if err != nil {
		s.missed.restore(keys, patterns, flush)
		return err
	}
	s.missed.done()
	logger.Info("replayed cache writes missed during outage", "keys", len(keys), "patterns", len(patterns), "flush", flush)
	return nil
}

// withDistributed runs op against the distributed backend when selected. It
// returns false when the caller must fall back to memory.
func (s *Store) withDistributed(ctx context.Context, op func(context.Context, Backend) error) bool {
	if !s.useDistributed() {
		return false
	}
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := op(opCtx, s.distributed); err != nil {
		if isConnectionError(ctx, err) {
			s.markDown(err)
		} else {
			logger.Warn("distributed cache operation failed", "error", err)
		}
		return false
	}
	return true
}

// Get returns the value stored under key, or false when absent or expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	var (
		val   []byte
		found bool
	)
	if s.withDistributed(ctx, func(ctx context.Context, b Backend) error {
		var err error
		val, found, err = b.Get(ctx, key)
		return err
	}) {
		return val, found
	}
	val, found, _ = s.memory.Get(ctx, key)
	return val, found
}

// Set overwrites key and resets its expiry from ttl. A zero ttl never expires.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if s.withDistributed(ctx, func(ctx context.Context, b Backend) error {
		return b.Set(ctx, key, value, ttl)
	}) {
		return true
	}
	s.recordMissedKey(key)
	return s.memory.Set(ctx, key, value, ttl) == nil
}

// Del removes key from both backends so entries written during an outage
// cannot resurface after a switch.
func (s *Store) Del(ctx context.Context, key string) bool {
	removed, _ := s.memory.Del(ctx, key)
	var remote bool
	if !s.withDistributed(ctx, func(ctx context.Context, b Backend) error {
		var err error
		remote, err = b.Del(ctx, key)
		return err
	}) {
		s.recordMissedKey(key)
	}
	return removed || remote
}

func (s *Store) Exists(ctx context.Context, key string) bool {
	var found bool
	if s.withDistributed(ctx, func(ctx context.Context, b Backend) error {
		var err error
		found, err = b.Exists(ctx, key)
		return err
	}) {
		return found
	}
	found, _ = s.memory.Exists(ctx, key)
	return found
}

func (s *Store) Keys(ctx context.Context, pattern string) []string {
	var keys []string
	if s.withDistributed(ctx, func(ctx context.Context, b Backend) error {
		var err error
		keys, err = b.Keys(ctx, pattern)
		return err
	}) {
		return keys
	}
	keys, err := s.memory.Keys(ctx, pattern)
	if err != nil {
		logger.Warn("invalid cache key pattern", "pattern", pattern, "error", err)
		return nil
	}
	return keys
}

// InvalidatePattern deletes every key matching pattern and returns the count.
func (s *Store) InvalidatePattern(ctx context.Context, pattern string) int {
	if s.distributed != nil && !s.healthy.Load() {
		s.missed.addPattern(pattern)
	}
	n := 0
	for _, key := range s.Keys(ctx, pattern) {
		if s.Del(ctx, key) {
			n++
		}
	}
	return n
}

func (s *Store) Flush(ctx context.Context) {
	_ = s.memory.Flush(ctx)
	if !s.withDistributed(ctx, func(ctx context.Context, b Backend) error {
		return b.Flush(ctx)
	}) && s.distributed != nil {
		s.missed.flushAll()
	}
}

func (s *Store) recordMissedKey(key string) {
	if s.distributed != nil {
		s.missed.addKey(key)
	}
}
