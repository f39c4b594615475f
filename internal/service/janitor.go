package service

import (
	"context"
	"sync"
	"time"

	"github.com/GoPolymarket/ordergate/internal/cache"
	"github.com/GoPolymarket/ordergate/internal/pkg/logger"
	"github.com/GoPolymarket/ordergate/internal/ratelimit"
)

// JanitorOptions sets how often each housekeeping task runs. A zero interval
// disables that task.
type JanitorOptions struct {
	ReclaimInterval time.Duration
	SweepInterval   time.Duration
	HealthInterval  time.Duration
	CleanupInterval time.Duration
	AuditRetention  time.Duration
}

type janitorTask struct {
	name     string
	interval time.Duration
	lastRun  time.Time
	run      func(ctx context.Context, now time.Time)
}

// Janitor is the single periodic task that reclaims idle limiter identifiers,
// sweeps expired in-process cache entries, health-checks the distributed
// cache and prunes old audit rows.
type Janitor struct {
	tasks []*janitorTask
	tick  time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewJanitor(limiter *ratelimit.Limiter, store *cache.Store, audit *AuditService, opts JanitorOptions) *Janitor {
	j := &Janitor{}
	if limiter != nil {
		j.add("reclaim_limiter", opts.ReclaimInterval, func(ctx context.Context, _ time.Time) {
			n, err := limiter.Reclaim(ctx)
			if err != nil {
				logger.Warn("rate limiter reclaim failed", "error", err)
				return
			}
			if n > 0 {
				logger.Debug("reclaimed idle rate limit identifiers", "count", n)
			}
		})
	}
	if store != nil {
		j.add("sweep_cache", opts.SweepInterval, func(_ context.Context, now time.Time) {
			if n := store.Memory().Sweep(now); n > 0 {
				logger.Debug("swept expired cache entries", "count", n)
			}
		})
		j.add("cache_health", opts.HealthInterval, func(ctx context.Context, _ time.Time) {
			_ = store.HealthCheck(ctx)
		})
	}
	if audit != nil && opts.AuditRetention > 0 {
		j.add("audit_cleanup", opts.CleanupInterval, func(ctx context.Context, _ time.Time) {
			n, err := audit.Cleanup(ctx, opts.AuditRetention)
			if err != nil {
				logger.Warn("audit cleanup failed", "error", err)
				return
			}
			if n > 0 {
				logger.Info("pruned audit rows", "count", n, "retention", opts.AuditRetention.String())
			}
		})
	}
	return j
}

func (j *Janitor) add(name string, interval time.Duration, run func(context.Context, time.Time)) {
	if interval <= 0 {
		return
	}
	j.tasks = append(j.tasks, &janitorTask{name: name, interval: interval, run: run})
	if j.tick == 0 || interval < j.tick {
		j.tick = interval
	}
}

// RunDue runs every task whose interval has elapsed at now.
func (j *Janitor) RunDue(ctx context.Context, now time.Time) []string {
	var ran []string
	for _, t := range j.tasks {
		if !t.lastRun.IsZero() && now.Sub(t.lastRun) < t.interval {
			continue
		}
		t.lastRun = now
		t.run(ctx, now)
		ran = append(ran, t.name)
	}
	return ran
}

// Start launches the ticker loop in a background goroutine.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil || len(j.tasks) == 0 {
		return
	}
	j.ctx, j.cancel = context.WithCancel(context.Background())
	j.done = make(chan struct{})
	go j.loop(j.ctx, j.done)
}

func (j *Janitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(j.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			j.RunDue(ctx, now)
		}
	}
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel = nil
	j.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
