package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GoPolymarket/ordergate/internal/config"
	"github.com/GoPolymarket/ordergate/internal/pkg/apperrors"
	"github.com/GoPolymarket/ordergate/internal/pkg/logger"
	"github.com/GoPolymarket/ordergate/internal/pkg/metrics"
)

// Route classes with their own quota.
const (
	ClassAuth       = "auth"
	ClassOrder      = "order"
	ClassTrading    = "trading"
	ClassWithdrawal = "withdrawal"
	ClassAPI        = "api"
	ClassAdmin      = "admin"
)

// FailMode decides what a store failure means for the caller.
type FailMode string

const (
	FailOpen   FailMode = "open"
	FailClosed FailMode = "closed"
)

type Policy struct {
	Window      time.Duration
	MaxRequests int
	FailMode    FailMode
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Total     int       `json:"total"`
	Limit     int       `json:"limit"`
}

// Limiter is the process-wide sliding-window admission controller. Create one
// with New and share it; the janitor calls Reclaim periodically.
type Limiter struct {
	store    WindowStore
	policies map[string]Policy
	maxAge   time.Duration
	now      func() time.Time
}

func New(store WindowStore, policies map[string]Policy, maxAge time.Duration) *Limiter {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Limiter{
		store:    store,
		policies: policies,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// PoliciesFromConfig converts the ratelimit.policies section. Unknown fail
// modes fall back to closed.
func PoliciesFromConfig(cfg config.RateLimitConfig) map[string]Policy {
	out := make(map[string]Policy, len(cfg.Policies))
	for class, p := range cfg.Policies {
		mode := FailMode(strings.ToLower(p.FailMode))
		if mode != FailOpen {
			mode = FailClosed
		}
		out[strings.ToLower(class)] = Policy{
			Window:      p.Window(),
			MaxRequests: p.MaxRequests,
			FailMode:    mode,
		}
	}
	return out
}

func (l *Limiter) Policy(class string) (Policy, bool) {
	p, ok := l.policies[class]
	return p, ok
}

// Check records a request for identifier if it fits in the trailing window.
// Store errors are returned as-is; see CheckClass for fail-mode handling.
func (l *Limiter) Check(ctx context.Context, identifier string, window time.Duration, maxRequests int) (Decision, error) {
	now := l.now()
	w, allowed, err := l.store.Take(ctx, identifier, now, window, maxRequests)
	if err != nil {
		return Decision{}, err
	}
	return decide(w, allowed, now, window, maxRequests), nil
}

// Status reports the quota for identifier without consuming it.
func (l *Limiter) Status(ctx context.Context, identifier string, window time.Duration, maxRequests int) (Decision, error) {
	now := l.now()
	w, err := l.store.Peek(ctx, identifier, now, window)
	if err != nil {
		return Decision{}, err
	}
	return decide(w, w.Count < maxRequests, now, window, maxRequests), nil
}

// CheckClass applies the class policy to identifier. On store failure a
// fail-open class admits the request; a fail-closed class rejects it with a
// transient error.
func (l *Limiter) CheckClass(ctx context.Context, class, identifier string) (Decision, error) {
	p, ok := l.policies[class]
	if !ok {
		return Decision{}, apperrors.New(apperrors.ErrInternal, fmt.Sprintf("no rate limit policy for class %q", class), nil)
	}
	d, err := l.Check(ctx, classKey(class, identifier), p.Window, p.MaxRequests)
	if err != nil {
		return l.onStoreError(ctx, class, p, err)
	}
	outcome := "allowed"
	if !d.Allowed {
		outcome = "rejected"
	}
	metrics.Admissions.WithLabelValues(class, outcome).Inc()
	return d, nil
}

func (l *Limiter) StatusClass(ctx context.Context, class, identifier string) (Decision, error) {
	p, ok := l.policies[class]
	if !ok {
		return Decision{}, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("unknown rate limit class %q", class), nil)
	}
	d, err := l.Status(ctx, classKey(class, identifier), p.Window, p.MaxRequests)
	if err != nil {
		return Decision{}, apperrors.NewTransient("rate limit store unavailable", err)
	}
	return d, nil
}

func (l *Limiter) onStoreError(ctx context.Context, class string, p Policy, err error) (Decision, error) {
	now := l.now()
	if p.FailMode == FailOpen {
		logger.Warn("rate limit store failed, admitting request", "class", class, "error", err)
		metrics.Admissions.WithLabelValues(class, "fail_open").Inc()
		return Decision{
			Allowed:   true,
			Remaining: p.MaxRequests,
			ResetAt:   now.Add(p.Window),
			Limit:     p.MaxRequests,
		}, nil
	}
	logger.LogError(ctx, err, "rate limit store failed, rejecting request", "class", class)
	metrics.Admissions.WithLabelValues(class, "fail_closed").Inc()
	return Decision{ResetAt: now.Add(p.Window), Limit: p.MaxRequests},
		apperrors.NewTransient("rate limit store unavailable", err)
}

// Reclaim drops identifiers idle for longer than the max-age horizon.
func (l *Limiter) Reclaim(ctx context.Context) (int, error) {
	return l.store.Reclaim(ctx, l.now(), l.maxAge)
}

func classKey(class, identifier string) string {
	return class + ":" + identifier
}

func decide(w Window, allowed bool, now time.Time, window time.Duration, limit int) Decision {
	remaining := limit - w.Count
	if remaining < 0 {
		remaining = 0
	}
	reset := now.Add(window)
	if !w.Oldest.IsZero() {
		reset = w.Oldest.Add(window)
	}
	return Decision{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   reset,
		Total:     w.Count,
		Limit:     limit,
	}
}
