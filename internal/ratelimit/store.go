package ratelimit

import (
	"context"
	"time"
)

// Window is the state of one identifier's trailing window at a point in time.
type Window struct {
	// Count is the number of accepted requests inside the window, including
	// the current one when it was admitted.
	Count int
	// Oldest is the earliest accepted timestamp still inside the window. Zero
	// when the window is empty.
	Oldest time.Time
}

// WindowStore keeps the per-identifier timestamp logs. Implementations must
// make Take atomic per key: evict, count, compare and record happen as one
// step so concurrent callers can never overshoot the limit.
type WindowStore interface {
	// Take evicts timestamps older than now-window and records now if fewer
	// than limit remain.
	Take(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Window, bool, error)
	// Peek reports the window without recording or evicting anything.
	Peek(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error)
	// Reclaim drops identifiers whose newest timestamp is older than
	// now-maxAge and returns how many were removed.
	Reclaim(ctx context.Context, now time.Time, maxAge time.Duration) (int, error)
}
