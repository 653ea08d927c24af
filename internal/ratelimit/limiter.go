// Package ratelimit implements fixed-window request counters keyed by
// (scope, id). Counters are eventually consistent: a lost increment only
// relaxes a limit, never blocks a legitimate request.
package ratelimit

import (
	"context"
	"time"
)

// Store counts attempts within fixed windows.
type Store interface {
	// Incr records an attempt under key for the window containing nowMs
	// and returns the count including this attempt.
	Incr(ctx context.Context, key string, window time.Duration, nowMs int64) (int, error)
}

// Limiter enforces one (limit, window) bucket over a Store.
type Limiter struct {
	store  Store
	scope  string
	limit  int
	window time.Duration
}

// NewLimiter creates a limiter for a scope ("ip", "wallet").
func NewLimiter(store Store, scope string, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, scope: scope, limit: limit, window: window}
}

// Allow records an attempt for id and reports whether it is within the
// limit. When rejected, retryAfter is the time until the window rolls.
// Store failures fail open: limits degrade, safety never depends on them.
func (l *Limiter) Allow(ctx context.Context, id string, nowMs int64) (ok bool, retryAfter time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}

	count, err := l.store.Incr(ctx, l.scope+":"+id, l.window, nowMs)
	if err != nil {
		return true, 0
	}
	if count <= l.limit {
		return true, 0
	}

	windowMs := l.window.Milliseconds()
	elapsed := nowMs % windowMs
	return false, time.Duration(windowMs-elapsed) * time.Millisecond
}
