// Package ratelimit paces how fast the worker pool (C3) may launch new sync
// subprocesses, independent of the host/thread concurrency caps — useful
// when many hosts share a narrow uplink.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate for subprocess-launch pacing.
type Limiter struct {
	limiter *rate.Limiter
	mu      sync.RWMutex
}

// New builds a launch-rate limiter. launchesPerSecond <= 0 means unlimited
// (the default, matching launch_rate_per_sec = 0 in the config schema).
func New(launchesPerSecond int, burst int) *Limiter {
	if launchesPerSecond <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = launchesPerSecond
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(launchesPerSecond), burst)}
}

// Wait blocks until the limiter permits launching the next subprocess.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	limiter := l.limiter
	l.mu.RUnlock()
	return limiter.Wait(ctx)
}

// Allow reports whether a launch is permitted right now.
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	limiter := l.limiter
	l.mu.RUnlock()
	return limiter.Allow()
}

// SetRate updates the rate limit at runtime. The run does not call it:
// `-o launch_rate_per_sec=N` is applied to the config before the limiter is built.
func (l *Limiter) SetRate(launchesPerSecond, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if launchesPerSecond <= 0 {
		l.limiter.SetLimit(rate.Inf)
		l.limiter.SetBurst(0)
		return
	}
	if burst <= 0 {
		burst = launchesPerSecond
	}
	l.limiter.SetLimit(rate.Limit(launchesPerSecond))
	l.limiter.SetBurst(burst)
}

// CurrentRate returns the current rate/burst settings.
func (l *Limiter) CurrentRate() (limit float64, burst int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return float64(l.limiter.Limit()), l.limiter.Burst()
}
