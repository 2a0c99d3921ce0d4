// Package ratelimit keeps one token bucket per client key.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	lim  *rate.Limiter
	last time.Time
}

// Limiter gives every key limit requests per window, refilled continuously.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*entry
	every   rate.Limit
	burst   int
	window  time.Duration
	now     func() time.Time
}

func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		clients: make(map[string]*entry),
		every:   rate.Limit(float64(limit) / window.Seconds()),
		burst:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow takes one token for key. When none is available it returns false
// and how long until one is.
func (l *Limiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	now := l.now()
	e, exists := l.clients[key]
	if !exists {
		e = &entry{lim: rate.NewLimiter(l.every, l.burst)}
		l.clients[key] = e
	}
	e.last = now
	l.mu.Unlock()

	r := e.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, l.window
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Run evicts idle clients every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, left := l.evict(); n > 0 {
				slog.Debug("rate limiter evicted idle clients", "evicted", n, "tracked", left)
			}
		}
	}
}

// evict drops clients unseen for two windows; their buckets are full again.
func (l *Limiter) evict() (evicted, left int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-2 * l.window)
	for key, e := range l.clients {
		if e.last.Before(cutoff) {
			delete(l.clients, key)
			evicted++
		}
	}
	return evicted, len(l.clients)
}
