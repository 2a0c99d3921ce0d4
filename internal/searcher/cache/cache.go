// Package cache keeps rendered API responses in Redis. Identical concurrent
// misses are collapsed with singleflight so the index sees one request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/redis"
)

const keyPrefix = "filmsearch:"

// computeTimeout bounds a shared computation, which outlives any single
// caller's context.
const computeTimeout = 30 * time.Second

// Store is the subset of *pkgredis.Client the cache uses.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// ResponseCache caches JSON response bodies. A nil *ResponseCache always
// computes.
type ResponseCache struct {
	store   Store
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(store Store, ttl time.Duration, m *metrics.Metrics) *ResponseCache {
	return &ResponseCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "response-cache"),
	}
}

// Key builds the cache key for an endpoint and its parameters. Parameters
// are used verbatim: keyword fields in the index are case sensitive.
func Key(endpoint string, params ...string) string {
	raw := endpoint + "\x00" + strings.Join(params, "\x00")
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%x", keyPrefix, endpoint, hash[:16])
}

// Get returns the cached body for key.
func (c *ResponseCache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	if !json.Valid([]byte(data)) {
		c.logger.Error("cached value is not JSON", "key", key)
		c.miss()
		return nil, false
	}
	c.hit()
	return json.RawMessage(data), true
}

// Set stores body under key. Failures are logged, never returned.
func (c *ResponseCache) Set(ctx context.Context, key string, body json.RawMessage) {
	if c == nil {
		return
	}
	if err := c.store.Set(ctx, key, []byte(body), c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached body for key or marshals the result of
// compute, caching it. cached reports whether the body came from Redis.
//
// Concurrent misses on one key share a single compute call. It runs under a
// context detached from the callers so one cancelled request does not fail
// the others; each caller still returns as soon as its own ctx is done. The
// returned body is owned by the caller.
func (c *ResponseCache) GetOrCompute(
	ctx context.Context,
	key string,
	compute func(ctx context.Context) (any, error),
) (body json.RawMessage, cached bool, err error) {
	if c == nil {
		v, err := compute(ctx)
		if err != nil {
			return nil, false, err
		}
		body, err := marshal(v)
		return body, false, err
	}
	if body, ok := c.Get(ctx, key); ok {
		return body, true, nil
	}
	ch := c.group.DoChan(key, func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), computeTimeout)
		defer cancel()
		v, err := compute(cctx)
		if err != nil {
			return nil, err
		}
		body, err := marshal(v)
		if err != nil {
			return nil, err
		}
		c.Set(cctx, key, body)
		return body, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		shared := res.Val.(json.RawMessage)
		return append(json.RawMessage(nil), shared...), false, nil
	}
}

// Invalidate drops every cached response.
func (c *ResponseCache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats reports lookups served from and missed in Redis since start.
func (c *ResponseCache) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}

func (c *ResponseCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *ResponseCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func marshal(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return data, nil
}
