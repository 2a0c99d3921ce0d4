package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/redis"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", pkgredis.ErrNil
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = string(value.([]byte))
	s.ttls[key] = ttl
	return nil
}

func (s *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func TestGetOrComputeCachesBody(t *testing.T) {
	store := newMemStore()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	c := New(store, 10*time.Minute, m)
	ctx := context.Background()
	key := Key("film", "movie", "parks")

	calls := 0
	compute := func(context.Context) (any, error) {
		calls++
		return []map[string]string{{"title": "Jurassic Park"}}, nil
	}

	body, cached, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.JSONEq(t, `[{"title":"Jurassic Park"}]`, string(body))

	body, cached, err = c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.JSONEq(t, `[{"title":"Jurassic Park"}]`, string(body))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 10*time.Minute, store.ttls[key])
	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
}

func TestGetOrComputeDoesNotCacheErrors(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil)
	boom := errors.New("index down")

	_, _, err := c.GetOrCompute(context.Background(), Key("aggs"), func(context.Context) (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, store.data)
}

func TestGetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	c := New(newMemStore(), time.Minute, nil)
	release := make(chan struct{})
	var calls atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), Key("aggs"), func(context.Context) (any, error) {
				calls.Add(1)
				<-release
				return map[string]int{"total_agg": 1}, nil
			})
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestCancelledCallerDoesNotFailWaiters(t *testing.T) {
	c := New(newMemStore(), time.Minute, nil)
	key := Key("film", "movie", "parks")
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	compute := func(ctx context.Context) (any, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []string{"Parks"}, nil
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(first, key, compute)
		firstErr <- err
	}()
	<-started

	type result struct {
		body json.RawMessage
		err  error
	}
	second := make(chan result, 1)
	go func() {
		body, _, err := c.GetOrCompute(context.Background(), key, compute)
		second <- result{body, err}
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	res := <-second
	require.NoError(t, res.err)
	assert.JSONEq(t, `["Parks"]`, string(res.body))
}

func TestSharedResultsAreIndependentCopies(t *testing.T) {
	c := New(newMemStore(), time.Minute, nil)
	release := make(chan struct{})

	bodies := make([]json.RawMessage, 4)
	var wg sync.WaitGroup
	for i := range bodies {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, _, err := c.GetOrCompute(context.Background(), Key("aggs"), func(context.Context) (any, error) {
				<-release
				return map[string]int{"total_agg": 1}, nil
			})
			assert.NoError(t, err)
			bodies[i] = append(body, '\n')
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, body := range bodies {
		assert.Equal(t, "{\"total_agg\":1}\n", string(body))
	}
}

func TestKeyDistinguishesParameters(t *testing.T) {
	assert.NotEqual(t, Key("film", "movie", "Parks"), Key("film", "movie", "parks"))
	assert.NotEqual(t, Key("film", "movie", ""), Key("film", "show", ""))
	assert.NotEqual(t, Key("film", "ab", "c"), Key("film", "a", "bc"))
	assert.Equal(t, Key("aggs"), Key("aggs"))
	assert.True(t, strings.HasPrefix(Key("aggs"), "filmsearch:aggs:"))
}

func TestInvalidate(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil)
	ctx := context.Background()
	_, _, err := c.GetOrCompute(ctx, Key("aggs"), func(context.Context) (any, error) { return 1, nil })
	require.NoError(t, err)
	store.data["other:key"] = "1"

	require.NoError(t, c.Invalidate(ctx))
	assert.Equal(t, map[string]string{"other:key": "1"}, store.data)
}

func TestNilCacheComputes(t *testing.T) {
	var c *ResponseCache
	body, cached, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (any, error) {
		return map[string]string{"status": "ok"}, nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
	assert.NoError(t, c.Invalidate(context.Background()))
}
