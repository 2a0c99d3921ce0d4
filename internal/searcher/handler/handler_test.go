package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/elastic"
	apperrors "github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/redis"
)

// fakeIndex answers every search with reply (decoded as a _search body) or
// err, and records the request bodies.
type fakeIndex struct {
	mu     sync.Mutex
	reply  string
	err    error
	delay  time.Duration
	bodies []string
}

func (f *fakeIndex) Search(_ context.Context, body any) (*elastic.SearchResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.bodies = append(f.bodies, string(data))
	f.mu.Unlock()
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	var res elastic.SearchResponse
	if err := json.Unmarshal([]byte(f.reply), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (f *fakeIndex) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
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

func (s *memStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = string(value.([]byte))
	return nil
}

func (s *memStore) FlushByPattern(context.Context, string) (int64, error) { return 0, nil }

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/film/{type}", h.Film)
	r.Get("/api/aggs/movie", h.MovieAggs)
	r.Get("/api/aggs/show", h.ShowAggs)
	r.Get("/api/aggs", h.AllAggs)
	return r
}

func do(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

const filmReply = `{
	"hits": {
		"total": {"value": 2, "relation": "eq"},
		"hits": [
			{"_id": "s1", "_source": {
				"type": 1, "title": "Jurassic Park", "director": "Steven Spielberg",
				"cast": ["Sam Neill", "Laura Dern"], "country": "United States",
				"date_added": "01012020", "release_year": 1993, "rating": 0,
				"duration": 127, "genres": ["Action & Adventure"], "description": "Dinosaurs."
			}},
			{"_id": "s2", "_source": {
				"type": 1, "title": "Parks", "director": null, "cast": null, "country": null,
				"date_added": null, "release_year": null, "rating": -1,
				"duration": null, "genres": null, "description": null
			}}
		]
	}
}`

func TestFilmReturnsDocumentsWithoutType(t *testing.T) {
	idx := &fakeIndex{reply: filmReply}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	rec := do(t, newTestRouter(New(idx, nil, nil, m, 8)), "/api/film/movie?query=parks")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `[
		{
			"title": "Jurassic Park", "director": "Steven Spielberg",
			"cast": ["Sam Neill", "Laura Dern"], "country": "United States",
			"date_added": "01012020", "release_year": 1993, "rating": "PG-13",
			"duration": 127, "genres": ["Action & Adventure"], "description": "Dinosaurs."
		},
		{
			"title": "Parks", "director": null, "cast": null, "country": null,
			"date_added": null, "release_year": null, "rating": "",
			"duration": null, "genres": null, "description": null
		}
	]`, rec.Body.String())

	require.Len(t, idx.bodies, 1)
	assert.JSONEq(t, `{
		"query": {"bool": {
			"must": [
				{"term": {"type": 1}},
				{"multi_match": {"query": "parks", "fields": ["title", "director", "cast", "country", "genres", "description"], "operator": "and"}}
			],
			"minimum_should_match": "100%"
		}},
		"size": 8,
		"track_total_hits": true
	}`, idx.bodies[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("movie", metrics.ResultHit)))
}

func TestFilmZeroHitsIsEmptyArray(t *testing.T) {
	idx := &fakeIndex{reply: `{"hits": {"total": {"value": 0, "relation": "eq"}, "hits": []}}`}
	rec := do(t, newTestRouter(New(idx, nil, nil, nil, 8)), "/api/film/show?query=")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.JSONEq(t, `{"query":{"match_none":{}},"size":8,"track_total_hits":true}`, idx.bodies[0])
}

func TestFilmFoldsAccentsInQuery(t *testing.T) {
	idx := &fakeIndex{reply: `{"hits": {"total": {"value": 0}, "hits": []}}`}
	do(t, newTestRouter(New(idx, nil, nil, nil, 8)), "/api/film/movie?query=Am%C3%A9lie%20%20Poulain")

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(idx.bodies[0]), &body))
	must := body["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)
	mm := must[1].(map[string]any)["multi_match"].(map[string]any)
	assert.Equal(t, "Amelie Poulain", mm["query"])
}

func TestFilmUnknownSelectorMatchesAll(t *testing.T) {
	idx := &fakeIndex{reply: `{"hits": {"total": {"value": 0}, "hits": []}}`}
	rec := do(t, newTestRouter(New(idx, nil, nil, nil, 8)), "/api/film/unknown?query=x")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"query":{"match_all":{}},"size":8,"track_total_hits":true}`, idx.bodies[0])
}

func TestFilmMissingQueryIs422(t *testing.T) {
	idx := &fakeIndex{}
	rec := do(t, newTestRouter(New(idx, nil, nil, nil, 8)), "/api/film/movie")

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "query")
	assert.Equal(t, 0, idx.calls())
}

func TestFilmIndexFailure(t *testing.T) {
	idx := &fakeIndex{err: errors.Join(apperrors.ErrIndexUnavailable, errors.New("connection refused"))}
	rec := do(t, newTestRouter(New(idx, nil, nil, nil, 8)), "/api/film/movie?query=x")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"search failed"}`, rec.Body.String())
}

func TestFilmServedFromCache(t *testing.T) {
	idx := &fakeIndex{reply: filmReply}
	rc := cache.New(&memStore{data: map[string]string{}}, time.Minute, nil)
	router := newTestRouter(New(idx, rc, nil, nil, 8))

	first := do(t, router, "/api/film/movie?query=parks")
	second := do(t, router, "/api/film/movie?query=parks")

	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, idx.calls())

	do(t, router, "/api/film/movie?query=Parks")
	assert.Equal(t, 2, idx.calls())
}

func TestFilmConcurrentMissesShareOneSearch(t *testing.T) {
	idx := &fakeIndex{reply: filmReply, delay: 50 * time.Millisecond}
	rc := cache.New(&memStore{data: map[string]string{}}, time.Minute, nil)
	router := newTestRouter(New(idx, rc, nil, nil, 8))

	recs := make([]*httptest.ResponseRecorder, 8)
	var wg sync.WaitGroup
	for i := range recs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/film/movie?query=parks", nil))
			recs[i] = rec
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, idx.calls())
	want := recs[0].Body.String()
	assert.True(t, strings.HasSuffix(want, "]\n"))
	for _, rec := range recs {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, want, rec.Body.String())
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (p *recordingPublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func TestFilmEventsCarryTotalHitsFromCache(t *testing.T) {
	idx := &fakeIndex{reply: filmReply}
	rc := cache.New(&memStore{data: map[string]string{}}, time.Minute, nil)
	pub := &recordingPublisher{}
	collector := analytics.NewCollector(pub, analytics.Options{FlushInterval: time.Hour})
	collector.Start(context.Background())
	router := newTestRouter(New(idx, rc, collector, nil, 8))

	do(t, router, "/api/film/movie?query=parks")
	do(t, router, "/api/film/movie?query=parks")
	collector.Close()

	require.Len(t, pub.events, 2)
	for i, want := range []bool{false, true} {
		ev := pub.events[i].Value.(analytics.SearchEvent)
		assert.Equal(t, want, ev.CacheHit)
		assert.Equal(t, int64(2), ev.TotalHits)
		assert.Equal(t, 2, ev.Returned)
	}
}

func TestMovieAggs(t *testing.T) {
	idx := &fakeIndex{reply: `{
		"hits": {"total": {"value": 6131}, "hits": []},
		"aggregations": {
			"total_agg": {"value": 6131},
			"avg_dur_agg": {"value": 99.57},
			"histo_dur_agg": {"buckets": [
				{"key": 0.0, "doc_count": 34},
				{"key": 80.0, "doc_count": 2541},
				{"key": 100.0, "doc_count": 1733}
			]}
		}
	}`}
	rec := do(t, newTestRouter(New(idx, nil, nil, nil, 8)), "/api/aggs/movie")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"total_agg": 6131,
		"avg_dur_agg": 99,
		"histo_dur_agg": {"0": 34, "80": 2541, "100": 1733}
	}`, rec.Body.String())
	assert.JSONEq(t, `{
		"query": {"term": {"type": 1}},
		"aggs": {
			"total_agg": {"value_count": {"field": "type"}},
			"avg_dur_agg": {"avg": {"field": "duration"}},
			"histo_dur_agg": {"histogram": {"field": "duration", "interval": 20, "min_doc_count": 10}}
		},
		"size": 0,
		"track_total_hits": true
	}`, idx.bodies[0])
}

func TestMovieAggsNullAverage(t *testing.T) {
	idx := &fakeIndex{reply: `{
		"hits": {"total": {"value": 0}, "hits": []},
		"aggregations": {
			"total_agg": {"value": 0},
			"avg_dur_agg": {"value": null},
			"histo_dur_agg": {"buckets": []}
		}
	}`}
	rec := do(t, newTestRouter(New(idx, nil, nil, nil, 8)), "/api/aggs/movie")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total_agg": 0, "avg_dur_agg": 0, "histo_dur_agg": {}}`, rec.Body.String())
}

func TestShowAggs(t *testing.T) {
	idx := &fakeIndex{reply: `{"hits": {"total": {"value": 2676}, "hits": []}, "aggregations": {"total_agg": {"value": 2676}}}`}
	rec := do(t, newTestRouter(New(idx, nil, nil, nil, 8)), "/api/aggs/show")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total_agg": 2676}`, rec.Body.String())
	assert.JSONEq(t, `{
		"query": {"term": {"type": 0}},
		"aggs": {"total_agg": {"value_count": {"field": "type"}}},
		"size": 0,
		"track_total_hits": true
	}`, idx.bodies[0])
}

func TestAllAggs(t *testing.T) {
	idx := &fakeIndex{reply: `{
		"hits": {"total": {"value": 8807}, "hits": []},
		"aggregations": {
			"total_agg": {"value": 8807},
			"director_agg": {"buckets": [{"key": "Rajiv Chilaka", "doc_count": 19}]},
			"actor_agg": {"buckets": [{"key": "Anupam Kher", "doc_count": 43}]},
			"rating_agg": {"buckets": [
				{"key": 1, "doc_count": 3207},
				{"key": 3, "doc_count": 2160},
				{"key": -1, "doc_count": 4}
			]},
			"country_agg": {"buckets": [{"key": "United States", "doc_count": 2818}]},
			"genre_agg": {"buckets": [{"key": "International Movies", "doc_count": 2752}]}
		}
	}`}
	rec := do(t, newTestRouter(New(idx, nil, nil, nil, 8)), "/api/aggs")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"total_agg": 8807,
		"director_agg": {"Rajiv Chilaka": 19},
		"actor_agg": {"Anupam Kher": 43},
		"rating_agg": {"TV-MA": 3207, "TV-14": 2160, "": 4},
		"country_agg": {"United States": 2818},
		"genre_agg": {"International Movies": 2752}
	}`, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(idx.bodies[0]), &body))
	assert.Equal(t, map[string]any{"match_all": map[string]any{}}, body["query"])
	assert.Len(t, body["aggs"], 6)
}

func TestAggsMissingAggregationIsBadGateway(t *testing.T) {
	idx := &fakeIndex{reply: `{"hits": {"total": {"value": 0}, "hits": []}, "aggregations": {}}`}
	rec := do(t, newTestRouter(New(idx, nil, nil, nil, 8)), "/api/aggs/show")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"aggregation failed"}`, rec.Body.String())
}
