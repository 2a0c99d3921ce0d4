package elastic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/errors"
)

// fakeCluster is a minimal stand-in for the handful of endpoints the client
// calls.
type fakeCluster struct {
	mu         sync.Mutex
	exists     bool
	count      int64
	created    []byte
	searches   [][]byte
	searchBody string
	searchCode int
	bulkCode   int
	bulkDocs   int
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead && r.URL.Path == "/films":
		if f.exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/films":
		f.created, _ = io.ReadAll(r.Body)
		f.exists = true
		fmt.Fprint(w, `{"acknowledged":true,"index":"films"}`)
	case strings.HasSuffix(r.URL.Path, "/_count"):
		fmt.Fprintf(w, `{"count":%d}`, f.count)
	case strings.HasSuffix(r.URL.Path, "/_search"):
		body, _ := io.ReadAll(r.Body)
		f.searches = append(f.searches, body)
		if f.searchCode != 0 {
			w.WriteHeader(f.searchCode)
		}
		fmt.Fprint(w, f.searchBody)
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		f.serveBulk(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"not_found","reason":"no route"}}`)
	}
}

func (f *fakeCluster) serveBulk(w http.ResponseWriter, r *http.Request) {
	if f.bulkCode != 0 {
		w.WriteHeader(f.bulkCode)
		fmt.Fprint(w, `{"error":{"type":"security_exception","reason":"missing authentication credentials"}}`)
		return
	}
	var items []string
	sc := bufio.NewScanner(r.Body)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	line := 0
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		if line%2 == 0 {
			var action map[string]struct {
				ID string `json:"_id"`
			}
			_ = json.Unmarshal(sc.Bytes(), &action)
			items = append(items, fmt.Sprintf(`{"index":{"_id":%q,"status":201}}`, action["index"].ID))
			f.bulkDocs++
		}
		line++
	}
	fmt.Fprintf(w, `{"took":1,"errors":false,"items":[%s]}`, strings.Join(items, ","))
}

func newTestClient(t *testing.T, f *fakeCluster) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c, err := Open(context.Background(), config.ElasticConfig{
		Addresses:     []string{srv.URL},
		Index:         "films",
		StartupProbes: 1,
		ProbeDelay:    time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEnsureIndexCreatesOnce(t *testing.T) {
	f := &fakeCluster{}
	c := newTestClient(t, f)

	created, err := c.EnsureIndex(context.Background(), map[string]any{"mappings": map[string]any{}})
	require.NoError(t, err)
	assert.True(t, created)
	assert.JSONEq(t, `{"mappings":{}}`, string(f.created))

	created, err = c.EnsureIndex(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestCount(t *testing.T) {
	c := newTestClient(t, &fakeCluster{count: 8807})

	n, err := c.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8807), n)
}

func TestSearchDecodesHitsAndAggregations(t *testing.T) {
	f := &fakeCluster{searchBody: `{
		"hits": {"total": {"value": 2, "relation": "eq"}, "hits": [
			{"_id": "s1", "_source": {"title": "A"}},
			{"_id": "s2", "_source": {"title": "B"}}
		]},
		"aggregations": {
			"total_agg": {"value": 2},
			"avg_dur_agg": {"value": null},
			"rating_agg": {"buckets": [{"key": 1, "doc_count": 2}]},
			"director_agg": {"buckets": [{"key": "Jay Karas", "doc_count": 14}]}
		}
	}`}
	c := newTestClient(t, f)

	res, err := c.Search(context.Background(), map[string]any{"size": 8})
	require.NoError(t, err)
	require.Len(t, f.searches, 1)
	assert.JSONEq(t, `{"size":8}`, string(f.searches[0]))

	assert.Equal(t, int64(2), res.Hits.Total.Value)
	require.Len(t, res.Hits.Hits, 2)
	assert.Equal(t, "s1", res.Hits.Hits[0].ID)

	total, err := res.Metric("total_agg")
	require.NoError(t, err)
	require.NotNil(t, total.Value)
	assert.Equal(t, 2.0, *total.Value)

	avg, err := res.Metric("avg_dur_agg")
	require.NoError(t, err)
	assert.Nil(t, avg.Value)

	ratings, err := res.Buckets("rating_agg")
	require.NoError(t, err)
	require.Len(t, ratings, 1)
	code, ok := ratings[0].Key.Int()
	assert.True(t, ok)
	assert.Equal(t, 1, code)

	directors, err := res.Buckets("director_agg")
	require.NoError(t, err)
	assert.Equal(t, "Jay Karas", directors[0].Key.String())

	_, err = res.Buckets("missing")
	assert.Error(t, err)
}

func TestSearchErrorClassification(t *testing.T) {
	f := &fakeCluster{
		searchCode: http.StatusBadRequest,
		searchBody: `{"error":{"type":"parsing_exception","reason":"unknown query [nope]"}}`,
	}
	c := newTestClient(t, f)

	_, err := c.Search(context.Background(), map[string]any{})
	require.ErrorIs(t, err, apperrors.ErrIndexResponse)
	assert.Contains(t, err.Error(), "parsing_exception: unknown query [nope]")
}

func TestOpenFailsWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Open(context.Background(), config.ElasticConfig{
		Addresses:     []string{url},
		Index:         "films",
		StartupProbes: 2,
		ProbeDelay:    time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrIndexUnavailable)
}

func TestBulkIndexer(t *testing.T) {
	f := &fakeCluster{}
	c := newTestClient(t, f)

	bi, err := c.NewBulkIndexer(BulkConfig{Workers: 1, FlushBytes: 1 << 20, FlushInterval: time.Second})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: fmt.Sprintf("s%d", i),
			Body:       strings.NewReader(`{"title":"x"}`),
		}))
	}
	require.NoError(t, bi.Close(ctx))

	stats := bi.Stats()
	assert.Equal(t, uint64(5), stats.NumIndexed)
	assert.Equal(t, uint64(0), stats.NumFailed)
	assert.Equal(t, 5, f.bulkDocs)
}

func TestBulkIndexerReportsFailedFlush(t *testing.T) {
	f := &fakeCluster{bulkCode: http.StatusUnauthorized}
	c := newTestClient(t, f)

	var mu sync.Mutex
	var flushErrs []error
	bi, err := c.NewBulkIndexer(BulkConfig{
		Workers:       1,
		FlushBytes:    1 << 20,
		FlushInterval: time.Second,
		OnError: func(_ context.Context, err error) {
			mu.Lock()
			defer mu.Unlock()
			flushErrs = append(flushErrs, err)
		},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bi.Add(ctx, esutil.BulkIndexerItem{
		Action:     "index",
		DocumentID: "s1",
		Body:       strings.NewReader(`{"title":"x"}`),
	}))
	require.NoError(t, bi.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, flushErrs)
	assert.Equal(t, uint64(0), bi.Stats().NumIndexed)
	assert.Equal(t, 0, f.bulkDocs)
}

func TestBucketKeyString(t *testing.T) {
	var k BucketKey
	require.NoError(t, json.Unmarshal([]byte(`40.0`), &k))
	assert.Equal(t, "40", k.String())
	require.NoError(t, json.Unmarshal([]byte(`2.5`), &k))
	assert.Equal(t, "2.5", k.String())
	require.NoError(t, json.Unmarshal([]byte(`"India"`), &k))
	assert.Equal(t, "India", k.String())
	assert.False(t, k.Numeric)
}
