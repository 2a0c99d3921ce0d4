// Package elastic wraps the official Elasticsearch client with an explicit
// open/close lifecycle bound to a single index. It is the only package that
// talks to the search engine; callers hand it JSON-serialisable request
// bodies and receive decoded responses.
package elastic

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/resilience"
)

// Client is a connection to one index. It is safe for concurrent use.
type Client struct {
	es        *elasticsearch.Client
	transport *http.Transport
	index     string
	logger    *slog.Logger
}

// New builds a Client without contacting the cluster.
func New(cfg config.ElasticConfig) (*Client, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate %s: %w", cfg.CACertPath, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CACertPath)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Client{
		es:        es,
		transport: transport,
		index:     cfg.Index,
		logger:    slog.Default().With("component", "elastic", "index", cfg.Index),
	}, nil
}

// Open builds a Client and waits until the cluster answers a ping, probing
// up to cfg.StartupProbes times.
func Open(ctx context.Context, cfg config.ElasticConfig) (*Client, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	err = resilience.Retry(ctx, "elastic-ping", resilience.RetryConfig{
		MaxAttempts:  cfg.StartupProbes,
		InitialDelay: cfg.ProbeDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   1.5,
	}, func() error {
		return c.Ping(ctx)
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("connecting to elasticsearch: %w", err)
	}
	c.logger.Info("connected to elasticsearch", "addresses", cfg.Addresses)
	return c, nil
}

// Close releases pooled connections. The Client must not be used afterwards.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// Index returns the name of the index the Client is bound to.
func (c *Client) Index() string {
	return c.index
}

// Ping checks that the cluster is reachable.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping: %w: %v", apperrors.ErrIndexUnavailable, err)
	}
	defer res.Body.Close()
	return checkResponse("ping", res)
}

// EnsureIndex creates the index with the given mapping body if it does not
// exist yet and reports whether it was created.
func (c *Client) EnsureIndex(ctx context.Context, mapping any) (bool, error) {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("checking index: %w: %v", apperrors.ErrIndexUnavailable, err)
	}
	res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		return false, nil
	case http.StatusNotFound:
	default:
		return false, fmt.Errorf("checking index: %w: status %d", apperrors.ErrIndexResponse, res.StatusCode)
	}

	body, err := encode(mapping)
	if err != nil {
		return false, err
	}
	res, err = c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(body),
	)
	if err != nil {
		return false, fmt.Errorf("creating index: %w: %v", apperrors.ErrIndexUnavailable, err)
	}
	defer res.Body.Close()
	if err := checkResponse("create index", res); err != nil {
		return false, err
	}
	c.logger.Info("index created")
	return true, nil
}

// Count returns the number of documents in the index.
func (c *Client) Count(ctx context.Context) (int64, error) {
	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(c.index),
	)
	if err != nil {
		return 0, fmt.Errorf("count: %w: %v", apperrors.ErrIndexUnavailable, err)
	}
	defer res.Body.Close()
	if err := checkResponse("count", res); err != nil {
		return 0, err
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("count: decoding response: %w", err)
	}
	return out.Count, nil
}

// Search sends body to the _search endpoint and decodes the reply.
func (c *Client) Search(ctx context.Context, body any) (*SearchResponse, error) {
	r, err := encode(body)
	if err != nil {
		return nil, err
	}
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(r),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w: %v", apperrors.ErrIndexUnavailable, err)
	}
	defer res.Body.Close()
	if err := checkResponse("search", res); err != nil {
		return nil, err
	}
	var out SearchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("search: decoding response: %w: %v", apperrors.ErrIndexResponse, err)
	}
	return &out, nil
}

// BulkConfig tunes the bulk indexer used for ingestion. OnError, if set, is
// called for every bulk request that fails as a whole.
type BulkConfig struct {
	Workers       int
	FlushBytes    int
	FlushInterval time.Duration
	OnError       func(context.Context, error)
}

// NewBulkIndexer returns a concurrent bulk indexer writing to the Client's
// index. The caller must Close it to flush pending items.
func (c *Client) NewBulkIndexer(cfg BulkConfig) (esutil.BulkIndexer, error) {
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:        c.es,
		Index:         c.index,
		NumWorkers:    cfg.Workers,
		FlushBytes:    cfg.FlushBytes,
		FlushInterval: cfg.FlushInterval,
		OnError: func(ctx context.Context, err error) {
			c.logger.Error("bulk request failed", "error", err)
			if cfg.OnError != nil {
				cfg.OnError(ctx, err)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating bulk indexer: %w", err)
	}
	return bi, nil
}

func encode(body any) (io.Reader, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return &buf, nil
}

// checkResponse turns an error status into an error carrying the index's
// reason. 5xx replies mean the index is unavailable; anything else means the
// request was rejected.
func checkResponse(op string, res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}
	reason := errorReason(res.Body)
	if res.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s: %w: status %d: %s", op, apperrors.ErrIndexUnavailable, res.StatusCode, reason)
	}
	return fmt.Errorf("%s: %w: status %d: %s", op, apperrors.ErrIndexResponse, res.StatusCode, reason)
}

func errorReason(body io.Reader) string {
	var e struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return err.Error()
	}
	if err := json.Unmarshal(data, &e); err != nil || e.Error.Type == "" {
		return string(data)
	}
	return e.Error.Type + ": " + e.Error.Reason
}
