// Package pipeline loads the film catalog CSV into the index exactly once.
// If the index already holds documents the run is skipped without writing.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/ingestion/csvreader"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/ingestion/ledger"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/ingestion/transform"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/elastic"
	apperrors "github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/metrics"
)

// maxLoggedFailures caps per-document failure logs for one run.
const maxLoggedFailures = 10

// Index is the part of *elastic.Client the pipeline uses.
type Index interface {
	Index() string
	EnsureIndex(ctx context.Context, mapping any) (bool, error)
	Count(ctx context.Context) (int64, error)
	NewBulkIndexer(cfg elastic.BulkConfig) (esutil.BulkIndexer, error)
}

// Ledger records runs. *ledger.Ledger satisfies it.
type Ledger interface {
	Start(ctx context.Context, index, source string) (ledger.Run, error)
	Finish(ctx context.Context, run ledger.Run, out ledger.Outcome) error
	Latest(ctx context.Context, index string) (ledger.Run, error)
}

// Publisher announces finished runs. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Result summarizes one Run.
type Result struct {
	RunID    string
	Status   ledger.Status
	Existing int64
	Indexed  int64
	Failed   int64
	Skipped  int64
	Duration time.Duration
}

type Option func(*Pipeline)

// WithLedger records every non-skipped run in l.
func WithLedger(l Ledger) Option {
	return func(p *Pipeline) { p.ledger = l }
}

// WithPublisher announces every run on pub.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.events = pub }
}

type Pipeline struct {
	index   Index
	cfg     config.IngestionConfig
	metrics *metrics.Metrics
	ledger  Ledger
	events  Publisher
	logger  *slog.Logger
}

func New(index Index, cfg config.IngestionConfig, m *metrics.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		index:   index,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "ingestion", "source", cfg.CSVPath),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run creates the index if needed and, when it is empty, streams every CSV
// record through transform.Transform into the bulk indexer.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	start := time.Now()

	created, err := p.index.EnsureIndex(ctx, catalog.IndexMapping())
	if err != nil {
		p.observe(ledger.StatusFailed)
		return Result{Status: ledger.StatusFailed}, fmt.Errorf("ensuring index: %w", err)
	}
	if created {
		p.logger.Info("index created", "index", p.index.Index())
	}

	existing, err := p.index.Count(ctx)
	if err != nil {
		p.observe(ledger.StatusFailed)
		return Result{Status: ledger.StatusFailed}, fmt.Errorf("counting documents: %w", err)
	}
	if existing > 0 {
		p.logSkip(ctx, existing)
		p.observe(ledger.StatusSkipped)
		return Result{Status: ledger.StatusSkipped, Existing: existing, Duration: time.Since(start)}, nil
	}

	var run *ledger.Run
	if p.ledger != nil {
		r, err := p.ledger.Start(ctx, p.index.Index(), p.cfg.CSVPath)
		if err != nil {
			p.logger.Warn("could not record ingest run", "error", err)
		} else {
			run = &r
		}
	}

	res, loadErr := p.load(ctx)
	res.Duration = time.Since(start)
	if run != nil {
		res.RunID = run.ID.String()
	}
	res.Status = ledger.StatusCompleted
	if loadErr != nil {
		res.Status = ledger.StatusFailed
	}

	p.finish(ctx, run, res, loadErr)
	if loadErr != nil {
		return res, loadErr
	}
	p.logger.Info("ingestion complete",
		"indexed", res.Indexed,
		"failed", res.Failed,
		"skipped_records", res.Skipped,
		"duration", res.Duration,
	)
	return res, nil
}

func (p *Pipeline) load(ctx context.Context) (Result, error) {
	var (
		indexed, failed atomic.Int64
		flushMu         sync.Mutex
		flushErr        error
	)
	onError := func(_ context.Context, err error) {
		flushMu.Lock()
		defer flushMu.Unlock()
		if flushErr == nil {
			flushErr = err
		}
	}
	bi, err := p.index.NewBulkIndexer(elastic.BulkConfig{
		Workers:       p.cfg.Workers,
		FlushBytes:    p.cfg.FlushBytes,
		FlushInterval: p.cfg.FlushInterval,
		OnError:       onError,
	})
	if err != nil {
		return Result{}, err
	}

	onSuccess := func(context.Context, esutil.BulkIndexerItem, esutil.BulkIndexerResponseItem) {
		indexed.Add(1)
	}
	onFailure := func(_ context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
		if n := failed.Add(1); n > maxLoggedFailures {
			return
		}
		if err != nil {
			p.logger.Error("document rejected", "show_id", item.DocumentID, "error", err)
			return
		}
		p.logger.Error("document rejected",
			"show_id", item.DocumentID,
			"type", res.Error.Type,
			"reason", res.Error.Reason,
		)
	}

	skipped, readErr := csvreader.Each(p.cfg.CSVPath, func(row transform.RawRow) error {
		id, doc := transform.Transform(row)
		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", id, err)
		}
		return bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: id,
			Body:       bytes.NewReader(body),
			OnSuccess:  onSuccess,
			OnFailure:  onFailure,
		})
	})
	closeErr := bi.Close(ctx)

	// Items lost in a failed flush are counted by the indexer but never
	// reach their OnFailure callback.
	stats := bi.Stats()
	res := Result{
		Indexed: indexed.Load(),
		Failed:  max(failed.Load(), int64(stats.NumFailed)),
		Skipped: int64(skipped),
	}
	unsettled := int64(stats.NumAdded) - res.Indexed - failed.Load()

	if readErr != nil {
		return res, fmt.Errorf("loading %s: %w", p.cfg.CSVPath, readErr)
	}
	if closeErr != nil {
		return res, fmt.Errorf("flushing bulk indexer: %w", closeErr)
	}
	flushMu.Lock()
	defer flushMu.Unlock()
	if flushErr != nil {
		return res, fmt.Errorf("bulk load into %s: %w: %v", p.index.Index(), apperrors.ErrIndexUnavailable, flushErr)
	}
	if unsettled > 0 {
		return res, fmt.Errorf("bulk load into %s: %w: %d documents not acknowledged", p.index.Index(), apperrors.ErrIndexUnavailable, unsettled)
	}
	return res, nil
}

// logSkip reports a skipped run, naming the run that populated the index
// when the ledger knows it.
func (p *Pipeline) logSkip(ctx context.Context, existing int64) {
	attrs := []any{"index", p.index.Index(), "documents", existing}
	if p.ledger != nil {
		run, err := p.ledger.Latest(ctx, p.index.Index())
		switch {
		case err == nil:
			attrs = append(attrs, "loaded_by", run.ID, "loaded_at", run.StartedAt)
		case !errors.Is(err, apperrors.ErrNotFound):
			p.logger.Warn("could not look up last ingest run", "error", err)
		}
	}
	p.logger.Info("index already populated, skipping ingestion", attrs...)
}

func (p *Pipeline) finish(ctx context.Context, run *ledger.Run, res Result, runErr error) {
	p.observe(res.Status)
	if p.metrics != nil {
		p.metrics.DocsIngestedTotal.Add(float64(res.Indexed))
		p.metrics.RecordsSkippedTotal.Add(float64(res.Skipped))
	}

	if run != nil {
		err := p.ledger.Finish(ctx, *run, ledger.Outcome{
			Status:    res.Status,
			Documents: res.Indexed,
			Skipped:   res.Skipped,
			Failed:    res.Failed,
			Err:       runErr,
		})
		if err != nil {
			p.logger.Warn("could not close ingest run", "run_id", run.ID, "error", err)
		}
	}

	if p.events != nil {
		ev := ingestion.CompleteEvent{
			RunID:       res.RunID,
			Index:       p.index.Index(),
			Source:      p.cfg.CSVPath,
			Status:      string(res.Status),
			Documents:   res.Indexed,
			Failed:      res.Failed,
			Skipped:     res.Skipped,
			DurationMs:  res.Duration.Milliseconds(),
			CompletedAt: time.Now().UTC(),
		}
		if runErr != nil {
			ev.Error = runErr.Error()
		}
		if err := p.events.Publish(ctx, kafka.Event{Key: p.index.Index(), Value: ev}); err != nil {
			p.logger.Warn("could not publish ingest event", "error", err)
		}
	}
}

func (p *Pipeline) observe(status ledger.Status) {
	if p.metrics != nil {
		p.metrics.IngestRunsTotal.WithLabelValues(string(status)).Inc()
	}
}
