// Package analytics ships search events to Kafka in the background so the
// request path never waits on the broker.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/kafka"
)

// Publisher writes a batch of events. *kafka.Producer satisfies it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Options tunes buffering. Zero values fall back to defaults.
type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 10000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	return o
}

// Collector buffers events and publishes them in batches. A nil *Collector
// discards everything, which is how analytics is turned off.
type Collector struct {
	publisher Publisher
	opts      Options
	eventCh   chan kafka.Event
	logger    *slog.Logger
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewCollector(publisher Publisher, opts Options) *Collector {
	opts = opts.withDefaults()
	return &Collector{
		publisher: publisher,
		opts:      opts,
		eventCh:   make(chan kafka.Event, opts.BufferSize),
		logger:    slog.Default().With("component", "analytics-collector"),
		done:      make(chan struct{}),
	}
}

// Start launches the flush loop. It returns immediately.
func (c *Collector) Start(ctx context.Context) {
	if c == nil {
		return
	}
	go c.run(ctx)
	c.logger.Info("analytics collector started",
		"buffer_size", c.opts.BufferSize,
		"batch_size", c.opts.BatchSize,
		"flush_interval", c.opts.FlushInterval,
	)
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Event, 0, c.opts.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := c.publisher.PublishBatch(ctx, batch); err != nil {
			c.logger.Error("failed to publish analytics batch",
				"batch_size", len(batch),
				"error", err,
			)
		}
		batch = make([]kafka.Event, 0, c.opts.BatchSize)
	}

	for {
		select {
		case ev, ok := <-c.eventCh:
			if !ok {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				flush(flushCtx)
				cancel()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= c.opts.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			c.drain(&batch)
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(flushCtx)
			cancel()
			return
		}
	}
}

func (c *Collector) drain(batch *[]kafka.Event) {
	for {
		select {
		case ev, ok := <-c.eventCh:
			if !ok {
				return
			}
			*batch = append(*batch, ev)
		default:
			return
		}
	}
}

// Track queues ev without blocking. Events are dropped when the buffer is
// full or the collector is closed.
func (c *Collector) Track(ev SearchEvent) {
	if c == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.eventCh <- kafka.Event{Key: ev.Endpoint, Value: ev}:
	default:
		c.logger.Warn("analytics event dropped (buffer full)")
	}
}

// Close flushes what is buffered and waits for the flush loop to exit.
// Start must have been called.
func (c *Collector) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.eventCh)
	}
	c.mu.Unlock()
	<-c.done
}
