package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/ingestion/ledger"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/ingestion/pipeline"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/elastic"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/redis"
)

// deps holds the external clients. Only index is required; the others are
// nil when disabled or unreachable.
type deps struct {
	index        *elastic.Client
	redis        *pkgredis.Client
	db           *postgres.Client
	ledger       *ledger.Ledger
	searchEvents *kafka.Producer
	ingestEvents *kafka.Producer
}

// openDeps connects to the index, waiting for it to come up, and then to each
// enabled optional dependency. Optional failures are logged and the
// dependency is left out.
func openDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	index, err := elastic.Open(ctx, cfg.Elastic)
	if err != nil {
		return nil, err
	}
	d := &deps{index: index}

	if cfg.Redis.Enabled {
		rc, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, response caching disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			slog.Info("connected to redis", "addr", cfg.Redis.Addr)
			d.redis = rc
		}
	}

	if cfg.Postgres.Enabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, ingest ledger disabled", "host", cfg.Postgres.Host, "error", err)
		} else {
			l := ledger.New(db)
			if err := l.EnsureSchema(ctx); err != nil {
				slog.Warn("could not prepare ingest ledger", "error", err)
				db.Close()
			} else {
				slog.Info("connected to postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
				d.db = db
				d.ledger = l
			}
		}
	}

	if cfg.Kafka.Enabled {
		d.searchEvents = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		d.ingestEvents = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IngestComplete)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := d.searchEvents.Ping(pingCtx); err != nil {
			slog.Warn("kafka brokers not reachable yet, events will be retried by the writer", "brokers", cfg.Kafka.Brokers, "error", err)
		}
		cancel()
	}

	return d, nil
}

// pipeline builds the ingestion pipeline over the open clients.
func (d *deps) pipeline(cfg config.IngestionConfig, m *metrics.Metrics) *pipeline.Pipeline {
	var opts []pipeline.Option
	if d.ledger != nil {
		opts = append(opts, pipeline.WithLedger(d.ledger))
	}
	if d.ingestEvents != nil {
		opts = append(opts, pipeline.WithPublisher(d.ingestEvents))
	}
	return pipeline.New(d.index, cfg, m, opts...)
}

// registerHealth adds a readiness check per open client. Only the index is
// critical.
func (d *deps) registerHealth(c *health.Checker) {
	c.RegisterPinger("elasticsearch", d.index, true)
	if d.redis != nil {
		c.RegisterPinger("redis", d.redis, false)
	}
	if d.db != nil {
		c.RegisterPinger("postgres", d.db, false)
	}
	if d.searchEvents != nil {
		c.RegisterPinger("kafka", d.searchEvents, false)
	}
}

func (d *deps) close() {
	if d.searchEvents != nil {
		if err := d.searchEvents.Close(); err != nil {
			slog.Error("failed to close kafka producer", "topic", d.searchEvents.Topic(), "error", err)
		}
	}
	if d.ingestEvents != nil {
		if err := d.ingestEvents.Close(); err != nil {
			slog.Error("failed to close kafka producer", "topic", d.ingestEvents.Topic(), "error", err)
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			slog.Error("failed to close postgres", "error", err)
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			slog.Error("failed to close redis", "error", err)
		}
	}
	if err := d.index.Close(); err != nil {
		slog.Error("failed to close elasticsearch client", "error", err)
	}
}
