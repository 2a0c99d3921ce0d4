package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/gateway/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/gateway/router"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/ingestion/ledger"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the search API",
		Long: `Connects to the index, loads the catalog CSV when ingestion is enabled and
the index is empty, then serves the HTTP API until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(a)
		},
	}
}

func serve(a *app) error {
	cfg := a.cfg
	slog.Info("starting filmsearch",
		"port", cfg.Server.Port,
		"index", cfg.Elastic.Index,
		"ingestion", cfg.Ingestion.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := openDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.close()

	m := metrics.New()

	var responseCache *cache.ResponseCache
	if d.redis != nil {
		responseCache = cache.New(d.redis, cfg.Redis.CacheTTL, m)
	}

	if cfg.Ingestion.Enabled {
		res, err := d.pipeline(cfg.Ingestion, m).Run(ctx)
		if err != nil {
			return fmt.Errorf("startup ingestion: %w", err)
		}
		if res.Status == ledger.StatusCompleted {
			if err := responseCache.Invalidate(ctx); err != nil {
				slog.Warn("could not invalidate response cache", "error", err)
			}
		}
	}

	var collector *analytics.Collector
	if d.searchEvents != nil {
		collector = analytics.NewCollector(d.searchEvents, analytics.Options{})
		collector.Start(ctx)
		defer collector.Close()
	}

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	checker := health.NewChecker()
	d.registerHealth(checker)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		go limiter.Run(ctx, 5*time.Minute)
	}

	h := handler.New(d.index, responseCache, collector, m, cfg.Search.ResultSize)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.New(h, checker, m, limiter, *cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("filmsearch listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if responseCache != nil {
		hits, misses := responseCache.Stats()
		slog.Info("response cache summary", "hits", hits, "misses", misses)
	}
	slog.Info("filmsearch stopped")
	return nil
}
