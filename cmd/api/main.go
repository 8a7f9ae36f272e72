// Package main implements the medical knowledge search API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/medknowledge/engine/embedding"
	"github.com/WessleyAI/medknowledge/engine/ingest"
	"github.com/WessleyAI/medknowledge/engine/retrieval"
	"github.com/WessleyAI/medknowledge/internal/setup"
	"github.com/WessleyAI/medknowledge/pkg/config"
	"github.com/WessleyAI/medknowledge/pkg/metrics"
	"github.com/WessleyAI/medknowledge/pkg/mid"
	"github.com/WessleyAI/medknowledge/pkg/natsutil"
	"github.com/WessleyAI/medknowledge/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (default $MEDKB_CONFIG)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Warm handles: embedder, then index ---
	embedder, err := setup.Embedder(cfg.Embedder)
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	embedder = embedding.Guard(embedder, resilience.NewBreaker(resilience.BreakerOpts{
		OnStateChange: func(from, to resilience.State) {
			logger.Warn("embedder circuit", "from", from.String(), "to", to.String())
		},
	}))
	if cached, closeCache, err := setup.QueryCache(ctx, embedder, cfg.Embedder, cfg.Cache, logger); err != nil {
		logger.Warn("query cache unavailable, embedding every query", "err", err)
	} else {
		embedder = cached
		defer closeCache()
	}
	index, err := setup.ExistingIndex(ctx, cfg.Index)
	if err != nil {
		return fmt.Errorf("open index (run cmd/ingest first): %w", err)
	}
	defer index.Close()

	svc, err := retrieval.New(embedder, index, logger)
	if err != nil {
		return err
	}

	reg := metrics.New()
	srv := newServer(svc, cfg.Server.ServiceName, reg, logger)
	if n, err := svc.Count(ctx); err == nil {
		srv.entries.Set(int64(n))
		logger.Info("medical knowledge base ready", "entries", n, "backend", cfg.Index.Backend)
	}

	// --- Ingest completion events refresh the entries gauge ---
	if cfg.NATSURL != "" {
		nc, err := natsutil.Connect(cfg.NATSURL, cfg.Server.ServiceName, logger)
		if err != nil {
			logger.Warn("nats unavailable, ingest events disabled", "err", err)
		} else {
			defer nc.Close()
			sub, err := natsutil.Subscribe(nc, ingest.CompletedSubject, logger, srv.onIngestCompleted)
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", ingest.CompletedSubject, err)
			}
			defer sub.Unsubscribe()
		}
	}

	handler := mid.Chain(srv.routes(),
		mid.Recover(logger),
		mid.OTel(cfg.Server.ServiceName),
		mid.Metrics(reg),
		mid.Logger(logger),
		mid.CORS(cfg.Server.CORSOrigin),
	)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Server.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
