// Command ingest rebuilds the medical knowledge index from the OpenMed
// reasoning dataset: extract Q/A pairs, embed the questions, store them,
// then run a verification query.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/WessleyAI/medknowledge/engine/dataset"
	"github.com/WessleyAI/medknowledge/engine/ingest"
	"github.com/WessleyAI/medknowledge/internal/setup"
	"github.com/WessleyAI/medknowledge/pkg/config"
	"github.com/WessleyAI/medknowledge/pkg/metrics"
	"github.com/WessleyAI/medknowledge/pkg/natsutil"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (default $MEDKB_CONFIG)")
		yes        = flag.Bool("yes", false, "rebuild an existing index without asking")
		data       = flag.String("dataset", "", "JSONL dataset file; empty streams from HuggingFace")
		maxSamples = flag.Int("max", 0, "max accepted records (0 uses config)")
		batchSize  = flag.Int("batch", 0, "records per embed/upsert batch (0 uses config)")
		scanLimit  = flag.Int("scan", 0, "max raw dataset records to read (0 uses config)")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}
	if *data != "" {
		cfg.Ingest.DatasetPath = *data
	}
	if *maxSamples > 0 {
		cfg.Ingest.MaxSamples = *maxSamples
	}
	if *batchSize > 0 {
		cfg.Ingest.BatchSize = *batchSize
	}
	if *scanLimit > 0 {
		cfg.Ingest.ScanLimit = *scanLimit
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	confirm := func() bool { return *yes || askRebuild(os.Stdin, os.Stderr) }
	if err := run(ctx, cfg, confirm, logger); err != nil {
		logger.Error("ingest failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, confirm func() bool, logger *slog.Logger) error {
	reg := metrics.New()
	if cfg.Ingest.MetricsAddr != "" {
		msrv := reg.ServeAsync(cfg.Ingest.MetricsAddr, logger)
		defer msrv.Close()
	}

	embedder, err := setup.Embedder(cfg.Embedder)
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	index, err := setup.WritableIndex(cfg.Index)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer index.Close()

	exists, err := index.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists && !confirm() {
		logger.Info("keeping existing index", "collection", cfg.Index.Collection)
		return nil
	}

	pipeline, err := ingest.New(
		ingest.Deps{Embedder: embedder, Index: index, Logger: logger, Metrics: reg},
		ingest.Options{BatchSize: cfg.Ingest.BatchSize, MaxSamples: cfg.Ingest.MaxSamples},
	)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := pipeline.Rebuild(ctx); err != nil {
		return err
	}
	src := source(ctx, cfg.Ingest)
	if cfg.Ingest.ScanLimit > 0 {
		src = dataset.Take(src, cfg.Ingest.ScanLimit)
	}
	logger.Info("processing dataset", "source", describe(cfg.Ingest), "max_samples", cfg.Ingest.MaxSamples)

	stats, err := pipeline.Run(ctx, src)
	if err != nil {
		return err
	}
	report, err := pipeline.Verify(ctx)
	if err != nil {
		return err
	}
	count, err := index.Count(ctx)
	if err != nil {
		return fmt.Errorf("count: %w", err)
	}
	logger.Info("medical knowledge base ready", "entries", count, "elapsed", time.Since(start))

	publish(ctx, cfg, ingest.CompletedEvent{
		Collection: cfg.Index.Collection,
		Stats:      stats,
		Count:      count,
		Verify:     report,
		Duration:   time.Since(start),
		FinishedAt: time.Now().UTC(),
	}, logger)
	return nil
}

// source picks the local JSONL file when configured, else the HuggingFace
// datasets-server.
func source(ctx context.Context, cfg config.IngestConfig) dataset.Source {
	if cfg.DatasetPath != "" {
		return dataset.JSONL(cfg.DatasetPath)
	}
	return dataset.HuggingFace(ctx, dataset.HFConfig{
		Dataset: cfg.HFDataset,
		Config:  cfg.HFConfig,
		Split:   cfg.HFSplit,
	})
}

func describe(cfg config.IngestConfig) string {
	if cfg.DatasetPath != "" {
		return cfg.DatasetPath
	}
	return "hf:" + cfg.HFDataset + "/" + cfg.HFSplit
}

// askRebuild prompts on out and reads one answer line from in. Only "y"
// (any case) confirms.
func askRebuild(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "Knowledge base already exists. Rebuild? (y/N): ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

// publish announces the finished run. NATS is optional; failures are logged.
func publish(ctx context.Context, cfg config.Config, ev ingest.CompletedEvent, logger *slog.Logger) {
	if cfg.NATSURL == "" {
		return
	}
	nc, err := natsutil.Connect(cfg.NATSURL, "medkb-ingest", logger)
	if err != nil {
		logger.Warn("nats unavailable, completion event not sent", "err", err)
		return
	}
	defer nc.Close()
	if err := natsutil.Publish(ctx, nc, ingest.CompletedSubject, ev); err != nil {
		logger.Warn("publish completion event", "err", err)
		return
	}
	if err := nc.FlushTimeout(5 * time.Second); err != nil {
		logger.Warn("flush completion event", "err", err)
	}
}
