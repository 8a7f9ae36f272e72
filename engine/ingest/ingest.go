// Package ingest runs the offline pipeline that turns dataset conversations
// into indexed question embeddings: extract, filter, batch, embed, upsert,
// verify.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/WessleyAI/medknowledge/engine/dataset"
	"github.com/WessleyAI/medknowledge/engine/domain"
	"github.com/WessleyAI/medknowledge/engine/embedding"
	"github.com/WessleyAI/medknowledge/engine/semantic"
	"github.com/WessleyAI/medknowledge/pkg/fn"
	"github.com/WessleyAI/medknowledge/pkg/metrics"
)

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder embedding.Provider
	Index    semantic.Index
	Logger   *slog.Logger
	Metrics  *metrics.Registry
}

// Options tunes a run. Zero values select the defaults.
type Options struct {
	BatchSize  int
	MaxSamples int
	Retry      fn.RetryOpts
}

// Pipeline ingests one dataset into one collection.
type Pipeline struct {
	embedder embedding.Provider
	index    semantic.Index
	log      *slog.Logger
	opts     Options

	flush fn.Stage[[]domain.KnowledgeRecord, int]

	accepted   *metrics.Counter
	skipped    *metrics.Counter
	batches    *metrics.Counter
	embedTime  *metrics.Histogram
	upsertTime *metrics.Histogram
}

// New wires a Pipeline. Embedder and Index are required.
func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Embedder == nil || deps.Index == nil {
		return nil, errors.New("ingest: embedder and index are required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = DefaultMaxSamples
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = fn.DefaultRetry
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = func(attempt int, err error) {
			log.Warn("ingest: batch failed, retrying", "attempt", attempt, "err", err)
		}
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.New()
	}

	p := &Pipeline{
		embedder:   deps.Embedder,
		index:      deps.Index,
		log:        log,
		opts:       opts,
		accepted:   reg.Counter(metrics.IngestAccepted, "Records accepted for indexing"),
		skipped:    reg.Counter(metrics.IngestSkipped, "Records rejected by extraction or the quality filter"),
		batches:    reg.Counter(metrics.IngestBatches, "Batches embedded and upserted"),
		embedTime:  reg.Histogram(metrics.IngestEmbedSeconds, "Batch embedding latency", nil),
		upsertTime: reg.Histogram(metrics.IngestUpsertSeconds, "Batch upsert latency", nil),
	}
	p.flush = fn.RetryStage(opts.Retry, fn.Then(
		fn.TracedStage("ingest.embed", p.embedStage),
		fn.TracedStage("ingest.upsert", p.upsertStage),
	))
	return p, nil
}

// Rebuild drops any existing collection and creates an empty one sized for
// the embedder.
func (p *Pipeline) Rebuild(ctx context.Context) error {
	if err := p.index.DeleteCollection(ctx); err != nil {
		return fmt.Errorf("ingest: delete collection: %w", err)
	}
	meta := map[string]string{"description": CollectionDescription}
	if err := p.index.CreateCollection(ctx, p.embedder.Dimensions(), meta); err != nil {
		return fmt.Errorf("ingest: create collection: %w", err)
	}
	p.log.Info("ingest: collection ready", "dims", p.embedder.Dimensions())
	return nil
}

// Run drains src until it ends or MaxSamples records have been accepted.
// Batches are flushed strictly in order; a batch that still fails after
// retries aborts the run with the stats gathered so far.
func (p *Pipeline) Run(ctx context.Context, src dataset.Source) (Stats, error) {
	var stats Stats
	batch := make([]domain.KnowledgeRecord, 0, p.opts.BatchSize)

	flush := func(final bool) error {
		if len(batch) == 0 {
			return nil
		}
		p.log.Info("embedding batch", "size", len(batch), "total", stats.Accepted, "final", final)
		if _, err := p.flush(ctx, batch).Unwrap(); err != nil {
			return fmt.Errorf("ingest: batch %d: %w", stats.Batches+1, err)
		}
		stats.Batches++
		p.batches.Inc()
		batch = batch[:0]
		return nil
	}

	for rec, err := range src {
		if err != nil {
			return stats, fmt.Errorf("ingest: source: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Seen++
		pair, ok := ExtractQAPair(rec)
		if !ok || !Accept(pair) {
			stats.Skipped++
			p.skipped.Inc()
			continue
		}
		batch = append(batch, NewKnowledgeRecord(stats.Accepted, pair))
		stats.Accepted++
		p.accepted.Inc()

		if len(batch) >= p.opts.BatchSize {
			if err := flush(false); err != nil {
				return stats, err
			}
		}
		if stats.Accepted >= p.opts.MaxSamples {
			break
		}
	}
	if err := flush(true); err != nil {
		return stats, err
	}

	p.log.Info("ingest: run complete",
		"seen", stats.Seen,
		"accepted", stats.Accepted,
		"skipped", stats.Skipped,
		"batches", stats.Batches,
	)
	return stats, nil
}

// Verify issues VerifyQuery against the index. An empty result is reported,
// not treated as an error.
func (p *Pipeline) Verify(ctx context.Context) (VerifyReport, error) {
	report := VerifyReport{Query: VerifyQuery}
	vecs, err := p.embedder.Encode(ctx, []string{VerifyQuery})
	if err != nil {
		return report, fmt.Errorf("ingest: verify embed: %w", err)
	}
	if len(vecs) != 1 {
		return report, fmt.Errorf("ingest: verify embed: got %d vectors", len(vecs))
	}
	hits, err := p.index.Query(ctx, vecs[0], verifyK)
	if err != nil {
		return report, fmt.Errorf("ingest: verify query: %w", err)
	}
	report.Found = len(hits)
	if len(hits) == 0 {
		p.log.Warn("ingest: verification found no results", "query", VerifyQuery)
		return report, nil
	}
	report.Preview = truncateRunes(hits[0].Document, verifyPreviewRunes)
	if utf8.RuneCountInString(hits[0].Document) > verifyPreviewRunes {
		report.Preview += "..."
	}
	p.log.Info("ingest: verification", "found", report.Found, "preview", report.Preview)
	return report, nil
}

func (p *Pipeline) embedStage(ctx context.Context, recs []domain.KnowledgeRecord) fn.Result[[]domain.KnowledgeRecord] {
	start := time.Now()
	defer p.embedTime.Since(start)

	questions := fn.Map(recs, func(r domain.KnowledgeRecord) string { return r.Question })
	vecs, err := p.embedder.Encode(ctx, questions)
	if err != nil {
		return fn.Err[[]domain.KnowledgeRecord](fmt.Errorf("embed: %w", err))
	}
	if len(vecs) != len(recs) {
		return fn.Errf[[]domain.KnowledgeRecord]("embed: got %d vectors for %d questions", len(vecs), len(recs))
	}
	out := make([]domain.KnowledgeRecord, len(recs))
	for i, r := range recs {
		r.Embedding = vecs[i]
		out[i] = r
	}
	return fn.Ok(out)
}

func (p *Pipeline) upsertStage(ctx context.Context, recs []domain.KnowledgeRecord) fn.Result[int] {
	start := time.Now()
	defer p.upsertTime.Since(start)

	vrs := fn.Map(recs, func(r domain.KnowledgeRecord) semantic.VectorRecord {
		return semantic.VectorRecord{
			ID:        r.ID,
			Embedding: r.Embedding,
			Document:  r.Answer,
			Metadata:  r.Metadata,
		}
	})
	if err := p.index.Upsert(ctx, vrs); err != nil {
		return fn.Err[int](fmt.Errorf("upsert: %w", err))
	}
	return fn.Ok(len(vrs))
}
