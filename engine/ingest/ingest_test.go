package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/medknowledge/engine/boltindex"
	"github.com/WessleyAI/medknowledge/engine/dataset"
	"github.com/WessleyAI/medknowledge/engine/domain"
	"github.com/WessleyAI/medknowledge/engine/embedding"
	"github.com/WessleyAI/medknowledge/pkg/fn"
	"github.com/WessleyAI/medknowledge/pkg/metrics"
)

var fastRetry = fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}

// recordingEmbedder wraps a real provider and records batch sizes. It fails
// the first failFirst calls.
type recordingEmbedder struct {
	embedding.Provider
	sizes     []int
	calls     int
	failFirst int
}

func (r *recordingEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	r.calls++
	if r.calls <= r.failFirst {
		return nil, errors.New("embedder unavailable")
	}
	r.sizes = append(r.sizes, len(texts))
	return r.Provider.Encode(ctx, texts)
}

func newEmbedder() *recordingEmbedder {
	return &recordingEmbedder{Provider: embedding.Normalize(embedding.NewHashing(64))}
}

func openIndex(t *testing.T) *boltindex.Index {
	t.Helper()
	x, err := boltindex.Open(filepath.Join(t.TempDir(), "knowledge.db"), "medical_knowledge")
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { x.Close() })
	return x
}

func newPipeline(t *testing.T, emb embedding.Provider, idx *boltindex.Index, opts Options) *Pipeline {
	t.Helper()
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fastRetry
	}
	p, err := New(Deps{Embedder: emb, Index: idx}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	return p
}

func qa(question, answer string) domain.Record {
	return conv(domain.RoleUser, question, domain.RoleAssistant, answer)
}

func generated(n int) []domain.Record {
	recs := make([]domain.Record, n)
	for i := range recs {
		recs[i] = qa(fmt.Sprintf("what is the treatment for condition number %d", i), fmt.Sprintf("answer %d", i))
	}
	return recs
}

var fivePairs = []domain.Record{
	qa("What are the symptoms of diabetes mellitus?", "Polyuria, polydipsia and weight loss."),
	qa("How is community acquired pneumonia treated?", "Empirical antibiotics such as amoxicillin."),
	qa("What causes iron deficiency anaemia in adults?", "Chronic blood loss is the usual cause."),
	qa("Which vaccine prevents cervical cancer in women?", "The HPV vaccine."),
	qa("What is the first line drug for hypertension?", "A thiazide diuretic or ACE inhibitor."),
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}, Options{}); err == nil {
		t.Fatal("expected error without embedder and index")
	}
}

func TestRun_FivePairs(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	emb := newEmbedder()
	p := newPipeline(t, emb, idx, Options{})

	stats, err := p.Run(ctx, dataset.Slice(fivePairs))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats != (Stats{Seen: 5, Accepted: 5, Batches: 1}) {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if n, _ := idx.Count(ctx); n != 5 {
		t.Fatalf("count = %d, want 5", n)
	}

	vecs, _ := emb.Encode(ctx, []string{"symptoms of diabetes"})
	hits, err := idx.Query(ctx, vecs[0], 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) == 0 || hits[0].Document != "Polyuria, polydipsia and weight loss." {
		t.Fatalf("expected diabetes answer first, got %+v", hits)
	}
	if hits[0].Metadata[domain.MetaQuestion] != "What are the symptoms of diabetes mellitus?" {
		t.Fatalf("unexpected metadata %v", hits[0].Metadata)
	}
}

func TestRun_FlushesFinalPartialBatch(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	emb := newEmbedder()
	p := newPipeline(t, emb, idx, Options{BatchSize: 100})

	stats, err := p.Run(ctx, dataset.Slice(generated(250)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Batches != 3 || stats.Accepted != 250 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if fmt.Sprint(emb.sizes) != "[100 100 50]" {
		t.Fatalf("unexpected batch sizes %v", emb.sizes)
	}
	if n, _ := idx.Count(ctx); n != 250 {
		t.Fatalf("count = %d, want 250", n)
	}
}

func TestRun_CapStopsPulling(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	p := newPipeline(t, newEmbedder(), idx, Options{BatchSize: 2, MaxSamples: 5})

	pulled := 0
	src := dataset.Source(func(yield func(domain.Record, error) bool) {
		for _, r := range generated(100) {
			pulled++
			if !yield(r, nil) {
				return
			}
		}
	})
	stats, err := p.Run(ctx, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Accepted != 5 || stats.Seen != 5 || pulled != 5 {
		t.Fatalf("stats %+v pulled %d, want 5 accepted and pulled", stats, pulled)
	}
	if stats.Batches != 3 {
		t.Fatalf("expected 2 full batches and 1 final, got %d", stats.Batches)
	}
}

func TestRun_IDsCountAcceptedRecords(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	reg := metrics.New()
	p, err := New(Deps{Embedder: newEmbedder(), Index: idx, Metrics: reg}, Options{Retry: fastRetry})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}

	src := dataset.Slice([]domain.Record{
		qa("too short", "nope"),
		qa("what is the normal adult resting heart rate", "60 to 100 bpm"),
		conv(domain.RoleUser, "what is the normal adult body temperature"),
		qa("what is the normal adult respiratory rate", "12 to 20 breaths"),
	})
	stats, err := p.Run(ctx, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats != (Stats{Seen: 4, Accepted: 2, Skipped: 2, Batches: 1}) {
		t.Fatalf("unexpected stats %+v", stats)
	}

	emb := embedding.Normalize(embedding.NewHashing(64))
	vecs, _ := emb.Encode(ctx, []string{"what is the normal adult respiratory rate"})
	hits, _ := idx.Query(ctx, vecs[0], 2)
	ids := []string{hits[0].ID, hits[1].ID}
	if ids[0] != "med_1" || ids[1] != "med_0" {
		t.Fatalf("expected ids med_1, med_0, got %v", ids)
	}
	if reg.Counter(metrics.IngestSkipped, "").Value() != 2 || reg.Counter(metrics.IngestAccepted, "").Value() != 2 {
		t.Fatal("metrics not updated")
	}
}

func TestRun_RetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	emb := newEmbedder()
	emb.failFirst = 2
	p := newPipeline(t, emb, idx, Options{})

	if _, err := p.Run(ctx, dataset.Slice(fivePairs)); err != nil {
		t.Fatalf("Run should succeed after retries: %v", err)
	}
	if n, _ := idx.Count(ctx); n != 5 {
		t.Fatalf("count = %d, want 5", n)
	}
}

func TestRun_PersistentFailureAborts(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	emb := newEmbedder()
	emb.failFirst = 100
	p := newPipeline(t, emb, idx, Options{BatchSize: 2})

	stats, err := p.Run(ctx, dataset.Slice(fivePairs))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "batch 1") {
		t.Fatalf("error should name the batch: %v", err)
	}
	if stats.Batches != 0 || emb.calls != 3 {
		t.Fatalf("stats %+v calls %d", stats, emb.calls)
	}
}

func TestRun_SourceError(t *testing.T) {
	idx := openIndex(t)
	p := newPipeline(t, newEmbedder(), idx, Options{})
	src := dataset.Source(func(yield func(domain.Record, error) bool) {
		if !yield(fivePairs[0], nil) {
			return
		}
		yield(domain.Record{}, errors.New("connection reset"))
	})
	stats, err := p.Run(context.Background(), src)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected source error, got %v", err)
	}
	if stats.Seen != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRebuildTwice_SameCount(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	emb := newEmbedder()

	var counts []int
	for range 2 {
		p := newPipeline(t, emb, idx, Options{BatchSize: 7})
		if _, err := p.Run(ctx, dataset.Slice(generated(30))); err != nil {
			t.Fatalf("Run: %v", err)
		}
		n, err := idx.Count(ctx)
		if err != nil {
			t.Fatal(err)
		}
		counts = append(counts, n)
	}
	if counts[0] != 30 || counts[1] != 30 {
		t.Fatalf("counts after two rebuilds = %v, want [30 30]", counts)
	}
}

func TestRebuild_StoresDescription(t *testing.T) {
	idx := openIndex(t)
	newPipeline(t, newEmbedder(), idx, Options{})
	meta, err := idx.Meta(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if meta["description"] != CollectionDescription || meta["dims"] != "64" {
		t.Fatalf("unexpected meta %v", meta)
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	p := newPipeline(t, newEmbedder(), idx, Options{})

	report, err := p.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify on empty index: %v", err)
	}
	if report.Found != 0 || report.Query != VerifyQuery {
		t.Fatalf("unexpected report %+v", report)
	}

	long := strings.Repeat("a", 300)
	recs := append([]domain.Record{qa("What are the symptoms of diabetes in adults?", long)}, fivePairs[1:]...)
	if _, err := p.Run(ctx, dataset.Slice(recs)); err != nil {
		t.Fatal(err)
	}
	report, err = p.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Found != 2 {
		t.Fatalf("found = %d, want 2", report.Found)
	}
	if report.Preview != strings.Repeat("a", 200)+"..." {
		t.Fatalf("unexpected preview %q", report.Preview)
	}
}
