package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/WessleyAI/medknowledge/engine/boltindex"
	"github.com/WessleyAI/medknowledge/pkg/config"
)

func testConfig(t *testing.T, lines int) config.Config {
	t.Helper()
	dir := t.TempDir()
	var b strings.Builder
	for i := range lines {
		fmt.Fprintf(&b, `{"messages":[{"role":"user","content":"what is the recommended treatment for case %d"},{"role":"assistant","content":"<think>weigh options</think>treatment %d"}]}`+"\n", i, i)
	}
	b.WriteString(`{"messages":[{"role":"user","content":"too short"},{"role":"assistant","content":"skip"}]}` + "\n")
	path := filepath.Join(dir, "data.jsonl")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Embedder.Kind = config.EmbedderHash
	cfg.Embedder.Dims = 64
	cfg.Index.BoltPath = filepath.Join(dir, "knowledge.db")
	cfg.Ingest.DatasetPath = path
	cfg.Ingest.MetricsAddr = ""
	cfg.Ingest.BatchSize = 4
	return cfg
}

func count(t *testing.T, cfg config.Config) int {
	t.Helper()
	idx, err := boltindex.OpenExisting(cfg.Index.BoltPath, cfg.Index.Collection)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	n, err := idx.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRun_BuildsIndex(t *testing.T) {
	cfg := testConfig(t, 10)
	asked := false
	if err := run(context.Background(), cfg, func() bool { asked = true; return true }, quiet()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if asked {
		t.Fatal("fresh index should not prompt")
	}
	if n := count(t, cfg); n != 10 {
		t.Fatalf("count = %d, want 10", n)
	}
}

func TestRun_ExistingIndexPrompt(t *testing.T) {
	cfg := testConfig(t, 6)
	if err := run(context.Background(), cfg, nil, quiet()); err != nil {
		t.Fatal(err)
	}

	cfg.Ingest.MaxSamples = 3
	if err := run(context.Background(), cfg, func() bool { return false }, quiet()); err != nil {
		t.Fatal(err)
	}
	if n := count(t, cfg); n != 6 {
		t.Fatalf("declined rebuild changed the index: count = %d", n)
	}

	if err := run(context.Background(), cfg, func() bool { return true }, quiet()); err != nil {
		t.Fatal(err)
	}
	if n := count(t, cfg); n != 3 {
		t.Fatalf("confirmed rebuild: count = %d, want 3", n)
	}
}

func TestRun_ScanLimit(t *testing.T) {
	cfg := testConfig(t, 10)
	cfg.Ingest.ScanLimit = 4
	if err := run(context.Background(), cfg, nil, quiet()); err != nil {
		t.Fatal(err)
	}
	if n := count(t, cfg); n != 4 {
		t.Fatalf("count = %d, want 4", n)
	}
}

func TestRun_MissingDataset(t *testing.T) {
	cfg := testConfig(t, 1)
	cfg.Ingest.DatasetPath = filepath.Join(t.TempDir(), "absent.jsonl")
	if err := run(context.Background(), cfg, nil, quiet()); err == nil {
		t.Fatal("expected error")
	}
}

func TestAskRebuild(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"y\n", true},
		{"Y\n", true},
		{"  y  \n", true},
		{"yes\n", false},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"y", true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := askRebuild(strings.NewReader(tt.in), &out); got != tt.want {
			t.Errorf("askRebuild(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if !strings.Contains(out.String(), "Rebuild? (y/N)") {
			t.Errorf("prompt not written: %q", out.String())
		}
	}
}

func TestDescribe(t *testing.T) {
	cfg := config.Default().Ingest
	if got := describe(cfg); got != "hf:OpenMed/Medical-Reasoning-SFT-GPT-OSS-120B/train" {
		t.Fatalf("got %q", got)
	}
	cfg.DatasetPath = "./data.jsonl"
	if describe(cfg) != "./data.jsonl" {
		t.Fatal("jsonl path should be described as is")
	}
}
