// Package dataset exposes Q/A conversation records as lazy sequences.
package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"os"

	"github.com/WessleyAI/medknowledge/engine/domain"
)

// Source yields records one at a time. A non-nil error ends the sequence.
type Source = iter.Seq2[domain.Record, error]

// maxLine bounds a single JSONL record; reasoning traces can be long.
const maxLine = 16 << 20

// Take yields at most n records from src and stops pulling afterwards.
func Take(src Source, n int) Source {
	return func(yield func(domain.Record, error) bool) {
		if n <= 0 {
			return
		}
		seen := 0
		for rec, err := range src {
			if !yield(rec, err) || err != nil {
				return
			}
			seen++
			if seen >= n {
				return
			}
		}
	}
}

// Slice yields the given records in order.
func Slice(records []domain.Record) Source {
	return func(yield func(domain.Record, error) bool) {
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// JSONL reads one JSON object per line from path. Each object must carry a
// "messages" array. Blank lines are ignored; a malformed line ends the
// sequence with an error naming the line.
func JSONL(path string) Source {
	return func(yield func(domain.Record, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(domain.Record{}, fmt.Errorf("dataset: open: %w", err))
			return
		}
		defer f.Close()

		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)
		line := 0
		for sc.Scan() {
			line++
			b := sc.Bytes()
			if len(bytes.TrimSpace(b)) == 0 {
				continue
			}
			var rec domain.Record
			if err := json.Unmarshal(b, &rec); err != nil {
				yield(domain.Record{}, fmt.Errorf("dataset: line %d: %w", line, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(domain.Record{}, fmt.Errorf("dataset: read: %w", err))
		}
	}
}
