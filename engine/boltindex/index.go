// Package boltindex is a persisted, single-file vector index on bbolt. Each
// collection is a top-level bucket; queries are exact brute-force scans under
// squared Euclidean distance.
package boltindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/WessleyAI/medknowledge/engine/domain"
	"github.com/WessleyAI/medknowledge/engine/semantic"
	"go.etcd.io/bbolt"
)

var (
	bucketMeta    = []byte("meta")
	bucketRecords = []byte("records")
	keyDims       = []byte("dims")
)

var errNoCollection = errors.New("collection does not exist")

// Index is a semantic.Index stored in a bbolt file.
type Index struct {
	db         *bbolt.DB
	collection []byte
}

var _ semantic.Index = (*Index)(nil)

// Open opens (creating if needed) the index file at path for read-write use.
func Open(path, collection string) (*Index, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltindex: open %s: %w", path, err)
	}
	return &Index{db: db, collection: []byte(collection)}, nil
}

// OpenExisting opens an index file that must already exist, read-only. A
// missing file yields domain.ErrIndexMissing.
func OpenExisting(path, collection string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrIndexMissing, path)
		}
		return nil, fmt.Errorf("boltindex: stat %s: %w", path, err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("boltindex: open %s: %w", path, err)
	}
	return &Index{db: db, collection: []byte(collection)}, nil
}

// Close closes the underlying file.
func (x *Index) Close() error { return x.db.Close() }

// Metric implements semantic.Index.
func (x *Index) Metric() semantic.Metric { return semantic.SquaredL2 }

// Exists implements semantic.Index.
func (x *Index) Exists(_ context.Context) (bool, error) {
	var ok bool
	err := x.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(x.collection) != nil
		return nil
	})
	return ok, err
}

// CreateCollection implements semantic.Index. meta is stored next to the
// records in the collection's meta bucket.
func (x *Index) CreateCollection(_ context.Context, dims int, meta map[string]string) error {
	if dims <= 0 {
		return fmt.Errorf("boltindex: create collection %s: invalid dims %d", x.collection, dims)
	}
	return x.db.Update(func(tx *bbolt.Tx) error {
		coll, err := tx.CreateBucket(x.collection)
		if err != nil {
			return fmt.Errorf("boltindex: create collection %s: %w", x.collection, err)
		}
		mb, err := coll.CreateBucket(bucketMeta)
		if err != nil {
			return err
		}
		if _, err := coll.CreateBucket(bucketRecords); err != nil {
			return err
		}
		for k, v := range meta {
			if err := mb.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return mb.Put(keyDims, []byte(strconv.Itoa(dims)))
	})
}

// DeleteCollection implements semantic.Index.
func (x *Index) DeleteCollection(_ context.Context) error {
	return x.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(x.collection) == nil {
			return nil
		}
		if err := tx.DeleteBucket(x.collection); err != nil {
			return fmt.Errorf("boltindex: delete collection %s: %w", x.collection, err)
		}
		return nil
	})
}

// Meta returns the metadata the collection was created with.
func (x *Index) Meta(_ context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := x.db.View(func(tx *bbolt.Tx) error {
		coll := tx.Bucket(x.collection)
		if coll == nil {
			return errNoCollection
		}
		return coll.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltindex: meta %s: %w", x.collection, err)
	}
	return out, nil
}

// Upsert implements semantic.Index. All records are written in one transaction.
func (x *Index) Upsert(_ context.Context, records []semantic.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := x.db.Update(func(tx *bbolt.Tx) error {
		coll := tx.Bucket(x.collection)
		if coll == nil {
			return errNoCollection
		}
		dims := collectionDims(coll)
		rb := coll.Bucket(bucketRecords)
		for _, r := range records {
			if len(r.Embedding) != dims {
				return fmt.Errorf("record %s: embedding has %d dims, collection has %d", r.ID, len(r.Embedding), dims)
			}
			data, err := encodeEntry(&entry{Embedding: r.Embedding, Document: r.Document, Metadata: r.Metadata})
			if err != nil {
				return err
			}
			if err := rb.Put([]byte(r.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltindex: upsert %d records: %w", len(records), err)
	}
	return nil
}

type candidate struct {
	id   []byte
	dist float64
}

// Query implements semantic.Index. Ties are broken by record id so results
// are stable across runs.
func (x *Index) Query(_ context.Context, embedding []float32, k int) ([]semantic.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	var hits []semantic.Hit
	err := x.db.View(func(tx *bbolt.Tx) error {
		coll := tx.Bucket(x.collection)
		if coll == nil {
			return errNoCollection
		}
		if dims := collectionDims(coll); len(embedding) != dims {
			return fmt.Errorf("query has %d dims, collection has %d", len(embedding), dims)
		}
		rb := coll.Bucket(bucketRecords)

		var cands []candidate
		err := rb.ForEach(func(key, val []byte) error {
			vec, err := decodeEmbedding(val)
			if err != nil {
				return err
			}
			cands = append(cands, candidate{id: key, dist: squaredL2(embedding, vec)})
			return nil
		})
		if err != nil {
			return err
		}
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].dist != cands[j].dist {
				return cands[i].dist < cands[j].dist
			}
			return bytes.Compare(cands[i].id, cands[j].id) < 0
		})
		if len(cands) > k {
			cands = cands[:k]
		}

		hits = make([]semantic.Hit, 0, len(cands))
		for _, c := range cands {
			e, err := decodeEntry(rb.Get(c.id))
			if err != nil {
				return err
			}
			hits = append(hits, semantic.Hit{
				ID:       string(c.id),
				Document: e.Document,
				Metadata: e.Metadata,
				Distance: c.dist,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltindex: query %s: %w", x.collection, err)
	}
	return hits, nil
}

// Count implements semantic.Index.
func (x *Index) Count(_ context.Context) (int, error) {
	var n int
	err := x.db.View(func(tx *bbolt.Tx) error {
		coll := tx.Bucket(x.collection)
		if coll == nil {
			return errNoCollection
		}
		n = coll.Bucket(bucketRecords).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("boltindex: count %s: %w", x.collection, err)
	}
	return n, nil
}

func collectionDims(coll *bbolt.Bucket) int {
	n, _ := strconv.Atoi(string(coll.Bucket(bucketMeta).Get(keyDims)))
	return n
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
