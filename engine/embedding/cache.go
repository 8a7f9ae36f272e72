package embedding

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/minio/highwayhash"
)

// Cache is a byte store keyed by string. Get reports a miss with ok=false
// and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte) error
}

var cacheKey = []byte("medknowledge-query-cache-key-256")

// Cached wraps p so vectors for previously seen texts come from c. Cache
// failures are logged and fall through to p. namespace separates models
// that share a cache.
func Cached(p Provider, c Cache, namespace string, log *slog.Logger) Provider {
	if log == nil {
		log = slog.Default()
	}
	return &cached{next: p, cache: c, ns: namespace, log: log}
}

type cached struct {
	next  Provider
	cache Cache
	ns    string
	log   *slog.Logger
}

func (c *cached) Dimensions() int { return c.next.Dimensions() }

func (c *cached) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, text := range texts {
		keys[i] = c.key(text)
		data, ok, err := c.cache.Get(ctx, keys[i])
		if err != nil {
			c.log.Warn("embedding cache get failed", "err", err)
		}
		if ok {
			if v, ok := decodeVector(data, c.next.Dimensions()); ok {
				out[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.Encode(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding: provider returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		if err := c.cache.Set(ctx, keys[i], encodeVector(vecs[j])); err != nil {
			c.log.Warn("embedding cache set failed", "err", err)
		}
	}
	return out, nil
}

func (c *cached) key(text string) string {
	return fmt.Sprintf("emb:%s:%d:%016x", c.ns, c.next.Dimensions(), highwayhash.Sum64([]byte(text), cacheKey))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(data []byte, dims int) ([]float32, bool) {
	if len(data) != 4*dims {
		return nil, false
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v, true
}
