package embedding

import (
	"context"
	"strings"
	"unicode"

	"github.com/minio/highwayhash"
)

var hashKey = []byte("medknowledge-feature-hashing-key")

// Hashing is an offline Provider that embeds text by feature hashing its
// lowercased word tokens into a fixed number of signed buckets. It has no
// notion of synonyms; texts are close only when they share words.
type Hashing struct {
	dims int
}

// NewHashing returns a Hashing provider producing vectors of length dims.
func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = 256
	}
	return &Hashing{dims: dims}
}

// Dimensions implements Provider.
func (h *Hashing) Dimensions() int { return h.dims }

// Encode implements Provider.
func (h *Hashing) Encode(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, h.dims)
		for _, tok := range tokenize(text) {
			sum := highwayhash.Sum64([]byte(tok), hashKey)
			idx := sum % uint64(h.dims)
			if sum&(1<<63) != 0 {
				v[idx]--
			} else {
				v[idx]++
			}
		}
		out[i] = v
	}
	return out, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
