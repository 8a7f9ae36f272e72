// Package embedding defines the embedding provider contract and the
// adapters shared by every concrete provider.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Provider maps texts to fixed-length vectors. Implementations must be
// deterministic for a fixed model and safe for concurrent use.
type Provider interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the length of every vector Encode returns.
	Dimensions() int
}

// Normalize wraps p so every returned vector has unit L2 norm. Indexes rely
// on this to keep squared Euclidean distance in [0,4].
func Normalize(p Provider) Provider {
	if _, ok := p.(normalized); ok {
		return p
	}
	return normalized{p}
}

type normalized struct{ Provider }

func (n normalized) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := n.Provider.Encode(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding: provider returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for _, v := range vecs {
		L2Normalize(v)
	}
	return vecs, nil
}

// L2Normalize scales v in place to unit length. Zero vectors are left as is.
func L2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
