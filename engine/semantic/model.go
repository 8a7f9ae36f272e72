// Package semantic defines the vector index contract used by ingestion and
// retrieval, and its Qdrant implementation.
package semantic

import (
	"context"
	"fmt"
)

// Metric names the distance an Index reports in Hit.Distance.
type Metric int

const (
	// SquaredL2 is the squared Euclidean distance, in [0,4] for unit vectors.
	SquaredL2 Metric = iota
	// CosineDistance is 1 - cosine similarity, in [0,2].
	CosineDistance
)

func (m Metric) String() string {
	switch m {
	case SquaredL2:
		return "squared_l2"
	case CosineDistance:
		return "cosine_distance"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// SquaredL2 converts a distance reported under m into the squared Euclidean
// distance between the same two vectors, assuming both are unit length.
func (m Metric) SquaredL2(d float64) float64 {
	if m == CosineDistance {
		// |a-b|^2 = 2 - 2cos(a,b) for unit a, b.
		return 2 * d
	}
	return d
}

// VectorRecord is a single entry written to an Index.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Document  string
	Metadata  map[string]any // string, int, int64, float64 or bool values
}

// Hit is a single nearest-neighbour result, in index order.
type Hit struct {
	ID       string
	Document string
	Metadata map[string]any
	Distance float64
}

// Index is a vector collection bound to a single name.
type Index interface {
	// Exists reports whether the collection is present.
	Exists(ctx context.Context) (bool, error)
	// CreateCollection creates an empty collection for vectors of dims length.
	CreateCollection(ctx context.Context, dims int, meta map[string]string) error
	// DeleteCollection removes the collection. Absence is not an error.
	DeleteCollection(ctx context.Context) error
	// Upsert writes records, replacing those with the same ID.
	Upsert(ctx context.Context, records []VectorRecord) error
	// Query returns up to k hits ordered by ascending distance.
	Query(ctx context.Context, embedding []float32, k int) ([]Hit, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	// Metric reports the distance semantics of Hit.Distance.
	Metric() Metric
	Close() error
}
