// Package retrieval answers semantic queries against an ingested knowledge
// index.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/WessleyAI/medknowledge/engine/domain"
	"github.com/WessleyAI/medknowledge/engine/embedding"
	"github.com/WessleyAI/medknowledge/engine/semantic"
)

// DefaultTopK is the result count used when a caller does not ask for one.
const DefaultTopK = 3

// UnknownQuestion stands in for hits stored without a question.
const UnknownQuestion = "Unknown"

// Service holds warm handles to the embedder and index. It is safe for
// concurrent use.
type Service struct {
	embedder embedding.Provider
	index    semantic.Index
	log      *slog.Logger
}

// New builds a ready Service. Both handles are required.
func New(embedder embedding.Provider, index semantic.Index, log *slog.Logger) (*Service, error) {
	if embedder == nil {
		return nil, errors.New("retrieval: embedder is required")
	}
	if index == nil {
		return nil, errors.New("retrieval: index is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{embedder: embedder, index: index, log: log}, nil
}

// Search embeds query once and returns up to topK hits ranked by relevance.
func (s *Service) Search(ctx context.Context, query string, topK int) (domain.SearchResponse, error) {
	if s == nil || s.embedder == nil || s.index == nil {
		return domain.SearchResponse{}, domain.ErrServiceNotReady
	}
	if err := domain.ValidateQuery(query); err != nil {
		return domain.SearchResponse{}, err
	}
	if topK <= 0 {
		return domain.NewSearchResponse(query, nil), nil
	}

	vecs, err := s.embedder.Encode(ctx, []string{query})
	if err != nil {
		return domain.SearchResponse{}, fmt.Errorf("retrieval: embed: %w", err)
	}
	if len(vecs) != 1 {
		return domain.SearchResponse{}, fmt.Errorf("retrieval: embed: got %d vectors", len(vecs))
	}

	hits, err := s.index.Query(ctx, vecs[0], topK)
	if err != nil {
		return domain.SearchResponse{}, fmt.Errorf("retrieval: query: %w", err)
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}

	metric := s.index.Metric()
	results := make([]domain.QueryResult, len(hits))
	for i, h := range hits {
		results[i] = domain.QueryResult{
			Question:       questionOf(h),
			Answer:         h.Document,
			RelevanceScore: Relevance(metric, h.Distance),
		}
	}
	s.log.Debug("retrieval: search", "query_len", len(query), "top_k", topK, "found", len(results))
	return domain.NewSearchResponse(query, results), nil
}

// Count reports the number of indexed records.
func (s *Service) Count(ctx context.Context) (int, error) {
	if s == nil || s.index == nil {
		return 0, domain.ErrServiceNotReady
	}
	n, err := s.index.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("retrieval: count: %w", err)
	}
	return n, nil
}

// Relevance maps a distance reported under metric to a score in [0,1]:
// 1 - d/2 over the squared Euclidean distance of unit vectors, clamped at
// zero and rounded to three decimals.
func Relevance(metric semantic.Metric, distance float64) float64 {
	d := metric.SquaredL2(distance)
	score := 1 - d/2
	switch {
	case math.IsNaN(score), score < 0:
		return 0
	case score > 1:
		score = 1
	}
	return math.Round(score*1000) / 1000
}

func questionOf(h semantic.Hit) string {
	if q, ok := h.Metadata[domain.MetaQuestion].(string); ok {
		return q
	}
	return UnknownQuestion
}
