// Package openaiembed provides an embedding provider backed by the OpenAI
// embeddings API.
package openaiembed

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "text-embedding-3-small"

// Config configures a Client.
type Config struct {
	APIKey string
	// BaseURL overrides the API root, e.g. for a compatible gateway.
	BaseURL string
	Model   string
	// Dims of the model output; 0 derives it from Model.
	Dims int
	// RequestsPerSec paces API calls; 0 means unpaced.
	RequestsPerSec float64
}

// Client embeds texts with one API request per Encode call.
type Client struct {
	api     *openai.Client
	model   string
	dims    int
	limiter *rate.Limiter
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openaiembed: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dims <= 0 {
		cfg.Dims = modelDims(cfg.Model)
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	return &Client{
		api:     openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		dims:    cfg.Dims,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

func modelDims(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

// Dimensions returns the vector length of the configured model.
func (c *Client) Dimensions() int { return c.dims }

// Encode embeds texts, returning vectors in input order.
func (c *Client) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("openaiembed: %w", err)
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openaiembed: create: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openaiembed: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("openaiembed: bad embedding index %d", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i := range d.Embedding {
			v[i] = float32(d.Embedding[i])
		}
		out[d.Index] = v
	}
	return out, nil
}
