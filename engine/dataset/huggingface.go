package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/WessleyAI/medknowledge/engine/domain"
	"github.com/WessleyAI/medknowledge/pkg/fn"
	"golang.org/x/time/rate"
)

const (
	// DefaultHFEndpoint is the public datasets-server API.
	DefaultHFEndpoint = "https://datasets-server.huggingface.co"
	// DefaultHFDataset is the OpenMed medical reasoning corpus.
	DefaultHFDataset = "OpenMed/Medical-Reasoning-SFT-GPT-OSS-120B"
	// hfPageSize is the largest page datasets-server serves.
	hfPageSize = 100
)

// HFConfig selects a dataset split on the HuggingFace datasets-server.
type HFConfig struct {
	Endpoint string
	Dataset  string
	Config   string
	Split    string
	PageSize int
	// RatePerSec paces page requests; 0 means unpaced.
	RatePerSec float64
	Retry      fn.RetryOpts
	Client     *http.Client
}

func (c HFConfig) withDefaults() HFConfig {
	if c.Endpoint == "" {
		c.Endpoint = DefaultHFEndpoint
	}
	if c.Dataset == "" {
		c.Dataset = DefaultHFDataset
	}
	if c.Config == "" {
		c.Config = "default"
	}
	if c.Split == "" {
		c.Split = "train"
	}
	if c.PageSize <= 0 || c.PageSize > hfPageSize {
		c.PageSize = hfPageSize
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = fn.DefaultRetry
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 60 * time.Second}
	}
	return c
}

type rowsResponse struct {
	Rows []struct {
		RowIdx int           `json:"row_idx"`
		Row    domain.Record `json:"row"`
	} `json:"rows"`
	NumRowsTotal int `json:"num_rows_total"`
}

// HuggingFace pages through the /rows endpoint lazily. A page is fetched
// only when the consumer has drained the previous one.
func HuggingFace(ctx context.Context, cfg HFConfig) Source {
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	limiter := rate.NewLimiter(limit, 1)

	return func(yield func(domain.Record, error) bool) {
		offset := 0
		for {
			result := fn.Retry(ctx, cfg.Retry, func(ctx context.Context) fn.Result[*rowsResponse] {
				if err := limiter.Wait(ctx); err != nil {
					return fn.Err[*rowsResponse](err)
				}
				return fetchRows(ctx, cfg, offset)
			})
			page, err := result.Unwrap()
			if err != nil {
				yield(domain.Record{}, fmt.Errorf("dataset: rows offset %d: %w", offset, err))
				return
			}
			for _, r := range page.Rows {
				if !yield(r.Row, nil) {
					return
				}
			}
			offset += len(page.Rows)
			if len(page.Rows) == 0 || offset >= page.NumRowsTotal {
				return
			}
		}
	}
}

func fetchRows(ctx context.Context, cfg HFConfig, offset int) fn.Result[*rowsResponse] {
	q := url.Values{}
	q.Set("dataset", cfg.Dataset)
	q.Set("config", cfg.Config)
	q.Set("split", cfg.Split)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("length", strconv.Itoa(cfg.PageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint+"/rows?"+q.Encode(), nil)
	if err != nil {
		return fn.Err[*rowsResponse](err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cfg.Client.Do(req)
	if err != nil {
		return fn.Err[*rowsResponse](err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fn.Errf[*rowsResponse]("status %d: %s", resp.StatusCode, body)
	}

	var out rowsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fn.Err[*rowsResponse](fmt.Errorf("decode: %w", err))
	}
	return fn.Ok(&out)
}
