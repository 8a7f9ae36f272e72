// Package config loads settings for the API and ingestion binaries.
// Precedence, lowest first: built-in defaults, an optional YAML file, then
// environment variables (including any loaded from a .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Index backends.
const (
	BackendBolt   = "bolt"
	BackendQdrant = "qdrant"
)

// Embedding providers.
const (
	EmbedderOllama = "ollama"
	EmbedderOpenAI = "openai"
	EmbedderHash   = "hash"
)

// Config holds all runtime configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Index    IndexConfig    `yaml:"index"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Cache    CacheConfig    `yaml:"cache"`
	NATSURL  string         `yaml:"nats_url"`
}

type ServerConfig struct {
	Port        string `yaml:"port"`
	CORSOrigin  string `yaml:"cors_origin"`
	ServiceName string `yaml:"service_name"`
}

type IndexConfig struct {
	Backend    string `yaml:"backend"`
	Collection string `yaml:"collection"`
	BoltPath   string `yaml:"bolt_path"`
	QdrantAddr string `yaml:"qdrant_addr"`
}

type EmbedderConfig struct {
	Kind           string  `yaml:"kind"`
	Model          string  `yaml:"model"`
	BaseURL        string  `yaml:"base_url"`
	Dims           int     `yaml:"dims"`
	APIKey         string  `yaml:"api_key"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
}

type IngestConfig struct {
	BatchSize   int    `yaml:"batch_size"`
	MaxSamples  int    `yaml:"max_samples"`
	// ScanLimit caps raw records read regardless of acceptance; 0 is unbounded.
	ScanLimit   int    `yaml:"scan_limit"`
	DatasetPath string `yaml:"dataset_path"`
	HFDataset   string `yaml:"hf_dataset"`
	HFConfig    string `yaml:"hf_config"`
	HFSplit     string `yaml:"hf_split"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// CacheConfig enables the Redis query-embedding cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        "8000",
			CORSOrigin:  "*",
			ServiceName: "medical-knowledge-api",
		},
		Index: IndexConfig{
			Backend:    BackendBolt,
			Collection: "medical_knowledge",
			BoltPath:   "./knowledge.db",
			QdrantAddr: "localhost:6334",
		},
		Embedder: EmbedderConfig{
			Kind:    EmbedderOllama,
			Model:   "nomic-embed-text",
			BaseURL: "http://localhost:11434",
			Dims:    768,
		},
		Ingest: IngestConfig{
			BatchSize:   100,
			MaxSamples:  50000,
			HFDataset:   "OpenMed/Medical-Reasoning-SFT-GPT-OSS-120B",
			HFConfig:    "default",
			HFSplit:     "train",
			MetricsAddr: ":9091",
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
	}
}

// Load builds the effective configuration. path may be empty, in which case
// MEDKB_CONFIG is consulted; a missing .env file is not an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("MEDKB_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.Port = envOr("PORT", cfg.Server.Port)
	cfg.Server.CORSOrigin = envOr("CORS_ORIGIN", cfg.Server.CORSOrigin)
	cfg.Server.ServiceName = envOr("SERVICE_NAME", cfg.Server.ServiceName)

	cfg.Index.Backend = envOr("INDEX_BACKEND", cfg.Index.Backend)
	cfg.Index.Collection = envOr("COLLECTION", cfg.Index.Collection)
	cfg.Index.BoltPath = envOr("BOLT_PATH", cfg.Index.BoltPath)
	cfg.Index.QdrantAddr = envOr("QDRANT_URL", cfg.Index.QdrantAddr)

	cfg.Embedder.Kind = envOr("EMBEDDER", cfg.Embedder.Kind)
	cfg.Embedder.Model = envOr("EMBED_MODEL", cfg.Embedder.Model)
	cfg.Embedder.BaseURL = envOr("EMBED_BASE_URL", cfg.Embedder.BaseURL)
	cfg.Embedder.APIKey = envOr("OPENAI_API_KEY", cfg.Embedder.APIKey)

	cfg.Ingest.DatasetPath = envOr("DATASET_PATH", cfg.Ingest.DatasetPath)
	cfg.Ingest.HFDataset = envOr("HF_DATASET", cfg.Ingest.HFDataset)
	cfg.Ingest.HFConfig = envOr("HF_CONFIG", cfg.Ingest.HFConfig)
	cfg.Ingest.HFSplit = envOr("HF_SPLIT", cfg.Ingest.HFSplit)
	cfg.Ingest.MetricsAddr = envOr("METRICS_ADDR", cfg.Ingest.MetricsAddr)

	cfg.Cache.RedisAddr = envOr("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = envOr("REDIS_PASSWORD", cfg.Cache.RedisPassword)

	cfg.NATSURL = envOr("NATS_URL", cfg.NATSURL)

	var err error
	if cfg.Embedder.Dims, err = envInt("EMBED_DIMS", cfg.Embedder.Dims); err != nil {
		return err
	}
	if cfg.Embedder.RequestsPerSec, err = envFloat("EMBED_RPS", cfg.Embedder.RequestsPerSec); err != nil {
		return err
	}
	if cfg.Ingest.BatchSize, err = envInt("BATCH_SIZE", cfg.Ingest.BatchSize); err != nil {
		return err
	}
	if cfg.Ingest.MaxSamples, err = envInt("MAX_SAMPLES", cfg.Ingest.MaxSamples); err != nil {
		return err
	}
	if cfg.Ingest.ScanLimit, err = envInt("SCAN_LIMIT", cfg.Ingest.ScanLimit); err != nil {
		return err
	}
	if cfg.Cache.RedisDB, err = envInt("REDIS_DB", cfg.Cache.RedisDB); err != nil {
		return err
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if cfg.Cache.TTL, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: CACHE_TTL: %w", err)
		}
	}
	return nil
}

// Validate rejects settings no binary can start with.
func (c Config) Validate() error {
	switch c.Index.Backend {
	case BackendBolt, BackendQdrant:
	default:
		return fmt.Errorf("config: unknown index backend %q", c.Index.Backend)
	}
	switch c.Embedder.Kind {
	case EmbedderOllama, EmbedderOpenAI, EmbedderHash:
	default:
		return fmt.Errorf("config: unknown embedder %q", c.Embedder.Kind)
	}
	if c.Index.Collection == "" {
		return errors.New("config: collection is required")
	}
	if c.Embedder.Kind == EmbedderOpenAI && c.Embedder.APIKey == "" {
		return errors.New("config: OPENAI_API_KEY is required for the openai embedder")
	}
	if c.Embedder.Dims < 0 || c.Ingest.BatchSize < 0 || c.Ingest.MaxSamples < 0 || c.Ingest.ScanLimit < 0 || c.Cache.TTL < 0 {
		return errors.New("config: numeric settings must not be negative")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
