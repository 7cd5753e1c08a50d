// Package config loads LawGPT settings from a YAML file, an optional .env
// file and LAWGPT_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LAWGPT_"

// Server configures the HTTP API.
type Server struct {
	Addr            string        `yaml:"addr"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MetricsAddr     string        `yaml:"metrics_addr"`
}

// Embedding selects the embedding provider.
type Embedding struct {
	// Provider is one of hashing, ollama, gemini.
	Provider  string        `yaml:"provider"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
}

// Generation selects the answer generator.
type Generation struct {
	// Provider is one of ollama, gemini.
	Provider     string        `yaml:"provider"`
	Timeout      time.Duration `yaml:"timeout"`
	SystemPrompt string        `yaml:"system_prompt"`
}

// Ollama holds the local model server settings.
type Ollama struct {
	URL           string `yaml:"url"`
	EmbedModel    string `yaml:"embed_model"`
	GenerateModel string `yaml:"generate_model"`
}

// Gemini holds the hosted model settings.
type Gemini struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	EmbedModel    string `yaml:"embed_model"`
	GenerateModel string `yaml:"generate_model"`
	RetryCount    int    `yaml:"retry_count"`
}

// Vector selects the vector index backend.
type Vector struct {
	// Backend is one of memory, pgvector, qdrant.
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Table       string `yaml:"table"`
	QdrantAddr  string `yaml:"qdrant_addr"`
	Collection  string `yaml:"collection"`
}

// Lexical configures where the text similarity snapshot lives.
type Lexical struct {
	// Store is one of file, redis.
	Store     string `yaml:"store"`
	Path      string `yaml:"path"`
	RedisAddr string `yaml:"redis_addr"`
	RedisKey  string `yaml:"redis_key"`
}

// Chunk sets the sliding window.
type Chunk struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// Ingest configures the ingestion pipeline and watcher.
type Ingest struct {
	// OnEmbedError is abort or skip.
	OnEmbedError string        `yaml:"on_embed_error"`
	Replace      bool          `yaml:"replace"`
	Workers      int           `yaml:"workers"`
	EmbedRetries int           `yaml:"embed_retries"`
	NATSURL      string        `yaml:"nats_url"`
	WatchDir     string        `yaml:"watch_dir"`
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// Search configures retrieval.
type Search struct {
	// Strategy is vector, lexical or hybrid.
	Strategy string        `yaml:"strategy"`
	TopK     int           `yaml:"top_k"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Config is the root configuration.
type Config struct {
	Server     Server     `yaml:"server"`
	Embedding  Embedding  `yaml:"embedding"`
	Generation Generation `yaml:"generation"`
	Ollama     Ollama     `yaml:"ollama"`
	Gemini     Gemini     `yaml:"gemini"`
	Vector     Vector     `yaml:"vector"`
	Lexical    Lexical    `yaml:"lexical"`
	Chunk      Chunk      `yaml:"chunk"`
	Ingest     Ingest     `yaml:"ingest"`
	Search     Search     `yaml:"search"`
	LogLevel   string     `yaml:"log_level"`
}

// Default returns a configuration that runs fully offline: hashing
// embeddings, in-memory vectors and a file snapshot.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			CORSOrigin:      "*",
			ShutdownTimeout: 10 * time.Second,
		},
		Embedding: Embedding{
			Provider:  "hashing",
			Dimension: 768,
			Timeout:   30 * time.Second,
			Burst:     1,
		},
		Generation: Generation{
			Provider: "ollama",
			Timeout:  60 * time.Second,
		},
		Ollama: Ollama{
			URL:           "http://localhost:11434",
			EmbedModel:    "nomic-embed-text",
			GenerateModel: "llama3",
		},
		Gemini: Gemini{
			EmbedModel:    "text-embedding-004",
			GenerateModel: "gemini-1.5-flash",
			RetryCount:    2,
		},
		Vector: Vector{
			Backend:    "memory",
			Table:      "chunks",
			QdrantAddr: "localhost:6334",
			Collection: "lawgpt",
		},
		Lexical: Lexical{
			Store:    "file",
			Path:     "data/lexical.json",
			RedisKey: "lawgpt:lexical",
		},
		Chunk: Chunk{Size: 800, Overlap: 100},
		Ingest: Ingest{
			OnEmbedError: "abort",
			Replace:      true,
			Workers:      4,
			WatchDir:     "storage",
			ScanInterval: 30 * time.Second,
		},
		Search: Search{
			Strategy: "hybrid",
			TopK:     5,
			Timeout:  10 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads path (missing file means defaults), merges envFile into the
// process environment when it exists, applies LAWGPT_* overrides and
// validates the result. Either path may be empty.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config: env file %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		*dst = envOr(EnvPrefix+key, *dst)
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("ADDR", &c.Server.Addr)
	str("CORS_ORIGIN", &c.Server.CORSOrigin)
	str("METRICS_ADDR", &c.Server.MetricsAddr)
	dur("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	str("EMBED_PROVIDER", &c.Embedding.Provider)
	num("EMBED_DIMENSION", &c.Embedding.Dimension)
	dur("EMBED_TIMEOUT", &c.Embedding.Timeout)

	str("GENERATE_PROVIDER", &c.Generation.Provider)
	dur("GENERATE_TIMEOUT", &c.Generation.Timeout)

	str("OLLAMA_URL", &c.Ollama.URL)
	str("OLLAMA_EMBED_MODEL", &c.Ollama.EmbedModel)
	str("OLLAMA_GENERATE_MODEL", &c.Ollama.GenerateModel)

	str("GEMINI_API_KEY", &c.Gemini.APIKey)
	str("GEMINI_BASE_URL", &c.Gemini.BaseURL)

	str("VECTOR_BACKEND", &c.Vector.Backend)
	str("POSTGRES_DSN", &c.Vector.PostgresDSN)
	str("QDRANT_ADDR", &c.Vector.QdrantAddr)
	str("QDRANT_COLLECTION", &c.Vector.Collection)

	str("LEXICAL_STORE", &c.Lexical.Store)
	str("LEXICAL_PATH", &c.Lexical.Path)
	str("REDIS_ADDR", &c.Lexical.RedisAddr)

	num("CHUNK_SIZE", &c.Chunk.Size)
	num("CHUNK_OVERLAP", &c.Chunk.Overlap)

	str("NATS_URL", &c.Ingest.NATSURL)
	str("WATCH_DIR", &c.Ingest.WatchDir)
	str("ON_EMBED_ERROR", &c.Ingest.OnEmbedError)

	str("SEARCH_STRATEGY", &c.Search.Strategy)
	num("TOP_K", &c.Search.TopK)

	str("LOG_LEVEL", &c.LogLevel)

	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func oneOf(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("config: %s: unknown value %q (want one of %v)", field, v, allowed)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if c.Embedding.Dimension <= 0 {
		add(fmt.Errorf("config: embedding.dimension must be positive, got %d", c.Embedding.Dimension))
	}
	if c.Chunk.Size <= 0 || c.Chunk.Overlap <= 0 || c.Chunk.Overlap >= c.Chunk.Size {
		add(fmt.Errorf("config: chunk: need 0 < overlap < size, got size=%d overlap=%d", c.Chunk.Size, c.Chunk.Overlap))
	}
	if c.Search.TopK < 1 || c.Search.TopK > 50 {
		add(fmt.Errorf("config: search.top_k must be in [1, 50], got %d", c.Search.TopK))
	}
	add(oneOf("embedding.provider", c.Embedding.Provider, "hashing", "ollama", "gemini"))
	add(oneOf("generation.provider", c.Generation.Provider, "ollama", "gemini"))
	add(oneOf("vector.backend", c.Vector.Backend, "memory", "pgvector", "qdrant"))
	add(oneOf("lexical.store", c.Lexical.Store, "file", "redis"))
	add(oneOf("ingest.on_embed_error", c.Ingest.OnEmbedError, "abort", "skip"))
	add(oneOf("search.strategy", c.Search.Strategy, "vector", "lexical", "hybrid"))

	if c.Vector.Backend == "pgvector" && c.Vector.PostgresDSN == "" {
		add(errors.New("config: vector.postgres_dsn is required for the pgvector backend"))
	}
	if c.Lexical.Store == "redis" && c.Lexical.RedisAddr == "" {
		add(errors.New("config: lexical.redis_addr is required for the redis store"))
	}
	if c.Lexical.Store == "file" && c.Lexical.Path == "" {
		add(errors.New("config: lexical.path is required for the file store"))
	}
	if uses(c, "gemini") && c.Gemini.APIKey == "" {
		add(errors.New("config: gemini.api_key is required when gemini is selected"))
	}
	return errors.Join(errs...)
}

func uses(c Config, provider string) bool {
	return c.Embedding.Provider == provider || c.Generation.Provider == provider
}
