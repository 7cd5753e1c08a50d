package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chunk.Size != 800 || cfg.Chunk.Overlap != 100 {
		t.Fatalf("chunk = %+v", cfg.Chunk)
	}
	if cfg.Vector.Backend != "memory" {
		t.Fatalf("backend = %q", cfg.Vector.Backend)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lawgpt.yaml")
	body := `
vector:
  backend: qdrant
  collection: statutes
chunk:
  size: 400
  overlap: 50
search:
  strategy: lexical
  timeout: 3s
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Vector.Backend != "qdrant" || cfg.Vector.Collection != "statutes" {
		t.Fatalf("vector = %+v", cfg.Vector)
	}
	if cfg.Chunk.Size != 400 || cfg.Chunk.Overlap != 50 {
		t.Fatalf("chunk = %+v", cfg.Chunk)
	}
	if cfg.Search.Timeout != 3*time.Second {
		t.Fatalf("timeout = %v", cfg.Search.Timeout)
	}
	// untouched sections keep defaults
	if cfg.Vector.QdrantAddr != "localhost:6334" {
		t.Fatalf("qdrant addr = %q", cfg.Vector.QdrantAddr)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("chunk: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LAWGPT_VECTOR_BACKEND", "pgvector")
	t.Setenv("LAWGPT_POSTGRES_DSN", "postgres://localhost/lawgpt")
	t.Setenv("LAWGPT_TOP_K", "7")
	t.Setenv("LAWGPT_EMBED_TIMEOUT", "2s")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Vector.Backend != "pgvector" || cfg.Vector.PostgresDSN == "" {
		t.Fatalf("vector = %+v", cfg.Vector)
	}
	if cfg.Search.TopK != 7 {
		t.Fatalf("top_k = %d", cfg.Search.TopK)
	}
	if cfg.Embedding.Timeout != 2*time.Second {
		t.Fatalf("timeout = %v", cfg.Embedding.Timeout)
	}
}

func TestEnvOverrideBadNumber(t *testing.T) {
	t.Setenv("LAWGPT_CHUNK_SIZE", "eight hundred")
	_, err := Load("", "")
	if err == nil || !strings.Contains(err.Error(), "LAWGPT_CHUNK_SIZE") {
		t.Fatalf("err = %v", err)
	}
}

func TestEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("LAWGPT_QDRANT_COLLECTION=from_dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv.Load sets process env; make sure it is cleared afterwards.
	t.Setenv("LAWGPT_QDRANT_COLLECTION", "")
	os.Unsetenv("LAWGPT_QDRANT_COLLECTION")

	cfg, err := Load("", envFile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Vector.Collection != "from_dotenv" {
		t.Fatalf("collection = %q", cfg.Vector.Collection)
	}
}

func TestMissingEnvFileIgnored(t *testing.T) {
	if _, err := Load("", filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatal(err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }, "dimension"},
		{"overlap too big", func(c *Config) { c.Chunk.Overlap = 800 }, "overlap"},
		{"zero overlap", func(c *Config) { c.Chunk.Overlap = 0 }, "overlap"},
		{"top k", func(c *Config) { c.Search.TopK = 51 }, "top_k"},
		{"backend", func(c *Config) { c.Vector.Backend = "milvus" }, "vector.backend"},
		{"pg dsn", func(c *Config) { c.Vector.Backend = "pgvector" }, "postgres_dsn"},
		{"redis addr", func(c *Config) { c.Lexical.Store = "redis" }, "redis_addr"},
		{"gemini key", func(c *Config) { c.Generation.Provider = "gemini" }, "api_key"},
		{"policy", func(c *Config) { c.Ingest.OnEmbedError = "retry" }, "on_embed_error"},
		{"strategy", func(c *Config) { c.Search.Strategy = "graph" }, "search.strategy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lawgpt.yaml")
	cfg := Default()
	cfg.Search.Strategy = "vector"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Search.Strategy != "vector" || got.Server.ShutdownTimeout != 10*time.Second {
		t.Fatalf("got %+v", got.Search)
	}
}
