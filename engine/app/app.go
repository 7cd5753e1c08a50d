// Package app assembles the engine from a config.Config: embedding
// provider, vector index, lexical index, retrieval strategy, synthesizer and
// ingestion pipeline. Every binary builds its components through New.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lawgpt/lawgpt/engine/domain"
	"github.com/lawgpt/lawgpt/engine/embedding"
	"github.com/lawgpt/lawgpt/engine/ingest"
	"github.com/lawgpt/lawgpt/engine/legal"
	"github.com/lawgpt/lawgpt/engine/lexical"
	"github.com/lawgpt/lawgpt/engine/rag"
	"github.com/lawgpt/lawgpt/engine/search"
	"github.com/lawgpt/lawgpt/engine/semantic"
	"github.com/lawgpt/lawgpt/pkg/config"
	"github.com/lawgpt/lawgpt/pkg/fn"
	"github.com/lawgpt/lawgpt/pkg/gemini"
	"github.com/lawgpt/lawgpt/pkg/metrics"
	"github.com/lawgpt/lawgpt/pkg/ollama"
	"github.com/lawgpt/lawgpt/pkg/resilience"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config   config.Config
	Metrics  *metrics.Registry
	Embedder *embedding.Service
	Vectors  semantic.Index
	Lexical  *lexical.Index
	Catalog  *legal.Catalog
	RAG      *rag.Service
	Deps     ingest.Deps

	pipeline fn.Stage[domain.Document, ingest.Result]
	logger   *slog.Logger
	closers  []func(context.Context) error
}

// Option overrides a component New would otherwise build from config.
type Option func(*overrides)

type overrides struct {
	provider  embedding.Provider
	generator rag.Generator
	vectors   semantic.Index
	snapshot  lexical.SnapshotStore
	metrics   *metrics.Registry
}

// WithEmbedProvider replaces the configured embedding provider.
func WithEmbedProvider(p embedding.Provider) Option {
	return func(o *overrides) { o.provider = p }
}

// WithGenerator replaces the configured answer generator.
func WithGenerator(g rag.Generator) Option {
	return func(o *overrides) { o.generator = g }
}

// WithVectorIndex replaces the configured vector backend.
func WithVectorIndex(idx semantic.Index) Option {
	return func(o *overrides) { o.vectors = idx }
}

// WithSnapshotStore replaces the configured lexical snapshot store.
func WithSnapshotStore(s lexical.SnapshotStore) Option {
	return func(o *overrides) { o.snapshot = s }
}

// WithMetrics shares a metrics registry instead of creating one.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *overrides) { o.metrics = m }
}

// New connects every backend named by cfg. On failure anything already
// opened is closed.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (a *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o overrides
	for _, opt := range opts {
		opt(&o)
	}

	a = &App{Config: cfg, logger: logger, Metrics: o.metrics}
	if a.Metrics == nil {
		a.Metrics = metrics.New("lawgpt")
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	provider := o.provider
	if provider == nil {
		if provider, err = embedProvider(cfg); err != nil {
			return a, err
		}
	}
	a.Embedder = embedding.New(provider, embedding.Options{
		Name:      cfg.Embedding.Provider,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout,
		Breaker:   resilience.DefaultBreakerOpts,
		Limiter:   resilience.LimiterOpts{Rate: cfg.Embedding.RateLimit, Burst: cfg.Embedding.Burst},
	}, a.Metrics, logger)
	if err = a.Embedder.CheckDimension(ctx); err != nil {
		return a, fmt.Errorf("app: %w", err)
	}

	a.Vectors = o.vectors
	if a.Vectors == nil {
		if a.Vectors, err = vectorIndex(ctx, cfg, logger); err != nil {
			return a, err
		}
	}
	a.closers = append(a.closers, func(context.Context) error { return a.Vectors.Close() })

	store := o.snapshot
	if store == nil {
		var closeStore func(context.Context) error
		store, closeStore = snapshotStore(cfg)
		if closeStore != nil {
			a.closers = append(a.closers, closeStore)
		}
	}
	if a.Lexical, err = lexical.Open(ctx, store, lexical.WithLogger(logger), lexical.WithMetrics(a.Metrics)); err != nil {
		return a, fmt.Errorf("app: %w", err)
	}
	a.closers = append(a.closers, a.Lexical.Close)
	a.Catalog = legal.NewCatalog(a.Lexical, logger)

	gen := o.generator
	if gen == nil {
		gen = generator(cfg)
	}
	synthOpts := rag.DefaultSynthOptions()
	synthOpts.Name = cfg.Generation.Provider
	if cfg.Generation.SystemPrompt != "" {
		synthOpts.SystemPrompt = cfg.Generation.SystemPrompt
	}
	if cfg.Generation.Timeout > 0 {
		synthOpts.Timeout = cfg.Generation.Timeout
	}
	searchers, err := a.searchers(cfg.Search.Strategy)
	if err != nil {
		return a, err
	}
	a.RAG = rag.New(
		rag.NewSynthesizer(gen, synthOpts, a.Metrics, logger),
		rag.Options{TopK: cfg.Search.TopK, SearchTimeout: cfg.Search.Timeout},
		a.Metrics, logger, searchers...,
	)

	a.Deps = ingest.Deps{
		Embedder: a.Embedder,
		Index:    a.Vectors,
		Options:  ingestOptions(cfg),
		Metrics:  a.Metrics,
		Logger:   logger,
	}
	a.pipeline = ingest.NewPipeline(a.Deps)

	logger.Info("app ready",
		"embed", cfg.Embedding.Provider,
		"generate", cfg.Generation.Provider,
		"vector", cfg.Vector.Backend,
		"lexical", cfg.Lexical.Store,
		"strategy", cfg.Search.Strategy,
		"lexical_records", a.Lexical.Len(),
	)
	return a, nil
}

// searchers maps a strategy to retrieval paths. Hybrid pairs uploaded
// document chunks with case law and statutes from the lexical index.
func (a *App) searchers(strategy string) ([]search.Searcher, error) {
	vec := search.NewVector(a.Embedder, a.Vectors, a.Metrics)
	if strategy == "hybrid" {
		return []search.Searcher{vec, search.NewLexical(a.Lexical, a.Metrics, domain.SourceCase, domain.SourceStatute)}, nil
	}
	s, err := search.Select(strategy, vec, search.NewLexical(a.Lexical, a.Metrics))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return []search.Searcher{s}, nil
}

// Ingest runs doc through the pipeline and, once its chunks are stored,
// registers the whole document with the lexical index. A lexical failure
// is logged; the chunks stay searchable.
func (a *App) Ingest(ctx context.Context, doc domain.Document) (ingest.Result, error) {
	res, err := a.pipeline(ctx, doc).Unwrap()
	if err != nil {
		return res, err
	}
	if _, lerr := a.Catalog.AddDocuments(ctx, []domain.Document{doc}); lerr != nil {
		a.logger.Warn("app: lexical document record not stored", "doc_id", doc.ID, "err", lerr)
	}
	return res, nil
}

// Close flushes the lexical index and closes backends. All errors are
// returned joined.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func embedProvider(cfg config.Config) (embedding.Provider, error) {
	switch cfg.Embedding.Provider {
	case "hashing":
		return embedding.NewHashing(cfg.Embedding.Dimension), nil
	case "ollama":
		return ollama.New(cfg.Ollama.URL, cfg.Ollama.EmbedModel, 0), nil
	case "gemini":
		return geminiClient(cfg), nil
	}
	return nil, fmt.Errorf("app: unknown embedding provider %q", cfg.Embedding.Provider)
}

func generator(cfg config.Config) rag.Generator {
	if cfg.Generation.Provider == "gemini" {
		return geminiClient(cfg)
	}
	return ollama.New(cfg.Ollama.URL, cfg.Ollama.GenerateModel, 0)
}

func geminiClient(cfg config.Config) *gemini.Client {
	return gemini.New(gemini.Config{
		BaseURL:       cfg.Gemini.BaseURL,
		APIKey:        cfg.Gemini.APIKey,
		EmbedModel:    cfg.Gemini.EmbedModel,
		GenerateModel: cfg.Gemini.GenerateModel,
		Timeout:       cfg.Generation.Timeout,
		RetryCount:    cfg.Gemini.RetryCount,
		RetryWait:     time.Second,
	})
}

func vectorIndex(ctx context.Context, cfg config.Config, logger *slog.Logger) (semantic.Index, error) {
	dim := cfg.Embedding.Dimension
	switch cfg.Vector.Backend {
	case "memory":
		return semantic.NewMemory(dim), nil
	case "pgvector":
		pg, err := semantic.OpenPGVector(ctx, cfg.Vector.PostgresDSN, cfg.Vector.Table, dim, logger)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return pg, nil
	case "qdrant":
		q, err := semantic.NewQdrant(cfg.Vector.QdrantAddr, cfg.Vector.Collection, dim, logger)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		if err := q.EnsureCollection(ctx); err != nil {
			q.Close()
			return nil, fmt.Errorf("app: %w", err)
		}
		return q, nil
	}
	return nil, fmt.Errorf("app: unknown vector backend %q", cfg.Vector.Backend)
}

func snapshotStore(cfg config.Config) (lexical.SnapshotStore, func(context.Context) error) {
	if cfg.Lexical.Store == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Lexical.RedisAddr})
		return lexical.RedisSnapshot{Client: client, Key: cfg.Lexical.RedisKey},
			func(context.Context) error { return client.Close() }
	}
	return lexical.FileSnapshot{Path: cfg.Lexical.Path}, nil
}

func ingestOptions(cfg config.Config) ingest.Options {
	opts := ingest.DefaultOptions()
	opts.ChunkSize = cfg.Chunk.Size
	opts.Overlap = cfg.Chunk.Overlap
	opts.OnEmbedError = ingest.Policy(cfg.Ingest.OnEmbedError)
	opts.Replace = cfg.Ingest.Replace
	if cfg.Ingest.Workers > 0 {
		opts.Workers = cfg.Ingest.Workers
	}
	opts.EmbedRetries = cfg.Ingest.EmbedRetries
	return opts
}
