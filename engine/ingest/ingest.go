// Package ingest runs documents through validation, chunking, embedding and
// storage. Each step is an fn.Stage so the pipeline is traced and logged per
// stage, and a document is either stored with all of its embedded chunks or
// rejected before anything is written.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lawgpt/lawgpt/engine/chunk"
	"github.com/lawgpt/lawgpt/engine/domain"
	"github.com/lawgpt/lawgpt/engine/semantic"
	"github.com/lawgpt/lawgpt/pkg/fn"
	"github.com/lawgpt/lawgpt/pkg/metrics"
)

// Policy decides what an embedding failure does to the document.
type Policy string

const (
	// Abort fails the whole document on the first embedding failure.
	Abort Policy = "abort"
	// Skip drops the failing chunk and stores the rest.
	Skip Policy = "skip"
)

// Embedder is satisfied by *embedding.Service.
type Embedder interface {
	Embed(ctx context.Context, textID, text string) ([]float32, error)
	Dimension() int
}

// Options tunes the pipeline.
type Options struct {
	ChunkSize    int
	Overlap      int
	OnEmbedError Policy
	// Replace deletes the document's existing chunks before storing.
	Replace bool
	// Workers bounds concurrent embedding calls per document.
	Workers int
	// EmbedRetries is the number of extra attempts per chunk.
	EmbedRetries int
	RetryWait    time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    chunk.DefaultSize,
		Overlap:      chunk.DefaultOverlap,
		OnEmbedError: Abort,
		Replace:      true,
		Workers:      4,
		RetryWait:    500 * time.Millisecond,
	}
}

// Deps holds the external dependencies of the pipeline.
type Deps struct {
	Embedder Embedder
	Index    semantic.Index
	Options  Options
	Metrics  *metrics.Registry
	Logger   *slog.Logger
}

// Result summarises one ingested document.
type Result struct {
	DocumentID string   `json:"document_id"`
	Chunks     int      `json:"chunks"`
	Skipped    int      `json:"skipped"`
	ChunkIDs   []string `json:"chunk_ids"`
}

// Chunked is a validated document and its windows.
type Chunked struct {
	Doc     domain.Document
	Windows []chunk.Window
}

// Embedded holds the records ready for upsert.
type Embedded struct {
	Doc     domain.Document
	Records []semantic.Record
	Skipped int
}

// ChunkID names the seq-th chunk of a document.
func ChunkID(docID string, seq int) string {
	return docID + ":" + strconv.Itoa(seq)
}

// NewValidate rejects malformed documents and a mismatch between the
// embedder's and the index's dimensions.
func NewValidate(deps Deps) fn.Stage[domain.Document, domain.Document] {
	return func(_ context.Context, doc domain.Document) fn.Result[domain.Document] {
		if err := domain.ValidateDocument(doc); err != nil {
			return fn.Err[domain.Document](err)
		}
		if want, got := deps.Index.Dimension(), deps.Embedder.Dimension(); got > 0 && want != got {
			return fn.Err[domain.Document](fmt.Errorf("ingest: embedder vs index: %w", &domain.DimensionError{Want: want, Got: got}))
		}
		return fn.Ok(doc)
	}
}

// NewChunk splits the document text into windows.
func NewChunk(opts Options) fn.Stage[domain.Document, Chunked] {
	return func(_ context.Context, doc domain.Document) fn.Result[Chunked] {
		windows, err := chunk.Split(doc.Text, opts.ChunkSize, opts.Overlap)
		if err != nil {
			return fn.Err[Chunked](err)
		}
		return fn.Ok(Chunked{Doc: doc, Windows: windows})
	}
}

// NewEmbed embeds every window, concurrently up to opts.Workers.
func NewEmbed(e Embedder, opts Options, log *slog.Logger) fn.Stage[Chunked, Embedded] {
	retry := fn.RetryOpts{
		MaxAttempts: opts.EmbedRetries + 1,
		InitialWait: opts.RetryWait,
		MaxWait:     10 * opts.RetryWait,
		Jitter:      true,
		Retryable:   func(err error) bool { return domain.KindOf(err) == domain.KindProvider },
	}

	return func(ctx context.Context, c Chunked) fn.Result[Embedded] {
		results := fn.ParMapResult(c.Windows, opts.Workers, func(i int, w chunk.Window) fn.Result[[]float32] {
			id := ChunkID(c.Doc.ID, i)
			return fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[[]float32] {
				return fn.FromPair(e.Embed(ctx, id, w.Text))
			})
		})

		done, failed := fn.Partition(results)
		for _, f := range failed {
			id := ChunkID(c.Doc.ID, f.Index)
			if opts.OnEmbedError != Skip || domain.KindOf(f.Err) != domain.KindProvider {
				return fn.Err[Embedded](fmt.Errorf("ingest: embed %s: %w", id, f.Err))
			}
			log.Warn("ingest: skipping chunk", "chunk_id", id, "err", f.Err)
		}
		if len(done) == 0 && len(failed) > 0 {
			return fn.Err[Embedded](fmt.Errorf("ingest: %s: every chunk failed to embed: %w", c.Doc.ID, failed[0].Err))
		}

		out := Embedded{Doc: c.Doc, Skipped: len(failed), Records: make([]semantic.Record, 0, len(done))}
		for _, i := range done {
			vec, _ := results[i].Unwrap()
			out.Records = append(out.Records, recordOf(c.Doc, i, c.Windows[i], vec))
		}
		return fn.Ok(out)
	}
}

func recordOf(doc domain.Document, seq int, w chunk.Window, vec []float32) semantic.Record {
	meta := make(map[string]string, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	if doc.Title != "" {
		meta["title"] = doc.Title
	}
	if doc.Source != "" {
		meta["source"] = doc.Source
	}
	return semantic.Record{
		ID:         ChunkID(doc.ID, seq),
		DocumentID: doc.ID,
		Text:       w.Text,
		Offset:     w.Offset,
		Page:       doc.Page,
		Embedding:  vec,
		Metadata:   meta,
	}
}

// NewStore writes all records of the document in one batch. With
// opts.Replace the document's old chunks go in the same operation.
func NewStore(idx semantic.Index, opts Options) fn.Stage[Embedded, Result] {
	return func(ctx context.Context, e Embedded) fn.Result[Result] {
		if opts.Replace {
			if err := idx.ReplaceDocument(ctx, e.Doc.ID, e.Records); err != nil {
				return fn.Err[Result](fmt.Errorf("ingest: replace %s: %w", e.Doc.ID, err))
			}
		} else if err := idx.Upsert(ctx, e.Records); err != nil {
			return fn.Err[Result](fmt.Errorf("ingest: store %s: %w", e.Doc.ID, err))
		}
		ids := make([]string, len(e.Records))
		for i, r := range e.Records {
			ids[i] = r.ID
		}
		return fn.Ok(Result{DocumentID: e.Doc.ID, Chunks: len(e.Records), Skipped: e.Skipped, ChunkIDs: ids})
	}
}

// observe wraps a stage with an OTel span, entry/exit logging and a
// duration metric.
func observe[In, Out any](name string, log *slog.Logger, m *metrics.Registry, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return fn.TracedStage("ingest."+name, func(ctx context.Context, in In) fn.Result[Out] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		r := stage(ctx, in)
		m.ObserveStage(name, start)
		log.Debug("stage.exit", "stage", name, "duration", time.Since(start), "ok", r.IsOk())
		return r
	})
}

// NewPipeline composes Validate → Chunk → Embed → Store.
func NewPipeline(deps Deps) fn.Stage[domain.Document, Result] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	opts := deps.Options
	if opts.ChunkSize == 0 && opts.Overlap == 0 {
		def := DefaultOptions()
		opts.ChunkSize, opts.Overlap = def.ChunkSize, def.Overlap
	}
	if opts.OnEmbedError == "" {
		opts.OnEmbedError = Abort
	}

	validated := observe("validate", log, deps.Metrics, NewValidate(deps))
	chunked := fn.Then(validated, observe("chunk", log, deps.Metrics, NewChunk(opts)))
	embedded := fn.Then(chunked, observe("embed", log, deps.Metrics, NewEmbed(deps.Embedder, opts, log)))
	stored := fn.Then(embedded, observe("store", log, deps.Metrics, NewStore(deps.Index, opts)))

	return func(ctx context.Context, doc domain.Document) fn.Result[Result] {
		r := stored(ctx, doc)
		res, err := r.Unwrap()
		deps.Metrics.ObserveIngest(res.Chunks, res.Skipped, err)
		if err != nil {
			log.Error("ingest: document failed", "doc_id", doc.ID, "kind", domain.KindOf(err).String(), "err", err)
		} else {
			log.Info("ingest: document stored", "doc_id", res.DocumentID, "chunks", res.Chunks, "skipped", res.Skipped)
		}
		return r
	}
}

// IsInputError reports whether err was caused by the document itself, so
// retrying it cannot help.
func IsInputError(err error) bool {
	return err != nil && domain.KindOf(err) == domain.KindInput
}
