// Package lexical is a word-overlap similarity index over legal case,
// statute and document records. It scores every stored record against the
// query by Jaccard similarity of lowercase word sets and persists the whole
// collection as a snapshot after each mutation.
package lexical

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/lawgpt/lawgpt/engine/domain"
	"github.com/lawgpt/lawgpt/pkg/metrics"
)

// MinScore is the relevance floor; only hits scoring strictly above it are returned.
const MinScore = 0.1

// Record is one indexed case, statute or document.
type Record struct {
	ID         string            `json:"id"`
	SourceType domain.SourceType `json:"source_type"`
	Title      string            `json:"title"`
	Summary    string            `json:"summary,omitempty"`
	Citation   string            `json:"citation,omitempty"`
	Body       string            `json:"body"`
	Keywords   []string          `json:"keywords,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	AddedAt    time.Time         `json:"added_at"`
}

// MatchText is the text a record is scored on: Body when set, otherwise
// title, summary and citation joined by spaces.
func (r Record) MatchText() string {
	if strings.TrimSpace(r.Body) != "" {
		return r.Body
	}
	return strings.Join([]string{r.Title, r.Summary, r.Citation}, " ")
}

// Hit is a scored copy of a stored record.
type Hit struct {
	Record
	Score float64 `json:"score"`
}

// PersistError reports a snapshot write that failed after the in-memory
// collection was already changed. Flush retries the write.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("lexical: persist after %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() []error { return []error{domain.ErrPersist, e.Err} }

type entry struct {
	rec   Record
	words wordSet
}

// Index is safe for concurrent use. Mutations hold one lock across the
// in-memory change and the snapshot write.
type Index struct {
	mu      sync.RWMutex
	entries []entry
	dirty   bool

	store   SnapshotStore
	logger  *slog.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(x *Index) {
		if l != nil {
			x.logger = l
		}
	}
}

// WithMetrics records collection size and persist failures.
func WithMetrics(m *metrics.Registry) Option {
	return func(x *Index) { x.metrics = m }
}

// Open loads the snapshot from store and returns a ready index. A missing
// snapshot yields an empty index.
func Open(ctx context.Context, store SnapshotStore, opts ...Option) (*Index, error) {
	x := &Index{store: store, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(x)
	}
	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("lexical: open: %w", err)
	}
	x.entries = make([]entry, 0, len(records))
	for _, r := range records {
		x.entries = append(x.entries, entry{rec: r, words: words(r.MatchText())})
	}
	x.metrics.SetLexicalRecords(len(x.entries))
	x.logger.Info("lexical index loaded", "records", len(x.entries))
	return x, nil
}

// Len returns the number of stored records.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Stats counts records per source type.
func (x *Index) Stats() map[domain.SourceType]int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[domain.SourceType]int)
	for _, e := range x.entries {
		out[e.rec.SourceType]++
	}
	return out
}

func (x *Index) prepare(records []Record) ([]entry, error) {
	now := x.now().UTC()
	out := make([]entry, 0, len(records))
	for _, r := range records {
		if !r.SourceType.Valid() {
			return nil, domain.NewValidationError("source_type", string(r.SourceType), domain.ErrInvalidSourceType)
		}
		text := r.MatchText()
		if strings.TrimSpace(text) == "" {
			return nil, domain.NewValidationError("body", r.ID, domain.ErrEmptyText)
		}
		r.Body = text
		r.Keywords = Keywords(text)
		r.Metadata = cloneMeta(r.Metadata)
		if r.AddedAt.IsZero() {
			r.AddedAt = now
		}
		out = append(out, entry{rec: r, words: words(text)})
	}
	return out, nil
}

// Add appends records in order and rewrites the snapshot. Invalid input
// rejects the whole batch. A failed write returns *PersistError and leaves
// the records in memory.
func (x *Index) Add(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	prepared, err := x.prepare(records)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = append(x.entries, prepared...)
	x.metrics.SetLexicalRecords(len(x.entries))
	return x.persistLocked(ctx, "add")
}

// AddNew is Add for records whose id is not stored yet. The id check and
// the append happen under the same lock, and ids repeated in the batch
// keep their first occurrence. It returns how many records were added; with
// nothing new the snapshot is not rewritten.
func (x *Index) AddNew(ctx context.Context, records ...Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	prepared, err := x.prepare(records)
	if err != nil {
		return 0, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	seen := make(map[string]bool, len(x.entries)+len(prepared))
	for _, e := range x.entries {
		seen[e.rec.ID] = true
	}
	fresh := prepared[:0]
	for _, e := range prepared {
		if seen[e.rec.ID] {
			continue
		}
		seen[e.rec.ID] = true
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	x.entries = append(x.entries, fresh...)
	x.metrics.SetLexicalRecords(len(x.entries))
	return len(fresh), x.persistLocked(ctx, "add")
}

// Rebuild replaces the whole collection. It is the only operation that can
// shrink the index.
func (x *Index) Rebuild(ctx context.Context, records []Record) error {
	prepared, err := x.prepare(records)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = prepared
	x.metrics.SetLexicalRecords(len(x.entries))
	return x.persistLocked(ctx, "rebuild")
}

// Flush writes the snapshot if an earlier write failed.
func (x *Index) Flush(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.dirty {
		return nil
	}
	return x.persistLocked(ctx, "flush")
}

// Close flushes pending state.
func (x *Index) Close(ctx context.Context) error {
	return x.Flush(ctx)
}

func (x *Index) persistLocked(ctx context.Context, op string) error {
	records := make([]Record, len(x.entries))
	for i, e := range x.entries {
		records[i] = e.rec
	}
	if err := x.store.Save(ctx, records); err != nil {
		x.dirty = true
		x.metrics.PersistFailed()
		x.logger.Error("lexical snapshot write failed", "op", op, "records", len(records), "err", err)
		return &PersistError{Op: op, Err: err}
	}
	x.dirty = false
	return nil
}

// FindSimilar scores every record against query and returns at most k hits
// scoring above MinScore, best first, ties in insertion order. When types is
// non-empty only records of those source types are considered.
func (x *Index) FindSimilar(query string, k int, types ...domain.SourceType) []Hit {
	if k <= 0 {
		return []Hit{}
	}
	q := words(query)

	x.mu.RLock()
	hits := make([]Hit, 0, min(k, len(x.entries)))
	for _, e := range x.entries {
		if len(types) > 0 && !slices.Contains(types, e.rec.SourceType) {
			continue
		}
		score := jaccard(q, e.words)
		if score <= MinScore {
			continue
		}
		hits = append(hits, Hit{Record: copyRecord(e.rec), Score: score})
	}
	x.mu.RUnlock()

	slices.SortStableFunc(hits, func(a, b Hit) int { return cmp.Compare(b.Score, a.Score) })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Get returns a copy of the first record with the given id.
func (x *Index) Get(id string) (Record, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, e := range x.entries {
		if e.rec.ID == id {
			return copyRecord(e.rec), nil
		}
	}
	return Record{}, fmt.Errorf("lexical: record %s: %w", id, domain.ErrNotFound)
}

// IsPersistError reports whether err came from a failed snapshot write.
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

func copyRecord(r Record) Record {
	r.Keywords = slices.Clone(r.Keywords)
	r.Metadata = cloneMeta(r.Metadata)
	return r
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
