// Package semantic stores chunk embeddings and answers nearest-neighbour
// queries by cosine distance. Every backend reports score = 1 - distance,
// sorted descending with ties broken by insertion order.
package semantic

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/lawgpt/lawgpt/engine/domain"
)

// Record is one chunk and its embedding.
type Record struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Text       string            `json:"text"`
	Offset     int               `json:"offset"`
	Page       *int              `json:"page,omitempty"`
	Embedding  []float32         `json:"-"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Hit is a search result. The embedding is never populated.
type Hit struct {
	Record
	Score float64 `json:"score"`
}

// Index is a vector store keyed by chunk id.
type Index interface {
	// Dimension is the vector length every record and query must have.
	Dimension() int
	// Upsert inserts or replaces records. A batch is applied entirely or not at all.
	Upsert(ctx context.Context, records []Record) error
	// Search returns at most topK hits, best first. topK <= 0 or an empty
	// index yields an empty slice.
	Search(ctx context.Context, query []float32, topK int) ([]Hit, error)
	// Get looks a record up by chunk id.
	Get(ctx context.Context, id string) (Record, bool, error)
	// DeleteDocument removes every chunk of a document.
	DeleteDocument(ctx context.Context, docID string) error
	// ReplaceDocument swaps every chunk of docID for records. If it fails
	// the previous chunks are still searchable.
	ReplaceDocument(ctx context.Context, docID string, records []Record) error
	Close() error
}

// validateRecords rejects a batch before anything is written.
func validateRecords(records []Record, dim int) error {
	for _, r := range records {
		if strings.TrimSpace(r.ID) == "" {
			return domain.NewValidationError("id", r.DocumentID, domain.ErrInvalidDocument)
		}
		if r.Text == "" {
			return domain.NewValidationError("text", r.ID, domain.ErrEmptyText)
		}
		if err := domain.CheckDimension(r.Embedding, dim); err != nil {
			return fmt.Errorf("semantic: record %s: %w", r.ID, err)
		}
	}
	return nil
}

// cosineDistance is 1 - cos(a, b). A zero vector is treated as orthogonal
// to everything.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

type rankedHit struct {
	hit Hit
	seq int64
}

// rank orders by score descending, then insertion sequence ascending, and
// truncates to topK.
func rank(in []rankedHit, topK int) []Hit {
	slices.SortStableFunc(in, func(a, b rankedHit) int {
		if c := cmp.Compare(b.hit.Score, a.hit.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	if len(in) > topK {
		in = in[:topK]
	}
	out := make([]Hit, len(in))
	for i, r := range in {
		out[i] = r.hit
	}
	return out
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

// hitOf copies r into a Hit without its embedding.
func hitOf(r Record, score float64) Hit {
	r.Embedding = nil
	r.Metadata = cloneMeta(r.Metadata)
	if r.Page != nil {
		p := *r.Page
		r.Page = &p
	}
	return Hit{Record: r, Score: score}
}
