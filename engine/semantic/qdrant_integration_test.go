//go:build integration

package semantic

import (
	"context"
	"os"
	"testing"
)

func qdrantAddr() string {
	if v := os.Getenv("QDRANT_ADDR"); v != "" {
		return v
	}
	return "localhost:6334"
}

func liveQdrant(t *testing.T, collection string) *Qdrant {
	t.Helper()
	q, err := NewQdrant(qdrantAddr(), collection, 3, nil)
	if err != nil {
		t.Fatalf("connect qdrant: %v", err)
	}
	t.Cleanup(func() {
		_ = q.DeleteCollection(context.Background())
		_ = q.Close()
	})
	if err := q.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	return q
}

func TestQdrantLive_UpsertSearchDelete(t *testing.T) {
	q := liveQdrant(t, "lawgpt_it_chunks")
	ctx := context.Background()

	if err := q.EnsureCollection(ctx); err != nil {
		t.Fatalf("EnsureCollection (idempotent): %v", err)
	}
	err := q.Upsert(ctx, []Record{
		{ID: "case-1:0", DocumentID: "case-1", Text: "negligence duty of care", Embedding: []float32{1, 0, 0}},
		{ID: "case-2:0", DocumentID: "case-2", Text: "contract formation", Embedding: []float32{0, 1, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := q.Search(ctx, []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "case-1:0" {
		t.Fatalf("hits = %+v", hits)
	}

	got, ok, err := q.Get(ctx, "case-2:0")
	if err != nil || !ok || len(got.Embedding) != 3 {
		t.Fatalf("Get: %+v ok=%v err=%v", got, ok, err)
	}

	if err := q.DeleteDocument(ctx, "case-1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, ok, _ := q.Get(ctx, "case-1:0"); ok {
		t.Fatal("deleted chunk still present")
	}
}
