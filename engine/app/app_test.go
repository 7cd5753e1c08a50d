package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lawgpt/lawgpt/engine/domain"
	"github.com/lawgpt/lawgpt/engine/embedding"
	"github.com/lawgpt/lawgpt/engine/rag"
	"github.com/lawgpt/lawgpt/pkg/config"
	"github.com/lawgpt/lawgpt/pkg/metrics"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Embedding.Dimension = 64
	cfg.Lexical.Path = filepath.Join(t.TempDir(), "lexical.json")
	cfg.Chunk.Size = 200
	cfg.Chunk.Overlap = 20
	return cfg
}

func echoGenerator(prompts *[]string) rag.Generator {
	return rag.GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		*prompts = append(*prompts, prompt)
		return "Thirty days written notice is required [1].", nil
	})
}

func TestIngestAndQueryHybrid(t *testing.T) {
	ctx := context.Background()
	var prompts []string
	a, err := New(ctx, testConfig(t), quiet(), WithGenerator(echoGenerator(&prompts)), WithMetrics(metrics.New("test")))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(ctx)

	doc := domain.Document{
		ID:    "lease-7",
		Title: "Residential Lease",
		Text:  "Either party may terminate this lease by giving thirty days written notice to the other party.",
	}
	res, err := a.Ingest(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 1 || res.ChunkIDs[0] != "lease-7:0" {
		t.Fatalf("result = %+v", res)
	}
	if _, err := a.Lexical.Get("document:lease-7"); err != nil {
		t.Fatalf("document record missing: %v", err)
	}

	if _, err := a.Catalog.AddCases(ctx, []domain.LegalCase{{
		ID: "c1", Title: "Smith v Jones", Summary: "termination of lease without written notice", Citation: "2019 NSW 12",
	}}); err != nil {
		t.Fatal(err)
	}

	ans, err := a.RAG.Query(ctx, "terminate this lease by giving thirty days written notice", 3)
	if err != nil {
		t.Fatal(err)
	}
	if ans.Degraded || !strings.Contains(ans.Text, "Thirty days") {
		t.Fatalf("answer = %+v", ans)
	}
	var sawChunk, sawCase bool
	for _, s := range ans.Sources {
		sawChunk = sawChunk || s.ID == "lease-7:0"
		sawCase = sawCase || s.ID == "case:c1"
	}
	if !sawChunk || !sawCase {
		t.Fatalf("sources = %+v", ans.Sources)
	}
	if len(prompts) != 1 || !strings.Contains(prompts[0], "thirty days written notice") {
		t.Fatalf("prompt did not carry context: %v", prompts)
	}
}

func TestLexicalStrategy(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Search.Strategy = "lexical"
	var prompts []string
	a, err := New(ctx, cfg, quiet(), WithGenerator(echoGenerator(&prompts)))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(ctx)

	if _, err := a.Catalog.AddStatutes(ctx, []domain.LegalStatute{{
		ID: "s1", Title: "Residential Tenancies Act", SectionNumber: "s 84", Summary: "landlord notice periods for termination",
	}}); err != nil {
		t.Fatal(err)
	}
	ans, err := a.RAG.Query(ctx, "landlord notice periods for termination", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].ID != "statute:s1" {
		t.Fatalf("sources = %+v", ans.Sources)
	}
}

func TestGenerationFailureDegrades(t *testing.T) {
	ctx := context.Background()
	failing := rag.GeneratorFunc(func(context.Context, string) (string, error) {
		return "", errors.New("model unavailable")
	})
	a, err := New(ctx, testConfig(t), quiet(), WithGenerator(failing))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(ctx)

	ans, err := a.RAG.Query(ctx, "what is adverse possession", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !ans.Degraded || ans.Confidence != rag.Low {
		t.Fatalf("answer = %+v", ans)
	}
}

func TestDimensionMismatchAtStartup(t *testing.T) {
	ctx := context.Background()
	short := embedding.ProviderFunc(func(context.Context, string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	})
	_, err := New(ctx, testConfig(t), quiet(), WithEmbedProvider(short))
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("err = %v", err)
	}
}

func TestUnknownStrategy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.Strategy = "graph"
	if _, err := New(context.Background(), cfg, quiet()); err == nil {
		t.Fatal("expected error")
	}
}

func TestCloseWritesSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a, err := New(ctx, cfg, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Catalog.AddCases(ctx, []domain.LegalCase{{ID: "c9", Title: "Re Estate of Brown", Summary: "probate dispute"}}); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg.Lexical.Path); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	b, err := New(ctx, cfg, quiet())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close(ctx)
	if b.Lexical.Len() != 1 {
		t.Fatalf("reloaded %d records", b.Lexical.Len())
	}
}

func TestIngestRejectsEmptyDocument(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), quiet())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(ctx)
	_, err = a.Ingest(ctx, domain.Document{ID: "blank"})
	if domain.KindOf(err) != domain.KindInput {
		t.Fatalf("err = %v", err)
	}
	if a.Lexical.Len() != 0 {
		t.Fatal("rejected document must not reach the lexical index")
	}
}
