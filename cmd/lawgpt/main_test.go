package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lawgpt/lawgpt/engine/app"
	"github.com/lawgpt/lawgpt/engine/domain"
	"github.com/lawgpt/lawgpt/engine/rag"
	"github.com/lawgpt/lawgpt/pkg/config"
)

// execute runs the CLI against a config rooted in dir with a canned
// generator. The lexical snapshot persists in dir across calls.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cfgPath := filepath.Join(dir, "lawgpt.yaml")
	if _, err := os.Stat(cfgPath); err != nil {
		cfg := config.Default()
		cfg.Embedding.Dimension = 32
		cfg.Lexical.Path = filepath.Join(dir, "lexical.json")
		cfg.Search.Strategy = "lexical"
		if err := config.Save(cfgPath, cfg); err != nil {
			t.Fatal(err)
		}
	}

	gen := rag.GeneratorFunc(func(context.Context, string) (string, error) {
		return "Negligence requires a duty of care [1].", nil
	})
	root, c := newRootCmd(func(ctx context.Context, cfg config.Config, _ *slog.Logger) (*app.App, error) {
		return app.New(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), app.WithGenerator(gen))
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfgPath, "--env", filepath.Join(dir, ".env")}, args...))
	err := root.ExecuteContext(context.Background())
	if cerr := c.close(context.Background()); err == nil {
		err = cerr
	}
	return out.String(), err
}

func writeRecords(t *testing.T, dir string) string {
	t.Helper()
	f := recordsFile{
		Cases: []domain.LegalCase{
			{ID: "donoghue", Title: "Donoghue v Stevenson", Summary: "duty of care owed by manufacturer to consumer negligence", Citation: "[1932] AC 562"},
			{ID: "caparo", Title: "Caparo Industries v Dickman", Summary: "three stage test for duty of care", Citation: "[1990] 2 AC 605"},
		},
		Statutes: []domain.LegalStatute{
			{ID: "ola-1957", Title: "Occupiers Liability Act 1957", SectionNumber: "s 2", Summary: "common duty of care owed to visitors"},
		},
	}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "records.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAddRecordsAndSimilar(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, dir, "add-records", writeRecords(t, dir))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "added 3 records (3 total)") {
		t.Fatalf("out = %q", out)
	}

	out, err = execute(t, dir, "add-records", writeRecords(t, dir))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "added 0 records (3 total)") {
		t.Fatalf("second run out = %q", out)
	}

	out, err = execute(t, dir, "similar", "--type", "case", "duty", "of", "care", "owed", "by", "manufacturer")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Donoghue v Stevenson") || strings.Contains(out, "Occupiers") {
		t.Fatalf("out = %q", out)
	}
}

func TestSimilarRejectsUnknownType(t *testing.T) {
	_, err := execute(t, t.TempDir(), "similar", "--type", "treaty", "anything")
	if domain.KindOf(err) != domain.KindInput {
		t.Fatalf("err = %v", err)
	}
}

func TestRebuild(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, dir, "add-records", writeRecords(t, dir)); err != nil {
		t.Fatal(err)
	}
	small := filepath.Join(dir, "small.json")
	if err := os.WriteFile(small, []byte(`{"cases":[{"id":"x","title":"Only case","summary":"sole record"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, dir, "add-records", "--rebuild", small)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "rebuilt index with 1 records") {
		t.Fatalf("out = %q", out)
	}
}

func TestIngestAndQuery(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, dir, "add-records", writeRecords(t, dir)); err != nil {
		t.Fatal(err)
	}
	doc := filepath.Join(dir, "memo.txt")
	if err := os.WriteFile(doc, []byte("Memo on negligence and the duty of care owed to visitors."), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, dir, "ingest", doc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "ingested memo: 1 chunks") {
		t.Fatalf("out = %q", out)
	}

	out, err = execute(t, dir, "query", "--json", "what", "duty", "of", "care", "is", "owed", "to", "visitors")
	if err != nil {
		t.Fatal(err)
	}
	var ans rag.Answer
	if err := json.Unmarshal([]byte(out), &ans); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if ans.Text != "Negligence requires a duty of care [1]." || len(ans.Sources) == 0 {
		t.Fatalf("answer = %+v", ans)
	}
}

func TestQueryRejectsInjection(t *testing.T) {
	_, err := execute(t, t.TempDir(), "query", "x; DROP TABLE cases")
	if domain.KindOf(err) != domain.KindInput {
		t.Fatalf("err = %v", err)
	}
}

func TestIngestEmptyFile(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "blank.txt")
	if err := os.WriteFile(doc, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, dir, "ingest", doc); domain.KindOf(err) != domain.KindInput {
		t.Fatalf("err = %v", err)
	}
}
