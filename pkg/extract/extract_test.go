package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestExtractPlainText(t *testing.T) {
	x := New(nil)
	p := writeFile(t, "lease.TXT", "  The tenant shall pay rent monthly.\n")
	got := x.Extract(context.Background(), p)
	if got != "The tenant shall pay rent monthly." {
		t.Fatalf("got %q", got)
	}
}

func TestExtractMarkdown(t *testing.T) {
	x := New(nil)
	p := writeFile(t, "notes.md", "# Section 12\nNotice period is thirty days.")
	if got := x.Extract(context.Background(), p); got == "" {
		t.Fatal("expected text from markdown file")
	}
}

func TestExtractImageReturnsEmpty(t *testing.T) {
	x := New(nil)
	p := writeFile(t, "scan.png", "\x89PNG")
	if got := x.Extract(context.Background(), p); got != "" {
		t.Fatalf("expected empty text for image, got %q", got)
	}
	if !x.Supported(p) {
		t.Fatal("images should be reported as supported")
	}
}

func TestExtractUnknownExtension(t *testing.T) {
	x := New(nil)
	p := writeFile(t, "archive.zip", "PK")
	if got := x.Extract(context.Background(), p); got != "" {
		t.Fatalf("got %q", got)
	}
	if x.Supported(p) {
		t.Fatal("zip should not be supported")
	}
}

func TestExtractMissingFile(t *testing.T) {
	x := New(nil)
	if got := x.Extract(context.Background(), filepath.Join(t.TempDir(), "gone.txt")); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractCorruptPDF(t *testing.T) {
	x := New(nil)
	p := writeFile(t, "broken.pdf", "this is not a pdf")
	if got := x.Extract(context.Background(), p); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestRegisterOverrides(t *testing.T) {
	x := New(nil)
	x.Register(func(_ context.Context, path string) (string, error) {
		return "custom:" + filepath.Base(path), nil
	}, ".RTF")
	p := writeFile(t, "brief.rtf", "{\\rtf1}")
	if got := x.Extract(context.Background(), p); got != "custom:brief.rtf" {
		t.Fatalf("got %q", got)
	}
}

func TestPlainTextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := PlainText(ctx, writeFile(t, "a.txt", "x")); err == nil {
		t.Fatal("expected context error")
	}
}
