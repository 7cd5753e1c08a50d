// Package extract turns stored files into plain text for ingestion.
package extract

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Func extracts text from the file at path.
type Func func(ctx context.Context, path string) (string, error)

// Extractor dispatches on file extension. Unknown extensions, images and
// failed reads all yield "".
type Extractor struct {
	handlers map[string]Func
	log      *slog.Logger
}

// imageExts are accepted but produce no text; OCR is not performed.
var imageExts = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".gif", ".bmp", ".webp"}

// New returns an Extractor that handles .txt, .md and .pdf files.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	x := &Extractor{handlers: make(map[string]Func), log: logger}
	x.Register(PlainText, ".txt", ".md", ".text")
	x.Register(PDF, ".pdf")
	return x
}

// Register binds f to the given extensions (case-insensitive, leading dot).
func (x *Extractor) Register(f Func, exts ...string) {
	for _, e := range exts {
		x.handlers[strings.ToLower(e)] = f
	}
}

// Supported reports whether path has an extension the extractor knows,
// images included.
func (x *Extractor) Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := x.handlers[ext]; ok {
		return true
	}
	return isImage(ext)
}

// Extract returns the text of the file at ref, or "" when nothing could be
// read.
func (x *Extractor) Extract(ctx context.Context, ref string) string {
	ext := strings.ToLower(filepath.Ext(ref))
	if isImage(ext) {
		x.log.Debug("extract: image without ocr", "path", ref)
		return ""
	}
	f, ok := x.handlers[ext]
	if !ok {
		x.log.Warn("extract: unsupported file type", "path", ref, "ext", ext)
		return ""
	}
	text, err := f(ctx, ref)
	if err != nil {
		x.log.Error("extract: failed", "path", ref, "err", err)
		return ""
	}
	return strings.TrimSpace(text)
}

func isImage(ext string) bool {
	for _, e := range imageExts {
		if e == ext {
			return true
		}
	}
	return false
}

// PlainText reads the file as UTF-8 text.
func PlainText(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(bytes.ToValidUTF8(b, []byte("�"))), nil
}

// PDF extracts the text layer page by page. Pages that fail to parse are
// skipped.
func PDF(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return PDFBytes(ctx, data)
}

// PDFBytes is PDF for an in-memory document.
func PDFBytes(ctx context.Context, data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}
