package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"

	"github.com/lawgpt/lawgpt/engine/domain"
)

const (
	stateFileName = ".ingest-state.json"
	debounce      = 500 * time.Millisecond
)

// handler ingests one extracted document.
type handler func(ctx context.Context, path string, doc domain.Document) error

// extractor is satisfied by *extract.Extractor.
type extractor interface {
	Extract(ctx context.Context, ref string) string
	Supported(path string) bool
}

// watcher feeds files from dir to a handler. fsnotify events give low
// latency; the periodic scan catches anything the watcher missed.
type watcher struct {
	dir      string
	interval time.Duration
	extract  extractor
	handle   handler
	log      *slog.Logger

	mu        sync.Mutex
	processed map[string]bool
	pending   map[string]*time.Timer
}

func newWatcher(dir string, interval time.Duration, x extractor, h handler, log *slog.Logger) *watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &watcher{
		dir:       dir,
		interval:  interval,
		extract:   x,
		handle:    h,
		log:       log,
		processed: loadState(filepath.Join(dir, stateFileName)),
		pending:   make(map[string]*time.Timer),
	}
}

// run blocks until ctx is done.
func (w *watcher) run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("ingest: storage dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ingest: create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("ingest: watch %s: %w", w.dir, err)
	}

	w.scan(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("shutting down")
			return nil
		case <-ticker.C:
			w.scan(ctx)
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.schedule(ctx, ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "err", err)
		}
	}
}

// schedule processes path once writes to it have settled.
func (w *watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(debounce)
		return
	}
	w.pending[path] = time.AfterFunc(debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.process(ctx, path)
	})
}

// scan processes every unprocessed file in dir.
func (w *watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Error("readdir failed", "dir", w.dir, "err", err)
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if e.IsDir() {
			continue
		}
		w.process(ctx, filepath.Join(w.dir, e.Name()))
	}
}

func (w *watcher) process(ctx context.Context, path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !w.extract.Supported(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	key := fmt.Sprintf("%s:%d:%d", name, info.Size(), info.ModTime().Unix())

	w.mu.Lock()
	done := w.processed[key]
	w.mu.Unlock()
	if done {
		return
	}

	doc := documentFor(path, w.extract.Extract(ctx, path), info.ModTime())
	w.log.Info("processing file", "file", name, "doc_id", doc.ID, "chars", len(doc.Text))
	if err := w.handle(ctx, path, doc); err != nil {
		if domain.KindOf(err) != domain.KindInput {
			// retried on the next scan
			w.log.Warn("file failed, will retry", "file", name, "err", err)
			return
		}
		w.log.Warn("file rejected", "file", name, "err", err)
	}

	w.mu.Lock()
	w.processed[key] = true
	snapshot := make(map[string]bool, len(w.processed))
	for k, v := range w.processed {
		snapshot[k] = v
	}
	w.mu.Unlock()
	if err := saveState(filepath.Join(w.dir, stateFileName), snapshot); err != nil {
		w.log.Warn("state not saved", "err", err)
	}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// documentFor derives a stable document id from the file name and path so
// re-ingesting a changed file replaces its chunks.
func documentFor(path, text string, modified time.Time) domain.Document {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(stem), "-"), "-")
	if slug == "" {
		slug = "doc"
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return domain.Document{
		ID:         fmt.Sprintf("%s-%08x", slug, uint32(xxhash.Sum64String(abs))),
		Title:      stem,
		Text:       text,
		Source:     base,
		UploadedAt: modified.UTC(),
	}
}

func loadState(path string) map[string]bool {
	m := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return m
	}
	_ = json.Unmarshal(data, &m)
	return m
}

func saveState(path string, m map[string]bool) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
