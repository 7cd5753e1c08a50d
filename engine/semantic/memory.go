package semantic

import (
	"context"
	"fmt"
	"sync"

	"github.com/lawgpt/lawgpt/engine/domain"
)

type memEntry struct {
	rec Record
	seq int64
}

// Memory is an in-process Index using a brute-force cosine scan.
type Memory struct {
	mu      sync.RWMutex
	dim     int
	entries map[string]*memEntry
	seq     int64
}

// NewMemory creates an empty in-memory index of the given dimension.
func NewMemory(dim int) *Memory {
	return &Memory{dim: dim, entries: make(map[string]*memEntry)}
}

func (m *Memory) Dimension() int { return m.dim }

// Len returns the number of stored chunks.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Upsert replaces existing ids in place, keeping their original insertion order.
func (m *Memory) Upsert(_ context.Context, records []Record) error {
	if err := validateRecords(records, m.dim); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(records)
	return nil
}

func (m *Memory) putLocked(records []Record) {
	for _, r := range records {
		r.Embedding = append([]float32(nil), r.Embedding...)
		r.Metadata = cloneMeta(r.Metadata)
		if e, ok := m.entries[r.ID]; ok {
			e.rec = r
			continue
		}
		m.seq++
		m.entries[r.ID] = &memEntry{rec: r, seq: m.seq}
	}
}

func (m *Memory) Search(ctx context.Context, query []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return []Hit{}, nil
	}
	if err := domain.CheckDimension(query, m.dim); err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	ranked := make([]rankedHit, 0, len(m.entries))
	for _, e := range m.entries {
		score := 1 - cosineDistance(query, e.rec.Embedding)
		ranked = append(ranked, rankedHit{hit: hitOf(e.rec, score), seq: e.seq})
	}
	m.mu.RUnlock()

	return rank(ranked, topK), nil
}

func (m *Memory) Get(_ context.Context, id string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return Record{}, false, nil
	}
	r := e.rec
	r.Embedding = append([]float32(nil), r.Embedding...)
	r.Metadata = cloneMeta(r.Metadata)
	return r, true, nil
}

func (m *Memory) DeleteDocument(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.rec.DocumentID == docID {
			delete(m.entries, id)
		}
	}
	return nil
}

// ReplaceDocument drops the document's chunks that records does not
// carry and upserts the rest under one lock. Surviving ids keep their order.
func (m *Memory) ReplaceDocument(_ context.Context, docID string, records []Record) error {
	if err := validateRecords(records, m.dim); err != nil {
		return err
	}
	keep := make(map[string]bool, len(records))
	for _, r := range records {
		keep[r.ID] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.rec.DocumentID == docID && !keep[id] {
			delete(m.entries, id)
		}
	}
	m.putLocked(records)
	return nil
}

func (m *Memory) Close() error { return nil }
