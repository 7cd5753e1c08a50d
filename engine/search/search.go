// Package search puts the vector and lexical indexes behind one Searcher
// capability so callers pick a strategy by configuration.
package search

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/lawgpt/lawgpt/engine/domain"
	"github.com/lawgpt/lawgpt/engine/lexical"
	"github.com/lawgpt/lawgpt/engine/semantic"
	"github.com/lawgpt/lawgpt/pkg/metrics"
)

// Strategy names accepted by Select.
const (
	StrategyVector  = "vector"
	StrategyLexical = "lexical"
)

// Passage is one retrieved piece of text with its similarity score.
type Passage struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Text       string  `json:"text"`
	Offset     int     `json:"offset"`
	Page       *int    `json:"page,omitempty"`
	Source     string  `json:"source"`
	Score      float64 `json:"score"`
}

// Searcher returns at most k passages for query, best first.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]Passage, error)
	Name() string
}

// Embedder is satisfied by *embedding.Service.
type Embedder interface {
	Embed(ctx context.Context, textID, text string) ([]float32, error)
}

// Vector embeds the query and runs a cosine search.
type Vector struct {
	embed   Embedder
	index   semantic.Index
	metrics *metrics.Registry
}

func NewVector(e Embedder, idx semantic.Index, m *metrics.Registry) *Vector {
	return &Vector{embed: e, index: idx, metrics: m}
}

func (v *Vector) Name() string { return StrategyVector }

func (v *Vector) Search(ctx context.Context, query string, k int) (out []Passage, err error) {
	defer func() { v.metrics.ObserveSearch(StrategyVector, len(out), err) }()
	if k <= 0 {
		return []Passage{}, nil
	}
	vec, err := v.embed.Embed(ctx, "query", query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	hits, err := v.index.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search: vector: %w", err)
	}
	out = make([]Passage, len(hits))
	for i, h := range hits {
		out[i] = Passage{
			ID:         h.ID,
			DocumentID: h.DocumentID,
			Title:      h.Metadata["title"],
			Text:       h.Text,
			Offset:     h.Offset,
			Page:       h.Page,
			Source:     cmp.Or(h.Metadata["source"], string(domain.SourceDocument)),
			Score:      h.Score,
		}
	}
	return out, nil
}

// Lexical scores the query against the word-overlap index. Types narrows
// the source types searched; empty means all.
type Lexical struct {
	index   *lexical.Index
	types   []domain.SourceType
	metrics *metrics.Registry
}

func NewLexical(idx *lexical.Index, m *metrics.Registry, types ...domain.SourceType) *Lexical {
	return &Lexical{index: idx, types: types, metrics: m}
}

func (l *Lexical) Name() string { return StrategyLexical }

func (l *Lexical) Search(ctx context.Context, query string, k int) ([]Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hits := l.index.FindSimilar(query, k, l.types...)
	out := make([]Passage, len(hits))
	for i, h := range hits {
		out[i] = Passage{
			ID:         h.ID,
			DocumentID: h.ID,
			Title:      h.Title,
			Text:       h.Body,
			Source:     citation(h.Record),
			Score:      h.Score,
		}
	}
	l.metrics.ObserveSearch(StrategyLexical, len(out), nil)
	return out, nil
}

func citation(r lexical.Record) string {
	if r.Citation == "" {
		return string(r.SourceType)
	}
	return string(r.SourceType) + ": " + r.Citation
}

// Select returns the searcher whose Name matches strategy.
func Select(strategy string, candidates ...Searcher) (Searcher, error) {
	for _, c := range candidates {
		if c != nil && strings.EqualFold(c.Name(), strategy) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("search: unknown strategy %q", strategy)
}

// Merge combines ranked lists into one, best score first. Equal scores keep
// list order then position. Duplicate ids keep their first occurrence. k <= 0
// keeps everything.
func Merge(k int, lists ...[]Passage) []Passage {
	var all []Passage
	seen := make(map[string]struct{})
	for _, l := range lists {
		for _, p := range l {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			all = append(all, p)
		}
	}
	slices.SortStableFunc(all, func(a, b Passage) int { return cmp.Compare(b.Score, a.Score) })
	if k > 0 && len(all) > k {
		all = all[:k]
	}
	return all
}
