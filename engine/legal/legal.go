// Package legal maps cases, statutes and uploaded documents onto lexical
// index records and keeps the index free of duplicates.
package legal

import (
	"context"
	"log/slog"
	"strings"

	"github.com/lawgpt/lawgpt/engine/domain"
	"github.com/lawgpt/lawgpt/engine/lexical"
	"github.com/lawgpt/lawgpt/pkg/fn"
)

// RecordID namespaces an external id by source type.
func RecordID(t domain.SourceType, id string) string {
	return string(t) + ":" + id
}

// CaseRecord matches a case on its title, summary and citation.
func CaseRecord(c domain.LegalCase) lexical.Record {
	return lexical.Record{
		ID:         RecordID(domain.SourceCase, c.ID),
		SourceType: domain.SourceCase,
		Title:      c.Title,
		Summary:    c.Summary,
		Citation:   c.Citation,
		Metadata: compact(map[string]string{
			"external_id":  c.ID,
			"court":        c.Court,
			"jurisdiction": c.Jurisdiction,
			"case_date":    c.CaseDate,
			"case_type":    c.CaseType,
			"source":       c.Source,
		}),
	}
}

// StatuteRecord uses the section number as the statute's citation.
func StatuteRecord(s domain.LegalStatute) lexical.Record {
	return lexical.Record{
		ID:         RecordID(domain.SourceStatute, s.ID),
		SourceType: domain.SourceStatute,
		Title:      s.Title,
		Summary:    s.Summary,
		Citation:   s.SectionNumber,
		Metadata: compact(map[string]string{
			"external_id":    s.ID,
			"jurisdiction":   s.Jurisdiction,
			"effective_date": s.EffectiveDate,
			"source":         s.Source,
		}),
	}
}

// DocumentRecord matches an uploaded document on its title and full text.
func DocumentRecord(d domain.Document) lexical.Record {
	meta := compact(map[string]string{"external_id": d.ID, "source": d.Source})
	for k, v := range d.Metadata {
		meta[k] = v
	}
	return lexical.Record{
		ID:         RecordID(domain.SourceDocument, d.ID),
		SourceType: domain.SourceDocument,
		Title:      d.Title,
		Body:       strings.TrimSpace(d.Title + " " + d.Text),
		Metadata:   meta,
		AddedAt:    d.UploadedAt,
	}
}

func compact(m map[string]string) map[string]string {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}

// Catalog adds legal records to a lexical index, skipping ids that are
// already indexed or repeated within a batch.
type Catalog struct {
	index  *lexical.Index
	logger *slog.Logger
}

func NewCatalog(idx *lexical.Index, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{index: idx, logger: logger}
}

// AddCases indexes cases and returns how many were new.
func (c *Catalog) AddCases(ctx context.Context, cases []domain.LegalCase) (int, error) {
	return c.add(ctx, fn.Map(cases, CaseRecord))
}

// AddStatutes indexes statutes and returns how many were new.
func (c *Catalog) AddStatutes(ctx context.Context, statutes []domain.LegalStatute) (int, error) {
	return c.add(ctx, fn.Map(statutes, StatuteRecord))
}

// AddDocuments indexes uploaded documents and returns how many were new.
func (c *Catalog) AddDocuments(ctx context.Context, docs []domain.Document) (int, error) {
	return c.add(ctx, fn.Map(docs, DocumentRecord))
}

func (c *Catalog) add(ctx context.Context, records []lexical.Record) (int, error) {
	n, err := c.index.AddNew(ctx, records...)
	if n > 0 {
		c.logger.Info("legal records indexed", "offered", len(records), "added", n)
	}
	return n, err
}

// SimilarCases returns cases resembling query.
func (c *Catalog) SimilarCases(query string, k int) []lexical.Hit {
	return c.index.FindSimilar(query, k, domain.SourceCase)
}

// SimilarStatutes returns statutes resembling query.
func (c *Catalog) SimilarStatutes(query string, k int) []lexical.Hit {
	return c.index.FindSimilar(query, k, domain.SourceStatute)
}

// Similar searches every source type.
func (c *Catalog) Similar(query string, k int) []lexical.Hit {
	return c.index.FindSimilar(query, k)
}

// Rebuild replaces the whole index with the given records, de-duplicated
// by id.
func (c *Catalog) Rebuild(ctx context.Context, cases []domain.LegalCase, statutes []domain.LegalStatute, docs []domain.Document) (int, error) {
	records := append(fn.Map(cases, CaseRecord), fn.Map(statutes, StatuteRecord)...)
	records = fn.UniqueBy(append(records, fn.Map(docs, DocumentRecord)...), func(r lexical.Record) string { return r.ID })
	if err := c.index.Rebuild(ctx, records); err != nil {
		return 0, err
	}
	c.logger.Info("legal index rebuilt", "records", len(records))
	return len(records), nil
}
