// Package domain defines core domain types, errors and validation for the
// LawGPT retrieval engine. It acts as the validation gate at every entry point.
package domain

import "time"

// SourceType tags what a lexical record was built from.
type SourceType string

const (
	SourceCase     SourceType = "case"
	SourceStatute  SourceType = "statute"
	SourceDocument SourceType = "document"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceCase, SourceStatute, SourceDocument:
		return true
	}
	return false
}

// Document is an uploaded source whose extracted text feeds ingestion.
type Document struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Text       string            `json:"text"`
	Source     string            `json:"source,omitempty"`
	Page       *int              `json:"page,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	UploadedAt time.Time         `json:"uploaded_at,omitempty"`
}

// LegalCase is a court decision known to the research index.
type LegalCase struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Court        string `json:"court,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	CaseDate     string `json:"case_date,omitempty"`
	CaseType     string `json:"case_type,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Citation     string `json:"citation,omitempty"`
	Source       string `json:"source,omitempty"`
}

// LegalStatute is a statutory provision known to the research index.
type LegalStatute struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Jurisdiction  string `json:"jurisdiction,omitempty"`
	SectionNumber string `json:"section_number,omitempty"`
	Summary       string `json:"summary,omitempty"`
	EffectiveDate string `json:"effective_date,omitempty"`
	Source        string `json:"source,omitempty"`
}
