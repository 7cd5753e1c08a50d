// Package rag turns retrieved passages into a cited answer. It assembles
// the prompt context, calls a generation provider once and labels the answer
// with a confidence level derived from retrieval scores.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lawgpt/lawgpt/engine/domain"
	"github.com/lawgpt/lawgpt/engine/search"
	"github.com/lawgpt/lawgpt/pkg/metrics"
)

// Level is a discrete confidence label.
type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

// NoContext stands in for the context block when nothing was retrieved.
const NoContext = "No context"

// NoAnswer replaces a blank reply from the generator.
const NoAnswer = "No answer."

// SnippetLen is the number of runes of passage text kept in a Source.
const SnippetLen = 240

// Generator is an external text-generation model.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// SynthesisError reports a failed generation call.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string { return "rag: synthesis: " + e.Err.Error() }

func (e *SynthesisError) Unwrap() []error { return []error{domain.ErrSynthesis, e.Err} }

// Source is a citation backing an answer.
type Source struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Snippet    string  `json:"snippet"`
	Source     string  `json:"source"`
	Offset     int     `json:"offset"`
	Page       *int    `json:"page,omitempty"`
	Score      float64 `json:"score"`
}

// Answer is the structured response of a query.
type Answer struct {
	Text       string   `json:"answer"`
	Confidence Level    `json:"confidence"`
	Sources    []Source `json:"sources"`
	// Degraded is set when generation failed and Text is a fallback.
	Degraded bool `json:"degraded,omitempty"`
}

// BuildContext joins passage texts in ranking order, separated by blank
// lines and numbered so the model can cite them.
func BuildContext(passages []search.Passage) string {
	if len(passages) == 0 {
		return NoContext
	}
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, p.Text)
	}
	return b.String()
}

// Confidence maps the mean passage score to a Level: above 0.8 is high,
// above 0.6 is medium, anything else (including no passages) is low.
func Confidence(passages []search.Passage) Level {
	if len(passages) == 0 {
		return Low
	}
	var sum float64
	for _, p := range passages {
		sum += p.Score
	}
	switch avg := sum / float64(len(passages)); {
	case avg > 0.8:
		return High
	case avg > 0.6:
		return Medium
	default:
		return Low
	}
}

// Sources converts passages into citations with truncated snippets.
func Sources(passages []search.Passage) []Source {
	out := make([]Source, len(passages))
	for i, p := range passages {
		out[i] = Source{
			ID:         p.ID,
			DocumentID: p.DocumentID,
			Title:      p.Title,
			Snippet:    snippet(p.Text),
			Source:     p.Source,
			Offset:     p.Offset,
			Page:       p.Page,
			Score:      p.Score,
		}
	}
	return out
}

func snippet(text string) string {
	if utf8.RuneCountInString(text) <= SnippetLen {
		return text
	}
	r := []rune(text)
	return string(r[:SnippetLen]) + "..."
}

const defaultSystemPrompt = `You are a legal research assistant.
Answer the question using ONLY the numbered context passages. If they do not
contain enough information, say so plainly. Cite passages as [n].
This is not legal advice.`

// SynthOptions configures a Synthesizer.
type SynthOptions struct {
	SystemPrompt string
	// Timeout bounds the generation call.
	Timeout time.Duration
	// Name labels the provider in metrics.
	Name string
}

func DefaultSynthOptions() SynthOptions {
	return SynthOptions{SystemPrompt: defaultSystemPrompt, Timeout: 60 * time.Second, Name: "generate"}
}

// Synthesizer builds the prompt and calls the Generator.
type Synthesizer struct {
	gen     Generator
	opts    SynthOptions
	metrics *metrics.Registry
	logger  *slog.Logger
}

func NewSynthesizer(gen Generator, opts SynthOptions, m *metrics.Registry, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	if opts.Name == "" {
		opts.Name = "generate"
	}
	return &Synthesizer{gen: gen, opts: opts, metrics: m, logger: logger}
}

// Prompt renders the full prompt for question over passages.
func (s *Synthesizer) Prompt(question string, passages []search.Passage) string {
	var b strings.Builder
	b.WriteString(s.opts.SystemPrompt)
	b.WriteString("\n\nContext:\n")
	b.WriteString(BuildContext(passages))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// Synthesize makes one generation call. Confidence is computed over the
// passages given, which are the ones placed in the prompt.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, passages []search.Passage) (*Answer, error) {
	prompt := s.Prompt(question, passages)
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := s.gen.Generate(ctx, prompt)
	s.metrics.ObserveProvider(s.opts.Name, start, err)
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}
	s.logger.Debug("rag generation done", "prompt_len", len(prompt), "answer_len", len(text), "took", time.Since(start))

	text = strings.TrimSpace(text)
	if text == "" {
		text = NoAnswer
	}
	return &Answer{
		Text:       text,
		Confidence: Confidence(passages),
		Sources:    Sources(passages),
	}, nil
}
