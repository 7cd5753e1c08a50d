package rag

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lawgpt/lawgpt/engine/domain"
	"github.com/lawgpt/lawgpt/engine/search"
	"github.com/lawgpt/lawgpt/pkg/fn"
	"github.com/lawgpt/lawgpt/pkg/metrics"
)

// DegradedText is returned in place of a generated answer when the
// generation provider fails.
const DegradedText = "I could not generate an answer right now. The sources below may still be relevant; please try again shortly."

// Options configures the query pipeline.
type Options struct {
	TopK          int
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{TopK: 5, SearchTimeout: 10 * time.Second}
}

// Service runs question → retrieval → synthesis. With several searchers
// their passages are merged by score before synthesis.
type Service struct {
	searchers []search.Searcher
	synth     *Synthesizer
	opts      Options
	metrics   *metrics.Registry
	logger    *slog.Logger
}

// New creates a Service. At least one searcher is expected.
func New(synth *Synthesizer, opts Options, m *metrics.Registry, logger *slog.Logger, searchers ...search.Searcher) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	return &Service{searchers: searchers, synth: synth, opts: opts, metrics: m, logger: logger}
}

// Query answers question from the top k passages. k == 0 uses the
// configured default. Input errors are returned; provider failures produce
// a degraded low-confidence answer.
func (s *Service) Query(ctx context.Context, question string, k int) (*Answer, error) {
	if err := domain.ValidateQuestion(question); err != nil {
		return nil, err
	}
	if k == 0 {
		k = s.opts.TopK
	}
	if err := domain.ValidateTopK(k); err != nil {
		return nil, err
	}
	s.logger.Info("rag query start", "question_len", len(question), "top_k", k, "searchers", len(s.searchers))

	passages, err := s.retrieve(ctx, question, k)
	if err != nil {
		return nil, err
	}
	s.logger.Info("rag retrieval done", "passages", len(passages))

	ans, err := s.synth.Synthesize(ctx, question, passages)
	if err != nil {
		var se *SynthesisError
		if !errors.As(err, &se) {
			return nil, err
		}
		s.logger.Warn("rag: generation failed, returning degraded answer", "err", err)
		ans = &Answer{
			Text:       DegradedText,
			Confidence: Low,
			Sources:    Sources(passages),
			Degraded:   true,
		}
	}
	s.metrics.ObserveAnswer(string(ans.Confidence), ans.Degraded)
	return ans, nil
}

// retrieve runs every searcher concurrently. A searcher that fails with a
// provider error is logged and skipped; input errors abort the query.
func (s *Service) retrieve(ctx context.Context, question string, k int) ([]search.Passage, error) {
	if s.opts.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SearchTimeout)
		defer cancel()
	}

	results := fn.ParMapResult(s.searchers, 0, func(_ int, sr search.Searcher) fn.Result[[]search.Passage] {
		return fn.FromPair(sr.Search(ctx, question, k))
	})

	lists := make([][]search.Passage, 0, len(results))
	for i, r := range results {
		passages, err := r.Unwrap()
		if err == nil {
			lists = append(lists, passages)
			continue
		}
		if domain.KindOf(err) == domain.KindInput {
			return nil, err
		}
		s.logger.Warn("rag: searcher failed, continuing without it", "searcher", s.searchers[i].Name(), "err", err)
	}
	return search.Merge(k, lists...), nil
}
