// Package embedding maps text to fixed-dimension vectors through an external
// provider. Service adds the guards every caller needs: empty-text rejection,
// a bounded timeout, rate limiting, a circuit breaker and dimension checks.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lawgpt/lawgpt/engine/domain"
	"github.com/lawgpt/lawgpt/pkg/metrics"
	"github.com/lawgpt/lawgpt/pkg/resilience"
)

// Provider is an external embedding model.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, text string) ([]float32, error)

func (f ProviderFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

// Failure reports a provider error for one text. It matches
// domain.ErrEmbeddingFailure and the underlying cause.
type Failure struct {
	TextID string
	Err    error
}

func (e *Failure) Error() string {
	return fmt.Sprintf("embedding: %s: %v", e.TextID, e.Err)
}

func (e *Failure) Unwrap() []error { return []error{domain.ErrEmbeddingFailure, e.Err} }

var errEmptyVector = errors.New("provider returned an empty vector")

// Options configures a Service.
type Options struct {
	// Name labels the provider in metrics and breaker callbacks.
	Name string
	// Dimension is the vector length every index expects. Zero skips the check.
	Dimension int
	// Timeout bounds each provider call.
	Timeout time.Duration
	Breaker resilience.BreakerOpts
	Limiter resilience.LimiterOpts
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Name:      "embed",
		Dimension: 768,
		Timeout:   30 * time.Second,
		Breaker:   resilience.DefaultBreakerOpts,
	}
}

// Service embeds texts through a Provider.
type Service struct {
	provider Provider
	opts     Options
	breaker  *resilience.Breaker
	limiter  *resilience.Limiter
	metrics  *metrics.Registry
	logger   *slog.Logger
}

// New creates a Service. m may be nil.
func New(p Provider, opts Options, m *metrics.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = "embed"
	}
	if opts.Breaker.Name == "" {
		opts.Breaker.Name = opts.Name
	}
	if opts.Breaker.OnStateChange == nil && m != nil {
		opts.Breaker.OnStateChange = m.BreakerObserver()
	}
	return &Service{
		provider: p,
		opts:     opts,
		breaker:  resilience.NewBreaker(opts.Breaker),
		limiter:  resilience.NewLimiter(opts.Limiter),
		metrics:  m,
		logger:   logger,
	}
}

// Dimension returns the configured vector dimension.
func (s *Service) Dimension() int { return s.opts.Dimension }

// Embed maps text to a vector. textID identifies the text in errors and logs.
func (s *Service) Embed(ctx context.Context, textID, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewValidationError("text", textID, domain.ErrEmptyText)
	}
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &Failure{TextID: textID, Err: err}
	}

	start := time.Now()
	var vec []float32
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		v, err := s.provider.Embed(ctx, text)
		if err == nil && len(v) == 0 {
			err = errEmptyVector
		}
		vec = v
		return err
	})
	s.metrics.ObserveProvider(s.opts.Name, start, err)
	if err != nil {
		s.logger.Warn("embed failed", "text_id", textID, "err", err)
		return nil, &Failure{TextID: textID, Err: err}
	}

	if s.opts.Dimension > 0 {
		if err := domain.CheckDimension(vec, s.opts.Dimension); err != nil {
			return nil, fmt.Errorf("embedding: %s: %w", textID, err)
		}
	}
	return vec, nil
}

// CheckDimension embeds a probe string and fails when the provider's
// dimension differs from the configured one. Call it once at startup.
func (s *Service) CheckDimension(ctx context.Context) error {
	if _, err := s.Embed(ctx, "dimension-probe", "dimension probe"); err != nil {
		return fmt.Errorf("embedding: startup check: %w", err)
	}
	return nil
}
