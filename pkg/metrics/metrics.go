// Package metrics defines the Prometheus collectors exported by the LawGPT
// services and serves them on /metrics. Every recording method is safe to
// call on a nil *Registry, so engine components can run without metrics.
package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lawgpt/lawgpt/pkg/resilience"
)

// DefaultBuckets are the latency buckets (in seconds) used for provider and stage timings.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Registry owns a private prometheus.Registry and the engine's collectors.
type Registry struct {
	reg *prometheus.Registry

	IngestDocs       *prometheus.CounterVec
	IngestChunks     prometheus.Counter
	IngestSkipped    prometheus.Counter
	StageDuration    *prometheus.HistogramVec
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec
	Searches         *prometheus.CounterVec
	SearchHits       *prometheus.HistogramVec
	Answers          *prometheus.CounterVec
	LexicalRecords   prometheus.Gauge
	PersistFailures  prometheus.Counter
}

// New builds a Registry whose metric names are prefixed with namespace.
func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		reg: reg,
		IngestDocs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_documents_total",
			Help: "Documents run through the ingestion pipeline.",
		}, []string{"status"}),
		IngestChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_chunks_total",
			Help: "Chunks embedded and stored.",
		}),
		IngestSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_chunks_skipped_total",
			Help: "Chunks dropped because their embedding failed.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds",
			Help: "Per-stage pipeline duration.", Buckets: DefaultBuckets,
		}, []string{"stage"}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "provider_calls_total",
			Help: "Calls to external embedding and generation providers.",
		}, []string{"provider", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "provider_duration_seconds",
			Help: "Provider call latency.", Buckets: DefaultBuckets,
		}, []string{"provider"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 open, 2 half-open).",
		}, []string{"name"}),
		Searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "search_requests_total",
			Help: "Similarity searches by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		SearchHits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "search_hits",
			Help: "Hits returned per search.", Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
		}, []string{"strategy"}),
		Answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "answers_total",
			Help: "Synthesized answers by confidence label.",
		}, []string{"confidence", "degraded"}),
		LexicalRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "lexical_records",
			Help: "Records held by the text similarity index.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "lexical_persist_failures_total",
			Help: "Snapshot writes that failed and left memory ahead of disk.",
		}),
	}
	reg.MustRegister(
		r.IngestDocs, r.IngestChunks, r.IngestSkipped, r.StageDuration,
		r.ProviderCalls, r.ProviderDuration, r.BreakerState,
		r.Searches, r.SearchHits, r.Answers, r.LexicalRecords, r.PersistFailures,
	)
	return r
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveProvider records one provider call that started at start.
func (r *Registry) ObserveProvider(provider string, start time.Time, err error) {
	if r == nil {
		return
	}
	r.ProviderCalls.WithLabelValues(provider, outcome(err)).Inc()
	r.ProviderDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

// ObserveStage records the duration of one pipeline stage.
func (r *Registry) ObserveStage(stage string, start time.Time) {
	if r == nil {
		return
	}
	r.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// ObserveIngest records a finished document ingestion.
func (r *Registry) ObserveIngest(chunks, skipped int, err error) {
	if r == nil {
		return
	}
	r.IngestDocs.WithLabelValues(outcome(err)).Inc()
	r.IngestChunks.Add(float64(chunks))
	r.IngestSkipped.Add(float64(skipped))
}

// ObserveSearch records one similarity search.
func (r *Registry) ObserveSearch(strategy string, hits int, err error) {
	if r == nil {
		return
	}
	r.Searches.WithLabelValues(strategy, outcome(err)).Inc()
	if err == nil {
		r.SearchHits.WithLabelValues(strategy).Observe(float64(hits))
	}
}

// ObserveAnswer records a synthesized answer.
func (r *Registry) ObserveAnswer(confidence string, degraded bool) {
	if r == nil {
		return
	}
	d := "false"
	if degraded {
		d = "true"
	}
	r.Answers.WithLabelValues(confidence, d).Inc()
}

// SetLexicalRecords publishes the lexical index size.
func (r *Registry) SetLexicalRecords(n int) {
	if r == nil {
		return
	}
	r.LexicalRecords.Set(float64(n))
}

// PersistFailed counts a failed snapshot write.
func (r *Registry) PersistFailed() {
	if r == nil {
		return
	}
	r.PersistFailures.Inc()
}

// BreakerObserver returns a resilience.BreakerOpts.OnStateChange hook that
// mirrors breaker transitions into the breaker_state gauge.
func (r *Registry) BreakerObserver() func(name string, from, to resilience.State) {
	return func(name string, _, to resilience.State) {
		if r == nil {
			return
		}
		r.BreakerState.WithLabelValues(name).Set(float64(to))
	}
}

// Handler returns the /metrics handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ServeAsync starts a dedicated metrics server on addr in a goroutine.
func (r *Registry) ServeAsync(addr string, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	return srv
}
