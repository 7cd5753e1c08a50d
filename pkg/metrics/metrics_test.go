package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lawgpt/lawgpt/pkg/resilience"
)

func TestObserveProvider(t *testing.T) {
	r := New("lawgpt")
	r.ObserveProvider("ollama", time.Now(), nil)
	r.ObserveProvider("ollama", time.Now(), errors.New("boom"))
	r.ObserveProvider("ollama", time.Now(), nil)

	if got := testutil.ToFloat64(r.ProviderCalls.WithLabelValues("ollama", "ok")); got != 2 {
		t.Fatalf("ok calls = %v", got)
	}
	if got := testutil.ToFloat64(r.ProviderCalls.WithLabelValues("ollama", "error")); got != 1 {
		t.Fatalf("error calls = %v", got)
	}
}

func TestObserveIngest(t *testing.T) {
	r := New("lawgpt")
	r.ObserveIngest(3, 1, nil)
	r.ObserveIngest(0, 0, errors.New("fail"))

	if got := testutil.ToFloat64(r.IngestChunks); got != 3 {
		t.Fatalf("chunks = %v", got)
	}
	if got := testutil.ToFloat64(r.IngestSkipped); got != 1 {
		t.Fatalf("skipped = %v", got)
	}
	if got := testutil.ToFloat64(r.IngestDocs.WithLabelValues("error")); got != 1 {
		t.Fatalf("failed docs = %v", got)
	}
}

func TestObserveAnswerAndLexical(t *testing.T) {
	r := New("lawgpt")
	r.ObserveAnswer("high", false)
	r.ObserveAnswer("low", true)
	r.SetLexicalRecords(12)
	r.PersistFailed()

	if got := testutil.ToFloat64(r.Answers.WithLabelValues("low", "true")); got != 1 {
		t.Fatalf("degraded low answers = %v", got)
	}
	if got := testutil.ToFloat64(r.LexicalRecords); got != 12 {
		t.Fatalf("lexical records = %v", got)
	}
	if got := testutil.ToFloat64(r.PersistFailures); got != 1 {
		t.Fatalf("persist failures = %v", got)
	}
}

func TestBreakerObserver(t *testing.T) {
	r := New("lawgpt")
	hook := r.BreakerObserver()
	hook("gemini", resilience.StateClosed, resilience.StateOpen)
	if got := testutil.ToFloat64(r.BreakerState.WithLabelValues("gemini")); got != float64(resilience.StateOpen) {
		t.Fatalf("breaker gauge = %v", got)
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.ObserveProvider("x", time.Now(), nil)
	r.ObserveStage("chunk", time.Now())
	r.ObserveIngest(1, 0, nil)
	r.ObserveSearch("vector", 3, nil)
	r.ObserveAnswer("low", false)
	r.SetLexicalRecords(1)
	r.PersistFailed()
	r.BreakerObserver()("x", resilience.StateClosed, resilience.StateOpen)
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New("lawgpt")
	r.ObserveSearch("lexical", 2, nil)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	for _, want := range []string{
		`lawgpt_search_requests_total{outcome="ok",strategy="lexical"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
