package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go"

	"github.com/lawgpt/lawgpt/engine/app"
	"github.com/lawgpt/lawgpt/engine/domain"
	"github.com/lawgpt/lawgpt/engine/ingest"
	"github.com/lawgpt/lawgpt/engine/lexical"
)

type server struct {
	app     *app.App
	nc      *nats.Conn
	extract ingest.Extractor
	logger  *slog.Logger
}

func newServer(a *app.App, nc *nats.Conn, x ingest.Extractor, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{app: a, nc: nc, extract: x, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusOf maps an error kind to an HTTP status.
func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInput:
		if errors.Is(err, domain.ErrNotFound) {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case domain.KindProvider:
		return http.StatusBadGateway
	case domain.KindPersistence:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: domain.KindOf(err).String()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.NewValidationError("body", "", errors.Join(domain.ErrInvalidQuery, err))
	}
	return nil
}

// --- Handlers ---

type healthResponse struct {
	Status   string                    `json:"status"`
	Vector   string                    `json:"vector_backend"`
	Strategy string                    `json:"strategy"`
	Records  map[domain.SourceType]int `json:"lexical_records"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Vector:   s.app.Config.Vector.Backend,
		Strategy: s.app.Config.Search.Strategy,
		Records:  s.app.Lexical.Stats(),
	})
}

// QueryRequest is the JSON body for POST /api/query.
type QueryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ans, err := s.app.RAG.Query(r.Context(), req.Question, req.TopK)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// IngestRequest is the JSON body for POST /api/ingest. Path is read
// through the extractor when Text is empty.
type IngestRequest = ingest.Job

type queuedResponse struct {
	Status     string `json:"status"`
	DocumentID string `json:"document_id"`
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var job IngestRequest
	if err := decode(r, &job); err != nil {
		s.fail(w, r, err)
		return
	}
	if s.nc != nil {
		if err := ingest.Enqueue(r.Context(), s.nc, job); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, queuedResponse{Status: "queued", DocumentID: job.ID})
		return
	}

	res, err := s.app.Ingest(r.Context(), job.Resolve(r.Context(), s.extract))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// RecordsRequest is the JSON body for POST /api/records and
// POST /api/records/rebuild.
type RecordsRequest struct {
	Cases     []domain.LegalCase    `json:"cases"`
	Statutes  []domain.LegalStatute `json:"statutes"`
	Documents []domain.Document     `json:"documents"`
}

type recordsResponse struct {
	Added int `json:"added"`
	Total int `json:"total"`
}

func (s *server) handleAddRecords(w http.ResponseWriter, r *http.Request) {
	var req RecordsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := r.Context()
	added := 0
	for _, add := range []func() (int, error){
		func() (int, error) { return s.app.Catalog.AddCases(ctx, req.Cases) },
		func() (int, error) { return s.app.Catalog.AddStatutes(ctx, req.Statutes) },
		func() (int, error) { return s.app.Catalog.AddDocuments(ctx, req.Documents) },
	} {
		n, err := add()
		if err != nil {
			if lexical.IsPersistError(err) {
				// records are searchable but not yet on disk
				s.logger.Warn("records added ahead of snapshot", "err", err)
			}
			s.fail(w, r, err)
			return
		}
		added += n
	}
	writeJSON(w, http.StatusOK, recordsResponse{Added: added, Total: s.app.Lexical.Len()})
}

func (s *server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req RecordsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.app.Catalog.Rebuild(r.Context(), req.Cases, req.Statutes, req.Documents)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordsResponse{Added: n, Total: s.app.Lexical.Len()})
}

// SimilarRequest is the JSON body for POST /api/records/similar.
type SimilarRequest struct {
	Text  string              `json:"text"`
	K     int                 `json:"k,omitempty"`
	Types []domain.SourceType `json:"types,omitempty"`
}

type similarHit struct {
	ID         string            `json:"id"`
	SourceType domain.SourceType `json:"source_type"`
	Title      string            `json:"title"`
	Citation   string            `json:"citation,omitempty"`
	Keywords   []string          `json:"keywords"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Score      float64           `json:"score"`
}

func (s *server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	var req SimilarRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Text == "" {
		s.fail(w, r, domain.NewValidationError("text", "", domain.ErrEmptyText))
		return
	}
	if req.K == 0 {
		req.K = s.app.Config.Search.TopK
	}
	for _, t := range req.Types {
		if !t.Valid() {
			s.fail(w, r, domain.NewValidationError("types", string(t), domain.ErrInvalidSourceType))
			return
		}
	}

	hits := s.app.Lexical.FindSimilar(req.Text, req.K, req.Types...)
	out := make([]similarHit, len(hits))
	for i, h := range hits {
		out[i] = similarHit{
			ID:         h.ID,
			SourceType: h.SourceType,
			Title:      h.Title,
			Citation:   h.Citation,
			Keywords:   h.Keywords,
			Metadata:   h.Metadata,
			Score:      h.Score,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}
