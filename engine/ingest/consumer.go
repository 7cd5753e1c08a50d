package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/lawgpt/lawgpt/engine/domain"
	"github.com/lawgpt/lawgpt/pkg/natsutil"
)

const (
	// Subject is the NATS subject for ingestion jobs.
	Subject = "lawgpt.ingest"
	// DLQSubject receives jobs that failed MaxRetries times.
	DLQSubject = "lawgpt.ingest.dlq"
	// MaxRetries before a job is dead-lettered.
	MaxRetries = 3
)

// Extractor turns a stored file reference into plain text. It returns ""
// when nothing can be extracted.
type Extractor interface {
	Extract(ctx context.Context, ref string) string
}

// Job is the message body on Subject. When Text is empty and Path is set
// the consumer extracts the text first.
type Job struct {
	domain.Document
	Path string `json:"path,omitempty"`
}

// Resolve fills the document text from Path through x.
func (j Job) Resolve(ctx context.Context, x Extractor) domain.Document {
	doc := j.Document
	if doc.Text == "" && j.Path != "" && x != nil {
		doc.Text = x.Extract(ctx, j.Path)
	}
	return doc
}

// StartConsumer runs ingestion jobs from NATS through the pipeline. Input
// errors are logged and dropped; other failures are retried and finally
// dead-lettered.
func StartConsumer(nc *nats.Conn, deps Deps, x Extractor) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return natsutil.Consume(nc, Subject, natsutil.ConsumeOpts{
		MaxRetries: MaxRetries,
		DLQ:        DLQSubject,
		Logger:     log,
	}, func(ctx context.Context, job Job) error {
		doc := job.Resolve(ctx, x)
		res, err := pipeline(ctx, doc).Unwrap()
		if err != nil {
			if IsInputError(err) {
				log.Warn("ingest: rejecting job", "doc_id", doc.ID, "path", job.Path, "err", err)
				return nil
			}
			return fmt.Errorf("ingest: %s: %w", doc.ID, err)
		}
		log.Info("ingest: success", "doc_id", res.DocumentID, "chunks", res.Chunks)
		return nil
	})
}

// Enqueue publishes a job for StartConsumer.
func Enqueue(ctx context.Context, nc *nats.Conn, job Job) error {
	return natsutil.Publish(ctx, nc, Subject, job)
}
