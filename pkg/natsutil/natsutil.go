// Package natsutil provides typed NATS publish/consume helpers with
// OpenTelemetry trace propagation, retry headers and a dead letter subject.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// RetryHeader carries how many times a message has already failed.
const RetryHeader = "X-Retry-Count"

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish serializes v as JSON and publishes it to subject. Trace context
// from ctx is injected into the message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("natsutil: marshal: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return nc.PublishMsg(msg)
}

// DeadLetter is published to the DLQ subject once a message exhausts its retries.
type DeadLetter struct {
	Subject string          `json:"subject"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error"`
	Retries int             `json:"retries"`
}

// ConsumeOpts configures Consume.
type ConsumeOpts struct {
	// MaxRetries is the number of failed attempts before dead-lettering.
	MaxRetries int
	// DLQ is the dead letter subject. Empty drops exhausted messages.
	DLQ    string
	Logger *slog.Logger
}

// Consume subscribes handler to subject. Messages that fail to decode are
// dropped. A handler error re-publishes the message with an incremented
// RetryHeader until MaxRetries is reached, then sends a DeadLetter to DLQ.
func Consume[T any](nc *nats.Conn, subject string, opts ConsumeOpts, handler func(context.Context, T) error) (*nats.Subscription, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}

	return nc.Subscribe(subject, func(msg *nats.Msg) {
		defer func() {
			if msg.Reply != "" {
				_ = msg.Ack()
			}
		}()

		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			log.Error("natsutil: unmarshal failed, dropping", "subject", subject, "err", err)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))

		err := handler(ctx, v)
		if err == nil {
			return
		}

		retries := Retries(msg) + 1
		log.Error("natsutil: handler failed", "subject", subject, "retry", retries, "err", err)

		if retries >= opts.MaxRetries {
			if opts.DLQ == "" {
				return
			}
			dl := DeadLetter{Subject: subject, Payload: msg.Data, Error: err.Error(), Retries: retries}
			if perr := Publish(ctx, nc, opts.DLQ, dl); perr != nil {
				log.Error("natsutil: DLQ publish failed", "subject", opts.DLQ, "err", perr)
			}
			return
		}

		retry := nats.NewMsg(subject)
		retry.Data = msg.Data
		retry.Header.Set(RetryHeader, strconv.Itoa(retries))
		otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(retry))
		if perr := nc.PublishMsg(retry); perr != nil {
			log.Error("natsutil: retry publish failed", "subject", subject, "err", perr)
		}
	})
}

// Retries reads RetryHeader from msg. A missing or malformed header is 0.
func Retries(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(RetryHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
