// Package gemini is a minimal REST client for the Gemini embedContent and
// generateContent endpoints.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultBaseURL is the public Generative Language API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// Config configures a Client.
type Config struct {
	BaseURL       string
	APIKey        string
	EmbedModel    string
	GenerateModel string
	Timeout       time.Duration
	RetryCount    int
	RetryWait     time.Duration
}

// Client wraps a resty client bound to the API key.
type Client struct {
	http *resty.Client
	cfg  Config
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", cfg.APIKey).
		SetRetryCount(cfg.RetryCount)
	if cfg.RetryWait > 0 {
		c.SetRetryWaitTime(cfg.RetryWait)
	}
	return &Client{http: c, cfg: cfg}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
	Role  string `json:"role,omitempty"`
}

type embedRequest struct {
	Content content `json:"content"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, model, method string, body, out any) error {
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		SetError(&apiErr).
		Post(fmt.Sprintf("/v1beta/models/%s:%s", model, method))
	if err != nil {
		return err
	}
	if resp.IsError() {
		if apiErr.Error.Message != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode(), apiErr.Error.Message)
		}
		return fmt.Errorf("status %d", resp.StatusCode())
	}
	return nil
}

// Embed returns the embedding of text. It satisfies embedding.Provider.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResponse
	req := embedRequest{Content: content{Parts: []part{{Text: text}}}}
	if err := c.call(ctx, c.cfg.EmbedModel, "embedContent", req, &out); err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	return out.Embedding.Values, nil
}

var errNoCandidates = errors.New("no candidates in response")

// Generate returns the first candidate's text. It satisfies rag.Generator.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var out generateResponse
	req := generateRequest{Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}}}
	if err := c.call(ctx, c.cfg.GenerateModel, "generateContent", req, &out); err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(out.Candidates) == 0 {
		return "", fmt.Errorf("gemini generate: %w", errNoCandidates)
	}
	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}
