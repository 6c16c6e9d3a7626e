// Package gemini wraps the Google Gen AI SDK as the upstream generator used
// by the relay.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is used when Options.Model is empty.
const DefaultModel = "gemini-1.5-flash"

var ErrMissingAPIKey = errors.New("gemini api key is required")

// Options configures a Client.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Client streams generations from one Gemini model. It is built once at
// startup and shared by all requests; every call opens its own stream.
type Client struct {
	genai *genai.Client
	model string
}

// New creates a Client for the Gemini Developer API.
func New(ctx context.Context, opts Options) (*Client, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	cfg := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{genai: gc, model: model}, nil
}

// Model returns the model name requests are sent to.
func (c *Client) Model() string { return c.model }

// GenerateStream sends prompt as a single user turn and yields the text of
// each streamed response chunk. Chunks without text are skipped.
func (c *Client) GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for resp, err := range c.genai.Models.GenerateContentStream(ctx, c.model, genai.Text(prompt), nil) {
			if err != nil {
				yield("", fmt.Errorf("gemini stream: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}
