package ollama

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"
)

const (
	// DefaultModel is the recommended embedding model
	DefaultModel = "nomic-embed-text"
	// DefaultURL is the default Ollama API endpoint
	DefaultURL = "http://localhost:11434"
)

// Client embeds text through an Ollama server
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates a client for the server at rawURL
func NewClient(rawURL, model string) (*Client, error) {
	if rawURL == "" {
		rawURL = DefaultURL
	}
	if model == "" {
		model = DefaultModel
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid ollama url %q", rawURL)
	}

	return &Client{
		client: api.NewClient(base, &http.Client{Timeout: 30 * time.Second}),
		model:  model,
	}, nil
}

// Model returns the embedding model in use
func (c *Client) Model() string {
	return c.model
}

// Available reports whether the server answers within a short timeout
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.client.Heartbeat(ctx) == nil
}

// Embed returns the embedding vector for text
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	resp, err := c.client.Embed(ctx, &api.EmbedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate embedding")
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.New("no embeddings returned")
	}

	vec := make([]float64, len(resp.Embeddings[0]))
	for i, v := range resp.Embeddings[0] {
		vec[i] = float64(v)
	}
	return vec, nil
}

// CheckModel checks that the model has been pulled
func (c *Client) CheckModel(ctx context.Context) error {
	list, err := c.client.List(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list models")
	}
	for _, m := range list.Models {
		if m.Name == c.model || m.Name == c.model+":latest" {
			return nil
		}
	}
	return errors.Errorf("model '%s' not found - run: ollama pull %s", c.model, c.model)
}
