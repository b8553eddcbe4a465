// Package openai implements embedder.Provider on the OpenAI embeddings API
// and compatible services.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Client is an OpenAI embedding client.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config is the configuration for the OpenAI embedder.
// APIKey: API key (required)
// Model: embedding model, defaults to text-embedding-ada-002
// BaseURL: API base URL for compatible services
// Dimensions: vector size reported by Dimensions, defaults to 1536
type Config struct {
	APIKey     string `json:"api_key" yaml:"api_key"`
	Model      string `json:"model" yaml:"model"`
	BaseURL    string `json:"base_url" yaml:"base_url"`
	Dimensions int    `json:"dimensions" yaml:"dimensions"`
}

// NewClient creates an OpenAI embedding client.
//
// Returns an error when no API key is configured.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("openai embedder: api key is required")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model, err := ResolveModel(cfg.Model)
	if err != nil {
		return nil, err
	}
	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// ResolveModel maps a model name to the SDK enum. An empty name selects
// text-embedding-ada-002; names the SDK does not know are rejected.
func ResolveModel(name string) (openai.EmbeddingModel, error) {
	if name == "" {
		return openai.AdaEmbeddingV2, nil
	}
	var model openai.EmbeddingModel
	if err := model.UnmarshalText([]byte(name)); err != nil {
		return openai.Unknown, fmt.Errorf("openai embedder: model %q: %w", name, err)
	}
	if model == openai.Unknown {
		return openai.Unknown, fmt.Errorf("openai embedder: unsupported model %q", name)
	}
	return model, nil
}

// Embed converts one text to a vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch converts texts to vectors, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors, expected %d", len(resp.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: result index %d out of range", data.Index)
		}
		v := make([]float64, len(data.Embedding))
		for j, f := range data.Embedding {
			v[j] = float64(f)
		}
		out[data.Index] = v
	}
	return out, nil
}

// Dimensions returns the vector size.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; the SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}
