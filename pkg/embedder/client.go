// Package embedder produces fixed-dimension vectors for strings via an
// external embedding provider.
package embedder

import (
	"context"
	"time"

	"github.com/soundprediction/chronograph/pkg/nlp"
)

// Client is the interface to an embedding provider.
type Client interface {
	// Embed generates embeddings for the given texts, one vector per input.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle generates an embedding for a single text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the dimensionality of produced vectors.
	Dimensions() int

	// Close cleans up any resources.
	Close() error
}

// Config holds configuration common to embedding providers.
type Config struct {
	Model      string `json:"model"`
	APIKey     string `json:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	Dimensions int    `json:"dimensions"`
	// Timeout is the per-call deadline; zero selects DefaultTimeout and a
	// negative value disables the deadline.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// GatedClient routes embedding calls through the shared provider gate so LLM
// and embedding traffic respect one bound.
type GatedClient struct {
	client Client
	gate   *nlp.Gate
}

// NewGatedClient wraps a client with a shared gate.
func NewGatedClient(client Client, gate *nlp.Gate) *GatedClient {
	return &GatedClient{client: client, gate: gate}
}

// Embed implements Client.
func (g *GatedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := g.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.client.Embed(ctx, texts)
		return err
	})
	return out, err
}

// EmbedSingle implements Client.
func (g *GatedClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := g.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.client.EmbedSingle(ctx, text)
		return err
	})
	return out, err
}

// Dimensions implements Client.
func (g *GatedClient) Dimensions() int { return g.client.Dimensions() }

// Close implements Client.
func (g *GatedClient) Close() error { return g.client.Close() }
