package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/soundprediction/chronograph/pkg/nlp"
)

const defaultEmbeddingDimensions = 1536

// DefaultTimeout bounds a single embedding round trip.
const DefaultTimeout = 30 * time.Second

// OpenAIClient implements Client for OpenAI-compatible embedding endpoints.
type OpenAIClient struct {
	client *openai.Client
	config Config
}

// NewOpenAIClient creates an embedding client. The configured dimensionality
// must match the provider's model; it is reported to the driver at index
// bootstrap.
func NewOpenAIClient(config Config) (*OpenAIClient, error) {
	if config.Model == "" {
		config.Model = string(openai.SmallEmbedding3)
	}
	if config.Dimensions <= 0 {
		config.Dimensions = defaultEmbeddingDimensions
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	apiKey := config.APIKey
	if config.BaseURL != "" && apiKey == "" {
		apiKey = "dummy-key"
	}
	clientConfig := openai.DefaultConfig(apiKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Embed generates embeddings for the given texts. Exceeding the per-call
// deadline surfaces as context.DeadlineExceeded, classified transient.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}
	cleaned := make([]string, len(texts))
	for i, t := range texts {
		cleaned[i] = strings.ReplaceAll(t, "\n", " ")
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: cleaned,
		Model: openai.EmbeddingModel(c.config.Model),
	})
	if err != nil {
		return nil, classifyEmbeddingError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedder: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// EmbedSingle generates an embedding for a single text.
func (c *OpenAIClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder: no embedding returned")
	}
	return vectors[0], nil
}

// Dimensions returns the configured vector dimensionality.
func (c *OpenAIClient) Dimensions() int { return c.config.Dimensions }

// Close cleans up resources.
func (c *OpenAIClient) Close() error { return nil }

func classifyEmbeddingError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return nlp.NewRateLimitError(apiErr.Message)
		}
		if apiErr.HTTPStatusCode >= 500 {
			return nlp.NewUnavailableError(apiErr.Message)
		}
		return fmt.Errorf("embedder: %w", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nlp.NewUnavailableError(err.Error())
}
