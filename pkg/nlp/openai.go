package nlp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// DefaultTimeout bounds a single chat completion round trip.
const DefaultTimeout = 120 * time.Second

// Config holds configuration for the OpenAI-compatible client.
type Config struct {
	Model       string   `json:"model"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	// BaseURL points at an OpenAI-compatible service when set.
	BaseURL string `json:"base_url,omitempty"`
	// Timeout is the per-call deadline; zero selects DefaultTimeout and a
	// negative value disables the deadline. Exceeding it surfaces as
	// context.DeadlineExceeded, which IsRetryable classifies transient.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// OpenAIClient implements Client against OpenAI or any OpenAI-compatible
// endpoint.
type OpenAIClient struct {
	client *openai.Client
	config Config
}

// NewOpenAIClient creates a new OpenAI client. A custom BaseURL selects an
// OpenAI-compatible service; "/v1" is appended when the URL carries no API
// path.
func NewOpenAIClient(apiKey string, config Config) (*OpenAIClient, error) {
	var client *openai.Client

	if config.BaseURL != "" {
		if err := validateBaseURL(config.BaseURL); err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
		if apiKey == "" {
			// Some compatible services do not authenticate.
			apiKey = "dummy-key"
		}
		clientConfig := openai.DefaultConfig(apiKey)
		clientConfig.BaseURL = config.BaseURL
		if !hasAPIPath(config.BaseURL) {
			clientConfig.BaseURL = config.BaseURL + "/v1"
		}
		client = openai.NewClientWithConfig(clientConfig)
	} else {
		client = openai.NewClient(apiKey)
	}

	if config.Model == "" {
		config.Model = openai.GPT4o
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	return &OpenAIClient{client: client, config: config}, nil
}

// callCtx applies the per-call deadline on top of the caller's context.
func (c *OpenAIClient) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(messages, false))
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	return c.buildResponse(resp)
}

// ChatWithStructuredOutput requests a JSON-object response.
func (c *OpenAIClient) ChatWithStructuredOutput(ctx context.Context, messages []Message, schema any) (*Response, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(messages, true))
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	return c.buildResponse(resp)
}

// Close cleans up resources. The underlying HTTP client needs no teardown.
func (c *OpenAIClient) Close() error { return nil }

func (c *OpenAIClient) buildRequest(messages []Message, jsonMode bool) openai.ChatCompletionRequest {
	oaiMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		oaiMessages[i] = openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: oaiMessages,
	}
	if c.config.Temperature != nil {
		req.Temperature = *c.config.Temperature
	}
	if c.config.MaxTokens != nil {
		req.MaxTokens = *c.config.MaxTokens
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

func (c *OpenAIClient) buildResponse(resp openai.ChatCompletionResponse) (*Response, error) {
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	choice := resp.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
	}
	if resp.Usage.TotalTokens > 0 {
		out.TokensUsed = &TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// classifyOpenAIError maps provider errors onto the module's error kinds.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return NewRateLimitError(apiErr.Message)
		case apiErr.HTTPStatusCode >= 500:
			return NewUnavailableError(apiErr.Message)
		}
		return fmt.Errorf("openai: %w", err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 429 {
			return NewRateLimitError(reqErr.Error())
		}
		if reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == 0 {
			return NewUnavailableError(reqErr.Error())
		}
		return fmt.Errorf("openai: %w", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Network-level failures arrive as plain errors.
	return NewUnavailableError(err.Error())
}

func validateBaseURL(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL must use http or https scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	return nil
}

func hasAPIPath(baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	return strings.Contains(u.Path, "/v1") || strings.Contains(u.Path, "/api")
}
