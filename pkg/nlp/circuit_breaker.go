package nlp

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig holds configuration for the LLM circuit breaker.
type BreakerConfig struct {
	Enabled          bool
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	ReadyToTripRatio float64
}

// DefaultBreakerConfig trips after 60% failures across at least three
// requests, holding open for 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:          true,
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		ReadyToTripRatio: 0.6,
	}
}

// CircuitBreakerClient wraps a Client with gobreaker so a flapping provider
// fails fast instead of queueing doomed calls behind the semaphore.
type CircuitBreakerClient struct {
	client Client
	cb     *gobreaker.CircuitBreaker
}

// NewCircuitBreakerClient creates a circuit-breaking wrapper. A disabled
// config passes calls straight through.
func NewCircuitBreakerClient(client Client, cfg BreakerConfig, logger *slog.Logger) *CircuitBreakerClient {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return &CircuitBreakerClient{client: client}
	}
	st := gobreaker.Settings{
		Name:        "llm",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= cfg.ReadyToTripRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("llm circuit breaker state change",
				"name", name, "from", from.String(), "to", to.String())
		},
	}
	return &CircuitBreakerClient{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(st),
	}
}

// Chat implements Client.
func (c *CircuitBreakerClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	if c.cb == nil {
		return c.client.Chat(ctx, messages)
	}
	resp, err := c.cb.Execute(func() (interface{}, error) {
		return c.client.Chat(ctx, messages)
	})
	if err != nil {
		return nil, wrapBreakerError(err)
	}
	return resp.(*Response), nil
}

// ChatWithStructuredOutput implements Client.
func (c *CircuitBreakerClient) ChatWithStructuredOutput(ctx context.Context, messages []Message, schema any) (*Response, error) {
	if c.cb == nil {
		return c.client.ChatWithStructuredOutput(ctx, messages, schema)
	}
	resp, err := c.cb.Execute(func() (interface{}, error) {
		return c.client.ChatWithStructuredOutput(ctx, messages, schema)
	})
	if err != nil {
		return nil, wrapBreakerError(err)
	}
	return resp.(*Response), nil
}

// Close implements Client.
func (c *CircuitBreakerClient) Close() error { return c.client.Close() }

// wrapBreakerError classifies an open breaker as provider unavailability so
// the retry schedule applies.
func wrapBreakerError(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return NewUnavailableError("llm circuit breaker open")
	}
	return err
}
