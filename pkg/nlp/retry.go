package nlp

import (
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for the backoff schedule:
// delay(k) = min(Base * 2^k, Cap), with full jitter applied.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, first call included.
	MaxAttempts int
	// Base is the initial backoff delay.
	Base time.Duration
	// Cap bounds the backoff delay.
	Cap time.Duration
}

// DefaultRetryConfig returns the provider schedule: base 2s, cap 120s, five
// attempts.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 5,
		Base:        2 * time.Second,
		Cap:         120 * time.Second,
	}
}

// Backoff computes the jittered delay before attempt k (zero-based retry
// count). Jitter is uniform over (0, delay] so synchronized workers spread
// out.
func (c *RetryConfig) Backoff(k int) time.Duration {
	delay := float64(c.Base) * math.Pow(2, float64(k))
	if delay > float64(c.Cap) {
		delay = float64(c.Cap)
	}
	return time.Duration(rand.Float64() * delay)
}
