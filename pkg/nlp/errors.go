package nlp

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Common LLM client errors.
var (
	// ErrRateLimit indicates the provider asked us to slow down.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrEmptyResponse indicates the LLM returned no usable content.
	ErrEmptyResponse = errors.New("the LLM returned an empty response")
)

// RateLimitError is returned when the provider signals 429-style throttling.
// Callers back off and retry on the shared schedule.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	if e.Message == "" {
		return "rate limit exceeded"
	}
	return e.Message
}

// Is allows errors.Is(err, &RateLimitError{}) through wrapped errors.
func (e *RateLimitError) Is(target error) bool {
	_, ok := target.(*RateLimitError)
	return ok
}

// NewRateLimitError creates a rate limit error with an optional message.
func NewRateLimitError(message ...string) *RateLimitError {
	err := &RateLimitError{}
	if len(message) > 0 {
		err.Message = message[0]
	}
	return err
}

// UnavailableError is returned for provider outages and network failures.
// Callers retry on the same schedule as rate limits.
type UnavailableError struct {
	Message string
}

func (e *UnavailableError) Error() string {
	if e.Message == "" {
		return "llm provider unavailable"
	}
	return e.Message
}

// Is allows errors.Is(err, &UnavailableError{}) through wrapped errors.
func (e *UnavailableError) Is(target error) bool {
	_, ok := target.(*UnavailableError)
	return ok
}

// NewUnavailableError creates an unavailable error.
func NewUnavailableError(message string) *UnavailableError {
	return &UnavailableError{Message: message}
}

// BadOutputError is returned when a structurally valid response could not be
// obtained: the content failed schema validation even after repair. It is
// never retried; the offending item is recorded and skipped.
type BadOutputError struct {
	Message string
}

func (e *BadOutputError) Error() string {
	return e.Message
}

// Is allows errors.Is(err, &BadOutputError{}) through wrapped errors.
func (e *BadOutputError) Is(target error) bool {
	_, ok := target.(*BadOutputError)
	return ok
}

// NewBadOutputError creates a bad output error.
func NewBadOutputError(message string) *BadOutputError {
	return &BadOutputError{Message: message}
}

// IsRetryable reports whether an LLM error should be retried with backoff.
// Rate limits and provider unavailability retry; bad output and cancellation
// never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Deadlines are classified transient by the caller's own timeout
		// handling; an explicit cancel never retries.
		return errors.Is(err, context.DeadlineExceeded)
	}
	if errors.Is(err, &BadOutputError{}) {
		return false
	}
	if errors.Is(err, &RateLimitError{}) || errors.Is(err, ErrRateLimit) {
		return true
	}
	if errors.Is(err, &UnavailableError{}) {
		return true
	}

	msg := strings.ToLower(err.Error())
	retryable := []string{
		"429", "too many requests", "rate limit",
		"500", "internal server error",
		"502", "bad gateway",
		"503", "service unavailable",
		"504", "gateway timeout",
		"timeout", "connection reset", "connection refused",
		"temporary failure",
	}
	for _, pattern := range retryable {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	type statusCoder interface {
		HTTPStatusCode() int
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatusCode()
		return code >= 500 || code == http.StatusTooManyRequests
	}
	return false
}
