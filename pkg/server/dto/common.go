// Package dto defines the HTTP request and response shapes and their
// validation rules. Limits exist to keep abusive payloads out of the queue.
package dto

import "errors"

// Validation errors surfaced as 400 responses.
var (
	ErrEmptyGroupID      = errors.New("group_id cannot be empty")
	ErrEmptyName         = errors.New("name cannot be empty")
	ErrEmptyBody         = errors.New("body cannot be empty")
	ErrEmptyQuery        = errors.New("query cannot be empty")
	ErrEmptyMessages     = errors.New("messages cannot be empty")
	ErrEmptyFact         = errors.New("fact cannot be empty")
	ErrGroupIDTooLong    = errors.New("group_id exceeds maximum length (256)")
	ErrNameTooLong       = errors.New("name exceeds maximum length (1024)")
	ErrBodyTooLong       = errors.New("body exceeds maximum length (1MB)")
	ErrTooManyMessages   = errors.New("messages count exceeds maximum (1000)")
	ErrMaxResultsRange   = errors.New("max_results must be between 0 and 100")
	ErrUnknownSearchKind = errors.New("kind must be edges, nodes, or episodes")
)

// Field limits.
const (
	MaxGroupIDLength = 256
	MaxNameLength    = 1024
	MaxBodyLength    = 1024 * 1024
	MaxMessagesCount = 1000
	MaxResultsCap    = 100
	DefaultResults   = 10
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// AcceptedResponse acknowledges an asynchronous ingestion.
type AcceptedResponse struct {
	EpisodeID string `json:"episode_id"`
	GroupID   string `json:"group_id"`
	Status    string `json:"status"`
}
