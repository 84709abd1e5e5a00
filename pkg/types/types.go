package types

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors shared across the module.
var (
	ErrEmptyName    = errors.New("name cannot be empty")
	ErrEmptyBody    = errors.New("body cannot be empty")
	ErrEmptyGroupID = errors.New("group_id cannot be empty")
	ErrEmptyID      = errors.New("id cannot be empty")
	ErrInvalidKind  = errors.New("invalid episode kind")
	ErrInvalidLimit = errors.New("limit must be non-negative")
	ErrNotFound     = errors.New("not found")
)

// EpisodeKind classifies the body of an ingested episode.
type EpisodeKind string

const (
	// EpisodeText is plain natural-language content.
	EpisodeText EpisodeKind = "text"
	// EpisodeStructured is a structured record (JSON or similar).
	EpisodeStructured EpisodeKind = "structured"
	// EpisodeConversation is conversational, role-tagged content.
	EpisodeConversation EpisodeKind = "conversation"
)

// ParseEpisodeKind maps a wire string onto an EpisodeKind, defaulting to text
// for empty input and rejecting unknown values.
func ParseEpisodeKind(s string) (EpisodeKind, error) {
	switch EpisodeKind(s) {
	case "":
		return EpisodeText, nil
	case EpisodeText, EpisodeStructured, EpisodeConversation:
		return EpisodeKind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Episode is a unit of ingested information and the sole source of truth for
// all derived graph content. Episodes are immutable after creation; the only
// mutation is the cascading delete.
type Episode struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Body              string      `json:"body"`
	Kind              EpisodeKind `json:"kind"`
	SourceDescription string      `json:"source_description,omitempty"`
	GroupID           string      `json:"group_id"`
	IngestedAt        time.Time   `json:"ingested_at"`
	ReferenceTime     time.Time   `json:"reference_time"`

	// ProcessingError is set when extraction ultimately failed after retries.
	// The episode stays persisted and is not silently reprocessed.
	ProcessingError string `json:"processing_error,omitempty"`
}

// Validate checks the fields required for any episode.
func (e *Episode) Validate() error {
	if e.Name == "" {
		return ErrEmptyName
	}
	if e.Body == "" {
		return ErrEmptyBody
	}
	if e.GroupID == "" {
		return ErrEmptyGroupID
	}
	if _, err := ParseEpisodeKind(string(e.Kind)); err != nil {
		return err
	}
	return nil
}

// ValidateForCreate additionally requires a stable id.
func (e *Episode) ValidateForCreate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	return e.Validate()
}

// Entity is a deduplicated noun-like concept extracted from one or more
// episodes. Within a group, (Name, primary label) is the deduplication key.
type Entity struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Summary    string                 `json:"summary,omitempty"`
	Labels     []string               `json:"labels"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Embedding  []float32              `json:"embedding,omitempty"`
	GroupID    string                 `json:"group_id"`
	CreatedAt  time.Time              `json:"created_at"`
}

// PrimaryLabel returns the first label, or "Entity" when untagged.
func (n *Entity) PrimaryLabel() string {
	if len(n.Labels) == 0 {
		return "Entity"
	}
	return n.Labels[0]
}

// HasLabel reports whether the entity carries the given ontology label.
func (n *Entity) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Validate checks the fields required for any entity.
func (n *Entity) Validate() error {
	if n.Name == "" {
		return ErrEmptyName
	}
	if n.GroupID == "" {
		return ErrEmptyGroupID
	}
	return nil
}

// ValidateForCreate additionally requires a stable id.
func (n *Entity) ValidateForCreate() error {
	if n.ID == "" {
		return ErrEmptyID
	}
	return n.Validate()
}
