package types

import (
	"time"
)

// EntityEdge is a directed, named relation between two entities with a
// natural-language rendering and a bi-temporal interval.
//
// System time lives in CreatedAt and ExpiredAt; valid time lives in ValidAt
// and InvalidAt. An edge is currently asserted iff ExpiredAt is nil and
// InvalidAt is nil or in the future.
type EntityEdge struct {
	ID            string    `json:"id"`
	SourceID      string    `json:"source_entity_id"`
	TargetID      string    `json:"target_entity_id"`
	Name          string    `json:"relation_name"`
	Fact          string    `json:"fact"`
	FactEmbedding []float32 `json:"fact_embedding,omitempty"`
	GroupID       string    `json:"group_id"`
	CreatedAt     time.Time `json:"created_at"`

	// ValidAt is when the stated relation began to hold. Soft-updated edges
	// keep the original ValidAt: it is a property of the asserted relation,
	// not of the assertion event.
	ValidAt *time.Time `json:"valid_at,omitempty"`
	// InvalidAt is set when a later episode asserted the relation ceased.
	InvalidAt *time.Time `json:"invalid_at,omitempty"`
	// ExpiredAt is set when the edge was superseded through soft-update.
	ExpiredAt *time.Time `json:"expired_at,omitempty"`

	// Episodes is the ordered set of episode ids that assert or updated this
	// edge. Invariant: never empty for a persisted edge.
	Episodes []string `json:"episode_ids"`

	// OriginalFact and UpdateReason are populated on the replacement edge
	// produced by a soft-update.
	OriginalFact string `json:"original_fact,omitempty"`
	UpdateReason string `json:"update_reason,omitempty"`

	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// IsCurrent reports whether the edge is currently asserted at the given time.
func (e *EntityEdge) IsCurrent(now time.Time) bool {
	if e.ExpiredAt != nil {
		return false
	}
	if e.InvalidAt != nil && !e.InvalidAt.After(now) {
		return false
	}
	return true
}

// HasEpisode reports whether the given episode id asserts this edge.
func (e *EntityEdge) HasEpisode(episodeID string) bool {
	for _, id := range e.Episodes {
		if id == episodeID {
			return true
		}
	}
	return false
}

// AppendEpisode adds an episode id to the provenance list, keeping order and
// dropping duplicates.
func (e *EntityEdge) AppendEpisode(episodeID string) {
	if e.HasEpisode(episodeID) {
		return
	}
	e.Episodes = append(e.Episodes, episodeID)
}

// Validate checks the fields required for a persisted edge, including the
// temporal ordering invariant valid_at <= invalid_at.
func (e *EntityEdge) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	if e.SourceID == "" || e.TargetID == "" {
		return ErrEmptyID
	}
	if e.Name == "" {
		return ErrEmptyName
	}
	if e.GroupID == "" {
		return ErrEmptyGroupID
	}
	if e.ValidAt != nil && e.InvalidAt != nil && e.InvalidAt.Before(*e.ValidAt) {
		return ErrInvalidInterval
	}
	if len(e.Episodes) == 0 {
		return ErrNoEpisodes
	}
	return nil
}

// Temporal invariant errors.
var (
	ErrInvalidInterval = temporalError("invalid_at precedes valid_at")
	ErrNoEpisodes      = temporalError("edge has no supporting episodes")
)

type temporalError string

func (e temporalError) Error() string { return string(e) }

// MentionOperation tags how an episode relates to an entity it mentions.
type MentionOperation string

const (
	// MentionCreated marks the episode that caused the entity to be created.
	MentionCreated MentionOperation = "created"
	// MentionUpdated marks episodes whose processing modified the entity's
	// attributes or summary.
	MentionUpdated MentionOperation = "updated"
	// MentionReferenced marks all other mentions.
	MentionReferenced MentionOperation = "referenced"
)

// MentionEdge links an episode to an entity it references. It carries no time
// interval; it is a plain provenance edge.
type MentionEdge struct {
	ID        string           `json:"id"`
	EpisodeID string           `json:"episode_id"`
	EntityID  string           `json:"entity_id"`
	GroupID   string           `json:"group_id"`
	Operation MentionOperation `json:"operation"`
	CreatedAt time.Time        `json:"created_at"`
}

// Validate checks the fields required for a persisted mention.
func (m *MentionEdge) Validate() error {
	if m.ID == "" || m.EpisodeID == "" || m.EntityID == "" {
		return ErrEmptyID
	}
	if m.GroupID == "" {
		return ErrEmptyGroupID
	}
	return nil
}
