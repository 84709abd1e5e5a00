// Package driver abstracts the underlying graph store. The contract is
// deliberately narrow: upserts by id, name/label candidate lookup, vector
// kNN, lexical search, bounded traversal, episode fetch, cascading delete,
// and index bootstrap. Drivers guarantee read-after-write consistency within
// a single logical request; cross-request serialization belongs to the
// episode queue.
package driver

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/soundprediction/chronograph/pkg/types"
)

// ScoredEntity is an entity with a retrieval score.
type ScoredEntity struct {
	Entity *types.Entity
	Score  float64
}

// ScoredEdge is an edge with a retrieval score.
type ScoredEdge struct {
	Edge  *types.EntityEdge
	Score float64
}

// CascadeResult reports what a cascading episode delete removed.
type CascadeResult struct {
	DeletedEdges    []string
	UpdatedEdges    []string
	DeletedEntities []string
}

// GraphStats summarizes a group's persisted state.
type GraphStats struct {
	GroupID      string `json:"group_id"`
	EpisodeCount int64  `json:"episode_count"`
	EntityCount  int64  `json:"entity_count"`
	EdgeCount    int64  `json:"edge_count"`
	MentionCount int64  `json:"mention_count"`
}

// GraphDriver is the persistence contract the rest of the module consumes.
type GraphDriver interface {
	// UpsertEpisode creates or replaces an episode node by id.
	UpsertEpisode(ctx context.Context, episode *types.Episode) error
	// GetEpisode fetches an episode by id. Returns types.ErrNotFound when
	// absent.
	GetEpisode(ctx context.Context, id string) (*types.Episode, error)
	// GetEpisodeByName fetches an episode by (group_id, name).
	GetEpisodeByName(ctx context.Context, groupID, name string) (*types.Episode, error)
	// GetEpisodes fetches episodes by id, omitting missing ones.
	GetEpisodes(ctx context.Context, ids []string) ([]*types.Episode, error)
	// RecentEpisodes returns the latest episodes by ingested_at descending,
	// optionally restricted to groups.
	RecentEpisodes(ctx context.Context, groupIDs []string, limit int) ([]*types.Episode, error)
	// DeleteEpisode removes an episode and cascades: mentions go, edges
	// whose episode list empties go, entities with no remaining incident
	// edges or mentions go.
	DeleteEpisode(ctx context.Context, id string) (*CascadeResult, error)

	// UpsertEntity creates or replaces an entity node by id.
	UpsertEntity(ctx context.Context, entity *types.Entity) error
	// GetEntity fetches an entity by id.
	GetEntity(ctx context.Context, id string) (*types.Entity, error)
	// GetEntitiesByName returns entities in the group whose normalized name
	// equals the given normalized name. Used for deduplication.
	GetEntitiesByName(ctx context.Context, groupID, normalizedName string) ([]*types.Entity, error)
	// DeleteEntity removes an entity node.
	DeleteEntity(ctx context.Context, id string) error

	// UpsertEdge creates or replaces a relation edge by id.
	UpsertEdge(ctx context.Context, edge *types.EntityEdge) error
	// GetEdge fetches an edge by id.
	GetEdge(ctx context.Context, id string) (*types.EntityEdge, error)
	// EdgesBetween returns edges from source to target with the given
	// relation name; an empty relation name matches all.
	EdgesBetween(ctx context.Context, sourceID, targetID, relationName string) ([]*types.EntityEdge, error)
	// EdgesForEntity returns all edges incident to the entity.
	EdgesForEntity(ctx context.Context, entityID string) ([]*types.EntityEdge, error)
	// DeleteEdge removes a relation edge.
	DeleteEdge(ctx context.Context, id string) error

	// UpsertMention creates or replaces a mention edge by id.
	UpsertMention(ctx context.Context, mention *types.MentionEdge) error
	// MentionsForEntity returns mentions pointing at the entity.
	MentionsForEntity(ctx context.Context, entityID string) ([]*types.MentionEdge, error)
	// MentionsForEpisode returns mentions originating at the episode.
	MentionsForEpisode(ctx context.Context, episodeID string) ([]*types.MentionEdge, error)

	// EntityVectorSearch returns the top-limit entities by cosine similarity
	// of their name embedding, scoped to groups when non-empty.
	EntityVectorSearch(ctx context.Context, vector []float32, groupIDs []string, limit int) ([]ScoredEntity, error)
	// EdgeVectorSearch returns the top-limit edges by cosine similarity of
	// their fact embedding.
	EdgeVectorSearch(ctx context.Context, vector []float32, groupIDs []string, limit int) ([]ScoredEdge, error)
	// EntityLexicalSearch scores entities by full-text relevance over name
	// and summary. The scoring formula is driver-defined but monotonic in
	// term relevance.
	EntityLexicalSearch(ctx context.Context, query string, groupIDs []string, limit int) ([]ScoredEntity, error)
	// EdgeLexicalSearch scores edges by full-text relevance over fact text.
	EdgeLexicalSearch(ctx context.Context, query string, groupIDs []string, limit int) ([]ScoredEdge, error)
	// EpisodeLexicalSearch scores episodes over body and name.
	EpisodeLexicalSearch(ctx context.Context, query string, groupIDs []string, limit int) ([]*types.Episode, error)

	// Neighborhood returns hop distances from the center entity for every
	// entity within maxHops, center excluded. An unknown center yields an
	// empty map.
	Neighborhood(ctx context.Context, centerID string, maxHops int) (map[string]int, error)

	// CreateIndices bootstraps indices and constraints. Run once at startup.
	CreateIndices(ctx context.Context) error
	// ClearGroup deletes everything persisted for the group.
	ClearGroup(ctx context.Context, groupID string) error
	// Stats summarizes a group.
	Stats(ctx context.Context, groupID string) (*GraphStats, error)
	// Close releases driver resources.
	Close(ctx context.Context) error
}

// TransientError marks a graph-store failure worth retrying on the short
// backoff schedule.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient graph store error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &TransientError{}) through wrapped errors.
func (e *TransientError) Is(target error) bool {
	_, ok := target.(*TransientError)
	return ok
}

// IsTransient reports whether a driver error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, &TransientError{}) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// NormalizeName lowercases and collapses whitespace; the shared form for the
// deduplication key and name-equality lookups.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// CosineSimilarity computes cosine similarity between two vectors, zero for
// mismatched lengths or degenerate inputs.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// IsZeroVector reports whether every component is zero. Searches fall back
// to lexical-only ordering for degenerate query embeddings.
func IsZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
