package resolver

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/types"
)

// EdgeOutcome classifies how a fact candidate was reconciled.
type EdgeOutcome string

const (
	// EdgeCreated means no existing edge matched and a new one was created.
	EdgeCreated EdgeOutcome = "created"
	// EdgeDuplicate means an existing edge already asserts the fact; the
	// episode was appended to its provenance.
	EdgeDuplicate EdgeOutcome = "duplicate"
	// EdgeContradiction means the candidate invalidated an existing edge and
	// replaced it.
	EdgeContradiction EdgeOutcome = "contradiction"
)

// EdgeCandidate is one fact between already-resolved entities.
type EdgeCandidate struct {
	SourceID      string
	TargetID      string
	RelationName  string
	Fact          string
	FactEmbedding []float32
	ValidAt       *time.Time
	InvalidAt     *time.Time
	// Negates marks a fact asserting that the relation has ceased.
	Negates bool
	// EpisodeID is the episode asserting this fact.
	EpisodeID string
	// ReferenceTime is the asserting episode's reference time, the fallback
	// invalidation instant when the candidate carries no valid_at.
	ReferenceTime time.Time
	GroupID       string
}

// EdgeResolution reports the reconciliation result for one candidate.
type EdgeResolution struct {
	Outcome EdgeOutcome
	// Edge is the edge now asserting the fact.
	Edge *types.EntityEdge
	// Invalidated is the pre-existing edge whose invalid_at was set, present
	// only for contradictions.
	Invalidated *types.EntityEdge
}

// EdgeResolver reconciles fact candidates with existing edges.
type EdgeResolver struct {
	driver driver.GraphDriver
	logger *slog.Logger
}

// NewEdgeResolver creates an edge resolver.
func NewEdgeResolver(d driver.GraphDriver, logger *slog.Logger) *EdgeResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &EdgeResolver{driver: d, logger: logger}
}

// Resolve reconciles one candidate. Contradiction beats duplicate beats
// create-new: a negating fact, or one whose valid_at is strictly later than a
// current sibling's, invalidates that sibling and creates a replacement; an
// otherwise identical assertion only extends the sibling's provenance.
// Persistence happens before returning.
func (r *EdgeResolver) Resolve(ctx context.Context, cand EdgeCandidate, now time.Time) (*EdgeResolution, error) {
	existing, err := r.driver.EdgesBetween(ctx, cand.SourceID, cand.TargetID, cand.RelationName)
	if err != nil {
		return nil, err
	}

	var current *types.EntityEdge
	for _, e := range existing {
		if e.IsCurrent(now) {
			current = e
			break
		}
	}

	if current != nil {
		if r.contradicts(cand, current) {
			return r.invalidateAndCreate(ctx, cand, current, now)
		}
		current.AppendEpisode(cand.EpisodeID)
		if err := r.driver.UpsertEdge(ctx, current); err != nil {
			return nil, err
		}
		return &EdgeResolution{Outcome: EdgeDuplicate, Edge: current}, nil
	}

	edge := r.newEdge(cand, now)
	if err := r.driver.UpsertEdge(ctx, edge); err != nil {
		return nil, err
	}
	return &EdgeResolution{Outcome: EdgeCreated, Edge: edge}, nil
}

func (r *EdgeResolver) contradicts(cand EdgeCandidate, current *types.EntityEdge) bool {
	if cand.Negates {
		return true
	}
	return cand.ValidAt != nil && current.ValidAt != nil && cand.ValidAt.After(*current.ValidAt)
}

func (r *EdgeResolver) invalidateAndCreate(ctx context.Context, cand EdgeCandidate, current *types.EntityEdge, now time.Time) (*EdgeResolution, error) {
	invalidAt := cand.ValidAt
	if invalidAt == nil {
		ref := cand.ReferenceTime.UTC()
		invalidAt = &ref
	}
	current.InvalidAt = invalidAt
	current.AppendEpisode(cand.EpisodeID)
	if err := r.driver.UpsertEdge(ctx, current); err != nil {
		return nil, err
	}

	r.logger.Info("edge contradicted",
		"group_id", cand.GroupID,
		"relation", cand.RelationName,
		"invalidated_edge", current.ID,
		"invalid_at", invalidAt)

	// A negating fact records that the relation ceased; it does not assert a
	// fresh interval of its own, so the replacement stays uncreated and the
	// invalidated edge carries the provenance.
	if cand.Negates && cand.Fact == "" {
		return &EdgeResolution{Outcome: EdgeContradiction, Edge: current, Invalidated: current}, nil
	}

	edge := r.newEdge(cand, now)
	if err := r.driver.UpsertEdge(ctx, edge); err != nil {
		return nil, err
	}
	return &EdgeResolution{Outcome: EdgeContradiction, Edge: edge, Invalidated: current}, nil
}

func (r *EdgeResolver) newEdge(cand EdgeCandidate, now time.Time) *types.EntityEdge {
	return &types.EntityEdge{
		ID:            uuid.New().String(),
		SourceID:      cand.SourceID,
		TargetID:      cand.TargetID,
		Name:          cand.RelationName,
		Fact:          cand.Fact,
		FactEmbedding: cand.FactEmbedding,
		GroupID:       cand.GroupID,
		CreatedAt:     now,
		ValidAt:       cand.ValidAt,
		InvalidAt:     cand.InvalidAt,
		Episodes:      []string{cand.EpisodeID},
	}
}
