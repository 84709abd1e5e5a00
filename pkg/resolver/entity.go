// Package resolver deduplicates extracted entities against the existing
// graph and reconciles extracted facts with existing edges, detecting
// duplicates and contradictions.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/ontology"
	"github.com/soundprediction/chronograph/pkg/prompts"
	"github.com/soundprediction/chronograph/pkg/types"
)

const (
	// SimilarityThreshold is the minimum cosine similarity for an embedding
	// match during entity deduplication.
	SimilarityThreshold = 0.85
	// CandidateK bounds the kNN candidate list per extracted entity.
	CandidateK = 5
)

// EntityResolution reports how one extracted entity was reconciled.
type EntityResolution struct {
	Entity *types.Entity
	// Created is true when no existing entity matched and a new one was made.
	Created bool
	// Updated is true when a matched entity's attributes or summary changed.
	Updated bool
}

// EntityResolver deduplicates extracted entities within a group.
type EntityResolver struct {
	driver   driver.GraphDriver
	ontology *ontology.Ontology
	logger   *slog.Logger
}

// NewEntityResolver creates an entity resolver.
func NewEntityResolver(d driver.GraphDriver, ont *ontology.Ontology, logger *slog.Logger) *EntityResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityResolver{driver: d, ontology: ont, logger: logger}
}

// Resolve reconciles one extracted entity against the group's graph. The
// caller supplies the candidate's name embedding; batching embeddings across
// an episode is the caller's concern. The resolved entity is persisted before
// returning.
func (r *EntityResolver) Resolve(ctx context.Context, groupID string, cand prompts.ExtractedEntity, embedding []float32, now time.Time) (*EntityResolution, error) {
	name := strings.TrimSpace(cand.Name)
	if name == "" {
		return nil, types.ErrEmptyName
	}
	label := cand.Label
	var attrs map[string]interface{}
	if label == "" {
		// Untagged entities carry the generic label and no attribute schema.
		label = "Entity"
	} else {
		var err error
		attrs, err = r.ontology.ValidateEntity(label, cand.Attributes)
		if err != nil {
			return nil, fmt.Errorf("resolve entity %q: %w", name, err)
		}
	}

	match, err := r.findMatch(ctx, groupID, name, embedding)
	if err != nil {
		return nil, err
	}

	if match == nil {
		entity := &types.Entity{
			ID:         uuid.New().String(),
			Name:       name,
			Summary:    cand.Summary,
			Labels:     []string{label},
			Attributes: attrs,
			Embedding:  embedding,
			GroupID:    groupID,
			CreatedAt:  now,
		}
		if err := r.driver.UpsertEntity(ctx, entity); err != nil {
			return nil, err
		}
		return &EntityResolution{Entity: entity, Created: true}, nil
	}

	updated := mergeAttributes(match, attrs)
	if match.Summary == "" && cand.Summary != "" {
		match.Summary = cand.Summary
		updated = true
	}
	if label != "Entity" && !match.HasLabel(label) {
		match.Labels = append(match.Labels, label)
		updated = true
	}
	if len(match.Embedding) == 0 && len(embedding) > 0 {
		match.Embedding = embedding
		updated = true
	}
	if updated {
		if err := r.driver.UpsertEntity(ctx, match); err != nil {
			return nil, err
		}
	}
	return &EntityResolution{Entity: match, Updated: updated}, nil
}

// findMatch applies the deduplication rule: exact normalized-name match wins,
// else the highest-similarity embedding match at or above the threshold, ties
// broken by earliest created_at.
func (r *EntityResolver) findMatch(ctx context.Context, groupID, name string, embedding []float32) (*types.Entity, error) {
	byName, err := r.driver.GetEntitiesByName(ctx, groupID, driver.NormalizeName(name))
	if err != nil {
		return nil, err
	}
	if len(byName) > 0 {
		return oldest(byName), nil
	}

	if len(embedding) == 0 {
		return nil, nil
	}
	scored, err := r.driver.EntityVectorSearch(ctx, embedding, []string{groupID}, CandidateK)
	if err != nil {
		return nil, err
	}
	var best *types.Entity
	var bestScore float64
	for _, s := range scored {
		if s.Score < SimilarityThreshold {
			continue
		}
		if best == nil || s.Score > bestScore ||
			(s.Score == bestScore && s.Entity.CreatedAt.Before(best.CreatedAt)) {
			best = s.Entity
			bestScore = s.Score
		}
	}
	if best != nil {
		r.logger.Debug("entity matched by embedding",
			"group_id", groupID,
			"candidate", name,
			"matched", best.Name,
			"score", bestScore)
	}
	return best, nil
}

func oldest(entities []*types.Entity) *types.Entity {
	best := entities[0]
	for _, e := range entities[1:] {
		if e.CreatedAt.Before(best.CreatedAt) {
			best = e
		}
	}
	return best
}

// mergeAttributes folds incoming attributes into the entity. Existing keys
// win unless the incoming string value is longer and contains the existing
// value as a substring. Reports whether anything changed.
func mergeAttributes(entity *types.Entity, incoming map[string]interface{}) bool {
	if len(incoming) == 0 {
		return false
	}
	if entity.Attributes == nil {
		entity.Attributes = make(map[string]interface{}, len(incoming))
	}
	changed := false
	for k, v := range incoming {
		existing, ok := entity.Attributes[k]
		if !ok {
			entity.Attributes[k] = v
			changed = true
			continue
		}
		es, eok := existing.(string)
		vs, vok := v.(string)
		if eok && vok && len(vs) > len(es) && strings.Contains(vs, es) {
			entity.Attributes[k] = vs
			changed = true
		}
	}
	return changed
}
