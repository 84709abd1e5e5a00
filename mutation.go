package chronograph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/types"
)

// UpdateEdgeRequest corrects the fact text on an existing edge. The optional
// fields retarget the replacement's endpoints or replace its attribute bag;
// left empty, the replacement inherits them from the old edge.
type UpdateEdgeRequest struct {
	EdgeID string
	Fact   string
	// Reason records why the fact was rewritten.
	Reason         string
	SourceEntityID string
	TargetEntityID string
	Attributes     map[string]interface{}
}

// UpdateEdgeResult reports both halves of a soft-update: the expired version
// and its replacement.
type UpdateEdgeResult struct {
	OldID string `json:"old_id"`
	NewID string `json:"new_id"`
}

// UpdateEdge soft-updates an edge: the current version is expired, never
// rewritten in place, and a replacement with a fresh id carries the corrected
// fact. The replacement keeps the original provenance plus a synthesized
// episode recording the edit, and keeps the original ValidAt since the
// correction changes the wording, not when the relation held.
func (c *Client) UpdateEdge(ctx context.Context, req UpdateEdgeRequest) (*UpdateEdgeResult, error) {
	if req.Fact == "" {
		return nil, types.ErrEmptyName
	}
	edge, err := c.driver.GetEdge(ctx, req.EdgeID)
	if err != nil {
		return nil, err
	}
	if edge.ExpiredAt != nil {
		return nil, fmt.Errorf("edge %s is already expired", edge.ID)
	}

	sourceID, err := c.resolveEndpoint(ctx, edge.GroupID, req.SourceEntityID, edge.SourceID)
	if err != nil {
		return nil, fmt.Errorf("source entity: %w", err)
	}
	targetID, err := c.resolveEndpoint(ctx, edge.GroupID, req.TargetEntityID, edge.TargetID)
	if err != nil {
		return nil, fmt.Errorf("target entity: %w", err)
	}
	attrs := edge.Attributes
	if req.Attributes != nil {
		attrs = req.Attributes
	}

	now := time.Now().UTC()

	synthesis := &types.Episode{
		ID:   uuid.New().String(),
		Name: fmt.Sprintf("edge update %s", edge.ID),
		Body: fmt.Sprintf("The fact %q was corrected to %q. Reason: %s",
			edge.Fact, req.Fact, req.Reason),
		Kind:              types.EpisodeStructured,
		SourceDescription: "manual edge update",
		GroupID:           edge.GroupID,
		IngestedAt:        now,
		ReferenceTime:     now,
	}
	if err := c.driver.UpsertEpisode(ctx, synthesis); err != nil {
		return nil, fmt.Errorf("persist synthesis episode: %w", err)
	}

	embedding, err := c.embedder.EmbedSingle(ctx, req.Fact)
	if err != nil {
		return nil, fmt.Errorf("embed corrected fact: %w", err)
	}

	replacement := &types.EntityEdge{
		ID:            uuid.New().String(),
		SourceID:      sourceID,
		TargetID:      targetID,
		Name:          edge.Name,
		Fact:          req.Fact,
		FactEmbedding: embedding,
		GroupID:       edge.GroupID,
		CreatedAt:     now,
		ValidAt:       edge.ValidAt,
		InvalidAt:     edge.InvalidAt,
		Episodes:      append(append([]string{}, edge.Episodes...), synthesis.ID),
		OriginalFact:  edge.Fact,
		UpdateReason:  req.Reason,
		Attributes:    attrs,
	}

	expiredAt := now
	edge.ExpiredAt = &expiredAt
	if err := c.driver.UpsertEdge(ctx, edge); err != nil {
		return nil, fmt.Errorf("expire edge: %w", err)
	}
	if err := c.driver.UpsertEdge(ctx, replacement); err != nil {
		return nil, fmt.Errorf("persist replacement edge: %w", err)
	}

	c.logger.Info("edge soft-updated",
		"group_id", edge.GroupID,
		"old_id", edge.ID,
		"new_id", replacement.ID)
	return &UpdateEdgeResult{OldID: edge.ID, NewID: replacement.ID}, nil
}

// resolveEndpoint validates an endpoint override against the store and the
// edge's group; an empty override keeps the current endpoint.
func (c *Client) resolveEndpoint(ctx context.Context, groupID, override, current string) (string, error) {
	if override == "" || override == current {
		return current, nil
	}
	entity, err := c.driver.GetEntity(ctx, override)
	if err != nil {
		return "", err
	}
	if entity.GroupID != groupID {
		return "", fmt.Errorf("entity %s is not in group %s", override, groupID)
	}
	return entity.ID, nil
}

// DeleteEpisode removes an episode and cascades through derived content:
// mentions are dropped, edges lose this episode from their provenance and are
// deleted when it empties, and entities no longer supported by any episode
// are garbage collected.
func (c *Client) DeleteEpisode(ctx context.Context, id string) (*driver.CascadeResult, error) {
	res, err := c.driver.DeleteEpisode(ctx, id)
	if err != nil {
		return nil, err
	}
	c.logger.Info("episode deleted",
		"episode_id", id,
		"deleted_edges", len(res.DeletedEdges),
		"updated_edges", len(res.UpdatedEdges),
		"deleted_entities", len(res.DeletedEntities))
	return res, nil
}
