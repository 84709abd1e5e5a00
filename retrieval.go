package chronograph

import (
	"context"

	"github.com/soundprediction/chronograph/pkg/citation"
	"github.com/soundprediction/chronograph/pkg/search"
	"github.com/soundprediction/chronograph/pkg/types"
)

// EdgeSearchResult is one fact hit with its fused score and the citation
// chain back to the episodes that assert it.
type EdgeSearchResult struct {
	Edge      *types.EntityEdge   `json:"edge"`
	Score     float64             `json:"score"`
	Citations []citation.Citation `json:"citations,omitempty"`
}

// NodeSearchResult is one entity hit with its fused score and the citation
// chain built from its mention history.
type NodeSearchResult struct {
	Entity    *types.Entity       `json:"entity"`
	Score     float64             `json:"score"`
	Citations []citation.Citation `json:"citations,omitempty"`
}

// SearchEdges runs a hybrid fact search scoped to the given groups and
// attaches citations to every hit. Empty GroupIDs defaults to the client's
// default group.
func (c *Client) SearchEdges(ctx context.Context, q search.EdgeQuery) ([]EdgeSearchResult, error) {
	q.GroupIDs = c.defaultGroups(q.GroupIDs)
	hits, err := c.searcher.SearchEdges(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]EdgeSearchResult, 0, len(hits))
	for _, h := range hits {
		cites, err := c.citations.ForEdge(ctx, h.Edge)
		if err != nil {
			return nil, err
		}
		out = append(out, EdgeSearchResult{Edge: h.Edge, Score: h.Score, Citations: cites})
	}
	return out, nil
}

// SearchNodes runs a hybrid entity search scoped to the given groups and
// attaches citations to every hit.
func (c *Client) SearchNodes(ctx context.Context, q search.NodeQuery) ([]NodeSearchResult, error) {
	q.GroupIDs = c.defaultGroups(q.GroupIDs)
	hits, err := c.searcher.SearchNodes(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]NodeSearchResult, 0, len(hits))
	for _, h := range hits {
		cites, err := c.citations.ForEntity(ctx, h.Entity.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, NodeSearchResult{Entity: h.Entity, Score: h.Score, Citations: cites})
	}
	return out, nil
}

// SearchEpisodes retrieves episodes lexically; a blank query returns the most
// recently ingested episodes instead.
func (c *Client) SearchEpisodes(ctx context.Context, q search.EpisodeQuery) ([]*types.Episode, error) {
	q.GroupIDs = c.defaultGroups(q.GroupIDs)
	return c.searcher.SearchEpisodes(ctx, q)
}

// GetEpisode fetches one episode by id.
func (c *Client) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	return c.driver.GetEpisode(ctx, id)
}

// RecentEpisodes lists a group's episodes newest first.
func (c *Client) RecentEpisodes(ctx context.Context, groupID string, limit int) ([]*types.Episode, error) {
	if groupID == "" {
		groupID = c.defaultGroupID
	}
	return c.driver.RecentEpisodes(ctx, []string{groupID}, limit)
}

// EdgeCitations builds the citation chain for one edge by id.
func (c *Client) EdgeCitations(ctx context.Context, edgeID string) ([]citation.Citation, error) {
	edge, err := c.driver.GetEdge(ctx, edgeID)
	if err != nil {
		return nil, err
	}
	return c.citations.ForEdge(ctx, edge)
}

// EntityCitations builds the citation chain for one entity by id.
func (c *Client) EntityCitations(ctx context.Context, entityID string) ([]citation.Citation, error) {
	return c.citations.ForEntity(ctx, entityID)
}

func (c *Client) defaultGroups(groupIDs []string) []string {
	if len(groupIDs) == 0 {
		return []string{c.defaultGroupID}
	}
	return groupIDs
}
