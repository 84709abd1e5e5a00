// Package search implements hybrid retrieval over the graph: vector and
// lexical candidate lists fused with reciprocal rank fusion, optional
// center-node proximity reranking, and temporal filtering of superseded
// edges.
package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/embedder"
	"github.com/soundprediction/chronograph/pkg/types"
)

// MaxProximityHops bounds the center-node rerank; candidates further away
// are dropped.
const MaxProximityHops = 3

// EdgeQuery parameterizes a fact search.
type EdgeQuery struct {
	Text       string
	MaxResults int
	GroupIDs   []string
	// CenterNodeID, when set, reranks candidates by graph distance to this
	// entity. An unknown id yields empty results.
	CenterNodeID string
	// IncludeExpired keeps soft-updated edge versions in the results.
	IncludeExpired bool
}

// NodeQuery parameterizes an entity search.
type NodeQuery struct {
	Text       string
	MaxResults int
	GroupIDs   []string
	// Labels filters results to entities carrying at least one of the given
	// ontology labels, applied after fusion.
	Labels []string
}

// EpisodeQuery parameterizes an episode search.
type EpisodeQuery struct {
	Text       string
	MaxResults int
	GroupIDs   []string
}

// EdgeResult is one fact hit with its fused score.
type EdgeResult struct {
	Edge  *types.EntityEdge
	Score float64
}

// NodeResult is one entity hit with its fused score.
type NodeResult struct {
	Entity *types.Entity
	Score  float64
}

// Engine executes hybrid searches. It is read-only and safe for concurrent
// use; searches run outside the episode queue.
type Engine struct {
	driver   driver.GraphDriver
	embedder embedder.Client
	logger   *slog.Logger
}

// NewEngine creates a search engine.
func NewEngine(d driver.GraphDriver, e embedder.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{driver: d, embedder: e, logger: logger}
}

// SearchEdges runs the fact search pipeline: vector and lexical candidates,
// RRF fusion, optional proximity rerank, expiry filter, truncation.
func (s *Engine) SearchEdges(ctx context.Context, q EdgeQuery) ([]EdgeResult, error) {
	if q.MaxResults <= 0 {
		return nil, nil
	}
	candidateLimit := 2 * q.MaxResults

	vector, err := s.embedQuery(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*types.EntityEdge)
	vectorScores := make(map[string]float64)
	var lists [][]string

	if !driver.IsZeroVector(vector) {
		hits, err := s.driver.EdgeVectorSearch(ctx, vector, q.GroupIDs, candidateLimit)
		if err != nil {
			return nil, err
		}
		list := make([]string, 0, len(hits))
		for _, h := range hits {
			byID[h.Edge.ID] = h.Edge
			vectorScores[h.Edge.ID] = h.Score
			list = append(list, h.Edge.ID)
		}
		lists = append(lists, list)
	}

	lexical, err := s.driver.EdgeLexicalSearch(ctx, q.Text, q.GroupIDs, candidateLimit)
	if err != nil {
		return nil, err
	}
	list := make([]string, 0, len(lexical))
	for _, h := range lexical {
		if _, ok := byID[h.Edge.ID]; !ok {
			byID[h.Edge.ID] = h.Edge
		}
		list = append(list, h.Edge.ID)
	}
	lists = append(lists, list)

	fused := fuseScores(lists...)

	results := make([]EdgeResult, 0, len(fused))
	for id, score := range fused {
		edge := byID[id]
		if !q.IncludeExpired && edge.ExpiredAt != nil {
			continue
		}
		results = append(results, EdgeResult{Edge: edge, Score: score})
	}

	if q.CenterNodeID != "" {
		results, err = s.proximityRerank(ctx, q.CenterNodeID, results)
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		vi, vj := vectorScores[results[i].Edge.ID], vectorScores[results[j].Edge.ID]
		if vi != vj {
			return vi > vj
		}
		if !results[i].Edge.CreatedAt.Equal(results[j].Edge.CreatedAt) {
			return results[i].Edge.CreatedAt.After(results[j].Edge.CreatedAt)
		}
		return results[i].Edge.ID < results[j].Edge.ID
	})
	if len(results) > q.MaxResults {
		results = results[:q.MaxResults]
	}
	return results, nil
}

// proximityRerank scales scores by 1/(1+hops) to the center entity. Edges
// touching the center count zero hops; edges outside the hop cap drop out.
// An unknown center empties the result set.
func (s *Engine) proximityRerank(ctx context.Context, centerID string, results []EdgeResult) ([]EdgeResult, error) {
	if _, err := s.driver.GetEntity(ctx, centerID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	distances, err := s.driver.Neighborhood(ctx, centerID, MaxProximityHops)
	if err != nil {
		return nil, err
	}
	distances[centerID] = 0

	out := results[:0]
	for _, r := range results {
		hops, ok := edgeHops(r.Edge, distances)
		if !ok {
			continue
		}
		r.Score *= 1.0 / float64(1+hops)
		out = append(out, r)
	}
	return out, nil
}

// edgeHops is the smaller endpoint distance to the center.
func edgeHops(edge *types.EntityEdge, distances map[string]int) (int, bool) {
	src, sok := distances[edge.SourceID]
	tgt, tok := distances[edge.TargetID]
	switch {
	case sok && tok:
		if tgt < src {
			return tgt, true
		}
		return src, true
	case sok:
		return src, true
	case tok:
		return tgt, true
	default:
		return 0, false
	}
}

// SearchNodes runs the entity search pipeline: same fusion as edges, with an
// optional post-fusion label filter.
func (s *Engine) SearchNodes(ctx context.Context, q NodeQuery) ([]NodeResult, error) {
	if q.MaxResults <= 0 {
		return nil, nil
	}
	candidateLimit := 2 * q.MaxResults

	vector, err := s.embedQuery(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*types.Entity)
	vectorScores := make(map[string]float64)
	var lists [][]string

	if !driver.IsZeroVector(vector) {
		hits, err := s.driver.EntityVectorSearch(ctx, vector, q.GroupIDs, candidateLimit)
		if err != nil {
			return nil, err
		}
		list := make([]string, 0, len(hits))
		for _, h := range hits {
			byID[h.Entity.ID] = h.Entity
			vectorScores[h.Entity.ID] = h.Score
			list = append(list, h.Entity.ID)
		}
		lists = append(lists, list)
	}

	lexical, err := s.driver.EntityLexicalSearch(ctx, q.Text, q.GroupIDs, candidateLimit)
	if err != nil {
		return nil, err
	}
	list := make([]string, 0, len(lexical))
	for _, h := range lexical {
		if _, ok := byID[h.Entity.ID]; !ok {
			byID[h.Entity.ID] = h.Entity
		}
		list = append(list, h.Entity.ID)
	}
	lists = append(lists, list)

	fused := fuseScores(lists...)

	results := make([]NodeResult, 0, len(fused))
	for id, score := range fused {
		entity := byID[id]
		if len(q.Labels) > 0 && !hasAnyLabel(entity, q.Labels) {
			continue
		}
		results = append(results, NodeResult{Entity: entity, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		vi, vj := vectorScores[results[i].Entity.ID], vectorScores[results[j].Entity.ID]
		if vi != vj {
			return vi > vj
		}
		if !results[i].Entity.CreatedAt.Equal(results[j].Entity.CreatedAt) {
			return results[i].Entity.CreatedAt.After(results[j].Entity.CreatedAt)
		}
		return results[i].Entity.ID < results[j].Entity.ID
	})
	if len(results) > q.MaxResults {
		results = results[:q.MaxResults]
	}
	return results, nil
}

// SearchEpisodes is lexical only. An empty query returns the most recent
// episodes by ingestion time.
func (s *Engine) SearchEpisodes(ctx context.Context, q EpisodeQuery) ([]*types.Episode, error) {
	if q.MaxResults <= 0 {
		return nil, nil
	}
	if strings.TrimSpace(q.Text) == "" {
		return s.driver.RecentEpisodes(ctx, q.GroupIDs, q.MaxResults)
	}
	return s.driver.EpisodeLexicalSearch(ctx, q.Text, q.GroupIDs, q.MaxResults)
}

// embedQuery returns nil for blank queries so callers fall back to lexical
// ordering without an embedding round trip.
func (s *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return s.embedder.EmbedSingle(ctx, text)
}

func hasAnyLabel(entity *types.Entity, labels []string) bool {
	for _, l := range labels {
		if entity.HasLabel(l) {
			return true
		}
	}
	return false
}
