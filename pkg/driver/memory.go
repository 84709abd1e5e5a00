package driver

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/soundprediction/chronograph/pkg/types"
)

// MemoryDriver is an in-process GraphDriver backed by maps. It serves tests
// and single-node development deployments; production uses Neo4jDriver.
type MemoryDriver struct {
	mu       sync.RWMutex
	episodes map[string]*types.Episode
	entities map[string]*types.Entity
	edges    map[string]*types.EntityEdge
	mentions map[string]*types.MentionEdge
}

// NewMemoryDriver creates an empty in-memory graph store.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		episodes: make(map[string]*types.Episode),
		entities: make(map[string]*types.Entity),
		edges:    make(map[string]*types.EntityEdge),
		mentions: make(map[string]*types.MentionEdge),
	}
}

func (d *MemoryDriver) UpsertEpisode(ctx context.Context, episode *types.Episode) error {
	if err := episode.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *episode
	d.episodes[cp.ID] = &cp
	return nil
}

func (d *MemoryDriver) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ep, ok := d.episodes[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *ep
	return &cp, nil
}

func (d *MemoryDriver) GetEpisodeByName(ctx context.Context, groupID, name string) (*types.Episode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, ep := range d.episodes {
		if ep.GroupID == groupID && ep.Name == name {
			cp := *ep
			return &cp, nil
		}
	}
	return nil, types.ErrNotFound
}

func (d *MemoryDriver) GetEpisodes(ctx context.Context, ids []string) ([]*types.Episode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*types.Episode, 0, len(ids))
	for _, id := range ids {
		if ep, ok := d.episodes[id]; ok {
			cp := *ep
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (d *MemoryDriver) RecentEpisodes(ctx context.Context, groupIDs []string, limit int) ([]*types.Episode, error) {
	if limit <= 0 {
		return nil, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*types.Episode
	for _, ep := range d.episodes {
		if !matchGroup(ep.GroupID, groupIDs) {
			continue
		}
		cp := *ep
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IngestedAt.Equal(out[j].IngestedAt) {
			return out[i].IngestedAt.After(out[j].IngestedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteEpisode removes the episode and cascades. Edges drop the episode from
// their provenance list and are deleted when the list empties; entities left
// with no incident edges and no mentions are garbage collected.
func (d *MemoryDriver) DeleteEpisode(ctx context.Context, id string) (*CascadeResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.episodes[id]; !ok {
		return nil, types.ErrNotFound
	}
	delete(d.episodes, id)

	result := &CascadeResult{}
	touched := make(map[string]bool)

	for mid, m := range d.mentions {
		if m.EpisodeID == id {
			touched[m.EntityID] = true
			delete(d.mentions, mid)
		}
	}

	for eid, e := range d.edges {
		if !e.HasEpisode(id) {
			continue
		}
		remaining := make([]string, 0, len(e.Episodes)-1)
		for _, epID := range e.Episodes {
			if epID != id {
				remaining = append(remaining, epID)
			}
		}
		touched[e.SourceID] = true
		touched[e.TargetID] = true
		if len(remaining) == 0 {
			delete(d.edges, eid)
			result.DeletedEdges = append(result.DeletedEdges, eid)
		} else {
			e.Episodes = remaining
			result.UpdatedEdges = append(result.UpdatedEdges, eid)
		}
	}

	for entityID := range touched {
		if d.entityReferencedLocked(entityID) {
			continue
		}
		delete(d.entities, entityID)
		result.DeletedEntities = append(result.DeletedEntities, entityID)
	}
	sort.Strings(result.DeletedEdges)
	sort.Strings(result.UpdatedEdges)
	sort.Strings(result.DeletedEntities)
	return result, nil
}

func (d *MemoryDriver) entityReferencedLocked(entityID string) bool {
	for _, e := range d.edges {
		if e.SourceID == entityID || e.TargetID == entityID {
			return true
		}
	}
	for _, m := range d.mentions {
		if m.EntityID == entityID {
			return true
		}
	}
	return false
}

func (d *MemoryDriver) UpsertEntity(ctx context.Context, entity *types.Entity) error {
	if err := entity.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := cloneEntity(entity)
	d.entities[cp.ID] = cp
	return nil
}

func (d *MemoryDriver) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entities[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return cloneEntity(e), nil
}

func (d *MemoryDriver) GetEntitiesByName(ctx context.Context, groupID, normalizedName string) ([]*types.Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*types.Entity
	for _, e := range d.entities {
		if e.GroupID == groupID && NormalizeName(e.Name) == normalizedName {
			out = append(out, cloneEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *MemoryDriver) DeleteEntity(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entities[id]; !ok {
		return types.ErrNotFound
	}
	delete(d.entities, id)
	return nil
}

func (d *MemoryDriver) UpsertEdge(ctx context.Context, edge *types.EntityEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := cloneEdge(edge)
	d.edges[cp.ID] = cp
	return nil
}

func (d *MemoryDriver) GetEdge(ctx context.Context, id string) (*types.EntityEdge, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.edges[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return cloneEdge(e), nil
}

func (d *MemoryDriver) EdgesBetween(ctx context.Context, sourceID, targetID, relationName string) ([]*types.EntityEdge, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*types.EntityEdge
	for _, e := range d.edges {
		if e.SourceID != sourceID || e.TargetID != targetID {
			continue
		}
		if relationName != "" && e.Name != relationName {
			continue
		}
		out = append(out, cloneEdge(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *MemoryDriver) EdgesForEntity(ctx context.Context, entityID string) ([]*types.EntityEdge, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*types.EntityEdge
	for _, e := range d.edges {
		if e.SourceID == entityID || e.TargetID == entityID {
			out = append(out, cloneEdge(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *MemoryDriver) DeleteEdge(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.edges[id]; !ok {
		return types.ErrNotFound
	}
	delete(d.edges, id)
	return nil
}

func (d *MemoryDriver) UpsertMention(ctx context.Context, mention *types.MentionEdge) error {
	if err := mention.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *mention
	d.mentions[cp.ID] = &cp
	return nil
}

func (d *MemoryDriver) MentionsForEntity(ctx context.Context, entityID string) ([]*types.MentionEdge, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*types.MentionEdge
	for _, m := range d.mentions {
		if m.EntityID == entityID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *MemoryDriver) MentionsForEpisode(ctx context.Context, episodeID string) ([]*types.MentionEdge, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*types.MentionEdge
	for _, m := range d.mentions {
		if m.EpisodeID == episodeID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *MemoryDriver) EntityVectorSearch(ctx context.Context, vector []float32, groupIDs []string, limit int) ([]ScoredEntity, error) {
	if limit <= 0 || IsZeroVector(vector) {
		return nil, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []ScoredEntity
	for _, e := range d.entities {
		if !matchGroup(e.GroupID, groupIDs) || len(e.Embedding) == 0 {
			continue
		}
		score := CosineSimilarity(vector, e.Embedding)
		if score <= 0 {
			continue
		}
		out = append(out, ScoredEntity{Entity: cloneEntity(e), Score: score})
	}
	sortScoredEntities(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *MemoryDriver) EdgeVectorSearch(ctx context.Context, vector []float32, groupIDs []string, limit int) ([]ScoredEdge, error) {
	if limit <= 0 || IsZeroVector(vector) {
		return nil, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []ScoredEdge
	for _, e := range d.edges {
		if !matchGroup(e.GroupID, groupIDs) || len(e.FactEmbedding) == 0 {
			continue
		}
		score := CosineSimilarity(vector, e.FactEmbedding)
		if score <= 0 {
			continue
		}
		out = append(out, ScoredEdge{Edge: cloneEdge(e), Score: score})
	}
	sortScoredEdges(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *MemoryDriver) EntityLexicalSearch(ctx context.Context, query string, groupIDs []string, limit int) ([]ScoredEntity, error) {
	terms := queryTerms(query)
	if limit <= 0 || len(terms) == 0 {
		return nil, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []ScoredEntity
	for _, e := range d.entities {
		if !matchGroup(e.GroupID, groupIDs) {
			continue
		}
		score := lexicalScore(terms, e.Name+" "+e.Summary)
		if score <= 0 {
			continue
		}
		out = append(out, ScoredEntity{Entity: cloneEntity(e), Score: score})
	}
	sortScoredEntities(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *MemoryDriver) EdgeLexicalSearch(ctx context.Context, query string, groupIDs []string, limit int) ([]ScoredEdge, error) {
	terms := queryTerms(query)
	if limit <= 0 || len(terms) == 0 {
		return nil, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []ScoredEdge
	for _, e := range d.edges {
		if !matchGroup(e.GroupID, groupIDs) {
			continue
		}
		score := lexicalScore(terms, e.Name+" "+e.Fact)
		if score <= 0 {
			continue
		}
		out = append(out, ScoredEdge{Edge: cloneEdge(e), Score: score})
	}
	sortScoredEdges(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *MemoryDriver) EpisodeLexicalSearch(ctx context.Context, query string, groupIDs []string, limit int) ([]*types.Episode, error) {
	terms := queryTerms(query)
	if limit <= 0 || len(terms) == 0 {
		return nil, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	type scored struct {
		ep    *types.Episode
		score float64
	}
	var hits []scored
	for _, ep := range d.episodes {
		if !matchGroup(ep.GroupID, groupIDs) {
			continue
		}
		score := lexicalScore(terms, ep.Name+" "+ep.Body)
		if score <= 0 {
			continue
		}
		cp := *ep
		hits = append(hits, scored{ep: &cp, score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if !hits[i].ep.IngestedAt.Equal(hits[j].ep.IngestedAt) {
			return hits[i].ep.IngestedAt.After(hits[j].ep.IngestedAt)
		}
		return hits[i].ep.ID < hits[j].ep.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*types.Episode, len(hits))
	for i, h := range hits {
		out[i] = h.ep
	}
	return out, nil
}

// Neighborhood walks breadth-first over relation edges in both directions.
func (d *MemoryDriver) Neighborhood(ctx context.Context, centerID string, maxHops int) (map[string]int, error) {
	distances := make(map[string]int)
	if maxHops <= 0 {
		return distances, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.entities[centerID]; !ok {
		return distances, nil
	}

	adj := make(map[string][]string)
	for _, e := range d.edges {
		adj[e.SourceID] = append(adj[e.SourceID], e.TargetID)
		adj[e.TargetID] = append(adj[e.TargetID], e.SourceID)
	}

	visited := map[string]bool{centerID: true}
	frontier := []string{centerID}
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, nb := range adj[id] {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				distances[nb] = hop
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return distances, nil
}

// CreateIndices is a no-op; map lookups need no preparation.
func (d *MemoryDriver) CreateIndices(ctx context.Context) error { return nil }

func (d *MemoryDriver) ClearGroup(ctx context.Context, groupID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ep := range d.episodes {
		if ep.GroupID == groupID {
			delete(d.episodes, id)
		}
	}
	for id, e := range d.entities {
		if e.GroupID == groupID {
			delete(d.entities, id)
		}
	}
	for id, e := range d.edges {
		if e.GroupID == groupID {
			delete(d.edges, id)
		}
	}
	for id, m := range d.mentions {
		if m.GroupID == groupID {
			delete(d.mentions, id)
		}
	}
	return nil
}

func (d *MemoryDriver) Stats(ctx context.Context, groupID string) (*GraphStats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stats := &GraphStats{GroupID: groupID}
	for _, ep := range d.episodes {
		if ep.GroupID == groupID {
			stats.EpisodeCount++
		}
	}
	for _, e := range d.entities {
		if e.GroupID == groupID {
			stats.EntityCount++
		}
	}
	for _, e := range d.edges {
		if e.GroupID == groupID {
			stats.EdgeCount++
		}
	}
	for _, m := range d.mentions {
		if m.GroupID == groupID {
			stats.MentionCount++
		}
	}
	return stats, nil
}

func (d *MemoryDriver) Close(ctx context.Context) error { return nil }

func matchGroup(groupID string, groupIDs []string) bool {
	if len(groupIDs) == 0 {
		return true
	}
	for _, g := range groupIDs {
		if g == groupID {
			return true
		}
	}
	return false
}

func queryTerms(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// lexicalScore counts matched terms weighted by per-term frequency. Any
// formula works for the contract as long as more matched terms never scores
// lower.
func lexicalScore(terms []string, text string) float64 {
	lower := strings.ToLower(text)
	var score float64
	for _, t := range terms {
		n := strings.Count(lower, t)
		if n > 0 {
			score += 1 + 0.1*float64(n-1)
		}
	}
	return score
}

func sortScoredEntities(s []ScoredEntity) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		if !s[i].Entity.CreatedAt.Equal(s[j].Entity.CreatedAt) {
			return s[i].Entity.CreatedAt.After(s[j].Entity.CreatedAt)
		}
		return s[i].Entity.ID < s[j].Entity.ID
	})
}

func sortScoredEdges(s []ScoredEdge) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		if !s[i].Edge.CreatedAt.Equal(s[j].Edge.CreatedAt) {
			return s[i].Edge.CreatedAt.After(s[j].Edge.CreatedAt)
		}
		return s[i].Edge.ID < s[j].Edge.ID
	})
}

func cloneEntity(e *types.Entity) *types.Entity {
	cp := *e
	cp.Labels = append([]string(nil), e.Labels...)
	cp.Embedding = append([]float32(nil), e.Embedding...)
	if e.Attributes != nil {
		cp.Attributes = make(map[string]interface{}, len(e.Attributes))
		for k, v := range e.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}

func cloneEdge(e *types.EntityEdge) *types.EntityEdge {
	cp := *e
	cp.FactEmbedding = append([]float32(nil), e.FactEmbedding...)
	cp.Episodes = append([]string(nil), e.Episodes...)
	if e.ValidAt != nil {
		v := *e.ValidAt
		cp.ValidAt = &v
	}
	if e.InvalidAt != nil {
		v := *e.InvalidAt
		cp.InvalidAt = &v
	}
	if e.ExpiredAt != nil {
		v := *e.ExpiredAt
		cp.ExpiredAt = &v
	}
	if e.Attributes != nil {
		cp.Attributes = make(map[string]interface{}, len(e.Attributes))
		for k, v := range e.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}
