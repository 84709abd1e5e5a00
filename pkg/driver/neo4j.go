package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/soundprediction/chronograph/pkg/types"
)

// DefaultQueryTimeout bounds a single graph query round trip.
const DefaultQueryTimeout = 30 * time.Second

// Neo4jDriver implements GraphDriver against a Neo4j 5.x database using
// native vector and full-text indexes.
type Neo4jDriver struct {
	client     neo4j.DriverWithContext
	database   string
	dimensions int
	timeout    time.Duration
}

// NewNeo4jDriver connects to Neo4j. The embedding dimensionality is needed up
// front because vector indexes are dimension-typed.
func NewNeo4jDriver(uri, username, password, database string, dimensions int) (*Neo4jDriver, error) {
	client, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jDriver{
		client:     client,
		database:   database,
		dimensions: dimensions,
		timeout:    DefaultQueryTimeout,
	}, nil
}

// SetQueryTimeout overrides the per-query deadline. Zero or negative disables
// it.
func (d *Neo4jDriver) SetQueryTimeout(timeout time.Duration) {
	d.timeout = timeout
}

func (d *Neo4jDriver) session(ctx context.Context) neo4j.SessionWithContext {
	return d.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: d.database})
}

// queryCtx applies the per-query deadline on top of the caller's context.
// Exceeding it surfaces as context.DeadlineExceeded, which IsTransient
// classifies for the queue's short retry schedule.
func (d *Neo4jDriver) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.timeout)
}

func (d *Neo4jDriver) read(ctx context.Context, query string, params map[string]any) ([]*db.Record, error) {
	ctx, cancel := d.queryCtx(ctx)
	defer cancel()
	session := d.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, classifyNeo4jError(err)
	}
	records, ok := result.([]*db.Record)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", result)
	}
	return records, nil
}

func (d *Neo4jDriver) write(ctx context.Context, query string, params map[string]any) ([]*db.Record, error) {
	ctx, cancel := d.queryCtx(ctx)
	defer cancel()
	session := d.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, classifyNeo4jError(err)
	}
	records, ok := result.([]*db.Record)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", result)
	}
	return records, nil
}

// classifyNeo4jError wraps retryable server errors in TransientError so the
// queue applies its short backoff schedule.
func classifyNeo4jError(err error) error {
	if err == nil {
		return nil
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		if neoErr.IsRetriable() || strings.HasPrefix(neoErr.Code, "Neo.TransientError") {
			return &TransientError{Err: err}
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Connectivity failures surface as plain errors from the driver pool.
	msg := err.Error()
	if strings.Contains(msg, "ConnectivityError") || strings.Contains(msg, "connection") {
		return &TransientError{Err: err}
	}
	return err
}

func (d *Neo4jDriver) UpsertEpisode(ctx context.Context, episode *types.Episode) error {
	if err := episode.Validate(); err != nil {
		return err
	}
	_, err := d.write(ctx, upsertEpisodeQuery, map[string]any{
		"id":                 episode.ID,
		"name":               episode.Name,
		"body":               episode.Body,
		"kind":               string(episode.Kind),
		"source_description": episode.SourceDescription,
		"group_id":           episode.GroupID,
		"ingested_at":        episode.IngestedAt.UTC(),
		"reference_time":     episode.ReferenceTime.UTC(),
		"processing_error":   episode.ProcessingError,
	})
	return err
}

func (d *Neo4jDriver) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	records, err := d.read(ctx, getEpisodeQuery, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, types.ErrNotFound
	}
	return episodeFromRecord(records[0])
}

func (d *Neo4jDriver) GetEpisodeByName(ctx context.Context, groupID, name string) (*types.Episode, error) {
	records, err := d.read(ctx, getEpisodeByNameQuery, map[string]any{"group_id": groupID, "name": name})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, types.ErrNotFound
	}
	return episodeFromRecord(records[0])
}

func (d *Neo4jDriver) GetEpisodes(ctx context.Context, ids []string) ([]*types.Episode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	records, err := d.read(ctx, getEpisodesQuery, map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}
	return episodesFromRecords(records)
}

func (d *Neo4jDriver) RecentEpisodes(ctx context.Context, groupIDs []string, limit int) ([]*types.Episode, error) {
	if limit <= 0 {
		return nil, nil
	}
	records, err := d.read(ctx, recentEpisodesQuery, map[string]any{
		"group_ids": groupIDsParam(groupIDs),
		"limit":     limit,
	})
	if err != nil {
		return nil, err
	}
	return episodesFromRecords(records)
}

func (d *Neo4jDriver) DeleteEpisode(ctx context.Context, id string) (*CascadeResult, error) {
	if _, err := d.GetEpisode(ctx, id); err != nil {
		return nil, err
	}

	result := &CascadeResult{}

	// Edges supported only by this episode are deleted; the rest drop the
	// episode id from their provenance list.
	records, err := d.write(ctx, cascadeEdgesQuery, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	touched := make(map[string]bool)
	for _, rec := range records {
		edgeID, _ := rec.Get("edge_id")
		deleted, _ := rec.Get("deleted")
		src, _ := rec.Get("source_id")
		tgt, _ := rec.Get("target_id")
		if s, ok := src.(string); ok {
			touched[s] = true
		}
		if t, ok := tgt.(string); ok {
			touched[t] = true
		}
		eid, _ := edgeID.(string)
		if del, _ := deleted.(bool); del {
			result.DeletedEdges = append(result.DeletedEdges, eid)
		} else {
			result.UpdatedEdges = append(result.UpdatedEdges, eid)
		}
	}

	records, err = d.write(ctx, cascadeMentionsQuery, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if v, ok := rec.Get("entity_id"); ok {
			if s, ok := v.(string); ok {
				touched[s] = true
			}
		}
	}

	if _, err := d.write(ctx, deleteEpisodeQuery, map[string]any{"id": id}); err != nil {
		return nil, err
	}

	for entityID := range touched {
		records, err := d.write(ctx, gcOrphanEntityQuery, map[string]any{"id": entityID})
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			result.DeletedEntities = append(result.DeletedEntities, entityID)
		}
	}
	return result, nil
}

func (d *Neo4jDriver) UpsertEntity(ctx context.Context, entity *types.Entity) error {
	if err := entity.Validate(); err != nil {
		return err
	}
	attrs, err := encodeAttributes(entity.Attributes)
	if err != nil {
		return err
	}
	// Dynamic ontology labels cannot be parameterized in Cypher.
	query := fmt.Sprintf(upsertEntityQueryTemplate, labelClause(entity.Labels))
	_, err = d.write(ctx, query, map[string]any{
		"id":              entity.ID,
		"name":            entity.Name,
		"normalized_name": NormalizeName(entity.Name),
		"summary":         entity.Summary,
		"labels":          entity.Labels,
		"attributes":      attrs,
		"embedding":       vectorParam(entity.Embedding),
		"group_id":        entity.GroupID,
		"created_at":      entity.CreatedAt.UTC(),
	})
	return err
}

func (d *Neo4jDriver) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	records, err := d.read(ctx, getEntityQuery, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, types.ErrNotFound
	}
	return entityFromRecord(records[0], "n")
}

func (d *Neo4jDriver) GetEntitiesByName(ctx context.Context, groupID, normalizedName string) ([]*types.Entity, error) {
	records, err := d.read(ctx, getEntitiesByNameQuery, map[string]any{
		"group_id":        groupID,
		"normalized_name": normalizedName,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*types.Entity, 0, len(records))
	for _, rec := range records {
		e, err := entityFromRecord(rec, "n")
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (d *Neo4jDriver) DeleteEntity(ctx context.Context, id string) error {
	records, err := d.write(ctx, deleteEntityQuery, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (d *Neo4jDriver) UpsertEdge(ctx context.Context, edge *types.EntityEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	attrs, err := encodeAttributes(edge.Attributes)
	if err != nil {
		return err
	}
	_, err = d.write(ctx, upsertEdgeQuery, map[string]any{
		"id":             edge.ID,
		"source_id":      edge.SourceID,
		"target_id":      edge.TargetID,
		"name":           edge.Name,
		"fact":           edge.Fact,
		"fact_embedding": vectorParam(edge.FactEmbedding),
		"group_id":       edge.GroupID,
		"created_at":     edge.CreatedAt.UTC(),
		"valid_at":       timeParam(edge.ValidAt),
		"invalid_at":     timeParam(edge.InvalidAt),
		"expired_at":     timeParam(edge.ExpiredAt),
		"episode_ids":    edge.Episodes,
		"original_fact":  edge.OriginalFact,
		"update_reason":  edge.UpdateReason,
		"attributes":     attrs,
	})
	return err
}

func (d *Neo4jDriver) GetEdge(ctx context.Context, id string) (*types.EntityEdge, error) {
	records, err := d.read(ctx, getEdgeQuery, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, types.ErrNotFound
	}
	return edgeFromRecord(records[0])
}

func (d *Neo4jDriver) EdgesBetween(ctx context.Context, sourceID, targetID, relationName string) ([]*types.EntityEdge, error) {
	records, err := d.read(ctx, edgesBetweenQuery, map[string]any{
		"source_id": sourceID,
		"target_id": targetID,
		"name":      relationName,
	})
	if err != nil {
		return nil, err
	}
	return edgesFromRecords(records)
}

func (d *Neo4jDriver) EdgesForEntity(ctx context.Context, entityID string) ([]*types.EntityEdge, error) {
	records, err := d.read(ctx, edgesForEntityQuery, map[string]any{"id": entityID})
	if err != nil {
		return nil, err
	}
	return edgesFromRecords(records)
}

func (d *Neo4jDriver) DeleteEdge(ctx context.Context, id string) error {
	records, err := d.write(ctx, deleteEdgeQuery, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (d *Neo4jDriver) UpsertMention(ctx context.Context, mention *types.MentionEdge) error {
	if err := mention.Validate(); err != nil {
		return err
	}
	_, err := d.write(ctx, upsertMentionQuery, map[string]any{
		"id":         mention.ID,
		"episode_id": mention.EpisodeID,
		"entity_id":  mention.EntityID,
		"group_id":   mention.GroupID,
		"operation":  string(mention.Operation),
		"created_at": mention.CreatedAt.UTC(),
	})
	return err
}

func (d *Neo4jDriver) MentionsForEntity(ctx context.Context, entityID string) ([]*types.MentionEdge, error) {
	records, err := d.read(ctx, mentionsForEntityQuery, map[string]any{"id": entityID})
	if err != nil {
		return nil, err
	}
	return mentionsFromRecords(records)
}

func (d *Neo4jDriver) MentionsForEpisode(ctx context.Context, episodeID string) ([]*types.MentionEdge, error) {
	records, err := d.read(ctx, mentionsForEpisodeQuery, map[string]any{"id": episodeID})
	if err != nil {
		return nil, err
	}
	return mentionsFromRecords(records)
}

func (d *Neo4jDriver) EntityVectorSearch(ctx context.Context, vector []float32, groupIDs []string, limit int) ([]ScoredEntity, error) {
	if limit <= 0 || IsZeroVector(vector) {
		return nil, nil
	}
	records, err := d.read(ctx, entityVectorSearchQuery, map[string]any{
		"vector":    vectorParam(vector),
		"group_ids": groupIDsParam(groupIDs),
		"limit":     limit,
		// Over-fetch so post-filtering on group still fills the limit.
		"candidates": limit * 4,
	})
	if err != nil {
		return nil, err
	}
	out := make([]ScoredEntity, 0, len(records))
	for _, rec := range records {
		e, err := entityFromRecord(rec, "n")
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredEntity{Entity: e, Score: scoreFromRecord(rec)})
	}
	return out, nil
}

func (d *Neo4jDriver) EdgeVectorSearch(ctx context.Context, vector []float32, groupIDs []string, limit int) ([]ScoredEdge, error) {
	if limit <= 0 || IsZeroVector(vector) {
		return nil, nil
	}
	records, err := d.read(ctx, edgeVectorSearchQuery, map[string]any{
		"vector":     vectorParam(vector),
		"group_ids":  groupIDsParam(groupIDs),
		"limit":      limit,
		"candidates": limit * 4,
	})
	if err != nil {
		return nil, err
	}
	out := make([]ScoredEdge, 0, len(records))
	for _, rec := range records {
		e, err := edgeFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredEdge{Edge: e, Score: scoreFromRecord(rec)})
	}
	return out, nil
}

func (d *Neo4jDriver) EntityLexicalSearch(ctx context.Context, query string, groupIDs []string, limit int) ([]ScoredEntity, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	records, err := d.read(ctx, entityLexicalSearchQuery, map[string]any{
		"query":     fulltextQuery(query),
		"group_ids": groupIDsParam(groupIDs),
		"limit":     limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]ScoredEntity, 0, len(records))
	for _, rec := range records {
		e, err := entityFromRecord(rec, "n")
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredEntity{Entity: e, Score: scoreFromRecord(rec)})
	}
	return out, nil
}

func (d *Neo4jDriver) EdgeLexicalSearch(ctx context.Context, query string, groupIDs []string, limit int) ([]ScoredEdge, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	records, err := d.read(ctx, edgeLexicalSearchQuery, map[string]any{
		"query":     fulltextQuery(query),
		"group_ids": groupIDsParam(groupIDs),
		"limit":     limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]ScoredEdge, 0, len(records))
	for _, rec := range records {
		e, err := edgeFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredEdge{Edge: e, Score: scoreFromRecord(rec)})
	}
	return out, nil
}

func (d *Neo4jDriver) EpisodeLexicalSearch(ctx context.Context, query string, groupIDs []string, limit int) ([]*types.Episode, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	records, err := d.read(ctx, episodeLexicalSearchQuery, map[string]any{
		"query":     fulltextQuery(query),
		"group_ids": groupIDsParam(groupIDs),
		"limit":     limit,
	})
	if err != nil {
		return nil, err
	}
	return episodesFromRecords(records)
}

func (d *Neo4jDriver) Neighborhood(ctx context.Context, centerID string, maxHops int) (map[string]int, error) {
	distances := make(map[string]int)
	if maxHops <= 0 {
		return distances, nil
	}
	query := fmt.Sprintf(neighborhoodQueryTemplate, maxHops)
	records, err := d.read(ctx, query, map[string]any{"id": centerID})
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		idVal, _ := rec.Get("id")
		hopsVal, _ := rec.Get("hops")
		id, ok := idVal.(string)
		if !ok {
			continue
		}
		hops, ok := hopsVal.(int64)
		if !ok {
			continue
		}
		distances[id] = int(hops)
	}
	return distances, nil
}

func (d *Neo4jDriver) CreateIndices(ctx context.Context) error {
	for _, query := range schemaQueries(d.dimensions) {
		if _, err := d.write(ctx, query, nil); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func (d *Neo4jDriver) ClearGroup(ctx context.Context, groupID string) error {
	_, err := d.write(ctx, clearGroupQuery, map[string]any{"group_id": groupID})
	return err
}

func (d *Neo4jDriver) Stats(ctx context.Context, groupID string) (*GraphStats, error) {
	records, err := d.read(ctx, statsQuery, map[string]any{"group_id": groupID})
	if err != nil {
		return nil, err
	}
	stats := &GraphStats{GroupID: groupID}
	if len(records) == 0 {
		return stats, nil
	}
	rec := records[0]
	if v, ok := rec.Get("episodes"); ok {
		stats.EpisodeCount, _ = v.(int64)
	}
	if v, ok := rec.Get("entities"); ok {
		stats.EntityCount, _ = v.(int64)
	}
	if v, ok := rec.Get("edges"); ok {
		stats.EdgeCount, _ = v.(int64)
	}
	if v, ok := rec.Get("mentions"); ok {
		stats.MentionCount, _ = v.(int64)
	}
	return stats, nil
}

func (d *Neo4jDriver) Close(ctx context.Context) error {
	return d.client.Close(ctx)
}

// labelClause renders ontology labels for a MERGE pattern, always including
// the base Entity label.
func labelClause(labels []string) string {
	var b strings.Builder
	b.WriteString("Entity")
	for _, l := range labels {
		if l == "" || l == "Entity" {
			continue
		}
		b.WriteString(":")
		b.WriteString(sanitizeLabel(l))
	}
	return b.String()
}

func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, r := range label {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "Entity"
	}
	return b.String()
}

// fulltextQuery escapes Lucene operators so user text cannot break the query.
func fulltextQuery(query string) string {
	replacer := strings.NewReplacer(
		"+", " ", "-", " ", "&&", " ", "||", " ", "!", " ", "(", " ", ")", " ",
		"{", " ", "}", " ", "[", " ", "]", " ", "^", " ", "\"", " ", "~", " ",
		"*", " ", "?", " ", ":", " ", "\\", " ", "/", " ",
	)
	return strings.TrimSpace(replacer.Replace(query))
}

func vectorParam(v []float32) []float64 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func timeParam(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// groupIDsParam maps "no filter" onto nil so the queries can test IS NULL.
func groupIDsParam(groupIDs []string) any {
	if len(groupIDs) == 0 {
		return nil
	}
	return groupIDs
}

func encodeAttributes(attrs map[string]interface{}) (string, error) {
	if len(attrs) == 0 {
		return "", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	return string(data), nil
}

func decodeAttributes(s string) (map[string]interface{}, error) {
	if s == "" {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return out, nil
}

func scoreFromRecord(rec *db.Record) float64 {
	if v, ok := rec.Get("score"); ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0
}

func episodeFromRecord(rec *db.Record) (*types.Episode, error) {
	v, ok := rec.Get("n")
	if !ok {
		return nil, fmt.Errorf("record missing episode node")
	}
	node, ok := v.(dbtype.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected episode node type %T", v)
	}
	p := node.Props
	return &types.Episode{
		ID:                propString(p, "id"),
		Name:              propString(p, "name"),
		Body:              propString(p, "body"),
		Kind:              types.EpisodeKind(propString(p, "kind")),
		SourceDescription: propString(p, "source_description"),
		GroupID:           propString(p, "group_id"),
		IngestedAt:        propTime(p, "ingested_at"),
		ReferenceTime:     propTime(p, "reference_time"),
		ProcessingError:   propString(p, "processing_error"),
	}, nil
}

func episodesFromRecords(records []*db.Record) ([]*types.Episode, error) {
	out := make([]*types.Episode, 0, len(records))
	for _, rec := range records {
		ep, err := episodeFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

func entityFromRecord(rec *db.Record, key string) (*types.Entity, error) {
	v, ok := rec.Get(key)
	if !ok {
		return nil, fmt.Errorf("record missing entity node")
	}
	node, ok := v.(dbtype.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected entity node type %T", v)
	}
	p := node.Props
	attrs, err := decodeAttributes(propString(p, "attributes"))
	if err != nil {
		return nil, err
	}
	return &types.Entity{
		ID:         propString(p, "id"),
		Name:       propString(p, "name"),
		Summary:    propString(p, "summary"),
		Labels:     propStrings(p, "labels"),
		Attributes: attrs,
		Embedding:  propVector(p, "embedding"),
		GroupID:    propString(p, "group_id"),
		CreatedAt:  propTime(p, "created_at"),
	}, nil
}

func edgeFromRecord(rec *db.Record) (*types.EntityEdge, error) {
	v, ok := rec.Get("r")
	if !ok {
		return nil, fmt.Errorf("record missing relationship")
	}
	rel, ok := v.(dbtype.Relationship)
	if !ok {
		return nil, fmt.Errorf("unexpected relationship type %T", v)
	}
	p := rel.Props
	attrs, err := decodeAttributes(propString(p, "attributes"))
	if err != nil {
		return nil, err
	}
	edge := &types.EntityEdge{
		ID:            propString(p, "id"),
		SourceID:      propString(p, "source_id"),
		TargetID:      propString(p, "target_id"),
		Name:          propString(p, "name"),
		Fact:          propString(p, "fact"),
		FactEmbedding: propVector(p, "fact_embedding"),
		GroupID:       propString(p, "group_id"),
		CreatedAt:     propTime(p, "created_at"),
		ValidAt:       propTimePtr(p, "valid_at"),
		InvalidAt:     propTimePtr(p, "invalid_at"),
		ExpiredAt:     propTimePtr(p, "expired_at"),
		Episodes:      propStrings(p, "episode_ids"),
		OriginalFact:  propString(p, "original_fact"),
		UpdateReason:  propString(p, "update_reason"),
		Attributes:    attrs,
	}
	return edge, nil
}

func edgesFromRecords(records []*db.Record) ([]*types.EntityEdge, error) {
	out := make([]*types.EntityEdge, 0, len(records))
	for _, rec := range records {
		e, err := edgeFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func mentionsFromRecords(records []*db.Record) ([]*types.MentionEdge, error) {
	out := make([]*types.MentionEdge, 0, len(records))
	for _, rec := range records {
		v, ok := rec.Get("r")
		if !ok {
			return nil, fmt.Errorf("record missing mention relationship")
		}
		rel, ok := v.(dbtype.Relationship)
		if !ok {
			return nil, fmt.Errorf("unexpected mention type %T", v)
		}
		p := rel.Props
		out = append(out, &types.MentionEdge{
			ID:        propString(p, "id"),
			EpisodeID: propString(p, "episode_id"),
			EntityID:  propString(p, "entity_id"),
			GroupID:   propString(p, "group_id"),
			Operation: types.MentionOperation(propString(p, "operation")),
			CreatedAt: propTime(p, "created_at"),
		})
	}
	return out, nil
}

func propString(p map[string]any, key string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func propStrings(p map[string]any, key string) []string {
	v, ok := p[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func propVector(p map[string]any, key string) []float32 {
	v, ok := p[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []float32:
		return vv
	case []float64:
		out := make([]float32, len(vv))
		for i, x := range vv {
			out[i] = float32(x)
		}
		return out
	case []any:
		out := make([]float32, 0, len(vv))
		for _, x := range vv {
			if f, ok := x.(float64); ok {
				out = append(out, float32(f))
			}
		}
		return out
	}
	return nil
}

func propTime(p map[string]any, key string) time.Time {
	if t := propTimePtr(p, key); t != nil {
		return *t
	}
	return time.Time{}
}

func propTimePtr(p map[string]any, key string) *time.Time {
	v, ok := p[key]
	if !ok || v == nil {
		return nil
	}
	switch vv := v.(type) {
	case time.Time:
		t := vv.UTC()
		return &t
	case dbtype.Time:
		t := vv.Time().UTC()
		return &t
	case string:
		if t, err := time.Parse(time.RFC3339, vv); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
