package driver

import "fmt"

// Cypher used by Neo4jDriver. Episodes are Episodic nodes, entities are
// Entity nodes with additional ontology labels, relations are RELATES_TO
// relationships and provenance links are MENTIONS relationships.

const upsertEpisodeQuery = `
	MERGE (n:Episodic {id: $id})
	SET n.name = $name,
	    n.body = $body,
	    n.kind = $kind,
	    n.source_description = $source_description,
	    n.group_id = $group_id,
	    n.ingested_at = $ingested_at,
	    n.reference_time = $reference_time,
	    n.processing_error = $processing_error
`

const getEpisodeQuery = `
	MATCH (n:Episodic {id: $id})
	RETURN n
	LIMIT 1
`

const getEpisodeByNameQuery = `
	MATCH (n:Episodic {group_id: $group_id, name: $name})
	RETURN n
	LIMIT 1
`

const getEpisodesQuery = `
	MATCH (n:Episodic)
	WHERE n.id IN $ids
	RETURN n
`

const recentEpisodesQuery = `
	MATCH (n:Episodic)
	WHERE $group_ids IS NULL OR n.group_id IN $group_ids
	RETURN n
	ORDER BY n.ingested_at DESC, n.id ASC
	LIMIT $limit
`

// cascadeEdgesQuery removes the episode from each supporting edge's
// provenance list, deleting edges that lose their last supporter. Returns one
// row per touched edge so the caller can garbage collect orphaned entities.
const cascadeEdgesQuery = `
	MATCH (s:Entity)-[r:RELATES_TO]->(t:Entity)
	WHERE $id IN r.episode_ids
	WITH s, t, r,
	     [e IN r.episode_ids WHERE e <> $id] AS remaining,
	     r.id AS edge_id
	FOREACH (_ IN CASE WHEN size(remaining) > 0 THEN [1] ELSE [] END |
	    SET r.episode_ids = remaining)
	WITH s, t, r, remaining, edge_id, size(remaining) = 0 AS doomed
	FOREACH (_ IN CASE WHEN doomed THEN [1] ELSE [] END | DELETE r)
	RETURN edge_id, doomed AS deleted, s.id AS source_id, t.id AS target_id
`

const cascadeMentionsQuery = `
	MATCH (:Episodic {id: $id})-[r:MENTIONS]->(e:Entity)
	WITH r, e.id AS entity_id
	DELETE r
	RETURN entity_id
`

const deleteEpisodeQuery = `
	MATCH (n:Episodic {id: $id})
	DETACH DELETE n
`

// gcOrphanEntityQuery deletes the entity when nothing references it anymore.
// Returns a row only when a delete happened.
const gcOrphanEntityQuery = `
	MATCH (e:Entity {id: $id})
	WHERE NOT (e)-[:RELATES_TO]-() AND NOT ()-[:MENTIONS]->(e)
	WITH e, e.id AS deleted_id
	DELETE e
	RETURN deleted_id
`

// upsertEntityQueryTemplate takes the sanitized label clause via Sprintf;
// labels are not parameterizable in Cypher.
const upsertEntityQueryTemplate = `
	MERGE (n:%s {id: $id})
	SET n.name = $name,
	    n.normalized_name = $normalized_name,
	    n.summary = $summary,
	    n.labels = $labels,
	    n.attributes = $attributes,
	    n.embedding = $embedding,
	    n.group_id = $group_id,
	    n.created_at = $created_at
`

const getEntityQuery = `
	MATCH (n:Entity {id: $id})
	RETURN n
	LIMIT 1
`

const getEntitiesByNameQuery = `
	MATCH (n:Entity {group_id: $group_id, normalized_name: $normalized_name})
	RETURN n
	ORDER BY n.id ASC
`

const deleteEntityQuery = `
	MATCH (n:Entity {id: $id})
	WITH n, n.id AS deleted_id
	DETACH DELETE n
	RETURN deleted_id
`

// Relation endpoints and ids are duplicated as relationship properties so an
// edge can be rehydrated without re-matching its endpoint nodes.
const upsertEdgeQuery = `
	MATCH (s:Entity {id: $source_id}), (t:Entity {id: $target_id})
	MERGE (s)-[r:RELATES_TO {id: $id}]->(t)
	SET r.source_id = $source_id,
	    r.target_id = $target_id,
	    r.name = $name,
	    r.fact = $fact,
	    r.fact_embedding = $fact_embedding,
	    r.group_id = $group_id,
	    r.created_at = $created_at,
	    r.valid_at = $valid_at,
	    r.invalid_at = $invalid_at,
	    r.expired_at = $expired_at,
	    r.episode_ids = $episode_ids,
	    r.original_fact = $original_fact,
	    r.update_reason = $update_reason,
	    r.attributes = $attributes
`

const getEdgeQuery = `
	MATCH ()-[r:RELATES_TO {id: $id}]->()
	RETURN r
	LIMIT 1
`

const edgesBetweenQuery = `
	MATCH (:Entity {id: $source_id})-[r:RELATES_TO]->(:Entity {id: $target_id})
	WHERE $name = '' OR r.name = $name
	RETURN r
	ORDER BY r.created_at ASC
`

const edgesForEntityQuery = `
	MATCH (e:Entity {id: $id})-[r:RELATES_TO]-()
	RETURN DISTINCT r
	ORDER BY r.created_at ASC
`

const deleteEdgeQuery = `
	MATCH ()-[r:RELATES_TO {id: $id}]->()
	WITH r, r.id AS deleted_id
	DELETE r
	RETURN deleted_id
`

const upsertMentionQuery = `
	MATCH (ep:Episodic {id: $episode_id}), (e:Entity {id: $entity_id})
	MERGE (ep)-[r:MENTIONS {id: $id}]->(e)
	SET r.episode_id = $episode_id,
	    r.entity_id = $entity_id,
	    r.group_id = $group_id,
	    r.operation = $operation,
	    r.created_at = $created_at
`

const mentionsForEntityQuery = `
	MATCH (:Episodic)-[r:MENTIONS]->(:Entity {id: $id})
	RETURN r
	ORDER BY r.created_at ASC, r.id ASC
`

const mentionsForEpisodeQuery = `
	MATCH (:Episodic {id: $id})-[r:MENTIONS]->(:Entity)
	RETURN r
	ORDER BY r.id ASC
`

const entityVectorSearchQuery = `
	CALL db.index.vector.queryNodes('entity_embedding', $candidates, $vector)
	YIELD node AS n, score
	WHERE $group_ids IS NULL OR n.group_id IN $group_ids
	RETURN n, score
	ORDER BY score DESC, n.created_at DESC, n.id ASC
	LIMIT $limit
`

const edgeVectorSearchQuery = `
	CALL db.index.vector.queryRelationships('edge_fact_embedding', $candidates, $vector)
	YIELD relationship AS r, score
	WHERE $group_ids IS NULL OR r.group_id IN $group_ids
	RETURN r, score
	ORDER BY score DESC, r.created_at DESC, r.id ASC
	LIMIT $limit
`

const entityLexicalSearchQuery = `
	CALL db.index.fulltext.queryNodes('entity_text', $query)
	YIELD node AS n, score
	WHERE $group_ids IS NULL OR n.group_id IN $group_ids
	RETURN n, score
	ORDER BY score DESC, n.created_at DESC, n.id ASC
	LIMIT $limit
`

const edgeLexicalSearchQuery = `
	CALL db.index.fulltext.queryRelationships('edge_text', $query)
	YIELD relationship AS r, score
	WHERE $group_ids IS NULL OR r.group_id IN $group_ids
	RETURN r, score
	ORDER BY score DESC, r.created_at DESC, r.id ASC
	LIMIT $limit
`

const episodeLexicalSearchQuery = `
	CALL db.index.fulltext.queryNodes('episode_text', $query)
	YIELD node AS n, score
	WHERE $group_ids IS NULL OR n.group_id IN $group_ids
	RETURN n, score
	ORDER BY score DESC, n.ingested_at DESC, n.id ASC
	LIMIT $limit
`

// neighborhoodQueryTemplate takes the hop bound via Sprintf; variable-length
// pattern bounds cannot be parameterized.
const neighborhoodQueryTemplate = `
	MATCH p = (c:Entity {id: $id})-[:RELATES_TO*1..%d]-(n:Entity)
	WHERE n.id <> c.id
	RETURN n.id AS id, min(length(p)) AS hops
`

const clearGroupQuery = `
	MATCH (n {group_id: $group_id})
	DETACH DELETE n
`

const statsQuery = `
	OPTIONAL MATCH (ep:Episodic {group_id: $group_id})
	WITH count(ep) AS episodes
	OPTIONAL MATCH (e:Entity {group_id: $group_id})
	WITH episodes, count(e) AS entities
	OPTIONAL MATCH ()-[r:RELATES_TO {group_id: $group_id}]->()
	WITH episodes, entities, count(r) AS edges
	OPTIONAL MATCH ()-[m:MENTIONS {group_id: $group_id}]->()
	RETURN episodes, entities, edges, count(m) AS mentions
`

// schemaQueries returns the index and constraint DDL, dimension-typed for the
// configured embedder.
func schemaQueries(dimensions int) []string {
	return []string{
		`CREATE CONSTRAINT episode_id IF NOT EXISTS FOR (n:Episodic) REQUIRE n.id IS UNIQUE`,
		`CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (n:Entity) REQUIRE n.id IS UNIQUE`,
		`CREATE INDEX episode_group IF NOT EXISTS FOR (n:Episodic) ON (n.group_id)`,
		`CREATE INDEX entity_group_name IF NOT EXISTS FOR (n:Entity) ON (n.group_id, n.normalized_name)`,
		`CREATE INDEX edge_group IF NOT EXISTS FOR ()-[r:RELATES_TO]-() ON (r.group_id)`,
		`CREATE FULLTEXT INDEX entity_text IF NOT EXISTS FOR (n:Entity) ON EACH [n.name, n.summary]`,
		`CREATE FULLTEXT INDEX edge_text IF NOT EXISTS FOR ()-[r:RELATES_TO]-() ON EACH [r.name, r.fact]`,
		`CREATE FULLTEXT INDEX episode_text IF NOT EXISTS FOR (n:Episodic) ON EACH [n.name, n.body]`,
		fmt.Sprintf(`CREATE VECTOR INDEX entity_embedding IF NOT EXISTS
			FOR (n:Entity) ON (n.embedding)
			OPTIONS {indexConfig: {` + "`vector.dimensions`" + `: %d, ` + "`vector.similarity_function`" + `: 'cosine'}}`, dimensions),
		fmt.Sprintf(`CREATE VECTOR INDEX edge_fact_embedding IF NOT EXISTS
			FOR ()-[r:RELATES_TO]-() ON (r.fact_embedding)
			OPTIONS {indexConfig: {` + "`vector.dimensions`" + `: %d, ` + "`vector.similarity_function`" + `: 'cosine'}}`, dimensions),
	}
}
