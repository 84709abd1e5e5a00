package chronograph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/chronograph/pkg/prompts"
	"github.com/soundprediction/chronograph/pkg/queue"
	"github.com/soundprediction/chronograph/pkg/resolver"
	"github.com/soundprediction/chronograph/pkg/types"
)

// candidateEntityLimit bounds the likely-related entities pre-fetched as
// extraction context.
const candidateEntityLimit = 20

// IngestRequest describes one episode to ingest.
type IngestRequest struct {
	// ID makes ingestion idempotent when supplied; otherwise one is minted.
	ID   string
	Name string
	Body string
	// Kind is text, structured, or conversation; empty means text.
	Kind              string
	SourceDescription string
	// SourceURL, when set, is appended to the source description so the
	// citation chain can recover it.
	SourceURL string
	GroupID   string
	// ReferenceTime is when the described event occurred; defaults to the
	// ingestion instant.
	ReferenceTime *time.Time
}

// IngestAck acknowledges an accepted episode. Processing is asynchronous;
// the task handle reports progress and completion.
type IngestAck struct {
	EpisodeID string
	Name      string
	GroupID   string
	Task      *queue.Task
}

// Ingest validates and enqueues an episode, returning as soon as the episode
// is accepted by the group queue.
func (c *Client) Ingest(req IngestRequest) (*IngestAck, error) {
	kind, err := types.ParseEpisodeKind(req.Kind)
	if err != nil {
		return nil, err
	}
	groupID := req.GroupID
	if groupID == "" {
		groupID = c.defaultGroupID
	}
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	referenceTime := now
	if req.ReferenceTime != nil {
		referenceTime = req.ReferenceTime.UTC()
	}

	sourceDescription := req.SourceDescription
	if req.SourceURL != "" {
		if sourceDescription != "" {
			sourceDescription = fmt.Sprintf("%s, source_url: %s", sourceDescription, req.SourceURL)
		} else {
			sourceDescription = fmt.Sprintf("source_url: %s", req.SourceURL)
		}
	}

	episode := &types.Episode{
		ID:                id,
		Name:              req.Name,
		Body:              req.Body,
		Kind:              kind,
		SourceDescription: sourceDescription,
		GroupID:           groupID,
		IngestedAt:        now,
		ReferenceTime:     referenceTime,
	}

	task, err := c.queue.Submit(episode)
	if err != nil {
		return nil, err
	}
	go c.recordOutcome(task)

	return &IngestAck{
		EpisodeID: episode.ID,
		Name:      episode.Name,
		GroupID:   groupID,
		Task:      task,
	}, nil
}

// recordOutcome flags the persisted episode when processing ultimately
// failed, so failures stay observable and are never silently reprocessed.
func (c *Client) recordOutcome(task *queue.Task) {
	<-task.Done()
	if task.State() != queue.StateFailed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	episode, err := c.driver.GetEpisode(ctx, task.Episode().ID)
	if err != nil {
		return
	}
	episode.ProcessingError = task.Err().Error()
	if err := c.driver.UpsertEpisode(ctx, episode); err != nil {
		c.logger.Error("recording episode failure", "episode_id", episode.ID, "error", err)
	}
}

// ingestCounts accumulates the per-episode completion metrics.
type ingestCounts struct {
	entitiesCreated int
	entitiesMerged  int
	edgesCreated    int
	duplicates      int
	contradictions  int
	skipped         int
}

// processEpisode is the queue handler: the extract, resolve, persist
// transaction for one episode. Prior to the persistence phase cancellation
// aborts cleanly; once persistence starts the step runs to completion so the
// graph never ends up half-written.
func (c *Client) processEpisode(ctx context.Context, task *queue.Task) error {
	episode := task.Episode()
	start := time.Now()

	if err := c.driver.UpsertEpisode(ctx, episode); err != nil {
		return fmt.Errorf("persist episode: %w", err)
	}

	task.SetPhase(queue.StateExtracting)

	bodyVector, err := c.embedder.EmbedSingle(ctx, episode.Body)
	if err != nil {
		return fmt.Errorf("embed episode body: %w", err)
	}
	known, err := c.knownEntities(ctx, episode.GroupID, bodyVector)
	if err != nil {
		return err
	}

	extracted, err := c.extractEntities(ctx, episode, known)
	if err != nil {
		return err
	}

	facts, err := c.extractFacts(ctx, episode, extracted, known)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	task.SetPhase(queue.StateResolving)
	counts := &ingestCounts{}

	// Persistence must not be torn by cancellation.
	persistCtx := context.WithoutCancel(ctx)

	byName, err := c.resolveEntities(persistCtx, episode, extracted, counts)
	if err != nil {
		return err
	}

	task.SetPhase(queue.StatePersisting)
	if err := c.resolveFacts(persistCtx, episode, facts, byName, counts); err != nil {
		return err
	}

	c.logger.Info("episode processed",
		"group_id", episode.GroupID,
		"episode_id", episode.ID,
		"entities_created", counts.entitiesCreated,
		"entities_merged", counts.entitiesMerged,
		"edges_created", counts.edgesCreated,
		"duplicates", counts.duplicates,
		"contradictions", counts.contradictions,
		"skipped", counts.skipped,
		"retries", task.Retries(),
		"duration", time.Since(start))
	return nil
}

// knownEntities pre-fetches likely-related entities by kNN over the episode
// body embedding, used as reuse context for the extraction prompt.
func (c *Client) knownEntities(ctx context.Context, groupID string, bodyVector []float32) ([]*types.Entity, error) {
	scored, err := c.driver.EntityVectorSearch(ctx, bodyVector, []string{groupID}, candidateEntityLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch entity candidates: %w", err)
	}
	out := make([]*types.Entity, len(scored))
	for i, s := range scored {
		out[i] = s.Entity
	}
	return out, nil
}

func (c *Client) extractEntities(ctx context.Context, episode *types.Episode, known []*types.Entity) ([]prompts.ExtractedEntity, error) {
	messages := prompts.ExtractEntities(prompts.EntityContext{
		Episode:             episode,
		OntologyDescription: c.ontology.PromptDescription(),
		KnownEntities:       known,
	})
	resp, err := c.nlp.ChatWithStructuredOutput(ctx, messages, prompts.ExtractedEntities{})
	if err != nil {
		return nil, fmt.Errorf("entity extraction: %w", err)
	}
	var envelope prompts.ExtractedEntities
	if err := prompts.DecodeResponse(resp, &envelope); err != nil {
		return nil, fmt.Errorf("entity extraction: %w", err)
	}
	return envelope.Entities, nil
}

func (c *Client) extractFacts(ctx context.Context, episode *types.Episode, extracted []prompts.ExtractedEntity, known []*types.Entity) ([]prompts.ExtractedFact, error) {
	if len(extracted) == 0 {
		return nil, nil
	}
	// Extraction runs before resolution so cancellation can still abort with
	// zero graph writes; the prompt therefore sees extracted rather than
	// canonical names, and resolveFacts maps both spellings to the resolved
	// entity afterwards.
	entities := make([]*types.Entity, len(extracted))
	for i, e := range extracted {
		label := e.Label
		if label == "" {
			label = "Entity"
		}
		entities[i] = &types.Entity{Name: e.Name, Labels: []string{label}}
	}
	messages := prompts.ExtractFacts(prompts.FactContext{
		Episode:  episode,
		Entities: entities,
	})
	resp, err := c.nlp.ChatWithStructuredOutput(ctx, messages, prompts.ExtractedFacts{})
	if err != nil {
		return nil, fmt.Errorf("fact extraction: %w", err)
	}
	var envelope prompts.ExtractedFacts
	if err := prompts.DecodeResponse(resp, &envelope); err != nil {
		return nil, fmt.Errorf("fact extraction: %w", err)
	}
	return envelope.Facts, nil
}

// resolveEntities runs the deduplication rule for each extracted entity and
// records a mention from the episode to every resolved entity.
func (c *Client) resolveEntities(ctx context.Context, episode *types.Episode, extracted []prompts.ExtractedEntity, counts *ingestCounts) (map[string]*types.Entity, error) {
	byName := make(map[string]*types.Entity, len(extracted))
	if len(extracted) == 0 {
		return byName, nil
	}

	names := make([]string, len(extracted))
	for i, e := range extracted {
		names[i] = e.Name
	}
	vectors, err := c.embedder.Embed(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("embed entity names: %w", err)
	}

	now := time.Now().UTC()
	for i, cand := range extracted {
		res, err := c.entities.Resolve(ctx, episode.GroupID, cand, vectors[i], now)
		if err != nil {
			// Items the ontology rejects are dropped, not fatal.
			c.logger.Warn("dropping extracted entity",
				"group_id", episode.GroupID,
				"episode_id", episode.ID,
				"name", cand.Name,
				"error", err)
			counts.skipped++
			continue
		}
		if res.Created {
			counts.entitiesCreated++
		} else if res.Updated {
			counts.entitiesMerged++
		}
		byName[normalizeKey(cand.Name)] = res.Entity
		byName[normalizeKey(res.Entity.Name)] = res.Entity

		if err := c.driver.UpsertMention(ctx, &types.MentionEdge{
			ID:        uuid.New().String(),
			EpisodeID: episode.ID,
			EntityID:  res.Entity.ID,
			GroupID:   episode.GroupID,
			Operation: mentionOperation(res),
			CreatedAt: now,
		}); err != nil {
			return nil, fmt.Errorf("persist mention: %w", err)
		}
	}
	return byName, nil
}

// resolveFacts runs the contradiction/duplicate rule for each extracted fact.
func (c *Client) resolveFacts(ctx context.Context, episode *types.Episode, facts []prompts.ExtractedFact, byName map[string]*types.Entity, counts *ingestCounts) error {
	if len(facts) == 0 {
		return nil
	}

	texts := make([]string, len(facts))
	for i, f := range facts {
		texts[i] = f.Fact
	}
	vectors, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed facts: %w", err)
	}

	now := time.Now().UTC()
	for i, f := range facts {
		source, ok := byName[normalizeKey(f.SourceName)]
		if !ok {
			counts.skipped++
			continue
		}
		target, ok := byName[normalizeKey(f.TargetName)]
		if !ok || source.ID == target.ID {
			counts.skipped++
			continue
		}

		validAt, _ := prompts.ParseTimestamp(f.ValidAt)
		invalidAt, _ := prompts.ParseTimestamp(f.InvalidAt)

		res, err := c.edges.Resolve(ctx, resolver.EdgeCandidate{
			SourceID:      source.ID,
			TargetID:      target.ID,
			RelationName:  f.RelationName,
			Fact:          f.Fact,
			FactEmbedding: vectors[i],
			ValidAt:       validAt,
			InvalidAt:     invalidAt,
			Negates:       f.Negates,
			EpisodeID:     episode.ID,
			ReferenceTime: episode.ReferenceTime,
			GroupID:       episode.GroupID,
		}, now)
		if err != nil {
			// Malformed intervals or names are model output problems, not
			// pipeline failures.
			if errors.Is(err, types.ErrInvalidInterval) || errors.Is(err, types.ErrEmptyName) {
				c.logger.Warn("dropping extracted fact",
					"group_id", episode.GroupID,
					"episode_id", episode.ID,
					"relation", f.RelationName,
					"error", err)
				counts.skipped++
				continue
			}
			return fmt.Errorf("resolve fact: %w", err)
		}

		switch res.Outcome {
		case resolver.EdgeCreated:
			counts.edgesCreated++
		case resolver.EdgeDuplicate:
			counts.duplicates++
		case resolver.EdgeContradiction:
			counts.contradictions++
			// A pure negation invalidates without a replacement edge.
			if res.Invalidated == nil || res.Edge.ID != res.Invalidated.ID {
				counts.edgesCreated++
			}
		}
	}
	return nil
}

func mentionOperation(res *resolver.EntityResolution) types.MentionOperation {
	switch {
	case res.Created:
		return types.MentionCreated
	case res.Updated:
		return types.MentionUpdated
	default:
		return types.MentionReferenced
	}
}

func normalizeKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
