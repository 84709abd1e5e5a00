package chronograph

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/prompts"
	"github.com/soundprediction/chronograph/pkg/queue"
	"github.com/soundprediction/chronograph/pkg/search"
	"github.com/soundprediction/chronograph/pkg/types"
)

// scriptedLLM answers extraction prompts from canned scripts keyed on the
// prompt text, and can fail a leading number of calls to exercise retry.
type scriptedLLM struct {
	mu       sync.Mutex
	calls    int
	failures int
	failErr  error
	entities func(prompt string) string
	facts    func(prompt string) string
	onCall   func(prompt string)
}

func (s *scriptedLLM) Chat(_ context.Context, messages []nlp.Message) (*nlp.Response, error) {
	return &nlp.Response{Content: "ok"}, nil
}

func (s *scriptedLLM) ChatWithStructuredOutput(_ context.Context, messages []nlp.Message, schema any) (*nlp.Response, error) {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	prompt := b.String()

	s.mu.Lock()
	s.calls++
	if s.failures != 0 {
		s.failures--
		err := s.failErr
		s.mu.Unlock()
		return nil, err
	}
	entities, facts, onCall := s.entities, s.facts, s.onCall
	s.mu.Unlock()

	if onCall != nil {
		onCall(prompt)
	}
	switch schema.(type) {
	case prompts.ExtractedEntities:
		if entities == nil {
			return &nlp.Response{Content: `{"entities": []}`}, nil
		}
		return &nlp.Response{Content: entities(prompt)}, nil
	case prompts.ExtractedFacts:
		if facts == nil {
			return &nlp.Response{Content: `{"facts": []}`}, nil
		}
		return &nlp.Response{Content: facts(prompt)}, nil
	default:
		return nil, fmt.Errorf("unexpected schema %T", schema)
	}
}

func (s *scriptedLLM) Close() error { return nil }

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// hashEmbedder produces a deterministic unit vector per distinct text, so
// identical strings always land on the same point and distinct strings are
// nearly orthogonal.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t)
	}
	return out, nil
}

func (hashEmbedder) EmbedSingle(_ context.Context, text string) ([]float32, error) {
	return hashVector(text), nil
}

func (hashEmbedder) Dimensions() int { return 8 }
func (hashEmbedder) Close() error    { return nil }

func hashVector(text string) []float32 {
	v := make([]float32, 8)
	var norm float64
	for i := range v {
		h := fnv.New32a()
		fmt.Fprintf(h, "%d:%s", i, text)
		v[i] = float32(int32(h.Sum32()%2001)-1000) / 1000
		norm += float64(v[i]) * float64(v[i])
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

func newTestClient(t *testing.T, llm nlp.Client) *Client {
	t.Helper()
	c, err := New(Options{
		Driver:         driver.NewMemoryDriver(),
		NLP:            llm,
		Embedder:       hashEmbedder{},
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		DefaultGroupID: "test",
		Retry:          nlp.RetryConfig{MaxAttempts: 4, Base: time.Millisecond, Cap: 5 * time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func waitTask(t *testing.T, task *queue.Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("task %s did not finish", task.Episode().ID)
	}
}

func employmentScript() *scriptedLLM {
	return &scriptedLLM{
		entities: func(prompt string) string {
			return `{"entities": [
				{"name": "Alice", "label": "Person", "attributes": {"role": "engineer"}, "summary": "An engineer at Acme Corp."},
				{"name": "Acme Corp", "label": "Organization"}
			]}`
		},
		facts: func(prompt string) string {
			return `{"facts": [
				{"source_name": "Alice", "target_name": "Acme Corp", "relation_name": "works_at",
				 "fact_text": "Alice works at Acme Corp as an engineer", "valid_at": "2024-01-15"}
			]}`
		},
	}
}

func TestIngestBuildsGraphFromEpisode(t *testing.T) {
	c := newTestClient(t, employmentScript())
	ctx := context.Background()

	ack, err := c.Ingest(IngestRequest{
		Name:              "alice joins",
		Body:              "Alice joined Acme Corp as an engineer in January 2024.",
		SourceDescription: "HR system",
		SourceURL:         "https://hr.example.com/alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "test", ack.GroupID)
	waitTask(t, ack.Task)
	require.Equal(t, queue.StateDone, ack.Task.State())

	stats, err := c.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.EpisodeCount)
	assert.Equal(t, int64(2), stats.EntityCount)
	assert.Equal(t, int64(1), stats.EdgeCount)
	assert.Equal(t, int64(2), stats.MentionCount)

	results, err := c.SearchEdges(ctx, search.EdgeQuery{Text: "Alice works engineer", MaxResults: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	edge := results[0].Edge
	assert.Equal(t, "works_at", edge.Name)
	require.NotNil(t, edge.ValidAt)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), edge.ValidAt.UTC())
	assert.Equal(t, []string{ack.EpisodeID}, edge.Episodes)

	require.Len(t, results[0].Citations, 1)
	cite := results[0].Citations[0]
	assert.Equal(t, ack.EpisodeID, cite.EpisodeID)
	assert.Equal(t, "https://hr.example.com/alice", cite.SourceURL)

	// Both entities cite the creating episode with the created tag.
	nodes, err := c.SearchNodes(ctx, search.NodeQuery{Text: "Alice", MaxResults: 5})
	require.NoError(t, err)
	require.NotEmpty(t, nodes)
	require.NotEmpty(t, nodes[0].Citations)
	assert.Equal(t, types.MentionCreated, nodes[0].Citations[0].Operation)
}

func TestIngestIsIdempotentOnEpisodeID(t *testing.T) {
	c := newTestClient(t, employmentScript())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ack, err := c.Ingest(IngestRequest{
			ID:   "ep-1",
			Name: "alice joins",
			Body: "Alice joined Acme Corp as an engineer in January 2024.",
		})
		require.NoError(t, err)
		waitTask(t, ack.Task)
		require.Equal(t, queue.StateDone, ack.Task.State())
	}

	stats, err := c.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.EpisodeCount)
	assert.Equal(t, int64(2), stats.EntityCount)
	// The second pass resolves the same fact as a duplicate of the first.
	assert.Equal(t, int64(1), stats.EdgeCount)
}

func TestContradictionInvalidatesEarlierEdge(t *testing.T) {
	script := &scriptedLLM{
		entities: func(prompt string) string {
			return `{"entities": [
				{"name": "Alice", "label": "Person"},
				{"name": "Acme Corp", "label": "Organization"}
			]}`
		},
		facts: func(prompt string) string {
			if strings.Contains(prompt, "left Acme") {
				return `{"facts": [
					{"source_name": "Alice", "target_name": "Acme Corp", "relation_name": "works_at",
					 "fact_text": "Alice no longer works at Acme Corp", "negates": true, "valid_at": "2024-03-01"}
				]}`
			}
			return `{"facts": [
				{"source_name": "Alice", "target_name": "Acme Corp", "relation_name": "works_at",
				 "fact_text": "Alice works at Acme Corp", "valid_at": "2024-01-15"}
			]}`
		},
	}
	c := newTestClient(t, script)
	ctx := context.Background()

	first, err := c.Ingest(IngestRequest{Name: "join", Body: "Alice joined Acme Corp in January 2024."})
	require.NoError(t, err)
	second, err := c.Ingest(IngestRequest{Name: "leave", Body: "Alice left Acme Corp in March 2024."})
	require.NoError(t, err)
	waitTask(t, first.Task)
	waitTask(t, second.Task)
	require.Equal(t, queue.StateDone, first.Task.State())
	require.Equal(t, queue.StateDone, second.Task.State())

	results, err := c.SearchEdges(ctx, search.EdgeQuery{
		Text:           "Alice Acme",
		MaxResults:     10,
		IncludeExpired: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	var original, replacement *types.EntityEdge
	for _, r := range results {
		if r.Edge.InvalidAt != nil {
			original = r.Edge
		} else {
			replacement = r.Edge
		}
	}
	require.NotNil(t, original)
	require.NotNil(t, replacement)

	// The earlier assertion is closed at the moment the later one took effect.
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), original.InvalidAt.UTC())
	assert.Nil(t, original.ExpiredAt)
	assert.Contains(t, original.Episodes, second.EpisodeID)

	assert.Equal(t, "Alice no longer works at Acme Corp", replacement.Fact)
	assert.True(t, replacement.IsCurrent(time.Now()))

	// Default search keeps the invalidated edge visible: invalidation is
	// valid-time history, not soft-update expiry.
	current, err := c.SearchEdges(ctx, search.EdgeQuery{Text: "Alice Acme", MaxResults: 10})
	require.NoError(t, err)
	assert.Len(t, current, 2)
}

func TestEpisodesProcessSeriallyWithinGroup(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	script := &scriptedLLM{
		onCall: func(prompt string) {
			mu.Lock()
			defer mu.Unlock()
			for i := 0; i < 10; i++ {
				marker := fmt.Sprintf("body-%d", i)
				if strings.Contains(prompt, marker) {
					seen = append(seen, marker)
					return
				}
			}
		},
	}
	c := newTestClient(t, script)

	var tasks []*queue.Task
	for i := 0; i < 10; i++ {
		ack, err := c.Ingest(IngestRequest{
			Name:    fmt.Sprintf("episode %d", i),
			Body:    fmt.Sprintf("body-%d", i),
			GroupID: "serial",
		})
		require.NoError(t, err)
		tasks = append(tasks, ack.Task)
	}
	for _, task := range tasks {
		waitTask(t, task)
		require.Equal(t, queue.StateDone, task.State())
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 10)
	for i, marker := range seen {
		assert.Equal(t, fmt.Sprintf("body-%d", i), marker)
	}
}

func TestGroupsProcessInParallel(t *testing.T) {
	started := make(chan string, 10)
	release := make(chan struct{})
	script := &scriptedLLM{
		onCall: func(prompt string) {
			started <- "x"
			<-release
		},
	}
	c := newTestClient(t, script)

	var tasks []*queue.Task
	for i := 0; i < 10; i++ {
		ack, err := c.Ingest(IngestRequest{
			Name:    fmt.Sprintf("episode %d", i),
			Body:    fmt.Sprintf("group body %d", i),
			GroupID: fmt.Sprintf("group-%d", i),
		})
		require.NoError(t, err)
		tasks = append(tasks, ack.Task)
	}

	// All ten groups must reach the model concurrently before any is released.
	for i := 0; i < 10; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d groups started", i)
		}
	}
	close(release)
	for _, task := range tasks {
		waitTask(t, task)
		require.Equal(t, queue.StateDone, task.State())
	}
}

func TestRateLimitedEpisodeRetriesThenSucceeds(t *testing.T) {
	script := employmentScript()
	script.failures = 2
	script.failErr = nlp.NewRateLimitError("429")
	c := newTestClient(t, script)
	ctx := context.Background()

	ack, err := c.Ingest(IngestRequest{Name: "join", Body: "Alice joined Acme Corp as an engineer in January 2024."})
	require.NoError(t, err)
	waitTask(t, ack.Task)

	require.Equal(t, queue.StateDone, ack.Task.State())
	assert.Equal(t, 2, ack.Task.Retries())
	// Two failed attempts, then one entity and one fact call.
	assert.Equal(t, 4, script.callCount())

	// The result is indistinguishable from an episode that never hit the limit.
	stats, err := c.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.EntityCount)
	assert.Equal(t, int64(1), stats.EdgeCount)
}

func TestExhaustedRetriesRecordProcessingError(t *testing.T) {
	script := &scriptedLLM{failures: -1, failErr: nlp.NewRateLimitError("429")}
	c := newTestClient(t, script)
	ctx := context.Background()

	ack, err := c.Ingest(IngestRequest{Name: "doomed", Body: "never extracted"})
	require.NoError(t, err)
	waitTask(t, ack.Task)
	require.Equal(t, queue.StateFailed, ack.Task.State())

	// The episode stays persisted with the failure recorded on it.
	require.Eventually(t, func() bool {
		ep, err := c.GetEpisode(ctx, ack.EpisodeID)
		return err == nil && ep.ProcessingError != ""
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBadOutputFailsWithoutRetry(t *testing.T) {
	script := &scriptedLLM{
		entities: func(prompt string) string { return "this is not json at all {{{" },
	}
	c := newTestClient(t, script)

	ack, err := c.Ingest(IngestRequest{Name: "garbled", Body: "some body"})
	require.NoError(t, err)
	waitTask(t, ack.Task)

	require.Equal(t, queue.StateFailed, ack.Task.State())
	assert.Equal(t, 0, ack.Task.Retries())
	assert.Equal(t, 1, script.callCount())
}

func TestUpdateEdgeSoftUpdatesWithProvenance(t *testing.T) {
	c := newTestClient(t, employmentScript())
	ctx := context.Background()

	ack, err := c.Ingest(IngestRequest{Name: "join", Body: "Alice joined Acme Corp as an engineer in January 2024."})
	require.NoError(t, err)
	waitTask(t, ack.Task)
	require.Equal(t, queue.StateDone, ack.Task.State())

	results, err := c.SearchEdges(ctx, search.EdgeQuery{Text: "Alice Acme", MaxResults: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	oldEdge := results[0].Edge

	res, err := c.UpdateEdge(ctx, UpdateEdgeRequest{
		EdgeID: oldEdge.ID,
		Fact:   "Alice works at Acme Corp as a staff engineer",
		Reason: "title correction",
	})
	require.NoError(t, err)
	assert.Equal(t, oldEdge.ID, res.OldID)
	assert.NotEqual(t, res.OldID, res.NewID)

	expired, err := c.Driver().GetEdge(ctx, res.OldID)
	require.NoError(t, err)
	require.NotNil(t, expired.ExpiredAt)

	updated, err := c.Driver().GetEdge(ctx, res.NewID)
	require.NoError(t, err)
	assert.Equal(t, "Alice works at Acme Corp as a staff engineer", updated.Fact)
	assert.Equal(t, oldEdge.Fact, updated.OriginalFact)
	assert.Equal(t, "title correction", updated.UpdateReason)
	assert.Equal(t, oldEdge.ValidAt, updated.ValidAt)
	require.Len(t, updated.Episodes, 2)
	assert.Equal(t, oldEdge.Episodes[0], updated.Episodes[0])

	// The citation chain covers the original episode plus the edit record.
	cites, err := c.EdgeCitations(ctx, res.NewID)
	require.NoError(t, err)
	require.Len(t, cites, 2)
	assert.Equal(t, ack.EpisodeID, cites[0].EpisodeID)
	assert.Equal(t, types.EpisodeStructured, cites[1].Kind)

	// Default search surfaces only the replacement.
	after, err := c.SearchEdges(ctx, search.EdgeQuery{Text: "Alice Acme", MaxResults: 5})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, res.NewID, after[0].Edge.ID)

	// Double-updating the expired version is rejected.
	_, err = c.UpdateEdge(ctx, UpdateEdgeRequest{EdgeID: res.OldID, Fact: "x", Reason: "y"})
	assert.Error(t, err)
}

func TestUpdateEdgeOverridesEndpointsAndAttributes(t *testing.T) {
	c := newTestClient(t, employmentScript())
	ctx := context.Background()

	ack, err := c.Ingest(IngestRequest{Name: "join", Body: "Alice joined Acme Corp as an engineer in January 2024."})
	require.NoError(t, err)
	waitTask(t, ack.Task)
	require.Equal(t, queue.StateDone, ack.Task.State())

	results, err := c.SearchEdges(ctx, search.EdgeQuery{Text: "Alice Acme", MaxResults: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	oldEdge := results[0].Edge

	subsidiary := &types.Entity{
		ID:        "acme-europe",
		Name:      "Acme Europe",
		Labels:    []string{"Organization"},
		GroupID:   "test",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, c.Driver().UpsertEntity(ctx, subsidiary))

	res, err := c.UpdateEdge(ctx, UpdateEdgeRequest{
		EdgeID:         oldEdge.ID,
		Fact:           "Alice works at Acme Europe",
		Reason:         "transferred divisions",
		TargetEntityID: subsidiary.ID,
		Attributes:     map[string]interface{}{"role": "engineer"},
	})
	require.NoError(t, err)

	replacement, err := c.Driver().GetEdge(ctx, res.NewID)
	require.NoError(t, err)
	assert.Equal(t, oldEdge.SourceID, replacement.SourceID)
	assert.Equal(t, subsidiary.ID, replacement.TargetID)
	assert.Equal(t, map[string]interface{}{"role": "engineer"}, replacement.Attributes)
	assert.Equal(t, oldEdge.ValidAt, replacement.ValidAt)

	expired, err := c.Driver().GetEdge(ctx, res.OldID)
	require.NoError(t, err)
	require.NotNil(t, expired.ExpiredAt)
	// The original keeps its endpoints and attributes untouched.
	assert.Equal(t, oldEdge.TargetID, expired.TargetID)

	// Unknown endpoint overrides are rejected before anything is written.
	_, err = c.UpdateEdge(ctx, UpdateEdgeRequest{
		EdgeID:         res.NewID,
		Fact:           "Alice works somewhere",
		SourceEntityID: "no-such-entity",
	})
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestDeleteEpisodeCascades(t *testing.T) {
	c := newTestClient(t, employmentScript())
	ctx := context.Background()

	ack, err := c.Ingest(IngestRequest{Name: "join", Body: "Alice joined Acme Corp as an engineer in January 2024."})
	require.NoError(t, err)
	waitTask(t, ack.Task)
	require.Equal(t, queue.StateDone, ack.Task.State())

	res, err := c.DeleteEpisode(ctx, ack.EpisodeID)
	require.NoError(t, err)
	assert.Len(t, res.DeletedEdges, 1)
	assert.Len(t, res.DeletedEntities, 2)

	stats, err := c.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.EpisodeCount)
	assert.Equal(t, int64(0), stats.EntityCount)
	assert.Equal(t, int64(0), stats.EdgeCount)
	assert.Equal(t, int64(0), stats.MentionCount)

	_, err = c.GetEpisode(ctx, ack.EpisodeID)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestGroupIsolation(t *testing.T) {
	c := newTestClient(t, employmentScript())
	ctx := context.Background()

	ack, err := c.Ingest(IngestRequest{Name: "join", Body: "Alice joined Acme Corp as an engineer in January 2024.", GroupID: "team-a"})
	require.NoError(t, err)
	waitTask(t, ack.Task)

	hits, err := c.SearchEdges(ctx, search.EdgeQuery{Text: "Alice Acme", MaxResults: 5, GroupIDs: []string{"team-b"}})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = c.SearchEdges(ctx, search.EdgeQuery{Text: "Alice Acme", MaxResults: 5, GroupIDs: []string{"team-a"}})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSearchEpisodesBlankQueryReturnsRecent(t *testing.T) {
	c := newTestClient(t, &scriptedLLM{})

	for i := 0; i < 3; i++ {
		ack, err := c.Ingest(IngestRequest{Name: fmt.Sprintf("ep %d", i), Body: fmt.Sprintf("note %d", i)})
		require.NoError(t, err)
		waitTask(t, ack.Task)
	}

	episodes, err := c.SearchEpisodes(context.Background(), search.EpisodeQuery{MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, episodes, 2)
	assert.Equal(t, "ep 2", episodes[0].Name)
}
