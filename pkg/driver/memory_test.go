package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/chronograph/pkg/types"
)

func testEpisode(id, group string) *types.Episode {
	return &types.Episode{
		ID:            id,
		Name:          "episode " + id,
		Body:          "body of " + id,
		Kind:          types.EpisodeText,
		GroupID:       group,
		IngestedAt:    time.Now().UTC(),
		ReferenceTime: time.Now().UTC(),
	}
}

func testEntity(id, name, group string, embedding []float32) *types.Entity {
	return &types.Entity{
		ID:        id,
		Name:      name,
		Labels:    []string{"Person"},
		Embedding: embedding,
		GroupID:   group,
		CreatedAt: time.Now().UTC(),
	}
}

func testEdge(id, source, target, group string, episodes ...string) *types.EntityEdge {
	return &types.EntityEdge{
		ID:        id,
		SourceID:  source,
		TargetID:  target,
		Name:      "WORKS_AT",
		Fact:      "fact " + id,
		GroupID:   group,
		CreatedAt: time.Now().UTC(),
		Episodes:  episodes,
	}
}

func TestMemoryDriverEpisodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	ep := testEpisode("ep-1", "g1")
	require.NoError(t, d.UpsertEpisode(ctx, ep))

	got, err := d.GetEpisode(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, ep.Name, got.Name)

	_, err = d.GetEpisode(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	byName, err := d.GetEpisodeByName(ctx, "g1", "episode ep-1")
	require.NoError(t, err)
	assert.Equal(t, "ep-1", byName.ID)
}

func TestMemoryDriverRecentEpisodesOrder(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		ep := testEpisode(id, "g1")
		ep.IngestedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, d.UpsertEpisode(ctx, ep))
	}
	other := testEpisode("x", "g2")
	require.NoError(t, d.UpsertEpisode(ctx, other))

	out, err := d.RecentEpisodes(ctx, []string{"g1"}, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
}

func TestMemoryDriverEntityNameLookup(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	require.NoError(t, d.UpsertEntity(ctx, testEntity("e1", "Ada Lovelace", "g1", nil)))
	require.NoError(t, d.UpsertEntity(ctx, testEntity("e2", "ada  lovelace", "g1", nil)))
	require.NoError(t, d.UpsertEntity(ctx, testEntity("e3", "Ada Lovelace", "g2", nil)))

	out, err := d.GetEntitiesByName(ctx, "g1", NormalizeName("Ada Lovelace"))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "e1", out[0].ID)
	assert.Equal(t, "e2", out[1].ID)
}

func TestMemoryDriverVectorSearch(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	require.NoError(t, d.UpsertEntity(ctx, testEntity("e1", "close", "g1", []float32{1, 0, 0})))
	require.NoError(t, d.UpsertEntity(ctx, testEntity("e2", "far", "g1", []float32{0, 1, 0})))
	require.NoError(t, d.UpsertEntity(ctx, testEntity("e3", "mid", "g1", []float32{0.7, 0.7, 0})))

	out, err := d.EntityVectorSearch(ctx, []float32{1, 0, 0}, []string{"g1"}, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "e1", out[0].Entity.ID)
	assert.Equal(t, "e3", out[1].Entity.ID)
	assert.Greater(t, out[0].Score, out[1].Score)

	// Degenerate query vectors return nothing rather than arbitrary order.
	out, err = d.EntityVectorSearch(ctx, []float32{0, 0, 0}, nil, 5)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMemoryDriverLexicalSearchMonotonic(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	both := testEntity("e1", "acme payroll service", "g1", nil)
	one := testEntity("e2", "acme", "g1", nil)
	require.NoError(t, d.UpsertEntity(ctx, both))
	require.NoError(t, d.UpsertEntity(ctx, one))

	out, err := d.EntityLexicalSearch(ctx, "acme payroll", []string{"g1"}, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "e1", out[0].Entity.ID)
	assert.Greater(t, out[0].Score, out[1].Score)
}

func TestMemoryDriverNeighborhood(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, d.UpsertEntity(ctx, testEntity(id, "entity "+id, "g1", nil)))
	}
	require.NoError(t, d.UpsertEpisode(ctx, testEpisode("ep", "g1")))
	require.NoError(t, d.UpsertEdge(ctx, testEdge("r1", "a", "b", "g1", "ep")))
	require.NoError(t, d.UpsertEdge(ctx, testEdge("r2", "b", "c", "g1", "ep")))
	require.NoError(t, d.UpsertEdge(ctx, testEdge("r3", "c", "d", "g1", "ep")))

	dist, err := d.Neighborhood(ctx, "a", 2)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"b": 1, "c": 2}, dist)

	dist, err = d.Neighborhood(ctx, "unknown", 2)
	require.NoError(t, err)
	assert.Empty(t, dist)
}

func TestMemoryDriverDeleteEpisodeCascade(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	require.NoError(t, d.UpsertEpisode(ctx, testEpisode("ep1", "g1")))
	require.NoError(t, d.UpsertEpisode(ctx, testEpisode("ep2", "g1")))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, d.UpsertEntity(ctx, testEntity(id, "entity "+id, "g1", nil)))
	}
	// r1 is supported only by ep1, r2 by both episodes.
	require.NoError(t, d.UpsertEdge(ctx, testEdge("r1", "a", "b", "g1", "ep1")))
	require.NoError(t, d.UpsertEdge(ctx, testEdge("r2", "b", "c", "g1", "ep1", "ep2")))
	require.NoError(t, d.UpsertMention(ctx, &types.MentionEdge{
		ID: "m1", EpisodeID: "ep1", EntityID: "a", GroupID: "g1",
		Operation: types.MentionCreated, CreatedAt: time.Now().UTC(),
	}))

	result, err := d.DeleteEpisode(ctx, "ep1")
	require.NoError(t, err)

	assert.Equal(t, []string{"r1"}, result.DeletedEdges)
	assert.Equal(t, []string{"r2"}, result.UpdatedEdges)
	// a lost its only edge and only mention; b and c are still held by r2.
	assert.Equal(t, []string{"a"}, result.DeletedEntities)

	r2, err := d.GetEdge(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, []string{"ep2"}, r2.Episodes)

	_, err = d.GetEntity(ctx, "a")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = d.DeleteEpisode(ctx, "ep1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMemoryDriverClearGroupIsolation(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	require.NoError(t, d.UpsertEpisode(ctx, testEpisode("ep1", "g1")))
	require.NoError(t, d.UpsertEpisode(ctx, testEpisode("ep2", "g2")))
	require.NoError(t, d.UpsertEntity(ctx, testEntity("e1", "one", "g1", nil)))
	require.NoError(t, d.UpsertEntity(ctx, testEntity("e2", "two", "g2", nil)))

	require.NoError(t, d.ClearGroup(ctx, "g1"))

	stats, err := d.Stats(ctx, "g1")
	require.NoError(t, err)
	assert.Zero(t, stats.EpisodeCount)
	assert.Zero(t, stats.EntityCount)

	stats, err = d.Stats(ctx, "g2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.EpisodeCount)
	assert.Equal(t, int64(1), stats.EntityCount)
}

func TestMemoryDriverCopySemantics(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	e := testEntity("e1", "original", "g1", []float32{1, 2})
	require.NoError(t, d.UpsertEntity(ctx, e))
	e.Name = "mutated after upsert"
	e.Embedding[0] = 99

	got, err := d.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Name)
	assert.Equal(t, float32(1), got.Embedding[0])

	got.Summary = "mutated after get"
	again, err := d.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, again.Summary)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Zero(t, CosineSimilarity(nil, nil))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "ada lovelace", NormalizeName("  Ada   LOVELACE "))
	assert.Equal(t, "", NormalizeName("   "))
}
