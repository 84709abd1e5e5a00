package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEpisodeKind(t *testing.T) {
	kind, err := ParseEpisodeKind("")
	require.NoError(t, err)
	assert.Equal(t, EpisodeText, kind)

	for _, s := range []string{"text", "structured", "conversation"} {
		kind, err = ParseEpisodeKind(s)
		require.NoError(t, err)
		assert.Equal(t, EpisodeKind(s), kind)
	}

	_, err = ParseEpisodeKind("telegram")
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestEpisodeValidate(t *testing.T) {
	ep := &Episode{Name: "n", Body: "b", GroupID: "g", Kind: EpisodeText}
	assert.NoError(t, ep.Validate())
	assert.ErrorIs(t, ep.ValidateForCreate(), ErrEmptyID)

	ep.ID = "e1"
	assert.NoError(t, ep.ValidateForCreate())

	assert.ErrorIs(t, (&Episode{Body: "b", GroupID: "g"}).Validate(), ErrEmptyName)
	assert.ErrorIs(t, (&Episode{Name: "n", GroupID: "g"}).Validate(), ErrEmptyBody)
	assert.ErrorIs(t, (&Episode{Name: "n", Body: "b"}).Validate(), ErrEmptyGroupID)
}

func TestEntityLabels(t *testing.T) {
	e := &Entity{}
	assert.Equal(t, "Entity", e.PrimaryLabel())

	e.Labels = []string{"Person", "Employee"}
	assert.Equal(t, "Person", e.PrimaryLabel())
	assert.True(t, e.HasLabel("Employee"))
	assert.False(t, e.HasLabel("Robot"))
}

func TestEdgeIsCurrent(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	e := &EntityEdge{}
	assert.True(t, e.IsCurrent(now))

	e = &EntityEdge{InvalidAt: &future}
	assert.True(t, e.IsCurrent(now), "future invalidation still holds now")

	e = &EntityEdge{InvalidAt: &past}
	assert.False(t, e.IsCurrent(now))

	e = &EntityEdge{InvalidAt: &now}
	assert.False(t, e.IsCurrent(now), "boundary counts as no longer current")

	e = &EntityEdge{ExpiredAt: &past}
	assert.False(t, e.IsCurrent(now))
}

func TestEdgeValidateTemporalInvariant(t *testing.T) {
	validAt := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	before := validAt.Add(-time.Hour)

	edge := &EntityEdge{
		ID: "e1", SourceID: "a", TargetID: "b", Name: "KNOWS", GroupID: "g",
		ValidAt: &validAt, InvalidAt: &before,
		Episodes: []string{"ep1"},
	}
	assert.ErrorIs(t, edge.Validate(), ErrInvalidInterval)

	edge.InvalidAt = nil
	assert.NoError(t, edge.Validate())

	edge.Episodes = nil
	assert.ErrorIs(t, edge.Validate(), ErrNoEpisodes)
}

func TestEdgeAppendEpisode(t *testing.T) {
	e := &EntityEdge{Episodes: []string{"ep1"}}
	e.AppendEpisode("ep2")
	e.AppendEpisode("ep1")
	assert.Equal(t, []string{"ep1", "ep2"}, e.Episodes)
}

func TestMentionValidate(t *testing.T) {
	m := &MentionEdge{ID: "m1", EpisodeID: "ep1", EntityID: "n1", GroupID: "g"}
	assert.NoError(t, m.Validate())

	assert.ErrorIs(t, (&MentionEdge{EpisodeID: "ep1", EntityID: "n1", GroupID: "g"}).Validate(), ErrEmptyID)
	assert.ErrorIs(t, (&MentionEdge{ID: "m1", EpisodeID: "ep1", EntityID: "n1"}).Validate(), ErrEmptyGroupID)
}
