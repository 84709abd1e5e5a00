package prompts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
)

func promptEpisode() *types.Episode {
	return &types.Episode{
		ID:            "ep-1",
		Name:          "standup",
		Body:          "Alice joined Acme Corp in January 2024.",
		Kind:          types.EpisodeText,
		GroupID:       "g",
		ReferenceTime: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024-03-01T09:30:00Z", "2024-03-01T09:30:00Z", true},
		{"2024-03-01T10:30:00+01:00", "2024-03-01T09:30:00Z", true},
		{"2024-03-01", "2024-03-01T00:00:00Z", true},
		{"2024-03", "2024-03-01T00:00:00Z", true},
		{`"2024-03-01"`, "2024-03-01T00:00:00Z", true},
		{"", "", false},
		{"null", "", false},
		{"sometime in spring", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			ts, ok := ParseTimestamp(tc.in)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.want, ts.Format(time.RFC3339))
			} else {
				assert.Nil(t, ts)
			}
		})
	}
}

func TestDecodeResponsePlainJSON(t *testing.T) {
	var out ExtractedEntities
	err := DecodeResponse(&nlp.Response{Content: `{"entities": [{"name": "Alice", "label": "Person"}]}`}, &out)
	require.NoError(t, err)
	require.Len(t, out.Entities, 1)
	assert.Equal(t, "Alice", out.Entities[0].Name)
}

func TestDecodeResponseStripsCodeFences(t *testing.T) {
	content := "```json\n{\"facts\": [{\"source_name\": \"a\", \"target_name\": \"b\", \"relation_name\": \"KNOWS\", \"fact_text\": \"a knows b\"}]}\n```"
	var out ExtractedFacts
	require.NoError(t, DecodeResponse(&nlp.Response{Content: content}, &out))
	require.Len(t, out.Facts, 1)
	assert.Equal(t, "KNOWS", out.Facts[0].RelationName)
}

func TestDecodeResponseRepairsTrailingComma(t *testing.T) {
	var out ExtractedEntities
	err := DecodeResponse(&nlp.Response{Content: `{"entities": [{"name": "Alice", "label": "Person"},]}`}, &out)
	require.NoError(t, err)
	require.Len(t, out.Entities, 1)
}

func TestDecodeResponseBadOutput(t *testing.T) {
	var out ExtractedEntities

	err := DecodeResponse(&nlp.Response{Content: ""}, &out)
	require.Error(t, err)
	assert.True(t, nlp.IsRetryable(err) == false)

	err = DecodeResponse(nil, &out)
	require.Error(t, err)
}

func TestExtractEntitiesPrompt(t *testing.T) {
	messages := ExtractEntities(EntityContext{
		Episode:             promptEpisode(),
		OntologyDescription: "- Person: An individual human being.",
		KnownEntities: []*types.Entity{
			{Name: "Acme Corp", Labels: []string{"Organization"}},
		},
	})
	require.Len(t, messages, 2)
	assert.Equal(t, nlp.RoleSystem, messages[0].Role)

	user := messages[1].Content
	assert.Contains(t, user, "Alice joined Acme Corp")
	assert.Contains(t, user, "- Acme Corp (Organization)")
	assert.Contains(t, user, "- Person: An individual human being.")
	assert.Contains(t, user, "2024-02-01T12:00:00Z")
}

func TestExtractFactsPrompt(t *testing.T) {
	messages := ExtractFacts(FactContext{
		Episode: promptEpisode(),
		Entities: []*types.Entity{
			{Name: "Alice", Labels: []string{"Person"}},
			{Name: "Acme Corp", Labels: []string{"Organization"}},
		},
	})
	require.Len(t, messages, 2)

	user := messages[1].Content
	assert.Contains(t, user, "- Alice (Person)")
	assert.Contains(t, user, "- Acme Corp (Organization)")
	assert.Contains(t, user, "Alice joined Acme Corp")
}
