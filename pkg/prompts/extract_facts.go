package prompts

import (
	"fmt"
	"strings"

	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
)

// FactContext carries everything the fact-extraction prompt needs.
type FactContext struct {
	Episode *types.Episode
	// Entities are the resolved entities of this episode; facts must connect
	// pairs of them by exact name.
	Entities []*types.Entity
}

// ExtractFacts builds the fact-extraction conversation.
func ExtractFacts(c FactContext) []nlp.Message {
	sys := `You are an expert fact extractor for a temporal knowledge graph.
Extract directed relations between the listed entities.
Rules:
1. source_name and target_name must exactly match names from ENTITIES.
2. relation_name is a short UPPER_SNAKE_CASE verb phrase (e.g. WORKS_AT, LOCATED_IN).
3. fact_text is one self-contained sentence stating the relation.
4. Treat the reference time as the time the episode occurred; express valid_at and invalid_at as RFC 3339 timestamps relative to it, and omit them when the text gives no date.
5. Set "negates": true when the fact states that a previously-holding relation between the same entities has ceased.
6. Respond with a single JSON object: {"facts": [{"source_name", "target_name", "relation_name", "fact_text", "valid_at", "invalid_at", "negates"}]}.`

	var names strings.Builder
	for _, e := range c.Entities {
		fmt.Fprintf(&names, "- %s (%s)\n", e.Name, e.PrimaryLabel())
	}
	if names.Len() == 0 {
		names.WriteString("(none)\n")
	}

	user := fmt.Sprintf(`<ENTITIES>
%s</ENTITIES>

<EPISODE kind=%q reference_time=%q>
%s
</EPISODE>

Extract the facts.`,
		names.String(),
		c.Episode.Kind,
		c.Episode.ReferenceTime.UTC().Format("2006-01-02T15:04:05Z"),
		c.Episode.Body,
	)

	return []nlp.Message{
		nlp.NewSystemMessage(sys),
		nlp.NewUserMessage(user),
	}
}
