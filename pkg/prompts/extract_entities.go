package prompts

import (
	"fmt"
	"strings"

	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/types"
)

// EntityContext carries everything the entity-extraction prompt needs.
type EntityContext struct {
	Episode *types.Episode
	// OntologyDescription is the rendered label set with attribute schemas.
	OntologyDescription string
	// KnownEntities are likely-related existing entities, pre-fetched by
	// embedding kNN and bounded at 20. The model is instructed to reuse
	// their exact names when referring to the same concept.
	KnownEntities []*types.Entity
}

// ExtractEntities builds the entity-extraction conversation.
func ExtractEntities(c EntityContext) []nlp.Message {
	sys := `You are an expert entity extractor for a knowledge graph.
Extract every distinct noun-like concept (person, organization, place, document, event, service) mentioned in the episode.
Rules:
1. Only use labels from the provided ontology.
2. If an entity in KNOWN ENTITIES refers to the same concept, reuse its exact name instead of inventing a variant.
3. Attribute values must match the declared attribute types.
4. Respond with a single JSON object: {"entities": [{"name", "label", "summary", "attributes"}]}.`

	var known strings.Builder
	for _, e := range c.KnownEntities {
		fmt.Fprintf(&known, "- %s (%s)\n", e.Name, e.PrimaryLabel())
	}
	if known.Len() == 0 {
		known.WriteString("(none)\n")
	}

	user := fmt.Sprintf(`<ONTOLOGY>
%s</ONTOLOGY>

<KNOWN ENTITIES>
%s</KNOWN ENTITIES>

<EPISODE kind=%q reference_time=%q>
%s
</EPISODE>

Extract the entities.`,
		c.OntologyDescription,
		known.String(),
		c.Episode.Kind,
		c.Episode.ReferenceTime.UTC().Format("2006-01-02T15:04:05Z"),
		c.Episode.Body,
	)

	return []nlp.Message{
		nlp.NewSystemMessage(sys),
		nlp.NewUserMessage(user),
	}
}
