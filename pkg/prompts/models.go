// Package prompts builds the two extraction prompt families (entities,
// facts) and decodes the structured responses the language model returns.
package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/soundprediction/chronograph/pkg/nlp"
)

// ExtractedEntity is one entity candidate emitted by the entity-extraction
// prompt.
type ExtractedEntity struct {
	Name       string                 `json:"name"`
	Label      string                 `json:"label"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Summary    string                 `json:"summary,omitempty"`
}

// ExtractedEntities is the envelope for the entity-extraction response.
type ExtractedEntities struct {
	Entities []ExtractedEntity `json:"entities"`
}

// ExtractedFact is one relation candidate emitted by the fact-extraction
// prompt. Source and target reference resolved entity names. Negates marks a
// fact that contradicts an earlier assertion between the same endpoints.
type ExtractedFact struct {
	SourceName   string `json:"source_name"`
	TargetName   string `json:"target_name"`
	RelationName string `json:"relation_name"`
	Fact         string `json:"fact_text"`
	ValidAt      string `json:"valid_at,omitempty"`
	InvalidAt    string `json:"invalid_at,omitempty"`
	Negates      bool   `json:"negates,omitempty"`
}

// ExtractedFacts is the envelope for the fact-extraction response.
type ExtractedFacts struct {
	Facts []ExtractedFact `json:"facts"`
}

// ParseTimestamp parses a timestamp the model produced. Accepts RFC 3339 and
// the date-only form models tend to emit for month-level precision.
func ParseTimestamp(s string) (*time.Time, bool) {
	s = strings.Trim(strings.TrimSpace(s), "\"")
	if s == "" || strings.EqualFold(s, "null") {
		return nil, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01"} {
		if ts, err := time.Parse(layout, s); err == nil {
			utc := ts.UTC()
			return &utc, true
		}
	}
	return nil, false
}

// DecodeResponse repairs and unmarshals a structured LLM response into out.
// Model output frequently arrives wrapped in code fences or with trailing
// commas; jsonrepair normalizes it before decoding. Failures are classified
// as bad output, which the caller records and skips without retrying.
func DecodeResponse(resp *nlp.Response, out interface{}) error {
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nlp.NewBadOutputError("empty structured response")
	}
	content := stripCodeFences(resp.Content)

	if err := json.Unmarshal([]byte(content), out); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(content)
	if err != nil {
		return nlp.NewBadOutputError(fmt.Sprintf("unrepairable response: %v", err))
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return nlp.NewBadOutputError(fmt.Sprintf("undecodable response: %v", err))
	}
	return nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
