// Package citation resolves provenance: which episodes created, updated, or
// referenced a given edge or entity, and the source URLs embedded in their
// descriptions.
package citation

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/types"
)

// sourceURLPattern extracts the first embedded source_url from a free-form
// source description.
var sourceURLPattern = regexp.MustCompile(`source_url:\s*(https?://[^\s,]+)`)

// Citation is one provenance entry pointing at an episode.
type Citation struct {
	EpisodeID         string            `json:"episode_id"`
	Name              string            `json:"name"`
	Kind              types.EpisodeKind `json:"body_kind"`
	SourceDescription string            `json:"source_description,omitempty"`
	IngestedAt        time.Time         `json:"ingested_at"`
	// SourceURL is the first embedded source_url in the description, empty
	// when absent.
	SourceURL string `json:"source_url,omitempty"`
	// Operation is set for entity citations only.
	Operation types.MentionOperation `json:"operation,omitempty"`
}

// Service resolves citations through the graph driver.
type Service struct {
	driver driver.GraphDriver
	logger *slog.Logger
}

// NewService creates a citation service.
func NewService(d driver.GraphDriver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{driver: d, logger: logger}
}

// ExtractSourceURL pulls the first source_url out of a source description.
func ExtractSourceURL(sourceDescription string) string {
	m := sourceURLPattern.FindStringSubmatch(sourceDescription)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// ForEdge returns the edge's citations in provenance order: the order of the
// edge's episode list, which runs from the asserting episode through every
// update. Episodes that were deleted since are skipped.
func (s *Service) ForEdge(ctx context.Context, edge *types.EntityEdge) ([]Citation, error) {
	episodes, err := s.driver.GetEpisodes(ctx, edge.Episodes)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*types.Episode, len(episodes))
	for _, ep := range episodes {
		byID[ep.ID] = ep
	}
	out := make([]Citation, 0, len(edge.Episodes))
	for _, id := range edge.Episodes {
		ep, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, citationFor(ep, ""))
	}
	return out, nil
}

// ForEntity returns the entity's citation chain: every episode that mentions
// it, deduplicated, chronological by ingestion time, each tagged with how the
// mention came about.
func (s *Service) ForEntity(ctx context.Context, entityID string) ([]Citation, error) {
	mentions, err := s.driver.MentionsForEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	// Dedup by episode, keeping the strongest operation: created beats
	// updated beats referenced.
	opByEpisode := make(map[string]types.MentionOperation)
	ids := make([]string, 0, len(mentions))
	for _, m := range mentions {
		prev, seen := opByEpisode[m.EpisodeID]
		if !seen {
			ids = append(ids, m.EpisodeID)
			opByEpisode[m.EpisodeID] = m.Operation
			continue
		}
		if opRank(m.Operation) > opRank(prev) {
			opByEpisode[m.EpisodeID] = m.Operation
		}
	}

	episodes, err := s.driver.GetEpisodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(episodes, func(i, j int) bool {
		if !episodes[i].IngestedAt.Equal(episodes[j].IngestedAt) {
			return episodes[i].IngestedAt.Before(episodes[j].IngestedAt)
		}
		return episodes[i].ID < episodes[j].ID
	})

	out := make([]Citation, 0, len(episodes))
	for _, ep := range episodes {
		out = append(out, citationFor(ep, opByEpisode[ep.ID]))
	}
	return out, nil
}

func opRank(op types.MentionOperation) int {
	switch op {
	case types.MentionCreated:
		return 2
	case types.MentionUpdated:
		return 1
	default:
		return 0
	}
}

func citationFor(ep *types.Episode, op types.MentionOperation) Citation {
	return Citation{
		EpisodeID:         ep.ID,
		Name:              ep.Name,
		Kind:              ep.Kind,
		SourceDescription: ep.SourceDescription,
		IngestedAt:        ep.IngestedAt,
		SourceURL:         ExtractSourceURL(ep.SourceDescription),
		Operation:         op,
	}
}
