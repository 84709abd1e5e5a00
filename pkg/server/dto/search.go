package dto

import "strings"

// Search kinds.
const (
	SearchEdges    = "edges"
	SearchNodes    = "nodes"
	SearchEpisodes = "episodes"
)

// SearchRequest runs a hybrid search over one result kind.
type SearchRequest struct {
	// Query may be blank only for kind episodes, which then lists recent
	// episodes.
	Query string `json:"query,omitempty"`
	Kind  string `json:"kind,omitempty"`
	// MaxResults nil takes the default; an explicit 0 is honored and yields
	// an empty result set.
	MaxResults *int     `json:"max_results,omitempty"`
	GroupIDs   []string `json:"group_ids,omitempty"`
	// Labels filters node results by ontology label.
	Labels []string `json:"labels,omitempty"`
	// CenterNodeID reranks edge results by graph distance to this entity.
	CenterNodeID string `json:"center_node_id,omitempty"`
	// IncludeExpired keeps soft-updated edge versions in edge results.
	IncludeExpired bool `json:"include_expired,omitempty"`
}

// Normalize applies defaults, then Validate checks ranges.
func (r *SearchRequest) Normalize() {
	if r.Kind == "" {
		r.Kind = SearchEdges
	}
	if r.MaxResults == nil {
		n := DefaultResults
		r.MaxResults = &n
	}
}

// Validate checks the search parameters. Call after Normalize.
func (r *SearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" && r.Kind != SearchEpisodes {
		return ErrEmptyQuery
	}
	if *r.MaxResults < 0 || *r.MaxResults > MaxResultsCap {
		return ErrMaxResultsRange
	}
	switch r.Kind {
	case SearchEdges, SearchNodes, SearchEpisodes:
		return nil
	default:
		return ErrUnknownSearchKind
	}
}

// Limit returns the normalized result cap.
func (r *SearchRequest) Limit() int { return *r.MaxResults }

// SearchResponse is the envelope shared by all search kinds.
type SearchResponse struct {
	Kind    string `json:"kind"`
	Count   int    `json:"count"`
	Results any    `json:"results"`
}

// UpdateEdgeRequest corrects the fact text on an edge, optionally retargeting
// the replacement's endpoints or replacing its attribute bag.
type UpdateEdgeRequest struct {
	Fact           string                 `json:"fact" binding:"required"`
	Reason         string                 `json:"reason,omitempty"`
	SourceEntityID string                 `json:"source_entity_id,omitempty"`
	TargetEntityID string                 `json:"target_entity_id,omitempty"`
	Attributes     map[string]interface{} `json:"attributes,omitempty"`
}

// Validate checks the update parameters.
func (r *UpdateEdgeRequest) Validate() error {
	if strings.TrimSpace(r.Fact) == "" {
		return ErrEmptyFact
	}
	return nil
}

// UpdateEdgeResponse reports both halves of a soft-update.
type UpdateEdgeResponse struct {
	OldID string `json:"old_id"`
	NewID string `json:"new_id"`
}

// DeleteEpisodeResponse summarizes a cascade.
type DeleteEpisodeResponse struct {
	EpisodeID       string   `json:"episode_id"`
	DeletedEdges    []string `json:"deleted_edges"`
	UpdatedEdges    []string `json:"updated_edges"`
	DeletedEntities []string `json:"deleted_entities"`
}
