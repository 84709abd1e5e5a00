package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/search"
	"github.com/soundprediction/chronograph/pkg/server/dto"
	"github.com/soundprediction/chronograph/pkg/types"
)

// RetrieveHandler serves search and lookup requests.
type RetrieveHandler struct {
	client *chronograph.Client
}

// NewRetrieveHandler creates a retrieve handler.
func NewRetrieveHandler(c *chronograph.Client) *RetrieveHandler {
	return &RetrieveHandler{client: c}
}

// Search handles POST /search, dispatching on the requested result kind.
func (h *RetrieveHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	ctx := c.Request.Context()
	switch req.Kind {
	case dto.SearchEdges:
		results, err := h.client.SearchEdges(ctx, search.EdgeQuery{
			Text:           req.Query,
			MaxResults:     req.Limit(),
			GroupIDs:       req.GroupIDs,
			CenterNodeID:   req.CenterNodeID,
			IncludeExpired: req.IncludeExpired,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "search_failed", Message: err.Error()})
			return
		}
		if results == nil {
			results = []chronograph.EdgeSearchResult{}
		}
		c.JSON(http.StatusOK, dto.SearchResponse{Kind: req.Kind, Count: len(results), Results: results})
	case dto.SearchNodes:
		results, err := h.client.SearchNodes(ctx, search.NodeQuery{
			Text:       req.Query,
			MaxResults: req.Limit(),
			GroupIDs:   req.GroupIDs,
			Labels:     req.Labels,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "search_failed", Message: err.Error()})
			return
		}
		if results == nil {
			results = []chronograph.NodeSearchResult{}
		}
		c.JSON(http.StatusOK, dto.SearchResponse{Kind: req.Kind, Count: len(results), Results: results})
	case dto.SearchEpisodes:
		results, err := h.client.SearchEpisodes(ctx, search.EpisodeQuery{
			Text:       req.Query,
			MaxResults: req.Limit(),
			GroupIDs:   req.GroupIDs,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "search_failed", Message: err.Error()})
			return
		}
		if results == nil {
			results = []*types.Episode{}
		}
		c.JSON(http.StatusOK, dto.SearchResponse{Kind: req.Kind, Count: len(results), Results: results})
	}
}

// GetEpisodes handles GET /episodes/:group_id?limit=n, newest first.
func (h *RetrieveHandler) GetEpisodes(c *gin.Context) {
	groupID := c.Param("group_id")
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	episodes, err := h.client.RecentEpisodes(c.Request.Context(), groupID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "lookup_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"episodes": episodes})
}

// GetEdgeCitations handles GET /entity-edge/:uuid/citations.
func (h *RetrieveHandler) GetEdgeCitations(c *gin.Context) {
	cites, err := h.client.EdgeCitations(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "lookup_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"citations": cites})
}

// QueueStats handles GET /stats/queue.
func (h *RetrieveHandler) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"groups": h.client.QueueStats()})
}

// GraphStats handles GET /stats/graph/:group_id.
func (h *RetrieveHandler) GraphStats(c *gin.Context) {
	stats, err := h.client.Stats(c.Request.Context(), c.Param("group_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "lookup_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
