package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/server/dto"
	"github.com/soundprediction/chronograph/pkg/types"
)

// MutateHandler serves the two manual mutations: edge soft-update and
// episode cascade delete.
type MutateHandler struct {
	client *chronograph.Client
}

// NewMutateHandler creates a mutate handler.
func NewMutateHandler(c *chronograph.Client) *MutateHandler {
	return &MutateHandler{client: c}
}

// UpdateEdge handles PUT /entity-edge/:uuid.
func (h *MutateHandler) UpdateEdge(c *gin.Context) {
	var req dto.UpdateEdgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	res, err := h.client.UpdateEdge(c.Request.Context(), chronograph.UpdateEdgeRequest{
		EdgeID:         c.Param("uuid"),
		Fact:           req.Fact,
		Reason:         req.Reason,
		SourceEntityID: req.SourceEntityID,
		TargetEntityID: req.TargetEntityID,
		Attributes:     req.Attributes,
	})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found"})
			return
		}
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "update_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.UpdateEdgeResponse{OldID: res.OldID, NewID: res.NewID})
}

// DeleteEpisode handles DELETE /episode/:uuid.
func (h *MutateHandler) DeleteEpisode(c *gin.Context) {
	id := c.Param("uuid")
	res, err := h.client.DeleteEpisode(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "delete_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.DeleteEpisodeResponse{
		EpisodeID:       id,
		DeletedEdges:    res.DeletedEdges,
		UpdatedEdges:    res.UpdatedEdges,
		DeletedEntities: res.DeletedEntities,
	})
}
