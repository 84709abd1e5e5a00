package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/server/dto"
	"github.com/soundprediction/chronograph/pkg/types"
)

// IngestHandler accepts episodes into the processing queue.
type IngestHandler struct {
	client *chronograph.Client
}

// NewIngestHandler creates an ingest handler.
func NewIngestHandler(c *chronograph.Client) *IngestHandler {
	return &IngestHandler{client: c}
}

// AddEpisode handles POST /ingest. The response is 202: processing is
// asynchronous and ordered within the episode's group.
func (h *IngestHandler) AddEpisode(c *gin.Context) {
	var req dto.IngestEpisodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	ack, err := h.client.Ingest(chronograph.IngestRequest{
		ID:                req.ID,
		Name:              req.Name,
		Body:              req.Body,
		Kind:              req.Kind,
		SourceDescription: req.SourceDescription,
		SourceURL:         req.SourceURL,
		GroupID:           req.GroupID,
		ReferenceTime:     req.ReferenceTime,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "rejected", Message: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, dto.AcceptedResponse{
		EpisodeID: ack.EpisodeID,
		GroupID:   ack.GroupID,
		Status:    "accepted",
	})
}

// AddMessages handles POST /ingest/messages: a conversation submitted as one
// episode with the turns rendered role-tagged into the body.
func (h *IngestHandler) AddMessages(c *gin.Context) {
	var req dto.AddMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	ack, err := h.client.Ingest(chronograph.IngestRequest{
		Name:          req.Name,
		Body:          req.RenderBody(),
		Kind:          string(types.EpisodeConversation),
		GroupID:       req.GroupID,
		ReferenceTime: req.ReferenceTime,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "rejected", Message: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, dto.AcceptedResponse{
		EpisodeID: ack.EpisodeID,
		GroupID:   ack.GroupID,
		Status:    "accepted",
	})
}

// ClearData handles DELETE /clear/:group_id: drops everything persisted for
// one group.
func (h *IngestHandler) ClearData(c *gin.Context) {
	groupID := c.Param("group_id")
	if err := h.client.ClearGroup(c.Request.Context(), groupID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "clear_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared", "group_id": groupID})
}
