package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taugalabs/villageproposals/model"
	"github.com/taugalabs/villageproposals/pkg/logger"
	"github.com/taugalabs/villageproposals/service"
)

type CallbackHandler struct {
	graderService *service.GraderService
	store         service.Datastore
}

func NewCallbackHandler(graderSvc *service.GraderService, store service.Datastore) *CallbackHandler {
	return &CallbackHandler{
		graderService: graderSvc,
		store:         store,
	}
}

type CallbackRequest struct {
	Checksum string `json:"checksum"`
	Content  string `json:"content"`
}

// CallbackContent is the grading verdict carried inside the callback body.
type CallbackContent struct {
	ProjectID  string   `json:"project_id"`
	Verdict    *bool    `json:"verdict"`
	Notes      string   `json:"notes"`
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues"`
}

// HandleCallback receives the grading verdict from the collaborator
func (h *CallbackHandler) HandleCallback(c *gin.Context) {
	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var content CallbackContent
	if err := json.Unmarshal([]byte(req.Content), &content); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid content format"})
		return
	}
	if content.ProjectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing project_id"})
		return
	}

	if !h.graderService.VerifyCallback(req.Checksum, req.Content, content.ProjectID) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid checksum"})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetProject(ctx, content.ProjectID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load project"})
		return
	}

	analysis := &model.Analysis{
		ProjectID:  content.ProjectID,
		Verdict:    content.Verdict,
		Notes:      content.Notes,
		Confidence: content.Confidence,
		Issues:     content.Issues,
	}
	if err := h.store.UpsertAnalysis(ctx, analysis); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save analysis"})
		return
	}

	// A re-delivered callback finds the project already reviewed; equal
	// rank passes the regression guard.
	if err := h.store.UpdateProjectStatus(ctx, content.ProjectID, model.StatusReviewed); err != nil {
		logger.Warn(ctx, "failed to mark project reviewed",
			"project_id", content.ProjectID,
			"error", err,
		)
	}

	c.JSON(http.StatusOK, gin.H{"message": "Callback received"})
}
