package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taugalabs/villageproposals/service"
)

type ProjectHandler struct {
	store service.Datastore
}

func NewProjectHandler(store service.Datastore) *ProjectHandler {
	return &ProjectHandler{store: store}
}

// Get returns a project with its invoices, stored artifact records and
// analysis. The file list is the record of what actually made it into
// storage, which can be short of what the submitter sent.
func (h *ProjectHandler) Get(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	project, err := h.store.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load project"})
		return
	}

	invoices, err := h.store.ListInvoices(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load invoices"})
		return
	}
	files, err := h.store.ListArtifactFiles(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load files"})
		return
	}

	response := gin.H{
		"project":  project,
		"invoices": invoices,
		"files":    files,
	}

	analysis, err := h.store.GetAnalysis(ctx, id)
	if err == nil {
		response["analysis"] = analysis
	} else if !errors.Is(err, service.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load analysis"})
		return
	}

	c.JSON(http.StatusOK, response)
}
