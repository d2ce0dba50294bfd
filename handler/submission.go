package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taugalabs/villageproposals/service"
	"github.com/taugalabs/villageproposals/tier"
)

// maxInvoices bounds the multipart field scan.
const maxInvoices = 50

type SubmissionHandler struct {
	orchestrator *service.Orchestrator
}

func NewSubmissionHandler(orch *service.Orchestrator) *SubmissionHandler {
	return &SubmissionHandler{orchestrator: orch}
}

// Submit handles a multipart proposal submission
func (h *SubmissionHandler) Submit(c *gin.Context) {
	input, err := parseSubmissionForm(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.orchestrator.Submit(c.Request.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingFields),
			errors.Is(err, tier.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			// Datastore and storage detail stays out of production responses
			body := gin.H{"error": "Failed to process submission"}
			if gin.Mode() != gin.ReleaseMode {
				body["details"] = err.Error()
			}
			c.JSON(http.StatusInternalServerError, body)
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

func parseSubmissionForm(c *gin.Context) (*service.SubmissionInput, error) {
	input := &service.SubmissionInput{
		VillageName:     c.PostForm("villageName"),
		ProjectName:     c.PostForm("projectName"),
		SubmitterName:   c.PostForm("submitterName"),
		SubmitterEmail:  c.PostForm("submitterEmail"),
		SubmitterPhone:  c.PostForm("submitterPhone"),
		AdditionalNotes: c.PostForm("additionalNotes"),
	}

	if raw := c.PostForm("totalCost"); raw != "" {
		cost, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid totalCost: %q", raw)
		}
		input.TotalCost = cost
	}
	var err error
	if input.LAApproval, err = optionalBool(c, "laApproval"); err != nil {
		return nil, err
	}
	if input.AvivaApproval, err = optionalBool(c, "avivaApproval"); err != nil {
		return nil, err
	}

	input.CommitteeApproval = optionalFile(c, "committeeApprovalFile")
	input.ChargeNotice = optionalFile(c, "chargeNoticeFile")

	count := 0
	if raw := c.PostForm("invoiceCount"); raw != "" {
		count, err = strconv.Atoi(raw)
		if err != nil || count < 0 || count > maxInvoices {
			return nil, fmt.Errorf("invalid invoiceCount: %q", raw)
		}
	}

	for i := 0; i < count; i++ {
		inv := service.InvoiceInput{
			File: optionalFile(c, fmt.Sprintf("invoiceFile_%d", i)),
		}
		raw := c.PostForm(fmt.Sprintf("invoicePrice_%d", i))
		if raw == "" {
			return nil, fmt.Errorf("missing invoicePrice_%d", i)
		}
		if inv.Price, err = strconv.ParseFloat(raw, 64); err != nil {
			return nil, fmt.Errorf("invalid invoicePrice_%d: %q", i, raw)
		}
		for j := 0; ; j++ {
			p := optionalFile(c, fmt.Sprintf("proposalFile_%d_%d", i, j))
			if p == nil {
				break
			}
			inv.Proposals = append(inv.Proposals, p)
		}
		inv.Tender = optionalFile(c, fmt.Sprintf("tenderFile_%d", i))
		input.Invoices = append(input.Invoices, inv)
	}

	return input, nil
}

func optionalBool(c *gin.Context, field string) (*bool, error) {
	raw, ok := c.GetPostForm(field)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", field, raw)
	}
	return &v, nil
}

// optionalFile returns nil when the form carries no file under the field.
func optionalFile(c *gin.Context, field string) *service.ArtifactUpload {
	header, err := c.FormFile(field)
	if err != nil {
		return nil
	}
	return uploadFromHeader(header)
}

func uploadFromHeader(header *multipart.FileHeader) *service.ArtifactUpload {
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
			contentType = "application/pdf"
		}
	}
	return &service.ArtifactUpload{
		FileName: header.Filename,
		Size:     header.Size,
		MimeType: contentType,
		Open: func() (io.ReadCloser, error) {
			return header.Open()
		},
	}
}
